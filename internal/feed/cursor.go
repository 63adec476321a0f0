package feed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	cursorVersion = 2
	// v1 tokens carry no served lists and still decode.
	legacyCursorVersion = 1
	// two full served lists of MaxPageSize ids fit.
	maxCursorBytes = 32 << 10
)

// Phase records which branch produced the page a cursor resumes from.
type Phase string

const (
	PhaseBlend    Phase = "blend"
	PhaseFallback Phase = "fallback"
)

// Position is a resume key in (created_at desc, id desc) order. The zero value means start of pool.
type Position struct {
	CreatedAt time.Time
	ID        uint64
}

func (p Position) IsZero() bool { return p.ID == 0 && p.CreatedAt.IsZero() }

func (p Position) Equal(o Position) bool {
	return p.ID == o.ID && p.CreatedAt.Equal(o.CreatedAt)
}

// State is everything needed to resume a feed chain.
type State struct {
	Prioritized Position
	Global      Position
	// PrioritizedServed and GlobalServed list ids already returned by the
	// chain that sort after the pool position, in feed order.
	PrioritizedServed []uint64
	GlobalServed      []uint64
	Phase             Phase
	// FreshCutoff pins the freshness window for the whole chain; zero when disabled.
	FreshCutoff time.Time
}

func (s State) Equal(o State) bool {
	return s.Prioritized.Equal(o.Prioritized) &&
		s.Global.Equal(o.Global) &&
		slices.Equal(s.PrioritizedServed, o.PrioritizedServed) &&
		slices.Equal(s.GlobalServed, o.GlobalServed) &&
		s.phase() == o.phase() &&
		s.FreshCutoff.Equal(o.FreshCutoff)
}

func (s State) phase() Phase {
	if s.Phase == "" {
		return PhaseBlend
	}
	return s.Phase
}

// validate rejects states whose token could not be decoded again.
func (s State) validate() error {
	if p := s.phase(); p != PhaseBlend && p != PhaseFallback {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	for _, p := range []Position{s.Prioritized, s.Global} {
		if !p.IsZero() && (p.ID == 0 || p.CreatedAt.UnixNano() <= 0) {
			return fmt.Errorf("incomplete position %+v", p)
		}
	}
	for _, ids := range [][]uint64{s.PrioritizedServed, s.GlobalServed} {
		if err := validServed(ids); err != nil {
			return err
		}
	}
	if !s.FreshCutoff.IsZero() && s.FreshCutoff.UnixNano() <= 0 {
		return fmt.Errorf("cutoff before epoch")
	}
	return nil
}

func validServed(ids []uint64) error {
	if len(ids) > MaxPageSize {
		return fmt.Errorf("served list of %d ids", len(ids))
	}
	if slices.Contains(ids, 0) {
		return fmt.Errorf("served list with zero id")
	}
	return nil
}

// IsStart reports whether s resumes nothing.
func (s State) IsStart() bool {
	return s.Prioritized.IsZero() && s.Global.IsZero() && s.FreshCutoff.IsZero() &&
		len(s.PrioritizedServed) == 0 && len(s.GlobalServed) == 0
}

type wirePosition struct {
	T  int64  `json:"t"`
	ID uint64 `json:"id"`
}

type wireCursor struct {
	V  int           `json:"v"`
	P  *wirePosition `json:"p,omitempty"`
	G  *wirePosition `json:"g,omitempty"`
	PS []uint64      `json:"ps,omitempty"`
	GS []uint64      `json:"gs,omitempty"`
	Ph string        `json:"ph"`
	FC int64         `json:"fc,omitempty"`
}

// Codec turns State into opaque tokens and back.
type Codec struct {
	secret []byte
}

// NewCodec returns a codec that signs tokens when secret is non-empty.
func NewCodec(secret string) *Codec {
	c := &Codec{}
	if secret != "" {
		c.secret = []byte(secret)
	}
	return c
}

// Encode is deterministic for a given state and secret.
func (c *Codec) Encode(s State) (string, error) {
	if err := s.validate(); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	w := wireCursor{
		V:  cursorVersion,
		P:  toWire(s.Prioritized),
		G:  toWire(s.Global),
		PS: s.PrioritizedServed,
		GS: s.GlobalServed,
		Ph: string(s.phase()),
	}
	if !s.FreshCutoff.IsZero() {
		w.FC = s.FreshCutoff.UnixNano()
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if c.secret != nil {
		token += "." + c.sign(token)
	}
	return token, nil
}

// Decode parses a token. An empty token is the start of the feed.
func (c *Codec) Decode(token string) (State, error) {
	if token == "" {
		return State{Phase: PhaseBlend}, nil
	}
	if len(token) > maxCursorBytes {
		return State{}, fmt.Errorf("%w: token too long", ErrInvalidCursor)
	}

	payload, sig, signed := strings.Cut(token, ".")
	switch {
	case c.secret != nil && !signed:
		return State{}, fmt.Errorf("%w: missing signature", ErrInvalidCursor)
	case c.secret != nil && !hmac.Equal([]byte(sig), []byte(c.sign(payload))):
		return State{}, fmt.Errorf("%w: bad signature", ErrInvalidCursor)
	case c.secret == nil && signed:
		return State{}, fmt.Errorf("%w: unexpected signature", ErrInvalidCursor)
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var w wireCursor
	if err := json.Unmarshal(raw, &w); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	switch {
	case w.V == legacyCursorVersion && (len(w.PS) > 0 || len(w.GS) > 0):
		return State{}, fmt.Errorf("%w: served lists in v%d token", ErrInvalidCursor, w.V)
	case w.V != cursorVersion && w.V != legacyCursorVersion:
		return State{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidCursor, w.V)
	}

	s := State{Phase: Phase(w.Ph)}
	if s.Phase != PhaseBlend && s.Phase != PhaseFallback {
		return State{}, fmt.Errorf("%w: unknown phase %q", ErrInvalidCursor, w.Ph)
	}
	if s.Prioritized, err = fromWire(w.P); err != nil {
		return State{}, err
	}
	if s.Global, err = fromWire(w.G); err != nil {
		return State{}, err
	}
	for _, ids := range [][]uint64{w.PS, w.GS} {
		if err := validServed(ids); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
	}
	s.PrioritizedServed, s.GlobalServed = w.PS, w.GS
	if w.FC < 0 {
		return State{}, fmt.Errorf("%w: negative cutoff", ErrInvalidCursor)
	}
	if w.FC != 0 {
		s.FreshCutoff = time.Unix(0, w.FC).UTC()
	}
	return s, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func toWire(p Position) *wirePosition {
	if p.IsZero() {
		return nil
	}
	return &wirePosition{T: p.CreatedAt.UnixNano(), ID: p.ID}
}

func fromWire(w *wirePosition) (Position, error) {
	if w == nil {
		return Position{}, nil
	}
	if w.ID == 0 || w.T <= 0 {
		return Position{}, fmt.Errorf("%w: incomplete position", ErrInvalidCursor)
	}
	return Position{CreatedAt: time.Unix(0, w.T).UTC(), ID: w.ID}, nil
}
