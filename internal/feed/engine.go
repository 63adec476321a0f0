package feed

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/skyframe/internal/metrics"
	"github.com/d60-Lab/skyframe/internal/model"
	"github.com/d60-Lab/skyframe/pkg/logger"
)

const tracerName = "github.com/d60-Lab/skyframe/internal/feed"

// Page is one feed response. NextCursor is empty only when the chain is
// exhausted for the user, or when the whole corpus is empty.
type Page struct {
	Images     []model.Image
	Sources    []Source
	NextCursor string
	Fallback   bool
	Full       bool
}

// Engine selects feed pages. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	cfg        Config
	codec      *Codec
	candidates CandidateStore
	seen       SeenStore
	now        func() time.Time
	log        *zap.Logger
	metrics    *metrics.Feed
	tracer     trace.Tracer
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *metrics.Feed) Option { return func(e *Engine) { e.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// NewEngine validates cfg and wires the stores. seen may be nil only when
// seen tracking is disabled.
func NewEngine(cfg Config, candidates CandidateStore, seen SeenStore, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if candidates == nil {
		return nil, fmt.Errorf("%w: candidate store is required", ErrConfigInvalid)
	}
	if cfg.SeenEnabled && seen == nil {
		return nil, fmt.Errorf("%w: seen store is required when seen tracking is enabled", ErrConfigInvalid)
	}
	e := &Engine{
		cfg:        cfg,
		codec:      NewCodec(cfg.CursorSecret),
		candidates: candidates,
		seen:       seen,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.L()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e, nil
}

// Config returns the snapshot the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Codec exposes the cursor codec, e.g. for tooling that inspects tokens.
func (e *Engine) Codec() *Codec { return e.codec }

// FetchPage returns the page following cursor for userID (0 = anonymous).
func (e *Engine) FetchPage(ctx context.Context, userID uint64, cursor string) (page Page, err error) {
	started := e.now()
	ctx, span := e.tracer.Start(ctx, "feed.FetchPage", trace.WithAttributes(
		attribute.Int64("feed.user_id", int64(userID)),
		attribute.Int("feed.page_size", e.cfg.PageSize),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			path := "blend"
			if page.Fallback {
				path = "fallback"
			}
			span.SetAttributes(attribute.Bool("feed.fallback", page.Fallback), attribute.Int("feed.items", len(page.Images)))
			e.metrics.ObservePage(path, len(page.Images), e.now().Sub(started))
		}
		span.End()
	}()

	state, err := e.codec.Decode(cursor)
	if err != nil {
		e.metrics.ObserveError("invalid_cursor")
		return Page{}, err
	}

	now := e.now().UTC()
	if state.IsStart() && e.cfg.FreshDays > 0 {
		state.FreshCutoff = now.Add(-e.cfg.FreshWindow())
	}

	useSeen := e.cfg.SeenEnabled && userID != 0
	var seenIDs []uint64
	if useSeen {
		if seenIDs, err = e.loadSeen(ctx, userID, now); err != nil {
			return Page{}, err
		}
	}

	limit := e.cfg.CandidateLimit()
	var res BlendResult
	exhausted := false
	for attempt := 0; ; attempt++ {
		prioritized, global, err := e.fetchCandidates(ctx, userID, state, seenIDs)
		if err != nil {
			return Page{}, err
		}
		heldP := heldIDs(state.PrioritizedServed, prioritized, limit)
		heldG := heldIDs(state.GlobalServed, global, limit)
		res = Blend(prioritized, global, BlendParams{
			PageSize:          e.cfg.PageSize,
			PrioritizedTarget: e.cfg.PrioritizedTarget(),
			MaxPerUploader:    e.cfg.MaxPerUploader,
			MaxConsecutive:    e.cfg.MaxConsecutivePerUploader,
			PrioritizedServed: idSet(state.PrioritizedServed),
			GlobalServed:      idSet(state.GlobalServed),
			MaxCarry:          e.cfg.PageSize,
			PrioritizedHeld:   len(heldP),
			GlobalHeld:        len(heldG),
		})

		var doneP, doneG bool
		next := state
		next.Phase = PhaseBlend
		next.Prioritized, next.PrioritizedServed, doneP = nextPool(state.Prioritized, res.Prioritized, heldP, len(prioritized), limit)
		next.Global, next.GlobalServed, doneG = nextPool(state.Global, res.Global, heldG, len(global), limit)
		state, exhausted = next, doneP && doneG

		// An empty blend means every candidate was already served; move past
		// them before giving up on the chain.
		if len(res.Picks) > 0 || exhausted || attempt >= maxBlendAttempts-1 {
			break
		}
	}
	if len(res.Picks) == 0 {
		return e.fallback(ctx, userID, state, now)
	}

	page = Page{
		Images:  make([]model.Image, len(res.Picks)),
		Sources: make([]Source, len(res.Picks)),
		Full:    res.Full,
	}
	for i, pk := range res.Picks {
		page.Images[i] = pk.Image
		page.Sources[i] = pk.Source
	}

	if useSeen {
		e.recordSeen(ctx, userID, IDs(res.Picks), now)
	}

	if exhausted {
		e.log.Debug("feed chain exhausted", zap.Uint64("user", userID), zap.Int("items", len(page.Images)))
		return page, nil
	}
	if page.NextCursor, err = e.codec.Encode(state); err != nil {
		return Page{}, err
	}
	return page, nil
}

const maxBlendAttempts = 3

// nextPool folds one pool's blend result into the cursor. A pool is done when
// its query came back short and every candidate was served.
func nextPool(pos Position, r PoolResume, held []uint64, fetched, limit int) (Position, []uint64, bool) {
	if !r.After.IsZero() {
		pos = r.After
	}
	var served []uint64
	if len(r.Served)+len(held) > 0 {
		served = make([]uint64, 0, len(r.Served)+len(held))
		served = append(append(served, r.Served...), held...)
	}
	return pos, served, fetched < limit && r.Pending == 0
}

// heldIDs returns the carried ids missing from a pool's candidates. They sort
// after the fetched window and stay carried; a short window means they no
// longer qualify and are dropped.
func heldIDs(carry []uint64, items []model.Image, limit int) []uint64 {
	if len(carry) == 0 || len(items) < limit {
		return nil
	}
	got := make(map[uint64]struct{}, len(items))
	for _, img := range items {
		got[img.ID] = struct{}{}
	}
	var held []uint64
	for _, id := range carry {
		if _, ok := got[id]; !ok {
			held = append(held, id)
		}
	}
	return held
}

func (e *Engine) loadSeen(ctx context.Context, userID uint64, now time.Time) ([]uint64, error) {
	var since time.Time
	if retention := e.cfg.SeenRetention(); retention > 0 {
		since = now.Add(-retention)
	}
	if e.cfg.InlinePurge {
		n, err := e.seen.PurgeSeen(ctx, userID, since, e.cfg.SeenMaxIDs)
		if err != nil {
			e.metrics.SeenWriteFailed("purge")
			e.log.Warn("purge seen failed", zap.Uint64("user", userID), zap.Error(err))
		} else {
			e.metrics.SeenPurged(n)
		}
	}

	ids, err := e.seen.SeenIDs(ctx, userID, since, e.cfg.SeenMaxIDs)
	if err != nil {
		e.metrics.ObserveError("storage")
		return nil, fmt.Errorf("%w: load seen: %w", ErrStorageUnavailable, err)
	}
	return ids, nil
}

// fetchCandidates runs both pool queries after the cursor positions. Each
// pool still returns its own carried ids so the blender can step over them.
func (e *Engine) fetchCandidates(ctx context.Context, userID uint64, state State, seenIDs []uint64) ([]model.Image, []model.Image, error) {
	limit := e.cfg.CandidateLimit()
	carryP, carryG := idSet(state.PrioritizedServed), idSet(state.GlobalServed)

	var prioritized []model.Image
	if userID != 0 {
		exclude := append(without(seenIDs, carryP), state.GlobalServed...)
		var err error
		prioritized, err = e.candidates.FetchPrioritized(ctx, PrioritizedQuery{
			UserID:      userID,
			After:       state.Prioritized,
			Limit:       limit,
			FreshCutoff: state.FreshCutoff,
			ExcludeIDs:  exclude,
		})
		if err != nil {
			e.metrics.ObserveError("storage")
			return nil, nil, fmt.Errorf("%w: fetch prioritized: %w", ErrStorageUnavailable, err)
		}
	}

	exclude := without(seenIDs, carryG)
	for _, img := range prioritized {
		exclude = append(exclude, img.ID)
	}
	exclude = append(exclude, state.PrioritizedServed...)
	global, err := e.candidates.FetchGlobal(ctx, GlobalQuery{
		UserID:      userID,
		After:       state.Global,
		Limit:       limit,
		FreshCutoff: state.FreshCutoff,
		ExcludeIDs:  exclude,
	})
	if err != nil {
		e.metrics.ObserveError("storage")
		return nil, nil, fmt.Errorf("%w: fetch global: %w", ErrStorageUnavailable, err)
	}
	return prioritized, global, nil
}

func without(ids []uint64, drop map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// fallback serves a random page when normal selection came back empty. The
// incoming positions are kept so the caller can keep paging.
func (e *Engine) fallback(ctx context.Context, userID uint64, state State, now time.Time) (Page, error) {
	imgs, err := e.candidates.FetchRandom(ctx, e.cfg.PageSize)
	if err != nil {
		e.metrics.ObserveError("storage")
		return Page{}, fmt.Errorf("%w: fetch random: %w", ErrStorageUnavailable, err)
	}

	page := Page{
		Images:   imgs,
		Sources:  make([]Source, len(imgs)),
		Fallback: true,
		Full:     len(imgs) == e.cfg.PageSize,
	}
	for i := range page.Sources {
		page.Sources[i] = SourceFallback
	}
	if len(imgs) == 0 {
		return page, nil
	}

	if e.cfg.SeenEnabled && e.cfg.RecordSeenOnFallback && userID != 0 {
		ids := make([]uint64, len(imgs))
		for i, img := range imgs {
			ids[i] = img.ID
		}
		e.recordSeen(ctx, userID, ids, now)
	}

	e.log.Debug("feed fallback page", zap.Uint64("user", userID), zap.Int("items", len(imgs)))

	next := state
	next.Phase = PhaseFallback
	if page.NextCursor, err = e.codec.Encode(next); err != nil {
		return Page{}, err
	}
	return page, nil
}

// recordSeen never fails the page; the selection is already final.
func (e *Engine) recordSeen(ctx context.Context, userID uint64, ids []uint64, now time.Time) {
	if err := e.seen.RecordSeen(ctx, userID, ids, now); err != nil {
		e.metrics.SeenWriteFailed("record")
		e.log.Warn("record seen failed", zap.Uint64("user", userID), zap.Int("ids", len(ids)), zap.Error(err))
	}
}
