package feed

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	base := time.Date(2024, 3, 9, 21, 30, 0, 123456789, time.UTC)
	cases := []struct {
		name  string
		state State
	}{
		{"start", State{Phase: PhaseBlend}},
		{"prioritized only", State{Prioritized: Position{CreatedAt: base, ID: 42}, Phase: PhaseBlend}},
		{"global only", State{Global: Position{CreatedAt: base.Add(-time.Hour), ID: 7}, Phase: PhaseBlend}},
		{"both with cutoff", State{
			Prioritized: Position{CreatedAt: base, ID: 42},
			Global:      Position{CreatedAt: base.Add(-time.Minute), ID: 41},
			Phase:       PhaseBlend,
			FreshCutoff: base.Add(-14 * 24 * time.Hour),
		}},
		{"fallback", State{Global: Position{CreatedAt: base, ID: 1}, Phase: PhaseFallback}},
		{"empty phase", State{Global: Position{CreatedAt: base, ID: 3}}},
		{"served lists", State{
			Prioritized:       Position{CreatedAt: base, ID: 42},
			PrioritizedServed: []uint64{40, 38},
			GlobalServed:      []uint64{17},
			Phase:             PhaseBlend,
		}},
		{"full served lists", State{
			Global:            Position{CreatedAt: base, ID: 1 << 62},
			PrioritizedServed: manyIDs(MaxPageSize, 1<<63),
			GlobalServed:      manyIDs(MaxPageSize, 1<<62),
			Phase:             PhaseBlend,
		}},
	}

	for _, secret := range []string{"", "s3cret"} {
		codec := NewCodec(secret)
		for _, tc := range cases {
			t.Run(tc.name+"/"+map[bool]string{true: "signed", false: "plain"}[secret != ""], func(t *testing.T) {
				token, err := codec.Encode(tc.state)
				require.NoError(t, err)
				require.NotEmpty(t, token)
				assert.LessOrEqual(t, len(token), maxCursorBytes)

				got, err := codec.Decode(token)
				require.NoError(t, err)
				assert.True(t, tc.state.Equal(got), "want %+v got %+v", tc.state, got)

				again, err := codec.Encode(got)
				require.NoError(t, err)
				assert.Equal(t, token, again)
			})
		}
	}
}

func TestDecodeEmptyIsStart(t *testing.T) {
	s, err := NewCodec("").Decode("")
	require.NoError(t, err)
	assert.True(t, s.IsStart())
	assert.Equal(t, PhaseBlend, s.Phase)
}

func TestDecodeInvalid(t *testing.T) {
	codec := NewCodec("")
	enc := func(raw string) string { return base64.RawURLEncoding.EncodeToString([]byte(raw)) }

	cases := map[string]string{
		"not base64":          "%%%",
		"not json":            enc("hello"),
		"wrong version":       enc(`{"v":3,"ph":"blend"}`),
		"v1 with served list": enc(`{"v":1,"ph":"blend","ps":[4]}`),
		"zero served id":      enc(`{"v":2,"ph":"blend","gs":[3,0]}`),
		"oversized served":    enc(`{"v":2,"ph":"blend","gs":[` + strings.TrimSuffix(strings.Repeat("7,", MaxPageSize+1), ",") + `]}`),
		"unknown phase":       enc(`{"v":1,"ph":"sideways"}`),
		"missing phase":       enc(`{"v":1}`),
		"position without id": enc(`{"v":1,"ph":"blend","p":{"t":1700000000000000000,"id":0}}`),
		"position without t":  enc(`{"v":1,"ph":"blend","g":{"t":0,"id":5}}`),
		"negative cutoff":     enc(`{"v":1,"ph":"blend","fc":-1}`),
		"unexpected sig":      enc(`{"v":1,"ph":"blend"}`) + ".abc",
		"too long":            strings.Repeat("A", maxCursorBytes+1),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(token)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestDecodeLegacyVersion(t *testing.T) {
	raw := `{"v":1,"ph":"blend","g":{"t":1700000000000000000,"id":5}}`
	s, err := NewCodec("").Decode(base64.RawURLEncoding.EncodeToString([]byte(raw)))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), s.Global.ID)
	assert.Empty(t, s.GlobalServed)
	assert.False(t, s.IsStart())
}

func TestServedListsLeaveStart(t *testing.T) {
	assert.False(t, State{Phase: PhaseBlend, GlobalServed: []uint64{3}}.IsStart())
	_, err := NewCodec("").Encode(State{Phase: PhaseBlend, PrioritizedServed: []uint64{0}})
	assert.Error(t, err)
}

func TestSignedCursor(t *testing.T) {
	state := State{Global: Position{CreatedAt: time.Unix(1700000000, 0).UTC(), ID: 9}, Phase: PhaseBlend}
	signer := NewCodec("k1")
	token, err := signer.Encode(state)
	require.NoError(t, err)
	require.Contains(t, token, ".")

	t.Run("other secret", func(t *testing.T) {
		_, err := NewCodec("k2").Decode(token)
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})
	t.Run("tampered payload", func(t *testing.T) {
		payload, sig, _ := strings.Cut(token, ".")
		forged := mustEncode(t, NewCodec(""), State{Global: Position{CreatedAt: time.Unix(1800000000, 0).UTC(), ID: 9}, Phase: PhaseBlend})
		assert.NotEqual(t, payload, forged)
		_, err := signer.Decode(forged + "." + sig)
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})
	t.Run("unsigned token", func(t *testing.T) {
		payload, _, _ := strings.Cut(token, ".")
		_, err := signer.Decode(payload)
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})
}

func TestEncodeRejectsIncompleteState(t *testing.T) {
	codec := NewCodec("")
	_, err := codec.Encode(State{Global: Position{ID: 3}})
	assert.Error(t, err)
	_, err = codec.Encode(State{Phase: "other"})
	assert.Error(t, err)
}

func mustEncode(t *testing.T, c *Codec, s State) string {
	t.Helper()
	token, err := c.Encode(s)
	require.NoError(t, err)
	return token
}

func manyIDs(n int, top uint64) []uint64 {
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = top - uint64(i)
	}
	return ids
}
