package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewFeed("test", reg)
	require.NoError(t, err)

	m.ObservePage("blend", 10, 20*time.Millisecond)
	m.ObservePage("blend", 8, 10*time.Millisecond)
	m.ObservePage("fallback", 3, time.Millisecond)
	m.ObserveError("storage")
	m.SeenWriteFailed("record")
	m.SeenPurged(7)
	m.SeenPurged(0)
	m.SeenDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pages.WithLabelValues("blend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errs.WithLabelValues("storage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.seenFailures.WithLabelValues("record")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.seenPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.seenDropped))
	assert.Equal(t, 2, testutil.CollectAndCount(m.pageItems))
}

func TestNewFeedReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewFeed("test", reg)
	require.NoError(t, err)
	b, err := NewFeed("test", reg)
	require.NoError(t, err)

	a.SeenDropped()
	b.SeenDropped()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.seenDropped), "second instance shares collectors")
}

func TestNilFeedIsNoop(t *testing.T) {
	var m *Feed
	assert.NotPanics(t, func() {
		m.ObservePage("blend", 1, time.Millisecond)
		m.ObserveError("storage")
		m.SeenWriteFailed("record")
		m.SeenPurged(3)
		m.SeenDropped()
	})
}
