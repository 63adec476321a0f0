package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Feed exports feed engine metrics. A nil *Feed is a valid no-op recorder.
type Feed struct {
	pages        *prometheus.CounterVec
	pageItems    *prometheus.HistogramVec
	duration     *prometheus.HistogramVec
	errs         *prometheus.CounterVec
	seenFailures *prometheus.CounterVec
	seenPurged   prometheus.Counter
	seenDropped  prometheus.Counter
}

// NewFeed registers the feed collectors on reg (DefaultRegisterer when nil).
func NewFeed(namespace string, reg prometheus.Registerer) (*Feed, error) {
	if namespace == "" {
		namespace = "skyframe"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := &Feed{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "pages_total",
			Help:      "Feed pages served, by selection path.",
		}, []string{"path"}),
		pageItems: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "page_items",
			Help:      "Items per served page.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200, 500},
		}, []string{"path"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of a full page fetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Failed page fetches, by kind.",
		}, []string{"kind"}),
		seenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "seen_write_failures_total",
			Help:      "Seen tracker writes that failed and were skipped.",
		}, []string{"op"}),
		seenPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "seen_purged_total",
			Help:      "Seen records removed by retention or count limits.",
		}),
		seenDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "seen_dropped_total",
			Help:      "Seen record batches dropped because the async queue was full.",
		}),
	}

	var err error
	if f.pages, err = register(reg, f.pages); err != nil {
		return nil, err
	}
	if f.pageItems, err = register(reg, f.pageItems); err != nil {
		return nil, err
	}
	if f.duration, err = register(reg, f.duration); err != nil {
		return nil, err
	}
	if f.errs, err = register(reg, f.errs); err != nil {
		return nil, err
	}
	if f.seenFailures, err = register(reg, f.seenFailures); err != nil {
		return nil, err
	}
	if f.seenPurged, err = register(reg, f.seenPurged); err != nil {
		return nil, err
	}
	if f.seenDropped, err = register(reg, f.seenDropped); err != nil {
		return nil, err
	}
	return f, nil
}

// register reuses an already registered collector of the same shape.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register feed collector: %w", err)
	}
	return c, nil
}

func (f *Feed) ObservePage(path string, items int, took time.Duration) {
	if f == nil {
		return
	}
	f.pages.WithLabelValues(path).Inc()
	f.pageItems.WithLabelValues(path).Observe(float64(items))
	f.duration.WithLabelValues(path).Observe(took.Seconds())
}

func (f *Feed) ObserveError(kind string) {
	if f == nil {
		return
	}
	f.errs.WithLabelValues(kind).Inc()
}

func (f *Feed) SeenWriteFailed(op string) {
	if f == nil {
		return
	}
	f.seenFailures.WithLabelValues(op).Inc()
}

func (f *Feed) SeenPurged(n int64) {
	if f == nil || n <= 0 {
		return
	}
	f.seenPurged.Add(float64(n))
}

func (f *Feed) SeenDropped() {
	if f == nil {
		return
	}
	f.seenDropped.Inc()
}
