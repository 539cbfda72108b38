package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stevemurr/simple-storage-server/errors"
)

// Metrics holds the prometheus collectors for store operations.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the store collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "operations_total",
			Help:      "Store operations by operation and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.operations, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = errors.KindOf(err).String()
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Instrument wraps s so every operation is counted and timed.
func Instrument(s Store, m *Metrics) Store {
	return &instrumented{next: s, metrics: m}
}

type instrumented struct {
	next    Store
	metrics *Metrics
}

// Ready forwards readiness when the wrapped store reports it.
func (i *instrumented) Ready() bool {
	return IsReady(i.next)
}

func (i *instrumented) Get(ctx context.Context, key string) (map[string]any, error) {
	start := time.Now()
	doc, err := i.next.Get(ctx, key)
	i.metrics.observe("get", start, err)
	return doc, err
}

func (i *instrumented) Create(ctx context.Context, key string, doc map[string]any) error {
	start := time.Now()
	err := i.next.Create(ctx, key, doc)
	i.metrics.observe("create", start, err)
	return err
}

func (i *instrumented) Update(ctx context.Context, key string, doc map[string]any) error {
	start := time.Now()
	err := i.next.Update(ctx, key, doc)
	i.metrics.observe("update", start, err)
	return err
}

func (i *instrumented) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	start := time.Now()
	err := i.next.UpdateFields(ctx, key, fields)
	i.metrics.observe("update_fields", start, err)
	return err
}

func (i *instrumented) UpdateAndSet(ctx context.Context, key string, doc map[string]any) error {
	start := time.Now()
	err := i.next.UpdateAndSet(ctx, key, doc)
	i.metrics.observe("update_and_set", start, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.metrics.observe("delete", start, err)
	return err
}

func (i *instrumented) Clean(ctx context.Context) error {
	start := time.Now()
	err := i.next.Clean(ctx)
	i.metrics.observe("clean", start, err)
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

// IsReady reports whether s has a live backend. Stores that do not track
// readiness are always ready.
func IsReady(s Store) bool {
	if r, ok := s.(interface{ Ready() bool }); ok {
		return r.Ready()
	}
	return true
}
