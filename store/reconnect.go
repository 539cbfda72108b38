package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stevemurr/simple-storage-server/errors"
)

// DefaultRetryInterval is the delay between failed connection attempts.
const DefaultRetryInterval = 5 * time.Second

// DialFunc establishes a connection to a backend.
type DialFunc func(ctx context.Context) (Store, error)

// Reconnecting is a Store whose backend is established in the background.
// A failed dial is retried on a fixed interval until it succeeds or the
// store is closed. Each attempt is bounded by the same interval, so a
// driver that blocks on an unreachable server cannot stretch the cadence.
// Until then every operation fails with BackendUnavailable.
type Reconnecting struct {
	name     string
	dial     DialFunc
	interval time.Duration
	logger   *slog.Logger

	current atomic.Pointer[backendRef]
	ready   chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
}

type backendRef struct {
	store Store
}

// NewReconnecting starts dialing in the background and returns immediately.
func NewReconnecting(name string, dial DialFunc, interval time.Duration, logger *slog.Logger) *Reconnecting {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconnecting{
		name:     name,
		dial:     dial,
		interval: interval,
		logger:   logger.With("backend", name),
		ready:    make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.connectLoop(ctx)
	return r
}

func (r *Reconnecting) connectLoop(ctx context.Context) {
	defer close(r.done)
	for attempt := 1; ; attempt++ {
		s, err := r.dialOnce(ctx)
		if err == nil {
			if ctx.Err() != nil {
				// closed while the dial was in flight
				_ = s.Close()
				return
			}
			r.current.Store(&backendRef{store: s})
			close(r.ready)
			r.logger.Info("Successfully connected to backend", "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("Impossible to connect to backend, retrying",
			"error", err, "attempt", attempt, "retry_in", r.interval)

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Reconnecting) dialOnce(ctx context.Context) (Store, error) {
	dctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	return r.dial(dctx)
}

// Ready reports whether the backend connection has been established.
func (r *Reconnecting) Ready() bool {
	return r.current.Load() != nil
}

// Wait blocks until the backend is connected or ctx is done.
func (r *Reconnecting) Wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-r.done:
		if r.Ready() {
			return nil
		}
		return errors.BackendUnavailable(nil)
	case <-ctx.Done():
		return errors.BackendUnavailable(ctx.Err())
	}
}

func (r *Reconnecting) backend() (Store, error) {
	ref := r.current.Load()
	if ref == nil {
		return nil, errors.BackendUnavailable(nil)
	}
	return ref.store, nil
}

func (r *Reconnecting) Get(ctx context.Context, key string) (map[string]any, error) {
	s, err := r.backend()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, key)
}

func (r *Reconnecting) Create(ctx context.Context, key string, doc map[string]any) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.Create(ctx, key, doc)
}

func (r *Reconnecting) Update(ctx context.Context, key string, doc map[string]any) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.Update(ctx, key, doc)
}

func (r *Reconnecting) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.UpdateFields(ctx, key, fields)
}

func (r *Reconnecting) UpdateAndSet(ctx context.Context, key string, doc map[string]any) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.UpdateAndSet(ctx, key, doc)
}

func (r *Reconnecting) Delete(ctx context.Context, key string) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.Delete(ctx, key)
}

func (r *Reconnecting) Clean(ctx context.Context) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.Clean(ctx)
}

// Close stops the connect loop and closes the backend if one was established.
func (r *Reconnecting) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		if ref := r.current.Load(); ref != nil {
			err = ref.store.Close()
		}
	})
	return err
}
