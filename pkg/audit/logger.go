package audit

import (
	"context"
	"time"

	"github.com/skyguard-io/skyguard/pkg/async"
	"github.com/skyguard-io/skyguard/pkg/observability"
)

// Recorder persists audit events and serves queries over them.
type Recorder interface {
	// Record persists a single event.
	Record(ctx context.Context, event *Event) error

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*Event, error)
}

// NopRecorder discards all events. Used in tests and when auditing is
// not configured.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event *Event) error        { return nil }
func (NopRecorder) Query(ctx context.Context, f Filter) ([]*Event, error) { return nil, nil }

const recordTimeout = 10 * time.Second

// AsyncRecorder wraps a Recorder so that Record returns immediately and
// the write happens on a worker pool. Failures are logged, never
// surfaced: a lost audit row must not fail the sign-in it describes.
type AsyncRecorder struct {
	inner Recorder
	pool  *async.WorkerPool
	log   *observability.Logger
}

// NewAsyncRecorder starts the worker pool. Call Close during shutdown
// to drain pending writes.
func NewAsyncRecorder(ctx context.Context, inner Recorder, workers int, log *observability.Logger) *AsyncRecorder {
	return &AsyncRecorder{
		inner: inner,
		pool:  async.NewWorkerPool(ctx, log, workers, "audit events", recordTimeout),
		log:   log,
	}
}

// Record enqueues the event for persistence.
func (r *AsyncRecorder) Record(ctx context.Context, event *Event) error {
	err := r.pool.Submit(func(ctx context.Context) error {
		return r.inner.Record(ctx, event)
	})
	if err != nil {
		r.log.WithError(err).WithField("event", string(event.Type)).Warn("audit event dropped")
	}
	return nil
}

// Query passes through to the underlying recorder.
func (r *AsyncRecorder) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	return r.inner.Query(ctx, filter)
}

// Close drains pending writes.
func (r *AsyncRecorder) Close() error {
	return r.pool.Shutdown(recordTimeout)
}
