package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skyguard-io/skyguard/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []*Event
}

func (c *captureRecorder) Record(ctx context.Context, event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureRecorder) Query(ctx context.Context, f Filter) ([]*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events, nil
}

func TestAsyncRecorderDeliversEvents(t *testing.T) {
	inner := &captureRecorder{}
	log := observability.NewLogger(observability.ErrorLevel, nil)

	r := NewAsyncRecorder(context.Background(), inner, 2, log)
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Record(context.Background(), &Event{Type: EventTypeLogin, Outcome: OutcomeSuccess}))
	}
	require.NoError(t, r.Close())

	events, err := r.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 10)
}

func TestAsyncRecorderRecordNeverFails(t *testing.T) {
	inner := &captureRecorder{}
	log := observability.NewLogger(observability.ErrorLevel, nil)

	r := NewAsyncRecorder(context.Background(), inner, 1, log)
	require.NoError(t, r.Close())

	// pool already drained; the event is dropped but Record stays nil
	assert.NoError(t, r.Record(context.Background(), &Event{Type: EventTypeRevoke}))
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), &Event{Type: EventTypeLogin, Time: time.Now()}))
	events, err := r.Query(context.Background(), Filter{})
	assert.NoError(t, err)
	assert.Nil(t, events)
}
