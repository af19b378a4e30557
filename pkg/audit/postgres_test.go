package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordInsertsEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	actor := uuid.New()
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), EventTypeLogin, OutcomeSuccess, actor, "a@b.c",
			"password", "10.0.0.1", "curl/8", "req-1", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	r, err := NewPostgresRecorder(db)
	require.NoError(t, err)

	err = r.Record(context.Background(), &Event{
		Type:       EventTypeLogin,
		Outcome:    OutcomeSuccess,
		ActorID:    &actor,
		ActorEmail: "a@b.c",
		Method:     "password",
		IP:         "10.0.0.1",
		UserAgent:  "curl/8",
		RequestID:  "req-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	r, err := NewPostgresRecorder(db)
	require.NoError(t, err)

	e := &Event{Type: EventTypeLoginFailed, Outcome: OutcomeFailure}
	require.NoError(t, r.Record(context.Background(), e))
	assert.False(t, e.Time.IsZero())
}

func TestQueryAppliesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	actor := uuid.New()
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "time", "event_type", "outcome", "actor_id", "actor_email",
		"method", "ip", "user_agent", "request_id", "detail",
	}).AddRow(int64(7), since.Add(time.Hour), string(EventTypeLogin), string(OutcomeSuccess),
		actor.String(), "a@b.c", "password", "10.0.0.1", "curl/8", "req-1", "")

	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE event_type = \\$1 AND actor_id = \\$2 AND time >= \\$3").
		WithArgs(string(EventTypeLogin), actor, since, 50).
		WillReturnRows(rows)

	r, err := NewPostgresRecorder(db)
	require.NoError(t, err)

	events, err := r.Query(context.Background(), Filter{
		Type:    EventTypeLogin,
		ActorID: &actor,
		Since:   since,
		Limit:   50,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].ID)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, actor, *events[0].ActorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryCapsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM audit_events").
		WithArgs(maxQueryLimit).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "time", "event_type", "outcome", "actor_id", "actor_email",
			"method", "ip", "user_agent", "request_id", "detail",
		}))

	r, err := NewPostgresRecorder(db)
	require.NoError(t, err)

	_, err = r.Query(context.Background(), Filter{Limit: 100000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Now().Add(-90 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM audit_events WHERE time < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	r, err := NewPostgresRecorder(db)
	require.NoError(t, err)

	n, err := r.PurgeOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresRecorderRequiresDB(t *testing.T) {
	_, err := NewPostgresRecorder(nil)
	assert.Error(t, err)
}
