package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostgresRecorder stores audit events in PostgreSQL.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder creates a database-backed audit recorder.
func NewPostgresRecorder(db *sql.DB) (*PostgresRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresRecorder{db: db}, nil
}

// Migrate creates the audit_events table and its indexes.
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		time TIMESTAMPTZ NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		actor_id UUID,
		actor_email VARCHAR(255),
		method VARCHAR(16),
		ip VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(64),
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_time ON audit_events(time DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_id);
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrating audit_events: %w", err)
	}
	return nil
}

// Record persists a single event.
func (r *PostgresRecorder) Record(ctx context.Context, event *Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	var actorID interface{}
	if event.ActorID != nil {
		actorID = *event.ActorID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			time, event_type, outcome, actor_id, actor_email,
			method, ip, user_agent, request_id, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.Time, event.Type, event.Outcome, actorID, event.ActorEmail,
		event.Method, event.IP, event.UserAgent, event.RequestID, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes events recorded before the cutoff. Run on a
// schedule to keep the trail within the retention window.
func (r *PostgresRecorder) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging audit events: %w", err)
	}
	return res.RowsAffected()
}

const maxQueryLimit = 500

// Query returns events matching the filter, newest first.
func (r *PostgresRecorder) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	var conds []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Type != "" {
		conds = append(conds, "event_type = "+arg(string(filter.Type)))
	}
	if filter.ActorID != nil {
		conds = append(conds, "actor_id = "+arg(*filter.ActorID))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "time >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "time < "+arg(filter.Until))
	}

	query := `
		SELECT id, time, event_type, outcome, actor_id, actor_email,
		       method, ip, user_agent, request_id, detail
		FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	query += " ORDER BY time DESC, id DESC LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var actorID uuid.NullUUID
		var actorEmail, method, ip, userAgent, requestID, detail sql.NullString

		err := rows.Scan(&e.ID, &e.Time, &e.Type, &e.Outcome, &actorID, &actorEmail,
			&method, &ip, &userAgent, &requestID, &detail)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}

		if actorID.Valid {
			id := actorID.UUID
			e.ActorID = &id
		}
		e.ActorEmail = actorEmail.String
		e.Method = method.String
		e.IP = ip.String
		e.UserAgent = userAgent.String
		e.RequestID = requestID.String
		e.Detail = detail.String

		events = append(events, &e)
	}
	return events, rows.Err()
}
