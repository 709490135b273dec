package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pewcms/internal/schedule"
)

// AppendRun inserts one immutable audit row. Rows are never updated.
func (s *Store) AppendRun(ctx context.Context, r schedule.RunRecord) (*schedule.RunRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.CreatedAt = r.CreatedAt.UTC().Truncate(time.Millisecond)
	payload, err := encodePayload(r.Payload)
	if err != nil {
		payload = "{}"
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO {{prefix}}schedule_runs (id, schedule_id, trigger_kind, status, error, duration_ms, retry_attempt, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.ScheduleID, string(r.Trigger), string(r.Status), nullStr(r.Error), r.DurationMS, r.RetryAttempt, payload, millis(r.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: append run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the newest runs of one entry first.
func (s *Store) ListRuns(ctx context.Context, scheduleID string, limit int) ([]*schedule.RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, schedule_id, trigger_kind, status, error, duration_ms, retry_attempt, payload, created_at
		FROM {{prefix}}schedule_runs
		WHERE schedule_id = ?
		ORDER BY seq DESC
		LIMIT ?`), scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*schedule.RunRecord, 0, limit)
	for rows.Next() {
		var (
			r                        schedule.RunRecord
			trigger, status, payload string
			errMsg                   sql.NullString
			createdAt                int64
		)
		if err := rows.Scan(&r.ID, &r.ScheduleID, &trigger, &status, &errMsg, &r.DurationMS, &r.RetryAttempt, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		r.Trigger = schedule.Trigger(trigger)
		r.Status = schedule.Status(status)
		r.Error = errMsg.String
		r.Payload = decodePayload(payload)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate runs: %w", err)
	}
	return out, nil
}
