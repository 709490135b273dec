package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pewcms/internal/schedule"
	logx "pewcms/pkg/logx"
)

// CreateSchedule validates in, assigns an id and persists the entry.
func (s *Store) CreateSchedule(ctx context.Context, ownerType schedule.OwnerType, ownerID string, in schedule.Input) (*schedule.Entry, error) {
	e, err := schedule.NewEntry(ownerType, ownerID, in, s.now())
	if err != nil {
		return nil, err
	}
	e.ID = uuid.NewString()
	e.Revision = 1
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", schedule.ErrInvalidInput, err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO {{prefix}}schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, string(e.OwnerType), e.OwnerID, nullInt64(e.SiteID), e.Name, e.ActionKey, payload,
		e.RunEveryMinutes, e.MaxRetries, e.BackoffBaseSeconds,
		e.Enabled, e.RetryCount, e.DeadLettered, nullMillis(e.DeadLetteredAt), nullMillis(e.NextRunAt), nullMillis(e.LastRunAt),
		string(e.LastStatus), e.LastError, millis(e.CreatedAt), millis(e.UpdatedAt), e.Revision,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: create schedule: %w", err)
	}
	s.log.Debug("schedule created", logx.String("id", e.ID), logx.String("action", e.ActionKey), logx.String("owner", string(e.OwnerType)+":"+e.OwnerID))
	return s.GetSchedule(ctx, e.ID)
}

// GetSchedule returns schedule.ErrNotFound when id does not exist.
func (s *Store) GetSchedule(ctx context.Context, id string) (*schedule.Entry, error) {
	return getSchedule(ctx, s.db, s, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSchedule(ctx context.Context, db queryRower, s *Store, id string) (*schedule.Entry, error) {
	row := db.QueryRowContext(ctx, s.q(`SELECT `+scheduleColumns+` FROM {{prefix}}schedules WHERE id = ?`), id)
	e, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get schedule: %w", err)
	}
	return e, nil
}

// ListSchedules orders dead-lettered entries first, then by next run
// ascending (entries without a next run last), then newest first.
func (s *Store) ListSchedules(ctx context.Context, f schedule.Filter) ([]*schedule.Entry, error) {
	query := `SELECT ` + scheduleColumns + ` FROM {{prefix}}schedules WHERE 1 = 1`
	args := make([]any, 0, 3)
	if f.OwnerType != "" {
		query += ` AND owner_type = ?`
		args = append(args, string(f.OwnerType))
	}
	if f.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	if !f.IncludeDisabled {
		query += ` AND enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY dead_lettered DESC, (next_run_at IS NULL) ASC, next_run_at ASC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// SelectDue returns enabled, non-quarantined entries whose next run is at or
// before now, oldest first. limit is clamped to [1, 100]. The read takes no
// row locks; cross-process exclusivity comes from the tick lock.
func (s *Store) SelectDue(ctx context.Context, now time.Time, limit int) ([]*schedule.Entry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+scheduleColumns+` FROM {{prefix}}schedules
		WHERE enabled = ? AND dead_lettered = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT ?`),
		true, false, millis(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select due: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func collectSchedules(rows *sql.Rows) ([]*schedule.Entry, error) {
	out := make([]*schedule.Entry, 0, 16)
	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan schedule: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate schedules: %w", err)
	}
	return out, nil
}

// UpdateSchedule applies p on behalf of actor inside one transaction.
// It returns schedule.ErrNotFound or schedule.ErrNotAuthorized unchanged so
// callers can tell them apart.
func (s *Store) UpdateSchedule(ctx context.Context, id string, p schedule.Patch, actor schedule.Actor) (*schedule.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getSchedule(ctx, tx, s, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanMutate(cur) {
		return nil, schedule.ErrNotAuthorized
	}
	next, err := schedule.ApplyPatch(*cur, p, s.now())
	if err != nil {
		return nil, err
	}
	payload, err := encodePayload(next.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", schedule.ErrInvalidInput, err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE {{prefix}}schedules SET
			site_id = ?, name = ?, action_key = ?, payload = ?,
			run_every_minutes = ?, max_retries = ?, backoff_base_seconds = ?,
			enabled = ?, retry_count = ?, dead_lettered = ?, dead_lettered_at = ?, next_run_at = ?,
			updated_at = ?, revision = revision + 1
		WHERE id = ?`),
		nullInt64(next.SiteID), next.Name, next.ActionKey, payload,
		next.RunEveryMinutes, next.MaxRetries, next.BackoffBaseSeconds,
		next.Enabled, next.RetryCount, next.DeadLettered, nullMillis(next.DeadLetteredAt), nullMillis(next.NextRunAt),
		millis(next.UpdatedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: update schedule: %w", err)
	}
	out, err := getSchedule(ctx, tx, s, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage: commit update: %w", err)
	}
	return out, nil
}

// DeleteSchedule removes the entry and its run history.
func (s *Store) DeleteSchedule(ctx context.Context, id string, actor schedule.Actor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getSchedule(ctx, tx, s, id)
	if err != nil {
		return err
	}
	if !actor.CanMutate(cur) {
		return schedule.ErrNotAuthorized
	}
	// The FK cascades too; deleting runs first keeps this correct on
	// databases where foreign keys are switched off.
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM {{prefix}}schedule_runs WHERE schedule_id = ?`), id); err != nil {
		return fmt.Errorf("storage: delete runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM {{prefix}}schedules WHERE id = ?`), id); err != nil {
		return fmt.Errorf("storage: delete schedule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit delete: %w", err)
	}
	s.log.Debug("schedule deleted", logx.String("id", id))
	return nil
}

// ApplyTransition persists the runtime state produced by one attempt.
func (s *Store) ApplyTransition(ctx context.Context, id string, t schedule.Transition) error {
	query := `
		UPDATE {{prefix}}schedules SET
			retry_count = ?, next_run_at = ?, dead_lettered = ?, dead_lettered_at = ?,
			last_run_at = ?, last_status = ?, last_error = ?, updated_at = ?,
			revision = revision + 1
		WHERE id = ?`
	args := []any{
		t.RetryCount, nullMillis(t.NextRunAt), t.DeadLettered, nullMillis(t.DeadLetteredAt),
		millis(t.LastRunAt), string(t.FinalStatus), t.Error, millis(t.LastRunAt), id,
	}
	if t.BaseRevision > 0 {
		query += ` AND revision = ?`
		args = append(args, t.BaseRevision)
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("storage: apply transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}
	if t.BaseRevision == 0 {
		return schedule.ErrNotFound
	}
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return err
	}
	return schedule.ErrConflict
}
