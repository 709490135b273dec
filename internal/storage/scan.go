package storage

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"pewcms/internal/schedule"
)

const scheduleColumns = `id, owner_type, owner_id, site_id, name, action_key, payload,
	run_every_minutes, max_retries, backoff_base_seconds,
	enabled, retry_count, dead_lettered, dead_lettered_at, next_run_at, last_run_at,
	last_status, last_error, created_at, updated_at, revision`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (*schedule.Entry, error) {
	var (
		e                              schedule.Entry
		ownerType, payload, lastStatus string
		siteID                         sql.NullInt64
		deadAt, nextAt, lastAt         sql.NullInt64
		createdAt, updatedAt           int64
	)
	err := r.Scan(
		&e.ID, &ownerType, &e.OwnerID, &siteID, &e.Name, &e.ActionKey, &payload,
		&e.RunEveryMinutes, &e.MaxRetries, &e.BackoffBaseSeconds,
		&e.Enabled, &e.RetryCount, &e.DeadLettered, &deadAt, &nextAt, &lastAt,
		&lastStatus, &e.LastError, &createdAt, &updatedAt, &e.Revision,
	)
	if err != nil {
		return nil, err
	}
	e.OwnerType = schedule.OwnerType(ownerType)
	e.LastStatus = schedule.Status(lastStatus)
	if siteID.Valid {
		v := siteID.Int64
		e.SiteID = &v
	}
	e.Payload = decodePayload(payload)
	e.DeadLetteredAt = fromMillis(deadAt)
	e.NextRunAt = fromMillis(nextAt)
	e.LastRunAt = fromMillis(lastAt)
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &e, nil
}

func decodePayload(raw string) schedule.Payload {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return schedule.Payload{}
	}
	var p schedule.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p == nil {
		return schedule.Payload{}
	}
	return p
}

func encodePayload(p schedule.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
