package schedule

import (
	"encoding/json"
	"time"
)

type OwnerType string

const (
	OwnerCore   OwnerType = "core"
	OwnerPlugin OwnerType = "plugin"
	OwnerTheme  OwnerType = "theme"
)

func (o OwnerType) Valid() bool {
	switch o {
	case OwnerCore, OwnerPlugin, OwnerTheme:
		return true
	}
	return false
}

type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// Status classifies one execution attempt.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
	StatusBlocked    Status = "blocked"
	StatusDeadLetter Status = "dead_letter"
)

// ParseOutcomeStatus accepts the statuses a handler may report.
// dead_letter is decided by Reconcile, never by a handler.
func ParseOutcomeStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusSuccess, StatusError, StatusSkipped, StatusBlocked:
		return Status(s), true
	}
	return "", false
}

// Payload is the JSON object passed verbatim to an action handler.
type Payload map[string]any

// Clone returns a deep copy via a JSON round trip so snapshots cannot alias
// the entry's live payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return Payload{}
	}
	var out Payload
	if err := json.Unmarshal(b, &out); err != nil {
		return Payload{}
	}
	return out
}

// Entry is a recurring unit of work.
type Entry struct {
	ID        string    `json:"id"`
	OwnerType OwnerType `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	SiteID    *int64    `json:"site_id,omitempty"`

	Name      string  `json:"name"`
	ActionKey string  `json:"action_key"`
	Payload   Payload `json:"payload"`

	RunEveryMinutes    int `json:"run_every_minutes"`
	MaxRetries         int `json:"max_retries"`
	BackoffBaseSeconds int `json:"backoff_base_seconds"`

	Enabled        bool       `json:"enabled"`
	RetryCount     int        `json:"retry_count"`
	DeadLettered   bool       `json:"dead_lettered"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastStatus     Status     `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Revision increases with every persisted change to the row.
	Revision int64 `json:"revision"`
}

// RunRecord is one immutable audit row per execution attempt.
type RunRecord struct {
	ID           string    `json:"id"`
	ScheduleID   string    `json:"schedule_id"`
	Trigger      Trigger   `json:"trigger"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	RetryAttempt int       `json:"retry_attempt"`
	Payload      Payload   `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`
}

// Input is the definition supplied at creation. Zero numeric fields take
// defaults; out-of-range values are clamped, not rejected.
type Input struct {
	SiteID             *int64     `json:"site_id,omitempty"`
	Name               string     `json:"name"`
	ActionKey          string     `json:"action_key"`
	Payload            Payload    `json:"payload,omitempty"`
	RunEveryMinutes    int        `json:"run_every_minutes,omitempty"`
	MaxRetries         *int       `json:"max_retries,omitempty"`
	BackoffBaseSeconds int        `json:"backoff_base_seconds,omitempty"`
	Enabled            *bool      `json:"enabled,omitempty"`
	NextRunAt          *time.Time `json:"next_run_at,omitempty"`
}

// Patch carries an update. Nil fields keep the entry's current value.
// ClearSiteID moves the entry to global scope.
type Patch struct {
	SiteID             *int64     `json:"site_id,omitempty"`
	ClearSiteID        bool       `json:"clear_site_id,omitempty"`
	Name               *string    `json:"name,omitempty"`
	ActionKey          *string    `json:"action_key,omitempty"`
	Payload            *Payload   `json:"payload,omitempty"`
	RunEveryMinutes    *int       `json:"run_every_minutes,omitempty"`
	MaxRetries         *int       `json:"max_retries,omitempty"`
	BackoffBaseSeconds *int       `json:"backoff_base_seconds,omitempty"`
	Enabled            *bool      `json:"enabled,omitempty"`
	NextRunAt          *time.Time `json:"next_run_at,omitempty"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	OwnerType       OwnerType
	OwnerID         string
	IncludeDisabled bool
}

// Actor identifies who mutates an entry.
type Actor struct {
	OwnerType OwnerType
	OwnerID   string
	Admin     bool
}

// SystemActor is used by bootstrap code paths that act as an administrator.
var SystemActor = Actor{OwnerType: OwnerCore, OwnerID: "system", Admin: true}

// CanMutate reports whether a may change e: administrators always can,
// everyone else only for entries they own.
func (a Actor) CanMutate(e *Entry) bool {
	if e == nil {
		return false
	}
	if a.Admin {
		return true
	}
	return a.OwnerType == e.OwnerType && a.OwnerID == e.OwnerID
}

// Outcome is what the dispatcher reports for one attempt.
type Outcome struct {
	Status Status
	Error  string
}
