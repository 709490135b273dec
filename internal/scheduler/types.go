package scheduler

import (
	"context"
	"time"

	"pewcms/internal/schedule"
)

// Store is the persistence the scheduler needs. *storage.Store implements it.
type Store interface {
	CreateSchedule(ctx context.Context, ownerType schedule.OwnerType, ownerID string, in schedule.Input) (*schedule.Entry, error)
	GetSchedule(ctx context.Context, id string) (*schedule.Entry, error)
	ListSchedules(ctx context.Context, f schedule.Filter) ([]*schedule.Entry, error)
	UpdateSchedule(ctx context.Context, id string, p schedule.Patch, actor schedule.Actor) (*schedule.Entry, error)
	DeleteSchedule(ctx context.Context, id string, actor schedule.Actor) error

	SelectDue(ctx context.Context, now time.Time, limit int) ([]*schedule.Entry, error)
	ApplyTransition(ctx context.Context, id string, t schedule.Transition) error
	AppendRun(ctx context.Context, r schedule.RunRecord) (*schedule.RunRecord, error)
	ListRuns(ctx context.Context, scheduleID string, limit int) ([]*schedule.RunRecord, error)

	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, v bool) error

	TryLock(ctx context.Context) (bool, error)
	RenewLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Executor runs one entry's action. *dispatch.Dispatcher implements it.
type Executor interface {
	Execute(ctx context.Context, e *schedule.Entry) schedule.Outcome
}

// Config holds the knobs that may change at runtime.
type Config struct {
	// Enabled is the fallback when the schedules_enabled setting is unset.
	Enabled  bool
	DueLimit int
}

const (
	DefaultDueLimit    = 25
	SettingEnabled     = "schedules_enabled"
	defaultRunsListing = 20
)

// TickResult aggregates one RunDueSchedules call. Ran counts successes;
// Failed counts entries whose state could not be persisted.
type TickResult struct {
	Disabled     bool `json:"disabled,omitempty"`
	LockBusy     bool `json:"lock_busy,omitempty"`
	LockLost     bool `json:"lock_lost,omitempty"`
	Ran          int  `json:"ran"`
	Skipped      int  `json:"skipped"`
	Blocked      int  `json:"blocked"`
	Errors       int  `json:"errors"`
	DeadLettered int  `json:"dead_lettered"`
	Failed       int  `json:"failed,omitempty"`
	// Conflicts counts entries changed by someone else while their action ran.
	Conflicts int `json:"conflicts,omitempty"`
}

func (r *TickResult) count(st schedule.Status) {
	switch st {
	case schedule.StatusSuccess:
		r.Ran++
	case schedule.StatusSkipped:
		r.Skipped++
	case schedule.StatusBlocked:
		r.Blocked++
	case schedule.StatusError:
		r.Errors++
	case schedule.StatusDeadLetter:
		r.DeadLettered++
	}
}

// Total is the number of entries that were attempted and persisted.
func (r TickResult) Total() int {
	return r.Ran + r.Skipped + r.Blocked + r.Errors + r.DeadLettered
}

// RunNowResult is returned by RunScheduleEntryNow. OK is false for error and
// dead_letter outcomes.
type RunNowResult struct {
	OK     bool            `json:"ok"`
	Status schedule.Status `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// RunEvent is the payload of eventbus.TypeScheduleRun and
// eventbus.TypeScheduleDeadLetter.
type RunEvent struct {
	ScheduleID string             `json:"schedule_id"`
	Name       string             `json:"name"`
	ActionKey  string             `json:"action_key"`
	OwnerType  schedule.OwnerType `json:"owner_type"`
	OwnerID    string             `json:"owner_id,omitempty"`
	SiteID     *int64             `json:"site_id,omitempty"`
	Trigger    schedule.Trigger   `json:"trigger"`
	Status     schedule.Status    `json:"status"`
	Error      string             `json:"error,omitempty"`
	RetryCount int                `json:"retry_count"`
	MaxRetries int                `json:"max_retries"`
	Duration   time.Duration      `json:"duration"`
	NextRunAt  *time.Time         `json:"next_run_at,omitempty"`
}
