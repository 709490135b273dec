package schedule

import "time"

const (
	maxBackoffSeconds  = 86400
	maxBackoffExponent = 12
)

// BackoffSeconds is min(86400, base * 2^(clamp(attempt,1,12)-1)).
func BackoffSeconds(base, attempt int) int {
	if base < 0 {
		base = 0
	}
	attempt = clamp(attempt, 1, maxBackoffExponent)
	d := int64(base) << uint(attempt-1)
	if d > maxBackoffSeconds {
		return maxBackoffSeconds
	}
	return int(d)
}

// Transition is the runtime state to persist after one attempt.
type Transition struct {
	FinalStatus    Status
	Error          string
	RetryCount     int
	NextRunAt      *time.Time
	DeadLettered   bool
	DeadLetteredAt *time.Time
	LastRunAt      time.Time

	// BaseRevision is the entry revision the transition was computed from.
	// The store refuses the write with ErrConflict when the row moved on
	// since. Zero skips the check.
	BaseRevision int64
}

// Reconcile computes the state after outcome. Only StatusError advances the
// failure streak; every other status, blocked included, resets it and
// resumes the normal cadence.
func Reconcile(e Entry, o Outcome, now time.Time) Transition {
	t := Transition{
		FinalStatus:  o.Status,
		Error:        o.Error,
		LastRunAt:    now,
		BaseRevision: e.Revision,
	}
	if o.Status != StatusError {
		next := now.Add(time.Duration(e.RunEveryMinutes) * time.Minute)
		t.RetryCount = 0
		t.NextRunAt = &next
		return t
	}

	t.RetryCount = e.RetryCount + 1
	if t.RetryCount > e.MaxRetries {
		// The streak can overshoot when max_retries was lowered mid-streak or a
		// quarantined entry is run by hand; the counter never exceeds max+1.
		t.RetryCount = e.MaxRetries + 1
		dl := now
		t.FinalStatus = StatusDeadLetter
		t.DeadLettered = true
		t.DeadLetteredAt = &dl
		return t
	}
	next := now.Add(time.Duration(BackoffSeconds(e.BackoffBaseSeconds, t.RetryCount)) * time.Second)
	t.NextRunAt = &next
	return t
}

// ReconcileManual is Reconcile for operator-triggered runs. A manual run of a
// quarantined entry never lifts the quarantine: only an update that re-enables
// the entry does that.
func ReconcileManual(e Entry, o Outcome, now time.Time) Transition {
	t := Reconcile(e, o, now)
	if e.DeadLettered && !t.DeadLettered {
		t.DeadLettered = true
		t.DeadLetteredAt = e.DeadLetteredAt
		t.NextRunAt = nil
	}
	if e.DeadLettered && t.DeadLettered && e.DeadLetteredAt != nil {
		t.DeadLetteredAt = e.DeadLetteredAt
	}
	return t
}

// Apply folds t into e, as the store would persist it.
func (t Transition) Apply(e Entry) Entry {
	e.RetryCount = t.RetryCount
	e.NextRunAt = t.NextRunAt
	e.DeadLettered = t.DeadLettered
	e.DeadLetteredAt = t.DeadLetteredAt
	last := t.LastRunAt
	e.LastRunAt = &last
	e.LastStatus = t.FinalStatus
	e.LastError = t.Error
	e.UpdatedAt = t.LastRunAt
	e.Revision++
	return e
}
