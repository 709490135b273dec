package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pewcms/internal/eventbus"
	"pewcms/internal/schedule"
	logx "pewcms/pkg/logx"
)

const lockReleaseTimeout = 5 * time.Second

type Service struct {
	store Store
	exec  Executor
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	cfg Config
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, store Store, exec Executor, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store: store,
		exec:  exec,
		bus:   bus,
		log:   log.With(logx.String("comp", "scheduler")),
		now:   func() time.Time { return time.Now().UTC() },
		cfg:   normalizeConfig(cfg),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalizeConfig(cfg Config) Config {
	if cfg.DueLimit <= 0 {
		cfg.DueLimit = DefaultDueLimit
	}
	if cfg.DueLimit > 100 {
		cfg.DueLimit = 100
	}
	return cfg
}

// Apply swaps the runtime knobs; safe to call concurrently with ticks.
func (s *Service) Apply(cfg Config) {
	cfg = normalizeConfig(cfg)
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()
	if old != cfg {
		s.log.Info("scheduler config applied", logx.Int("due_limit", cfg.DueLimit), logx.Bool("enabled_default", cfg.Enabled))
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Enabled reads the global enable flag.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	return s.store.GetBool(ctx, SettingEnabled, s.config().Enabled)
}

func (s *Service) SetEnabled(ctx context.Context, on bool) error {
	if err := s.store.SetBool(ctx, SettingEnabled, on); err != nil {
		return err
	}
	s.log.Info("schedules enabled flag changed", logx.Bool("enabled", on))
	return nil
}

// RunDueSchedules executes every due entry once. It takes no lock; see
// RunDueSchedulesLocked. A store failure for one entry is logged and counted
// in Failed, and the tick moves on to the next entry.
func (s *Service) RunDueSchedules(ctx context.Context) (TickResult, error) {
	return s.runDue(ctx, nil)
}

// runDue is one tick. When renew is set it is called before every entry and
// the tick stops as soon as it reports the lock lost.
func (s *Service) runDue(ctx context.Context, renew func(context.Context) (bool, error)) (TickResult, error) {
	var res TickResult
	on, err := s.Enabled(ctx)
	if err != nil {
		return res, fmt.Errorf("read enable flag: %w", err)
	}
	if !on {
		res.Disabled = true
		s.log.Debug("tick skipped: schedules disabled")
		return res, nil
	}

	start := time.Now()
	due, err := s.store.SelectDue(ctx, s.now(), s.config().DueLimit)
	if err != nil {
		return res, fmt.Errorf("select due: %w", err)
	}
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if renew != nil {
			held, err := renew(ctx)
			if err != nil {
				s.log.Error("renew tick lock failed", logx.Err(err))
			}
			if err != nil || !held {
				res.LockLost = true
				s.log.Warn("tick stopped: lock no longer held", logx.String("next_id", e.ID))
				break
			}
		}
		t, err := s.runEntry(ctx, e, schedule.TriggerCron)
		if errors.Is(err, schedule.ErrConflict) {
			res.Conflicts++
			s.log.Warn("schedule changed while running; result discarded", logx.String("id", e.ID), logx.String("action", e.ActionKey))
			continue
		}
		if err != nil {
			res.Failed++
			s.log.Error("schedule state not persisted", logx.String("id", e.ID), logx.String("action", e.ActionKey), logx.Err(err))
			continue
		}
		res.count(t.FinalStatus)
	}

	s.publish(eventbus.TypeTick, res)
	fields := []logx.Field{
		logx.Int("due", len(due)),
		logx.Int("ran", res.Ran),
		logx.Int("skipped", res.Skipped),
		logx.Int("blocked", res.Blocked),
		logx.Int("errors", res.Errors),
		logx.Int("dead_lettered", res.DeadLettered),
		logx.Int("failed", res.Failed),
		logx.Int("conflicts", res.Conflicts),
		logx.Bool("lock_lost", res.LockLost),
		logx.Duration("took", time.Since(start)),
	}
	if len(due) > 0 {
		s.log.Info("tick completed", fields...)
	} else {
		s.log.Debug("tick completed", fields...)
	}
	return res, ctx.Err()
}

// RunDueSchedulesLocked wraps one tick in the cross-process tick lock. When
// another holder has it the tick is skipped and LockBusy is set. The lock is
// renewed before each entry; if it was lost the remaining entries are left
// for the next tick and LockLost is set.
func (s *Service) RunDueSchedulesLocked(ctx context.Context) (TickResult, error) {
	ok, err := s.AcquireLock(ctx)
	if err != nil {
		return TickResult{}, err
	}
	if !ok {
		s.log.Debug("tick skipped: lock busy")
		return TickResult{LockBusy: true}, nil
	}
	var res TickResult
	defer func() {
		// Release even when ctx is already cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		err := s.ReleaseLock(rctx)
		switch {
		case err == nil:
		case res.LockLost:
			s.log.Debug("tick lock already gone at release", logx.Err(err))
		default:
			s.log.Warn("release tick lock failed", logx.Err(err))
		}
	}()
	res, err = s.runDue(ctx, s.store.RenewLock)
	return res, err
}

// AcquireLock tries the tick lock without blocking.
func (s *Service) AcquireLock(ctx context.Context) (bool, error) {
	ok, err := s.store.TryLock(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire tick lock: %w", err)
	}
	return ok, nil
}

func (s *Service) ReleaseLock(ctx context.Context) error {
	return s.store.Unlock(ctx)
}

// RunScheduleEntryNow executes one entry immediately, ignoring its enabled
// flag and next run time. A quarantined entry stays quarantined whatever the
// outcome. If a tick or an update changed the entry while the action ran, the
// result is discarded and schedule.ErrConflict is returned.
func (s *Service) RunScheduleEntryNow(ctx context.Context, id string) (RunNowResult, error) {
	e, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return RunNowResult{}, err
	}
	t, err := s.runEntry(ctx, e, schedule.TriggerManual)
	if err != nil {
		return RunNowResult{}, err
	}
	ok := t.FinalStatus != schedule.StatusError && t.FinalStatus != schedule.StatusDeadLetter
	return RunNowResult{OK: ok, Status: t.FinalStatus, Error: t.Error}, nil
}

// runEntry is the dispatch, reconcile, persist, audit pipeline for one
// entry. Only a failure to persist the entry's state is returned; audit
// failures are logged.
func (s *Service) runEntry(ctx context.Context, e *schedule.Entry, trigger schedule.Trigger) (schedule.Transition, error) {
	log := s.log.With(logx.String("id", e.ID), logx.String("action", e.ActionKey), logx.String("trigger", string(trigger)))
	snapshot := e.Payload.Clone()

	start := time.Now()
	out := s.exec.Execute(ctx, e)
	took := time.Since(start)
	if _, valid := schedule.ParseOutcomeStatus(string(out.Status)); !valid {
		out = schedule.Outcome{Status: schedule.StatusError, Error: fmt.Sprintf("invalid outcome status %q", out.Status)}
	}

	now := s.now()
	var t schedule.Transition
	if trigger == schedule.TriggerManual {
		t = schedule.ReconcileManual(*e, out, now)
	} else {
		t = schedule.Reconcile(*e, out, now)
	}
	if err := s.store.ApplyTransition(ctx, e.ID, t); err != nil {
		return t, err
	}

	rec := schedule.RunRecord{
		ScheduleID:   e.ID,
		Trigger:      trigger,
		Status:       t.FinalStatus,
		Error:        t.Error,
		DurationMS:   took.Milliseconds(),
		RetryAttempt: e.RetryCount + 1,
		Payload:      snapshot,
		CreatedAt:    now,
	}
	if _, err := s.store.AppendRun(ctx, rec); err != nil {
		log.Error("audit record not written", logx.String("status", string(t.FinalStatus)), logx.Err(err))
	}

	// Only the run that quarantines an entry announces it; later failed
	// manual runs of a quarantined entry are reported as plain failures.
	newlyDead := t.DeadLettered && !e.DeadLettered
	switch {
	case t.FinalStatus == schedule.StatusDeadLetter && newlyDead:
		log.Error("schedule dead-lettered", logx.String("err", t.Error), logx.Int("retry", t.RetryCount))
	case t.FinalStatus == schedule.StatusError || t.FinalStatus == schedule.StatusDeadLetter:
		log.Warn("schedule run failed", logx.String("err", t.Error), logx.Int("retry", t.RetryCount), logx.Int("max_retries", e.MaxRetries))
	default:
		log.Debug("schedule run finished", logx.String("status", string(t.FinalStatus)), logx.Duration("took", took))
	}

	ev := RunEvent{
		ScheduleID: e.ID,
		Name:       e.Name,
		ActionKey:  e.ActionKey,
		OwnerType:  e.OwnerType,
		OwnerID:    e.OwnerID,
		SiteID:     e.SiteID,
		Trigger:    trigger,
		Status:     t.FinalStatus,
		Error:      t.Error,
		RetryCount: t.RetryCount,
		MaxRetries: e.MaxRetries,
		Duration:   took,
		NextRunAt:  t.NextRunAt,
	}
	s.publish(eventbus.TypeScheduleRun, ev)
	if t.FinalStatus == schedule.StatusDeadLetter && newlyDead {
		s.publish(eventbus.TypeScheduleDeadLetter, ev)
	}
	return t, nil
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
