package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "pewcms/pkg/logx"
)

const DefaultTick = time.Minute

// DriverConfig controls the periodic tick.
type DriverConfig struct {
	Every time.Duration
	// Locked wraps each tick in the cross-process tick lock.
	Locked bool
}

// Driver fires ticks on an "@every" cron schedule. Overlapping ticks are
// skipped, not queued.
type Driver struct {
	svc *Service
	log logx.Logger

	mu      sync.Mutex
	cfg     DriverConfig
	c       *cron.Cron
	baseCtx context.Context
}

func NewDriver(svc *Service, cfg DriverConfig, log logx.Logger) *Driver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{svc: svc, cfg: normalizeDriver(cfg), log: log.With(logx.String("comp", "driver"))}
}

func normalizeDriver(cfg DriverConfig) DriverConfig {
	if cfg.Every <= 0 {
		cfg.Every = DefaultTick
	}
	if cfg.Every < time.Second {
		cfg.Every = time.Second
	}
	return cfg
}

// Start begins ticking. Ticks run with ctx as their parent.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return nil
	}
	d.baseCtx = ctx
	return d.startLocked()
}

func (d *Driver) startLocked() error {
	cl := cronLogger{log: d.log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	spec := fmt.Sprintf("@every %s", d.cfg.Every)
	if _, err := c.AddFunc(spec, d.tick); err != nil {
		return fmt.Errorf("driver: schedule %q: %w", spec, err)
	}
	c.Start()
	d.c = c
	d.log.Info("driver started", logx.Duration("every", d.cfg.Every), logx.Bool("locked", d.cfg.Locked))
	return nil
}

// Apply changes the cadence or lock mode; the cron is restarted when the
// interval changes.
func (d *Driver) Apply(cfg DriverConfig) error {
	cfg = normalizeDriver(cfg)
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	c := d.c
	if c == nil || old.Every == cfg.Every {
		d.mu.Unlock()
		return nil
	}
	d.c = nil
	d.mu.Unlock()

	// A running tick takes d.mu, so wait for it outside the lock.
	<-c.Stop().Done()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil || d.baseCtx == nil {
		return nil
	}
	return d.startLocked()
}

// Stop halts triggering and waits for a running tick, bounded by ctx.
func (d *Driver) Stop(ctx context.Context) {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.baseCtx = nil
	d.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		d.log.Info("driver stopped")
	case <-ctx.Done():
		d.log.Warn("driver stop timed out waiting for tick")
	}
}

func (d *Driver) tick() {
	d.mu.Lock()
	cfg := d.cfg
	ctx := d.baseCtx
	d.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	var (
		res TickResult
		err error
	)
	if cfg.Locked {
		res, err = d.svc.RunDueSchedulesLocked(ctx)
	} else {
		res, err = d.svc.RunDueSchedules(ctx)
	}
	if err != nil && ctx.Err() == nil {
		d.log.Error("tick failed", logx.Err(err))
		return
	}
	if res.LockBusy {
		d.log.Debug("tick lock held elsewhere")
	}
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
