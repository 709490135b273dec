package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pewcms/internal/config"
	"pewcms/internal/eventbus"
	"pewcms/internal/httpapi"
	"pewcms/internal/notifier"
	"pewcms/internal/runtime/supervisor"
	"pewcms/internal/scheduler"
	"pewcms/pkg/logx"
	"pewcms/pkg/systemd"
)

// App is the long-running scheduler process: periodic driver, admin HTTP
// API, dead-letter alerts and config hot reload around a Core.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	core   *Core
	driver *scheduler.Driver
	notif  *notifier.Service
	http   *httpapi.Server
}

// NewApp loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func NewApp(ctx context.Context, cfgPath string, collab Collaborators) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg), nil)
	cfgm.SetLogger(log)

	var sender notifier.Sender
	if tok := strings.TrimSpace(cfg.Notifier.Telegram.Token); tok != "" {
		tg, err := notifier.NewTelegramSender(tok)
		if err != nil {
			log.Warn("telegram sender unavailable; alerts disabled", logx.Err(err))
		} else {
			sender = tg
		}
	}
	notif := notifier.New(mapNotifier(cfg), sender, log)
	logs.SetAlertSink(notif)

	core, err := OpenCore(ctx, cfg, log, collab)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logs,
		core:   core,
		driver: scheduler.NewDriver(core.Scheduler, mapDriver(cfg), log),
		notif:  notif,
	}
	api := &httpapi.API{
		Sched: core.Scheduler,
		Store: core.Store,
		Tasks: a.tasks,
		Log:   log.With(logx.String("comp", "httpapi")),
	}
	a.http = httpapi.NewServer(api, mapServer(cfg), log)
	return a, nil
}

// Core exposes the scheduling stack, mainly so embedders can register
// extension handlers before Start.
func (a *App) Core() *Core { return a.core }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) tasks() []supervisor.TaskStatus {
	if a.sup == nil {
		return nil
	}
	return a.sup.Snapshot()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.notif.Start(run)
	a.sup.Go("notifier.dead_letters", func(c context.Context) error {
		a.notif.WatchDeadLetters(c, a.core.Bus)
		return nil
	})

	if err := a.http.Start(); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.driver.Start(run); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("eventbus.log", func(c context.Context) error {
		a.logEvents(c)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", func(c context.Context) error {
		a.reloadLoop(c)
		return nil
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		err := systemd.Watchdog(c, func(c context.Context) bool {
			pctx, cancel := context.WithTimeout(c, 2*time.Second)
			defer cancel()
			return a.core.Store.Ping(pctx) == nil
		})
		if err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
		return nil
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("driver", a.core.Store.Driver()),
		logx.String("http", a.http.Addr()),
	)
	return nil
}

// logEvents mirrors run events at debug level.
func (a *App) logEvents(ctx context.Context) {
	ch, unsub := a.core.Bus.Subscribe(128, eventbus.TypeScheduleRun, eventbus.TypeTick)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", ev.Type)}
			if re, ok := ev.Data.(scheduler.RunEvent); ok {
				fields = append(fields,
					logx.String("id", re.ScheduleID),
					logx.String("status", string(re.Status)),
					logx.Duration("took", re.Duration),
				)
			}
			a.log.Debug("event", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.core.Close()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	a.step(ctx, "http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "driver", 5*time.Second, func(c context.Context) error { a.driver.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.core.Close() })

	if d := a.core.Bus.Dropped(); d > 0 {
		a.log.Debug("event bus dropped events", logx.Uint64("dropped", d))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit and the caller's deadline, so
// a stuck component cannot stall the rest.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
