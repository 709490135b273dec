package app

import (
	"context"
	"strings"
	"time"

	"pewcms/internal/config"
	"pewcms/pkg/logx"
)

// reloadLoop applies configs published by the watcher until ctx ends.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			next = latest(sub, next)
			a.applyConfig(ctx, applied, next)
			applied = next
		}
	}
}

// latest drains queued configs and keeps the newest.
func latest(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case c, ok := <-ch:
			if !ok || c == nil {
				return cur
			}
			cur = c
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(next))
	a.core.Apply(next)
	if err := a.driver.Apply(mapDriver(next)); err != nil {
		a.log.Error("driver reconfigure failed", logx.Err(err))
	}

	wasOn := a.notif.Enabled()
	a.notif.Apply(mapNotifier(next))
	switch on := a.notif.Enabled(); {
	case on && !wasOn:
		a.notif.Start(a.sup.Context())
	case !on && wasOn:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	}

	httpCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.http.Reconfigure(httpCtx, mapServer(next)); err != nil {
		a.log.Error("http api reconfigure failed", logx.Err(err))
	}
	cancel()

	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}
