package app

import (
	"strings"
	"time"

	"pewcms/internal/config"
	"pewcms/internal/dispatch"
	"pewcms/internal/httpapi"
	"pewcms/internal/notifier"
	"pewcms/internal/scheduler"
	"pewcms/internal/storage"
	"pewcms/pkg/logx"
)

// The map* helpers assume cfg already passed config.Validate.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	switch driver {
	case "postgresql", "pgx":
		driver = "postgres"
	case "sqlite3", "":
		driver = "sqlite"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(s.Path),
		DSN:         strings.TrimSpace(s.DSN),
		BusyTimeout: s.BusyTimeoutOr(0),
		TablePrefix: strings.TrimSpace(s.TablePrefix),
		LockTTL:     s.LockTTLOr(storage.DefaultLockTTL),
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.SchedulesEnabled(),
		DueLimit: cfg.Scheduler.DueLimit,
	}
}

func mapDriver(cfg *config.Config) scheduler.DriverConfig {
	return scheduler.DriverConfig{
		Every:  cfg.Scheduler.TickEvery(),
		Locked: cfg.Scheduler.Locked(),
	}
}

func mapActionTimeout(cfg *config.Config) time.Duration {
	return cfg.Scheduler.ActionTimeoutOr(dispatch.DefaultActionTimeout)
}

func mapSitemap(cfg *config.Config) dispatch.SitemapConfig {
	return dispatch.SitemapConfig{
		URL:           strings.TrimSpace(cfg.Sitemap.URL),
		PingEndpoints: append([]string(nil), cfg.Sitemap.PingEndpoints...),
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:     n.Enabled(),
		ChatID:      n.Telegram.ChatID,
		ThreadID:    n.Telegram.ThreadID,
		RatePerSec:  n.RatePerSec,
		RetryMax:    n.RetryMax,
		DedupWindow: n.DedupWindowOr(time.Minute),
	}
}

func mapServer(cfg *config.Config) httpapi.ServerConfig {
	return httpapi.ServerConfig{
		Enabled: cfg.HTTP.Enabled,
		Addr:    cfg.HTTP.ListenAddr(),
		Token:   strings.TrimSpace(cfg.HTTP.Token),
		Pprof:   cfg.HTTP.Pprof,
	}
}
