package config

import (
	"slices"
	"strings"

	"pewcms/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// and returns log fields describing the new values. Secrets (tokens, DSNs)
// are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)
	mark := func(section string, fs ...logx.Field) {
		changed = append(changed, section)
		fields = append(fields, fs...)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
			logx.String("storage.table_prefix", newCfg.Storage.TablePrefix),
		)
	}

	prev, next := oldCfg.Scheduler, newCfg.Scheduler
	if prev.SchedulesEnabled() != next.SchedulesEnabled() || prev.Locked() != next.Locked() ||
		prev.TickEvery() != next.TickEvery() || prev.DueLimit != next.DueLimit ||
		strings.TrimSpace(prev.ActionTimeout) != strings.TrimSpace(next.ActionTimeout) {
		mark("scheduler",
			logx.Duration("scheduler.tick", next.TickEvery()),
			logx.Int("scheduler.due_limit", next.DueLimit),
			logx.String("scheduler.action_timeout", next.ActionTimeout),
			logx.Bool("scheduler.lock", next.Locked()),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		mark("http",
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.ListenAddr()),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}

	if oldCfg.Sitemap.URL != newCfg.Sitemap.URL ||
		!slices.Equal(oldCfg.Sitemap.PingEndpoints, newCfg.Sitemap.PingEndpoints) {
		mark("sitemap",
			logx.String("sitemap.url", newCfg.Sitemap.URL),
			logx.Int("sitemap.endpoints", len(newCfg.Sitemap.PingEndpoints)),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier",
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled()),
			logx.Int64("notifier.chat_id", newCfg.Notifier.Telegram.ChatID),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}
	return changed, fields
}

// RestartRequired reports changes that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.HTTP != newCfg.HTTP {
		out = append(out, "http")
	}
	if oldCfg.Notifier.Telegram.Token != newCfg.Notifier.Telegram.Token {
		out = append(out, "notifier.telegram.token")
	}
	return out
}
