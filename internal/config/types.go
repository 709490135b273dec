package config

// Config is the process configuration, read from JSON or YAML.
//
// Durations are Go duration strings ("30s", "1m"). ${VAR} references are
// expanded from the environment before parsing so secrets can stay out of
// the file.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
	Sitemap   SitemapConfig   `json:"sitemap"`
	Notifier  NotifierConfig  `json:"notifier"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards log lines at or above MinLevel to the notifier.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pewcms.db" }
//	"storage": { "driver": "postgres", "dsn": "${PEWCMS_DSN}" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	TablePrefix string `json:"table_prefix,omitempty"`
	LockTTL     string `json:"lock_ttl,omitempty"` // sqlite lease lifetime
}

// SchedulerConfig controls the periodic tick.
//
// Enabled seeds the schedules_enabled setting the first time the database is
// opened; later changes go through the setting itself. Lock defaults to true.
type SchedulerConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Tick          string `json:"tick,omitempty"`
	DueLimit      int    `json:"due_limit,omitempty"`
	ActionTimeout string `json:"action_timeout,omitempty"`
	Lock          *bool  `json:"lock,omitempty"`
}

// HTTPConfig controls the admin API. Token is required when the listener is
// not loopback.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"` // mounts /debug/pprof behind the token
}

type SitemapConfig struct {
	URL           string   `json:"url,omitempty"`
	PingEndpoints []string `json:"ping_endpoints,omitempty"`
}

type NotifierConfig struct {
	Telegram    TelegramConfig `json:"telegram"`
	RatePerSec  int            `json:"rate_per_sec,omitempty"`
	RetryMax    int            `json:"retry_max,omitempty"`
	DedupWindow string         `json:"dedup_window,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// Enabled reports whether alerts can be delivered at all.
func (n NotifierConfig) Enabled() bool {
	return n.Telegram.Token != "" && n.Telegram.ChatID != 0
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// SchedulesEnabled is the bootstrap value for the enable flag.
func (s SchedulerConfig) SchedulesEnabled() bool { return boolOr(s.Enabled, true) }

// Locked reports whether periodic ticks take the tick lock.
func (s SchedulerConfig) Locked() bool { return boolOr(s.Lock, true) }
