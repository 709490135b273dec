package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate rejects configurations the process cannot run with.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required for sqlite"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)
	lockTTL, err := ParseDurationField("storage.lock_ttl", c.Storage.LockTTL)
	add(err)

	_, err = ParseDurationField("scheduler.tick", c.Scheduler.Tick)
	add(err)
	actionTimeout, err := ParseDurationField("scheduler.action_timeout", c.Scheduler.ActionTimeout)
	add(err)
	// The lease is renewed between entries, so it must outlast a single action.
	if lockTTL > 0 && actionTimeout > 0 && lockTTL <= actionTimeout {
		add(fmt.Errorf("storage.lock_ttl (%s) must exceed scheduler.action_timeout (%s)", lockTTL, actionTimeout))
	}
	if c.Scheduler.DueLimit < 0 || c.Scheduler.DueLimit > 100 {
		add(fmt.Errorf("scheduler.due_limit must be within [0, 100], got %d", c.Scheduler.DueLimit))
	}

	if c.HTTP.Enabled {
		host, _, err := net.SplitHostPort(httpAddr(c.HTTP))
		if err != nil {
			add(fmt.Errorf("http.addr: %w", err))
		} else if !isLoopback(host) && strings.TrimSpace(c.HTTP.Token) == "" {
			add(errors.New("http.token is required when http.addr is not loopback"))
		}
	}

	if c.Sitemap.URL != "" {
		add(checkURL("sitemap.url", c.Sitemap.URL))
	}
	for i, ep := range c.Sitemap.PingEndpoints {
		add(checkURL(fmt.Sprintf("sitemap.ping_endpoints[%d]", i), strings.ReplaceAll(ep, "{sitemap}", "x")))
	}

	_, err = ParseDurationField("notifier.dedup_window", c.Notifier.DedupWindow)
	add(err)
	if c.Notifier.Telegram.Token != "" && c.Notifier.Telegram.ChatID == 0 {
		add(errors.New("notifier.telegram.chat_id is required when a token is set"))
	}
	return errors.Join(errs...)
}

const DefaultHTTPAddr = "127.0.0.1:8080"

func httpAddr(h HTTPConfig) string {
	if strings.TrimSpace(h.Addr) == "" {
		return DefaultHTTPAddr
	}
	return strings.TrimSpace(h.Addr)
}

// ListenAddr returns the admin API address with the default applied.
func (h HTTPConfig) ListenAddr() string { return httpAddr(h) }

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func checkURL(path, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: must be an http(s) url", path)
	}
	return nil
}
