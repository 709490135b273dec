package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known settings keys.
const (
	SettingSchedulesEnabled = "schedules_enabled"
	SettingPingSitemap      = "schedules_ping_sitemap"
)

// GetString returns the stored value, or def when the key is absent.
func (s *Store) GetString(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM {{prefix}}settings WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("storage: get setting %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO {{prefix}}settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	if err != nil {
		return fmt.Errorf("storage: set setting %s: %w", key, err)
	}
	return nil
}

// GetBool parses "1/true/yes/on" as true and "0/false/no/off" as false.
// Anything else, or a missing key, yields def.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	raw, err := s.GetString(ctx, key, "")
	if err != nil {
		return def, err
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return def, nil
}

func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(v))
}

// EnsureDefault writes value only when key has never been set, so operator
// changes survive restarts.
func (s *Store) EnsureDefault(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO {{prefix}}settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO NOTHING`), key, value)
	if err != nil {
		return fmt.Errorf("storage: seed setting %s: %w", key, err)
	}
	return nil
}
