package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative duration. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationOr is for values that already passed Validate.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (s SchedulerConfig) TickEvery() time.Duration { return durationOr(s.Tick, time.Minute) }

func (s SchedulerConfig) ActionTimeoutOr(def time.Duration) time.Duration {
	return durationOr(s.ActionTimeout, def)
}

func (s StorageConfig) BusyTimeoutOr(def time.Duration) time.Duration {
	return durationOr(s.BusyTimeout, def)
}

func (s StorageConfig) LockTTLOr(def time.Duration) time.Duration {
	return durationOr(s.LockTTL, def)
}

func (n NotifierConfig) DedupWindowOr(def time.Duration) time.Duration {
	return durationOr(n.DedupWindow, def)
}
