package storage

import (
	"errors"
	"time"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrLockNotHeld   = errors.New("tick lock not held")
)

const (
	DefaultTablePrefix = "cms_"
	DefaultLockTTL     = 10 * time.Minute
	tickLockSuffix     = "schedules_tick"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): Path is the database file
//   - "postgres": DSN is a pgx connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
	TablePrefix string

	// LockTTL bounds how long a sqlite lease survives a crashed holder.
	// Postgres advisory locks are released with the session instead.
	LockTTL time.Duration
}
