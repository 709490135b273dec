package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "pewcms/pkg/logx"
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is the schedule persistence layer shared by the scheduler, the
// admin API and the CLI.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
	prefix  string
	lockTTL time.Duration

	// holder identifies this process in lock rows.
	holder string

	lockMu   sync.Mutex
	lockConn *sql.Conn // postgres only: session that owns the advisory lock
	lockHeld bool

	now func() time.Time
}

// Open connects to the configured database and runs the idempotent schema
// bootstrap once. Callers own the returned Store and must Close it.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("storage: invalid table prefix %q", prefix)
	}

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		db, err = openSQLite(cfg)
		d = sqliteDialect
	case "postgres", "postgresql", "pgx":
		db, err = openPostgres(ctx, cfg)
		d = postgresDialect
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	s := &Store{
		db:      db,
		dialect: d,
		log:     log,
		prefix:  prefix,
		lockTTL: ttl,
		holder:  uuid.NewString(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("storage opened", logx.String("driver", d.name), logx.String("prefix", prefix))
	return s, nil
}

// Driver reports the active dialect name.
func (s *Store) Driver() string { return s.dialect.name }

// TickLockName is the advisory lock key shared by every scheduler process of
// this deployment.
func (s *Store) TickLockName() string { return s.prefix + tickLockSuffix }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.lockMu.Lock()
	if s.lockConn != nil {
		_ = s.lockConn.Close()
		s.lockConn = nil
		s.lockHeld = false
	}
	s.lockMu.Unlock()
	return s.db.Close()
}

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) table(name string) string { return s.prefix + name }

// q expands {{prefix}} and rebinds placeholders for the active dialect.
func (s *Store) q(query string) string {
	return s.dialect.rebind(strings.ReplaceAll(query, "{{prefix}}", s.prefix))
}
