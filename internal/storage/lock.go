package storage

import (
	"context"
	"fmt"

	logx "pewcms/pkg/logx"
)

// TryLock takes the tick lock without blocking. It reports false when any
// holder, this Store included, already has it.
func (s *Store) TryLock(ctx context.Context) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.lockHeld {
		return false, nil
	}

	var (
		ok  bool
		err error
	)
	switch s.dialect.name {
	case postgresDialect.name:
		ok, err = s.tryAdvisoryLock(ctx)
	default:
		ok, err = s.tryLeaseLock(ctx)
	}
	if err != nil {
		return false, err
	}
	s.lockHeld = ok
	if ok {
		s.log.Trace("tick lock acquired", logx.String("name", s.TickLockName()))
	}
	return ok, nil
}

// Unlock releases the tick lock. Releasing a lock this Store does not hold
// returns ErrLockNotHeld.
func (s *Store) Unlock(ctx context.Context) error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if !s.lockHeld {
		return ErrLockNotHeld
	}
	s.lockHeld = false

	var err error
	switch s.dialect.name {
	case postgresDialect.name:
		err = s.releaseAdvisoryLock(ctx)
	default:
		err = s.releaseLeaseLock(ctx)
	}
	if err == nil {
		s.log.Trace("tick lock released", logx.String("name", s.TickLockName()))
	}
	return err
}

// RenewLock extends the tick lock held by this Store. It reports false when
// the lock is no longer ours: the lease expired and was taken over, or the
// advisory lock session was lost.
func (s *Store) RenewLock(ctx context.Context) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if !s.lockHeld {
		return false, nil
	}

	var (
		ok  bool
		err error
	)
	switch s.dialect.name {
	case postgresDialect.name:
		ok, err = s.checkAdvisoryLock(ctx)
	default:
		ok, err = s.renewLeaseLock(ctx)
	}
	if err != nil {
		return false, err
	}
	if !ok {
		s.lockHeld = false
		s.log.Warn("tick lock lost", logx.String("name", s.TickLockName()))
	}
	return ok, nil
}

// tryLeaseLock claims the lease row unless a live lease belongs to someone
// else. Expired leases from crashed holders are taken over.
func (s *Store) tryLeaseLock(ctx context.Context) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO {{prefix}}locks (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE {{prefix}}locks.expires_at < ?`),
		s.TickLockName(), s.holder, millis(now.Add(s.lockTTL)), millis(now),
	)
	if err != nil {
		return false, fmt.Errorf("storage: acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: acquire lease: %w", err)
	}
	return n > 0, nil
}

func (s *Store) renewLeaseLock(ctx context.Context) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE {{prefix}}locks SET expires_at = ?
		WHERE name = ? AND holder = ?`),
		millis(now.Add(s.lockTTL)), s.TickLockName(), s.holder,
	)
	if err != nil {
		return false, fmt.Errorf("storage: renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: renew lease: %w", err)
	}
	return n > 0, nil
}

func (s *Store) releaseLeaseLock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM {{prefix}}locks WHERE name = ? AND holder = ?`),
		s.TickLockName(), s.holder)
	if err != nil {
		return fmt.Errorf("storage: release lease: %w", err)
	}
	return nil
}

// Advisory locks belong to a session, so the connection is pinned for as
// long as the lock is held.
func (s *Store) tryAdvisoryLock(ctx context.Context) (bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: lock conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, s.TickLockName()).Scan(&ok); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("storage: advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return false, nil
	}
	s.lockConn = conn
	return true, nil
}

// The advisory lock lives as long as the pinned session.
func (s *Store) checkAdvisoryLock(ctx context.Context) (bool, error) {
	if s.lockConn == nil {
		return false, nil
	}
	if err := s.lockConn.PingContext(ctx); err != nil {
		_ = s.lockConn.Close()
		s.lockConn = nil
		return false, nil
	}
	return true, nil
}

func (s *Store) releaseAdvisoryLock(ctx context.Context) error {
	conn := s.lockConn
	s.lockConn = nil
	if conn == nil {
		return nil
	}
	defer conn.Close()
	var released bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, s.TickLockName()).Scan(&released); err != nil {
		return fmt.Errorf("storage: advisory unlock: %w", err)
	}
	if !released {
		s.log.Warn("advisory lock was not held at release", logx.String("name", s.TickLockName()))
	}
	return nil
}
