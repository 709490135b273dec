package storage

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate applies the schema for the active dialect. Every statement is
// idempotent, so running it on each start is safe.
func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.dialect.migrations)
	if err != nil {
		return fmt.Errorf("storage: read migrations: %w", err)
	}
	script := strings.ReplaceAll(string(b), "{{prefix}}", s.prefix)
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}
