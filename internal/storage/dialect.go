package storage

import (
	"strconv"
	"strings"
)

type dialect struct {
	name       string
	migrations string
	// positional rewrites "?" placeholders into "$1", "$2", ...
	positional bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", migrations: "migrations/sqlite.sql"}
	postgresDialect = dialect{name: "postgres", migrations: "migrations/postgres.sql", positional: true}
)

func (d dialect) rebind(query string) string {
	if !d.positional || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
