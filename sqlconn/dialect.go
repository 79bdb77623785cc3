package sqlconn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jacentio/tablelock/store"
)

// Dialect describes the SQL differences between supported databases.
type Dialect struct {
	// Name is the dialect name used in configuration.
	Name string

	// Driver is the database/sql driver name.
	Driver string

	types       map[store.ColumnType]string
	autoKeys    map[store.ColumnType]string
	tablesQuery string
	numbered    bool
	maxConns    int
}

var (
	// SQLite runs on modernc.org/sqlite. It allows a single open connection
	// per process since SQLite serializes writers anyway.
	SQLite = &Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		types: map[store.ColumnType]string{
			store.ColumnBool:    "BOOLEAN",
			store.ColumnInt32:   "INTEGER",
			store.ColumnInt64:   "INTEGER",
			store.ColumnDecimal: "NUMERIC",
			store.ColumnText:    "TEXT",
			store.ColumnBytes:   "BLOB",
			store.ColumnDate:    "DATE",
		},
		// INTEGER PRIMARY KEY aliases the rowid, which SQLite assigns.
		autoKeys: map[store.ColumnType]string{
			store.ColumnInt32: "INTEGER",
			store.ColumnInt64: "INTEGER",
		},
		tablesQuery: "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name",
		maxConns:    1,
	}

	// Postgres runs on github.com/jackc/pgx/v5/stdlib.
	Postgres = &Dialect{
		Name:   "postgres",
		Driver: "pgx",
		types: map[store.ColumnType]string{
			store.ColumnBool:    "BOOLEAN",
			store.ColumnInt32:   "INTEGER",
			store.ColumnInt64:   "BIGINT",
			store.ColumnDecimal: "NUMERIC(19, 4)",
			store.ColumnText:    "TEXT",
			store.ColumnBytes:   "BYTEA",
			store.ColumnDate:    "DATE",
		},
		autoKeys: map[store.ColumnType]string{
			store.ColumnInt32: "SERIAL",
			store.ColumnInt64: "BIGSERIAL",
		},
		tablesQuery: "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name",
		numbered:    true,
	}
)

// DialectByName returns the dialect for a configuration name.
func DialectByName(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return nil, fmt.Errorf("unknown database dialect %q", name)
	}
}

// TypeName implements store.Dialect.
func (d *Dialect) TypeName(t store.ColumnType) string {
	if name, ok := d.types[t]; ok {
		return name
	}
	return "TEXT"
}

// AutoKeyType implements store.Dialect.
func (d *Dialect) AutoKeyType(t store.ColumnType) string {
	if name, ok := d.autoKeys[t]; ok {
		return name
	}
	return d.TypeName(t)
}

// Rebind rewrites '?' placeholders into the dialect's form.
func (d *Dialect) Rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
