package store

import (
	"context"
	"strings"
)

// Connector is the relational connection the store runs on. The store never
// opens or closes it; callers own its lifecycle.
//
// SQL templates handed to Statement use '?' placeholders. Implementations rebind
// them to whatever the driver expects.
type Connector interface {
	// Statement returns a parameterized statement for the given SQL template.
	Statement(query string) Statement

	// Tables lists the tables that currently exist. A cached list may be
	// returned unless refresh is set.
	Tables(ctx context.Context, refresh bool) ([]string, error)

	// Dialect returns the column type mapping used for schema creation.
	Dialect() Dialect

	// Close releases the connection.
	Close() error
}

// Statement is a parameterized SQL statement bound to a Connector.
type Statement interface {
	// Exec runs the statement once and returns the number of affected rows.
	Exec(ctx context.Context, args ...any) (int64, error)

	// Query runs the statement and returns a cursor over the result.
	Query(ctx context.Context, args ...any) (Rows, error)

	// ExecBatch runs the statement once per argument list and returns the
	// total number of affected rows.
	ExecBatch(ctx context.Context, batch [][]any) (int64, error)
}

// Rows is a forward-only result cursor. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Dialect maps column types to SQL type names.
type Dialect interface {
	// TypeName returns the SQL type for a column of type t.
	TypeName(t ColumnType) string

	// AutoKeyType returns the SQL type for an integer primary key whose
	// values are generated by the database.
	AutoKeyType(t ColumnType) string
}

// HasTable reports whether name is among the connector's tables.
// Names are compared case-insensitively since unquoted identifiers fold.
func HasTable(ctx context.Context, conn Connector, name string, refresh bool) (bool, error) {
	tables, err := conn.Tables(ctx, refresh)
	if err != nil {
		return false, connectorError("list tables", err)
	}
	for _, t := range tables {
		if strings.EqualFold(t, name) {
			return true, nil
		}
	}
	return false, nil
}
