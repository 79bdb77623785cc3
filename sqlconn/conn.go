// Package sqlconn implements store.Connector on top of database/sql.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	// Registered drivers: "sqlite" and "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/jacentio/tablelock/store"
)

// Conn is a store.Connector over a *sql.DB.
type Conn struct {
	db      *sql.DB
	dialect *Dialect
	logger  *slog.Logger

	mu     sync.Mutex
	tables []string
	listed bool
}

var _ store.Connector = (*Conn)(nil)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dialect *Dialect, dsn string, logger *slog.Logger) (*Conn, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	if dialect.maxConns > 0 {
		db.SetMaxOpenConns(dialect.maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	return New(db, dialect, logger), nil
}

// New wraps an already opened database.
func New(db *sql.DB, dialect *Dialect, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// SQLiteDSN returns a modernc.org/sqlite DSN for a database file with a busy
// timeout, so that separate processes wait for each other's writes instead of
// failing, and foreign keys enforced.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// DB returns the underlying database handle.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Statement implements store.Connector.
func (c *Conn) Statement(query string) store.Statement {
	return &statement{conn: c, query: c.dialect.Rebind(query)}
}

// Dialect implements store.Connector.
func (c *Conn) Dialect() store.Dialect {
	return c.dialect
}

// Tables implements store.Connector. The list is cached until refresh is set.
func (c *Conn) Tables(ctx context.Context, refresh bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listed && !refresh {
		return c.tables, nil
	}
	rows, err := c.db.QueryContext(ctx, c.dialect.tablesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.tables, c.listed = tables, true
	return tables, nil
}

// Close implements store.Connector.
func (c *Conn) Close() error {
	return c.db.Close()
}

type statement struct {
	conn  *Conn
	query string
}

func (s *statement) Exec(ctx context.Context, args ...any) (int64, error) {
	res, err := s.conn.db.ExecContext(ctx, s.query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *statement) Query(ctx context.Context, args ...any) (store.Rows, error) {
	rows, err := s.conn.db.QueryContext(ctx, s.query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecBatch runs every argument list through one prepared statement inside a
// single transaction. Nothing is applied if any execution fails.
func (s *statement) ExecBatch(ctx context.Context, batch [][]any) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var total int64
	for _, args := range batch {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.conn.logger.Debug("batch executed", "statements", len(batch), "rows", total)
	return total, nil
}
