// Package backup streams whole tables to and from a self-describing binary
// format, and keeps snapshots in DynamoDB.
//
// The codec does not take part in row locking. Callers restoring into a live
// table should hold its table-wide lock (store.Table.LockAll) around Restore
// and release it with UnlockAll, which rebuilds the auxiliary table from the
// restored keys.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jacentio/tablelock/store"
)

// Dump writes every row of the schema's table to w, ordered by key, and
// returns the number of rows written. A table that changes size while it is
// read yields ErrRowCountChanged.
func Dump(ctx context.Context, conn store.Connector, s *store.Schema, w io.Writer) (int, error) {
	cols := s.AllColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	total, err := count(ctx, conn, s.Table)
	if err != nil {
		return 0, fmt.Errorf("dump %s: %w: %w", s.Table, store.ErrConnector, err)
	}

	bw := NewWriter(w)
	if err := bw.WriteHeader(HeaderFor(s, total)); err != nil {
		return 0, fmt.Errorf("dump %s: %w", s.Table, err)
	}

	query := "SELECT " + strings.Join(names, ", ") + " FROM " + s.Table + " ORDER BY " + s.Key.Name
	rows, err := conn.Statement(query).Query(ctx)
	if err != nil {
		return 0, fmt.Errorf("dump %s: %w: %w", s.Table, store.ErrConnector, err)
	}
	defer rows.Close()

	written := 0
	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return written, fmt.Errorf("dump %s: %w: %w", s.Table, store.ErrConnector, err)
		}
		if written == total {
			return written, fmt.Errorf("dump %s: %w", s.Table, ErrRowCountChanged)
		}
		if err := bw.WriteRow(values); err != nil {
			return written, fmt.Errorf("dump %s: %w", s.Table, err)
		}
		written++
	}
	if err := rows.Err(); err != nil {
		return written, fmt.Errorf("dump %s: %w: %w", s.Table, store.ErrConnector, err)
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("dump %s: %w", s.Table, err)
	}
	return written, nil
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// Table overrides the table recorded in the backup.
	Table string

	// Schema, when set, must match the backup's columns by name and type.
	Schema *store.Schema

	// BatchSize is the number of rows inserted per batch.
	// Default: 500
	BatchSize int

	// Logger receives progress messages.
	// Default: slog.Default()
	Logger *slog.Logger
}

func (o *RestoreOptions) validate() {
	if o.BatchSize < 1 {
		o.BatchSize = 500
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Restore replaces the contents of the target table with the rows read from
// r and returns how many were inserted. The table must already exist. Rows
// are removed with DELETE FROM before inserting, and the two steps are not
// atomic.
func Restore(ctx context.Context, conn store.Connector, r io.Reader, opts RestoreOptions) (int, error) {
	opts.validate()
	br := NewReader(r)
	h, err := br.ReadHeader()
	if err != nil {
		return 0, err
	}
	target := h.Table
	if opts.Table != "" {
		target = opts.Table
	}
	if opts.Schema != nil {
		if err := checkColumns(opts.Schema.AllColumns(), h.Columns); err != nil {
			return 0, fmt.Errorf("restore %s: %w", target, err)
		}
	}

	ok, err := store.HasTable(ctx, conn, target, true)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("restore %s: %w", target, ErrTableMissing)
	}

	if _, err := conn.Statement("DELETE FROM " + target).Exec(ctx); err != nil {
		return 0, fmt.Errorf("restore %s: %w: %w", target, store.ErrConnector, err)
	}

	names := make([]string, len(h.Columns))
	for i, c := range h.Columns {
		names[i] = c.Name
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := conn.Statement("INSERT INTO " + target + " (" + strings.Join(names, ", ") + ") VALUES (" + marks + ")")

	inserted := 0
	batch := make([][]any, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := stmt.ExecBatch(ctx, batch); err != nil {
			return fmt.Errorf("restore %s: %w: %w", target, store.ErrConnector, err)
		}
		inserted += len(batch)
		batch = batch[:0]
		return nil
	}
	for {
		cells, err := br.ReadRow()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return inserted, fmt.Errorf("restore %s: %w", target, err)
		}
		args := make([]any, len(cells))
		for i, v := range cells {
			args[i] = sqlArg(v)
		}
		batch = append(batch, args)
		if len(batch) == opts.BatchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	opts.Logger.Info("table restored", "table", target, "rows", inserted)
	return inserted, nil
}

func checkColumns(want, got []store.Column) error {
	if len(want) != len(got) {
		return fmt.Errorf("%w: %d columns, want %d", ErrSchemaMismatch, len(got), len(want))
	}
	for i := range want {
		if !strings.EqualFold(want[i].Name, got[i].Name) || want[i].Type != got[i].Type {
			return fmt.Errorf("%w: column %d is %s %s, want %s %s",
				ErrSchemaMismatch, i, got[i].Name, got[i].Type, want[i].Name, want[i].Type)
		}
	}
	return nil
}

func count(ctx context.Context, conn store.Connector, table string) (int, error) {
	rows, err := conn.Statement("SELECT COUNT(*) FROM " + table).Query(ctx)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return int(n), rows.Err()
}
