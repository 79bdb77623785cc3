package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// The row primitives below back Record when an entity does not provide its
// own. They only use the Connector.

func insertRow[K Key](ctx context.Context, conn Connector, e Entity[K]) error {
	if ins, ok := e.(Inserter); ok {
		return ins.InsertRow(ctx, conn)
	}
	s := e.Schema()
	if !keySet(e.Key()) && !s.AutoKey {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		k, ok := stringKey[K](id.String())
		if !ok {
			return fmt.Errorf("insert %s: key is unset and %s has no AutoKey", s.Table, s.Key.Name)
		}
		e.SetKey(k)
	}

	if keySet(e.Key()) {
		args := append([]any{keyArg(e.Key())}, e.Values()...)
		_, err := conn.Statement(insertSQL(s, true)).Exec(ctx, args...)
		return connectorError("insert "+s.Table, err)
	}

	rows, err := conn.Statement(insertSQL(s, false)).Query(ctx, e.Values()...)
	if err != nil {
		return connectorError("insert "+s.Table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return connectorError("insert "+s.Table, err)
		}
		return connectorError("insert "+s.Table, fmt.Errorf("no generated key returned"))
	}
	var k K
	if err := rows.Scan(&k); err != nil {
		return connectorError("insert "+s.Table, err)
	}
	e.SetKey(k)
	return connectorError("insert "+s.Table, rows.Err())
}

func updateRow[K Key](ctx context.Context, conn Connector, e Entity[K]) error {
	if up, ok := e.(Updater); ok {
		return up.UpdateRow(ctx, conn)
	}
	s := e.Schema()
	if len(s.Columns) == 0 {
		return nil
	}
	args := append(append([]any{}, e.Values()...), keyArg(e.Key()))
	n, err := conn.Statement(updateSQL(s)).Exec(ctx, args...)
	if err != nil {
		return connectorError("update "+s.Table, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s %v: %w", s.Table, e.Key(), ErrRowMissing)
	}
	return nil
}

// selectRow reads the row into the entity and reports whether it was found.
func selectRow[K Key](ctx context.Context, conn Connector, e Entity[K]) (bool, error) {
	if sel, ok := e.(Selecter); ok {
		return sel.SelectRow(ctx, conn)
	}
	s := e.Schema()
	rows, err := conn.Statement(selectByKeySQL(s)).Query(ctx, keyArg(e.Key()))
	if err != nil {
		return false, connectorError("select "+s.Table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return false, connectorError("select "+s.Table, rows.Err())
	}
	dest := e.Dest()
	if len(s.Columns) == 0 {
		dest = []any{new(any)}
	}
	if err := rows.Scan(dest...); err != nil {
		return false, connectorError("select "+s.Table, err)
	}
	return true, connectorError("select "+s.Table, rows.Err())
}

func deleteRow[K Key](ctx context.Context, conn Connector, e Entity[K]) error {
	if del, ok := e.(Deleter); ok {
		return del.DeleteRow(ctx, conn)
	}
	s := e.Schema()
	n, err := conn.Statement(deleteByKeySQL(s.Table, s.Key.Name)).Exec(ctx, keyArg(e.Key()))
	if err != nil {
		return connectorError("delete "+s.Table, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %v: %w", s.Table, e.Key(), ErrRowMissing)
	}
	return nil
}

func rowExists[K Key](ctx context.Context, conn Connector, e Entity[K]) (bool, error) {
	if ec, ok := e.(ExistenceChecker); ok {
		return ec.RowExists(ctx, conn)
	}
	s := e.Schema()
	n, err := queryCount(ctx, conn, countByKeySQL(s), keyArg(e.Key()))
	if err != nil {
		return false, connectorError("exists "+s.Table, err)
	}
	return n > 0, nil
}

// queryCount runs a single-value COUNT query.
func queryCount(ctx context.Context, conn Connector, query string, args ...any) (int64, error) {
	rows, err := conn.Statement(query).Query(ctx, args...)
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
	return n, rows.Err()
}
