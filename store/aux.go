package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// auxTable is the shadow table holding the keys of rows nobody has locked.
// Deleting a key is the lock; inserting it back is the unlock.
type auxTable struct {
	conn   Connector
	schema *Schema
	name   string
	batch  int
	logger *slog.Logger

	// tableLocked is set while this process holds the table-wide lock. Rows
	// inserted meanwhile stay out of the auxiliary table until UnlockAll.
	tableLocked atomic.Bool
}

// take removes key from the auxiliary table and reports whether it was there.
// A single-row delete is atomic in the storage engine, so at most one caller
// across all processes sees true.
func (a *auxTable) take(ctx context.Context, key any) (bool, error) {
	n, err := a.conn.Statement(deleteByKeySQL(a.name, a.schema.Key.Name)).Exec(ctx, key)
	if err != nil {
		return false, connectorError("lock "+a.schema.Table, err)
	}
	return n > 0, nil
}

// give puts key back into the auxiliary table.
func (a *auxTable) give(ctx context.Context, key any) error {
	_, err := a.conn.Statement(insertKeySQL(a.name, a.schema.Key.Name)).Exec(ctx, key)
	return connectorError("unlock "+a.schema.Table, err)
}

// counts returns the row counts of the main and auxiliary tables.
func (a *auxTable) counts(ctx context.Context) (main, aux int64, err error) {
	main, err = queryCount(ctx, a.conn, countSQL(a.schema.Table))
	if err != nil {
		return 0, 0, connectorError("count "+a.schema.Table, err)
	}
	aux, err = queryCount(ctx, a.conn, countSQL(a.name))
	if err != nil {
		return 0, 0, connectorError("count "+a.name, err)
	}
	return main, aux, nil
}

// truncate empties the auxiliary table in one statement.
func (a *auxTable) truncate(ctx context.Context) (int64, error) {
	n, err := a.conn.Statement(truncateSQL(a.name)).Exec(ctx)
	return n, connectorError("truncate "+a.name, err)
}

// fill inserts every key present in the main table but missing from the
// auxiliary table and returns how many were added.
func fill[K Key](ctx context.Context, a *auxTable) (int, error) {
	mainKeys, err := scanKeys[K](ctx, a.conn, selectKeysSQL(a.schema.Table, a.schema.Key.Name, ""))
	if err != nil {
		return 0, connectorError("list keys "+a.schema.Table, err)
	}
	auxKeys, err := scanKeys[K](ctx, a.conn, selectKeysSQL(a.name, a.schema.Key.Name, ""))
	if err != nil {
		return 0, connectorError("list keys "+a.name, err)
	}

	missing := missingKeys(mainKeys, auxKeys)
	stmt := a.conn.Statement(insertKeySQL(a.name, a.schema.Key.Name))
	added := 0
	for start := 0; start < len(missing); start += a.batch {
		end := min(start+a.batch, len(missing))
		batch := make([][]any, 0, end-start)
		for _, k := range missing[start:end] {
			batch = append(batch, []any{keyArg(k)})
		}
		if _, err := stmt.ExecBatch(ctx, batch); err != nil {
			return added, connectorError(fmt.Sprintf("fill %s", a.name), err)
		}
		added += len(batch)
	}
	return added, nil
}

// missingKeys returns the keys of have that are absent from got, in the
// order of have.
func missingKeys[K comparable](have, got []K) []K {
	present := make(map[K]struct{}, len(got))
	for _, k := range got {
		present[k] = struct{}{}
	}
	var missing []K
	for _, k := range have {
		if _, ok := present[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func scanKeys[K Key](ctx context.Context, conn Connector, query string, args ...any) ([]K, error) {
	rows, err := conn.Statement(query).Query(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []K
	for rows.Next() {
		var k K
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
