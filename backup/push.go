package backup

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jacentio/tablelock/store"
)

// Push dumps the schema's table and archives the result.
func Push(ctx context.Context, conn store.Connector, s *store.Schema, a *Archive) (Snapshot, error) {
	var buf bytes.Buffer
	n, err := Dump(ctx, conn, s, &buf)
	if err != nil {
		return Snapshot{}, err
	}
	return a.Put(ctx, s.Table, n, buf.Bytes())
}

// Pull restores snap into its table. Options are passed to Restore.
func Pull(ctx context.Context, conn store.Connector, a *Archive, snap Snapshot, opts RestoreOptions) (int, error) {
	data, err := a.Fetch(ctx, snap)
	if err != nil {
		return 0, err
	}
	n, err := Restore(ctx, conn, bytes.NewReader(data), opts)
	if err != nil {
		return n, err
	}
	if n != snap.Rows {
		return n, fmt.Errorf("pull %s: restored %d rows, manifest says %d: %w", snap.ID, n, snap.Rows, ErrRowCountChanged)
	}
	return n, nil
}
