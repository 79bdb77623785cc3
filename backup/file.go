package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/jacentio/tablelock/store"
)

// DumpFile writes a backup of the schema's table to path. The file is
// replaced atomically, so a failed dump leaves any previous backup intact.
func DumpFile(ctx context.Context, conn store.Connector, s *store.Schema, path string) (int, error) {
	var buf bytes.Buffer
	n, err := Dump(ctx, conn, s, &buf)
	if err != nil {
		return n, err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return n, fmt.Errorf("write backup %s: %w", path, err)
	}
	return n, nil
}

// RestoreFile restores a backup written by DumpFile.
func RestoreFile(ctx context.Context, conn store.Connector, path string, opts RestoreOptions) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return 0, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return Restore(ctx, conn, f, opts)
}

// ReadFileHeader returns the header of a backup file without restoring it.
func ReadFileHeader(path string) (Header, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return Header{}, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return NewReader(f).ReadHeader()
}
