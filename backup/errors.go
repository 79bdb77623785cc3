package backup

import "errors"

var (
	// ErrBadFormat is returned when a backup stream is malformed.
	ErrBadFormat = errors.New("tablelock: malformed backup")

	// ErrTableMissing is returned when restoring into a table that does not exist.
	ErrTableMissing = errors.New("tablelock: restore target table missing")

	// ErrRowCountChanged is returned when a table changed size while it was dumped.
	ErrRowCountChanged = errors.New("tablelock: row count changed during backup")

	// ErrSchemaMismatch is returned when a backup does not fit the expected schema.
	ErrSchemaMismatch = errors.New("tablelock: backup schema mismatch")

	// ErrSnapshotNotFound is returned when the archive has no matching snapshot.
	ErrSnapshotNotFound = errors.New("tablelock: snapshot not found")

	// ErrSnapshotExists is returned when a snapshot item is already present.
	ErrSnapshotExists = errors.New("tablelock: snapshot already exists")

	// ErrChecksumMismatch is returned when reassembled snapshot data is corrupt.
	ErrChecksumMismatch = errors.New("tablelock: snapshot checksum mismatch")
)
