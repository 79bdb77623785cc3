package store

import "context"

// Key is the set of supported primary key types.
type Key interface {
	~int32 | ~int64 | ~string
}

// Entity is the base interface for all storable row types.
type Entity[K Key] interface {
	// Schema returns the table description for this entity type.
	// All entities of one type must return the same *Schema.
	Schema() *Schema

	// Key returns the primary key, or the zero value when unset. The zero
	// value always means unset, so a row stored under key 0 or "" cannot be
	// locked and is skipped by bulk loads.
	Key() K

	// SetKey assigns the primary key.
	SetKey(K)

	// Values returns the non-key column values in Schema.Columns order.
	Values() []any

	// Dest returns scan destinations for the non-key columns in
	// Schema.Columns order.
	Dest() []any
}

// The following interfaces let an entity replace the generic row primitives.
// Implementations must only talk to the Connector; calling back into
// Record or Table would re-enter their locks.

// Inserter is implemented by entities with a custom insert. It must assign
// the key when it was unset.
type Inserter interface {
	InsertRow(ctx context.Context, conn Connector) error
}

// Updater is implemented by entities with a custom update.
type Updater interface {
	UpdateRow(ctx context.Context, conn Connector) error
}

// Selecter is implemented by entities with a custom select. It reports
// whether the row was found.
type Selecter interface {
	SelectRow(ctx context.Context, conn Connector) (bool, error)
}

// Deleter is implemented by entities with a custom delete.
type Deleter interface {
	DeleteRow(ctx context.Context, conn Connector) error
}

// ExistenceChecker is implemented by entities with a custom existence query.
type ExistenceChecker interface {
	RowExists(ctx context.Context, conn Connector) (bool, error)
}

// keySet reports whether k is not the zero value.
func keySet[K Key](k K) bool {
	var zero K
	return k != zero
}
