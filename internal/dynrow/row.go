// Package dynrow provides an entity whose columns come from a runtime schema,
// so tables described only in configuration can be locked and administered.
package dynrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/jacentio/tablelock/store"
)

// Row is a generic entity holding its column values in schema order.
type Row[K store.Key] struct {
	schema *store.Schema
	key    K
	values []any
}

var (
	_ store.Entity[int32]  = (*Row[int32])(nil)
	_ store.Entity[int64]  = (*Row[int64])(nil)
	_ store.Entity[string] = (*Row[string])(nil)
)

// New returns a constructor of empty rows for schema.
func New[K store.Key](schema *store.Schema) func() *Row[K] {
	return func() *Row[K] {
		return &Row[K]{schema: schema, values: make([]any, len(schema.Columns))}
	}
}

func (r *Row[K]) Schema() *store.Schema { return r.schema }
func (r *Row[K]) Key() K                { return r.key }
func (r *Row[K]) SetKey(k K)            { r.key = k }

// Values returns the column values. The slice is shared with the row.
func (r *Row[K]) Values() []any { return r.values }

// Dest returns pointers into the row's values.
func (r *Row[K]) Dest() []any {
	dest := make([]any, len(r.values))
	for i := range r.values {
		dest[i] = &r.values[i]
	}
	return dest
}

// Get returns the value of the named column.
func (r *Row[K]) Get(column string) (any, bool) {
	i := r.index(column)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// Set assigns the named column.
func (r *Row[K]) Set(column string, v any) error {
	i := r.index(column)
	if i < 0 {
		return fmt.Errorf("%s: no column %q", r.schema.Table, column)
	}
	r.values[i] = v
	return nil
}

func (r *Row[K]) index(column string) int {
	for i, c := range r.schema.Columns {
		if strings.EqualFold(c.Name, column) {
			return i
		}
	}
	return -1
}

// Admin is the key-type independent part of store.Table.
type Admin interface {
	Schema() *store.Schema
	AuxTable() string
	Locked() bool
	Counts(ctx context.Context) (main, aux int64, err error)
	AssureSchema(ctx context.Context) error
	PurgeSchema(ctx context.Context) error
	LockAll(ctx context.Context) error
	UnlockAll(ctx context.Context, force bool) error
	RefreshAll(ctx context.Context) error
	DeleteAll(ctx context.Context) error
}

// NewTable creates a store.Table of Rows for schema, picking the key type
// from the schema.
func NewTable(conn store.Connector, config store.Config, schema *store.Schema) (Admin, error) {
	switch schema.Key.Type {
	case store.ColumnInt32:
		return admin(store.NewTable[int32](conn, config, New[int32](schema)))
	case store.ColumnInt64:
		return admin(store.NewTable[int64](conn, config, New[int64](schema)))
	case store.ColumnText:
		return admin(store.NewTable[string](conn, config, New[string](schema)))
	default:
		return nil, fmt.Errorf("%s: unsupported key type %s", schema.Table, schema.Key.Type)
	}
}

// admin avoids returning a typed nil inside a non-nil interface.
func admin[T Admin](t T, err error) (Admin, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}
