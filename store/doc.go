// Package store provides row and table locking with a per-process identity
// cache on top of a relational connection that has no usable cross-process
// row locks of its own.
//
// Every table T is paired with an auxiliary table AUX_T holding the keys of
// the rows nobody has locked. Taking a row lock deletes its key from AUX_T;
// a delete that affects no row means someone else holds it. Releasing the
// lock inserts the key again. Because a single-row delete is atomic in the
// storage engine, this gives mutual exclusion across processes sharing the
// database.
//
// # Entities
//
// Row types implement [Entity]:
//
//	type Entity[K Key] interface {
//	    Schema() *Schema
//	    Key() K
//	    SetKey(K)
//	    Values() []any
//	    Dest() []any
//	}
//
// The insert, update, select, delete and existence primitives are generated
// from the [Schema]. An entity may replace any of them by implementing
// [Inserter], [Updater], [Selecter], [Deleter] or [ExistenceChecker].
//
// # Records and tables
//
// A [Record] wraps one entity and enforces lock-before-mutate: Load, Delete
// and Store on an existing row require the lock. A [Table] owns the cache of
// records, schema creation, table-wide locking and bulk loads:
//
//	widgets, _ := store.NewTable[int64](conn, store.DefaultConfig(), NewWidget)
//	_ = widgets.AssureSchema(ctx)
//	rec, err := widgets.Load(ctx, 5, false)
//	if err := rec.Lock(ctx); errors.Is(err, store.ErrLockUnavailable) {
//	    // someone else is editing widget 5
//	}
//
// # Table-wide locks
//
// [Table.LockAll] compares the row counts of T and AUX_T and then empties
// AUX_T. The two steps are separate statements, so two processes racing for
// the same table can both pass the check. The lock is best effort.
//
// # Errors
//
//   - [ErrLockUnavailable] - lock held elsewhere, or row counts disagree
//   - [ErrLockNotHeld] - operation needs a lock that is not held
//   - [ErrLockReleaseFailed] - key could not be returned to AUX_T
//   - [ErrNotLoaded] - update of a row that was never loaded
//   - [ErrRowMissing] - no such row
//   - [ErrConnector] - the connector failed
package store
