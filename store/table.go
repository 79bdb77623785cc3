package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// schemaMu serializes schema creation and teardown within this process.
var schemaMu sync.Mutex

// Table manages one entity table, its auxiliary table, the identity cache of
// records read through it, and the table-wide lock flag. At most one Record
// per key is live in a Table's cache. All methods are safe for concurrent use.
type Table[K Key, E Entity[K]] struct {
	mu        sync.Mutex
	aux       *auxTable
	config    Config
	newEntity func() E
	cache     map[K]*Record[K, E]
	locked    bool
}

// NewTable creates a Table for the entity type produced by newEntity.
func NewTable[K Key, E Entity[K]](conn Connector, config Config, newEntity func() E) (*Table[K, E], error) {
	config.validate()
	schema := newEntity().Schema()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Table[K, E]{
		aux: &auxTable{
			conn:   conn,
			schema: schema,
			name:   config.AuxPrefix + schema.Table,
			batch:  config.BatchSize,
			logger: config.Logger.With("table", schema.Table),
		},
		config:    config,
		newEntity: newEntity,
		cache:     make(map[K]*Record[K, E]),
	}, nil
}

// Schema returns the entity schema.
func (t *Table[K, E]) Schema() *Schema {
	return t.aux.schema
}

// AuxTable returns the auxiliary table name.
func (t *Table[K, E]) AuxTable() string {
	return t.aux.name
}

// Locked reports whether this process holds the table-wide lock.
func (t *Table[K, E]) Locked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locked
}

// Counts returns the row counts of the main and auxiliary tables. They are
// equal when nobody holds a lock.
func (t *Table[K, E]) Counts(ctx context.Context) (main, aux int64, err error) {
	return t.aux.counts(ctx)
}

// AssureSchema creates the main and auxiliary tables when missing. An
// auxiliary table created next to existing rows is seeded with their keys.
func (t *Table[K, E]) AssureSchema(ctx context.Context) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	conn, s := t.aux.conn, t.aux.schema
	hasMain, err := HasTable(ctx, conn, s.Table, true)
	if err != nil {
		return err
	}
	hasAux, err := HasTable(ctx, conn, t.aux.name, false)
	if err != nil {
		return err
	}

	if !hasMain {
		if _, err := conn.Statement(CreateTableSQL(conn.Dialect(), s)).Exec(ctx); err != nil {
			return connectorError("create "+s.Table, err)
		}
		t.aux.logger.Info("table created")
	}
	if !hasAux {
		if _, err := conn.Statement(CreateAuxTableSQL(conn.Dialect(), s, t.aux.name)).Exec(ctx); err != nil {
			return connectorError("create "+t.aux.name, err)
		}
		t.aux.logger.Info("auxiliary table created", "aux", t.aux.name)
		if hasMain {
			added, err := fill[K](ctx, t.aux)
			if err != nil {
				return err
			}
			t.aux.logger.Info("auxiliary table seeded", "aux", t.aux.name, "keys", added)
		}
	}
	if !hasMain || !hasAux {
		if _, err := conn.Tables(ctx, true); err != nil {
			return connectorError("list tables", err)
		}
	}
	return nil
}

// PurgeSchema drops both tables when present and marks every cached record
// deleted before clearing the cache.
func (t *Table[K, E]) PurgeSchema(ctx context.Context) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	conn := t.aux.conn
	// The auxiliary table goes first since it may reference the main table.
	for _, name := range []string{t.aux.name, t.aux.schema.Table} {
		ok, err := HasTable(ctx, conn, name, true)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if _, err := conn.Statement(dropTableSQL(name)).Exec(ctx); err != nil {
			return connectorError("drop "+name, err)
		}
	}
	if _, err := conn.Tables(ctx, true); err != nil {
		return connectorError("list tables", err)
	}

	t.dropCache()
	t.locked = false
	t.aux.tableLocked.Store(false)
	t.aux.logger.Info("schema purged")
	return nil
}

// NewRecord wraps e in a record bound to this table. The record is not cached
// until it is passed to Cache. A record stored while the table lock is held
// must be cached for UnlockAll to release it; Insert does that.
func (t *Table[K, E]) NewRecord(e E) *Record[K, E] {
	return newRecord[K](t.aux, e)
}

// Insert stores e as a new row and caches the resulting record.
func (t *Table[K, E]) Insert(ctx context.Context, e E) (*Record[K, E], error) {
	rec := t.NewRecord(e)
	if err := rec.Store(ctx); err != nil {
		return nil, err
	}
	t.Cache(rec)
	return rec, nil
}

// Cache inserts or overwrites the cache entry for rec's key. Records without
// a key are ignored.
func (t *Table[K, E]) Cache(rec *Record[K, E]) {
	k := rec.Key()
	if !keySet(k) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache[k] = rec
}

// Cached returns the cached record for id without touching the database.
func (t *Table[K, E]) Cached(id K) (*Record[K, E], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.cache[id]
	return rec, ok
}

// Load returns the record for id, reading it on first use. A cached record is
// reread when forceReload is set or it was never loaded; the same *Record is
// returned for id for as long as it stays cached. A row that does not exist
// yields ErrRowMissing and is not cached.
func (t *Table[K, E]) Load(ctx context.Context, id K, forceReload bool) (*Record[K, E], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.cache[id]; ok {
		if !forceReload && rec.Loaded() {
			return rec, nil
		}
		if err := rec.reload(ctx); err != nil {
			return nil, err
		}
		return rec, nil
	}

	e := t.newEntity()
	e.SetKey(id)
	rec := newRecord[K](t.aux, e)
	if t.locked {
		rec.markLocked(true)
	}
	if err := rec.reload(ctx); err != nil {
		return nil, err
	}
	if !rec.Loaded() {
		return nil, fmt.Errorf("load %s %v: %w", t.aux.schema.Table, id, ErrRowMissing)
	}
	t.cache[id] = rec
	return rec, nil
}

// LoadMany returns the records matching f. A nil filter matches every row.
// See SyncMode for how the table lock is used. A table lock held before the
// call is never released by it.
func (t *Table[K, E]) LoadMany(ctx context.Context, f Filter, mode SyncMode) ([]*Record[K, E], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasLocked := t.locked
	if mode.locks() {
		if err := t.lockAll(ctx); err != nil {
			return nil, fmt.Errorf("load %s: %w: %w", t.aux.schema.Table, ErrLockNotHeld, err)
		}
	}

	recs, err := t.loadMany(ctx, f, mode)
	if mode == UnlockAfterLoad && !wasLocked {
		if uerr := t.unlockAll(ctx, false); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (t *Table[K, E]) loadMany(ctx context.Context, f Filter, mode SyncMode) ([]*Record[K, E], error) {
	s := t.aux.schema
	var where string
	var args []any
	if f != nil {
		where, args = f.Where()
	}

	if mode == NoLoad {
		keys, err := scanKeys[K](ctx, t.aux.conn, selectKeysSQL(s.Table, s.Key.Name, where), args...)
		if err != nil {
			return nil, connectorError("select "+s.Table, err)
		}
		recs := make([]*Record[K, E], 0, len(keys))
		for _, k := range keys {
			if !keySet(k) {
				t.aux.logger.Warn("row with zero key skipped")
				continue
			}
			rec, ok := t.cache[k]
			if !ok {
				e := t.newEntity()
				e.SetKey(k)
				rec = newRecord[K](t.aux, e)
				rec.exists, rec.existsKnown = true, true
				rec.locked = t.locked
				t.cache[k] = rec
			}
			recs = append(recs, rec)
		}
		return recs, nil
	}

	rows, err := t.aux.conn.Statement(selectRowsSQL(s, where)).Query(ctx, args...)
	if err != nil {
		return nil, connectorError("select "+s.Table, err)
	}
	defer rows.Close()

	var recs []*Record[K, E]
	for rows.Next() {
		e := t.newEntity()
		var k K
		if err := rows.Scan(append([]any{&k}, e.Dest()...)...); err != nil {
			return nil, connectorError("select "+s.Table, err)
		}
		if !keySet(k) {
			t.aux.logger.Warn("row with zero key skipped")
			continue
		}
		e.SetKey(k)
		rec, ok := t.cache[k]
		if ok {
			rec.replace(e)
		} else {
			rec = newLoadedRecord[K](t.aux, e)
			rec.locked = t.locked
			t.cache[k] = rec
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, connectorError("select "+s.Table, err)
	}
	return recs, nil
}

// LockAll takes the lock on every row of the table. It fails with
// ErrLockUnavailable when the main and auxiliary row counts differ.
//
// The count check and the truncate are separate statements. Two processes
// racing here can both pass the check; the loser's truncate then removes
// nothing and goes unnoticed.
func (t *Table[K, E]) LockAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockAll(ctx)
}

func (t *Table[K, E]) lockAll(ctx context.Context) error {
	if t.locked {
		return nil
	}
	main, aux, err := t.aux.counts(ctx)
	if err != nil {
		return err
	}
	if main != aux {
		t.aux.logger.Warn("row count mismatch", "rows", main, "available", aux)
		return fmt.Errorf("lock all %s: %d rows, %d available: %w", t.aux.schema.Table, main, aux, ErrLockUnavailable)
	}
	if _, err := t.aux.truncate(ctx); err != nil {
		return err
	}
	for _, rec := range t.cache {
		rec.markLocked(true)
	}
	t.locked = true
	t.aux.tableLocked.Store(true)
	t.aux.logger.Info("table locked", "rows", main)
	return nil
}

// UnlockAll releases the table-wide lock by returning every key of the main
// table to the auxiliary table. Without force it requires the table lock.
// On failure the flag is left set and the auxiliary table may be partially
// filled; callers must re-verify before proceeding.
func (t *Table[K, E]) UnlockAll(ctx context.Context, force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlockAll(ctx, force)
}

func (t *Table[K, E]) unlockAll(ctx context.Context, force bool) error {
	if !t.locked && !force {
		return fmt.Errorf("unlock all %s: %w", t.aux.schema.Table, ErrLockNotHeld)
	}
	added, err := fill[K](ctx, t.aux)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLockReleaseFailed, err)
	}
	t.locked = false
	t.aux.tableLocked.Store(false)
	for _, rec := range t.cache {
		rec.markLocked(false)
	}
	t.aux.logger.Info("table unlocked", "released", added, "forced", force)
	return nil
}

// RefreshAll rereads every cached record under the table lock. Records whose
// rows disappeared are marked deleted. A table lock held before the call is
// kept.
func (t *Table[K, E]) RefreshAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasLocked := t.locked
	if err := t.lockAll(ctx); err != nil {
		return err
	}
	var errs []error
	for _, rec := range t.cache {
		if err := rec.refresh(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if !wasLocked {
		if err := t.unlockAll(ctx, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteAll removes every row. The table lock must be held; it is released
// since there is nothing left to hold.
func (t *Table[K, E]) DeleteAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.locked {
		return fmt.Errorf("delete all %s: %w", t.aux.schema.Table, ErrLockNotHeld)
	}
	if _, err := t.aux.truncate(ctx); err != nil {
		return err
	}
	s := t.aux.schema
	if _, err := t.aux.conn.Statement(truncateSQL(s.Table)).Exec(ctx); err != nil {
		return connectorError("truncate "+s.Table, err)
	}
	t.dropCache()
	t.locked = false
	t.aux.tableLocked.Store(false)
	t.aux.logger.Info("table emptied")
	return nil
}

// dropCache marks every cached record deleted and empties the cache.
func (t *Table[K, E]) dropCache() {
	for k, rec := range t.cache {
		rec.markDeleted()
		delete(t.cache, k)
	}
}
