package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Record is the in-memory representative of one row. It tracks whether the
// row exists, whether its values were loaded, and whether this process holds
// its lock. All methods are safe for concurrent use.
type Record[K Key, E Entity[K]] struct {
	mu  sync.Mutex
	aux *auxTable

	entity      E
	existsKnown bool
	exists      bool
	loaded      bool
	locked      bool
}

// newRecord wraps an entity whose existence is not known yet.
func newRecord[K Key, E Entity[K]](aux *auxTable, e E) *Record[K, E] {
	return &Record[K, E]{aux: aux, entity: e}
}

// newLoadedRecord wraps an entity that was just read from the table.
func newLoadedRecord[K Key, E Entity[K]](aux *auxTable, e E) *Record[K, E] {
	return &Record[K, E]{aux: aux, entity: e, existsKnown: true, exists: true, loaded: true}
}

// Key returns the record's primary key.
func (r *Record[K, E]) Key() K {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entity.Key()
}

// Entity returns the row values. Bulk loads may swap in a fresh entity, so
// callers should not hold on to the returned value across reloads.
func (r *Record[K, E]) Entity() E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entity
}

// Locked reports whether this process holds the row lock.
func (r *Record[K, E]) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// Loaded reports whether the row values were read from or written to the table.
func (r *Record[K, E]) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *Record[K, E]) String() string {
	return fmt.Sprintf("%s#%v", r.aux.schema.Table, r.Key())
}

// Lock acquires the row lock. Locking a row that does not exist, or one
// already held by this record, does nothing. Returns ErrLockUnavailable when
// another holder has the row.
func (r *Record[K, E]) Lock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lock(ctx)
}

func (r *Record[K, E]) lock(ctx context.Context) error {
	if !r.existsKnown {
		if _, err := r.checkExists(ctx); err != nil {
			return err
		}
	}
	if !r.exists || r.locked {
		return nil
	}

	ok, err := r.aux.take(ctx, keyArg(r.entity.Key()))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %s %v: %w", r.aux.schema.Table, r.entity.Key(), ErrLockUnavailable)
	}
	r.locked = true
	r.aux.logger.Debug("row locked", "table", r.aux.schema.Table, "key", r.entity.Key())
	return nil
}

// Unlock releases the row lock. It does nothing when the lock is not held.
// If the key cannot be returned to the auxiliary table the record stays
// locked and ErrLockReleaseFailed is returned.
func (r *Record[K, E]) Unlock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unlock(ctx)
}

func (r *Record[K, E]) unlock(ctx context.Context) error {
	if !r.locked {
		return nil
	}
	if err := r.aux.give(ctx, keyArg(r.entity.Key())); err != nil {
		return fmt.Errorf("%w: %w", ErrLockReleaseFailed, err)
	}
	r.locked = false
	r.aux.logger.Debug("row unlocked", "table", r.aux.schema.Table, "key", r.entity.Key())
	return nil
}

// Exists reports whether the row exists. The cached answer is returned
// unless refresh is set or existence was never checked.
func (r *Record[K, E]) Exists(ctx context.Context, refresh bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if refresh || !r.existsKnown {
		return r.checkExists(ctx)
	}
	return r.exists, nil
}

func (r *Record[K, E]) checkExists(ctx context.Context) (bool, error) {
	if !keySet(r.entity.Key()) {
		r.exists, r.existsKnown = false, true
		return false, nil
	}
	ok, err := rowExists[K](ctx, r.aux.conn, r.entity)
	if err != nil {
		return false, err
	}
	r.exists, r.existsKnown = ok, true
	if !ok {
		r.loaded = false
	}
	return ok, nil
}

// Load reads the row values. The lock must be held.
func (r *Record[K, E]) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *Record[K, E]) load(ctx context.Context) error {
	if !r.locked {
		return fmt.Errorf("load %s %v: %w", r.aux.schema.Table, r.entity.Key(), ErrLockNotHeld)
	}
	found, err := selectRow[K](ctx, r.aux.conn, r.entity)
	if err != nil {
		return err
	}
	if !found {
		// The key is already out of the auxiliary table, so the lock is
		// dropped without giving it back.
		r.markDeletedLocked()
		return fmt.Errorf("load %s %v: %w", r.aux.schema.Table, r.entity.Key(), ErrRowMissing)
	}
	r.exists, r.existsKnown, r.loaded = true, true, true
	return nil
}

// Store writes the row. An existing row is updated and requires the lock and
// a prior load. A row that does not exist yet is inserted without a lock and
// becomes available to other holders at once, unless this process holds the
// table-wide lock: then the new record is locked and released by UnlockAll.
func (r *Record[K, E]) Store(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if keySet(r.entity.Key()) && !r.existsKnown {
		if _, err := r.checkExists(ctx); err != nil {
			return err
		}
	}

	table := r.aux.schema.Table
	if keySet(r.entity.Key()) && r.exists {
		if !r.locked {
			return fmt.Errorf("store %s %v: %w", table, r.entity.Key(), ErrLockNotHeld)
		}
		if !r.loaded {
			return fmt.Errorf("store %s %v: %w", table, r.entity.Key(), ErrNotLoaded)
		}
		return updateRow[K](ctx, r.aux.conn, r.entity)
	}

	if err := insertRow[K](ctx, r.aux.conn, r.entity); err != nil {
		return err
	}
	r.exists, r.existsKnown, r.loaded = true, true, true

	if r.aux.tableLocked.Load() {
		r.locked = true
		return nil
	}
	if err := r.aux.give(ctx, keyArg(r.entity.Key())); err != nil {
		// The row is absent from the auxiliary table, which is what holding
		// its lock means. Unlock retries the release.
		r.locked = true
		return fmt.Errorf("%w: %w", ErrLockReleaseFailed, err)
	}
	return nil
}

// Delete removes the row. The lock must be held. Afterwards the record is
// neither existing, loaded, nor locked.
func (r *Record[K, E]) Delete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.aux.schema.Table
	if !r.locked {
		return fmt.Errorf("delete %s %v: %w", table, r.entity.Key(), ErrLockNotHeld)
	}
	if !r.exists {
		return fmt.Errorf("delete %s %v: %w", table, r.entity.Key(), ErrRowMissing)
	}
	if err := deleteRow[K](ctx, r.aux.conn, r.entity); err != nil {
		if errors.Is(err, ErrRowMissing) {
			r.markDeletedLocked()
		}
		return err
	}
	r.markDeletedLocked()
	return nil
}

func (r *Record[K, E]) markDeletedLocked() {
	r.exists, r.existsKnown, r.loaded, r.locked = false, true, false, false
}

// markDeleted is used by Table when the row was dropped in bulk.
func (r *Record[K, E]) markDeleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markDeletedLocked()
}

// markLocked is used by Table when the whole table changes lock state.
// Rows known not to exist are never marked locked.
func (r *Record[K, E]) markLocked(locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if locked && r.existsKnown && !r.exists {
		return
	}
	r.locked = locked
}

// replace swaps in freshly read values.
func (r *Record[K, E]) replace(e E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entity = e
	r.exists, r.existsKnown, r.loaded = true, true, true
}

// reload rereads the row if it still exists, taking the row lock for the
// duration when the record does not already hold it.
func (r *Record[K, E]) reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.locked
	if !held {
		if _, err := r.checkExists(ctx); err != nil {
			return err
		}
	}
	if err := r.lock(ctx); err != nil {
		return err
	}
	if !r.exists {
		return nil
	}
	err := r.load(ctx)
	if !held {
		if uerr := r.unlock(ctx); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}
	return err
}

// refresh rereads a locked, existing record and marks it deleted when its
// row is gone.
func (r *Record[K, E]) refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.locked || !r.exists {
		return nil
	}
	found, err := selectRow[K](ctx, r.aux.conn, r.entity)
	if err != nil {
		return err
	}
	if !found {
		r.markDeletedLocked()
		return nil
	}
	r.loaded = true
	return nil
}
