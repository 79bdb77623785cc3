package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/jacentio/tablelock/sqlconn"
	"github.com/jacentio/tablelock/store"
)

// --- Test Entity Types ---

var widgetSchema = &store.Schema{
	Table:   "widgets",
	Key:     store.Column{Name: "id", Type: store.ColumnInt64},
	AutoKey: true,
	Columns: []store.Column{
		{Name: "name", Type: store.ColumnText, NotNull: true},
		{Name: "qty", Type: store.ColumnInt64, NotNull: true},
	},
}

// Widget has a database generated integer key.
type Widget struct {
	ID   int64
	Name string
	Qty  int64
}

func NewWidget() *Widget { return &Widget{} }

func (w *Widget) Schema() *store.Schema { return widgetSchema }
func (w *Widget) Key() int64            { return w.ID }
func (w *Widget) SetKey(id int64)       { w.ID = id }
func (w *Widget) Values() []any         { return []any{w.Name, w.Qty} }
func (w *Widget) Dest() []any           { return []any{&w.Name, &w.Qty} }

var tagSchema = &store.Schema{
	Table:         "tags",
	Key:           store.Column{Name: "id", Type: store.ColumnText},
	AuxForeignKey: true,
	Columns: []store.Column{
		{Name: "color", Type: store.ColumnText, NotNull: true},
	},
}

// Tag has a string key generated on insert when unset.
type Tag struct {
	ID    string
	Color string
}

func NewTag() *Tag { return &Tag{} }

func (t *Tag) Schema() *store.Schema { return tagSchema }
func (t *Tag) Key() string           { return t.ID }
func (t *Tag) SetKey(id string)      { t.ID = id }
func (t *Tag) Values() []any         { return []any{t.Color} }
func (t *Tag) Dest() []any           { return []any{&t.Color} }

// --- Helpers ---

type process struct {
	conn    *sqlconn.Conn
	widgets *store.Table[int64, *Widget]
}

// newProcess opens its own connection to the database file, standing in for
// a separate process.
func newProcess(t *testing.T, path string) *process {
	t.Helper()
	conn, err := sqlconn.Open(context.Background(), sqlconn.SQLite, sqlconn.SQLiteDSN(path), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	widgets, err := store.NewTable[int64](conn, store.DefaultConfig(), NewWidget)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if err := widgets.AssureSchema(context.Background()); err != nil {
		t.Fatalf("AssureSchema: %v", err)
	}
	return &process{conn: conn, widgets: widgets}
}

func dbPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.db")
}

func (p *process) insert(t *testing.T, name string, qty int64) *store.Record[int64, *Widget] {
	t.Helper()
	rec, err := p.widgets.Insert(context.Background(), &Widget{Name: name, Qty: qty})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec
}

func (p *process) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := p.conn.Statement(query).Exec(context.Background(), args...); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
}

func (p *process) keys(t *testing.T, table string) []int64 {
	t.Helper()
	rows, err := p.conn.Statement("SELECT id FROM " + table + " ORDER BY id").Query(context.Background())
	if err != nil {
		t.Fatalf("keys %s: %v", table, err)
	}
	defer rows.Close()
	var keys []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, k)
	}
	return keys
}

// --- Scenarios ---

func TestScenario_CreateAndStore(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))

	for _, name := range []string{"widgets", "AUX_widgets"} {
		ok, err := store.HasTable(ctx, p.conn, name, true)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("expected table %s to exist", name)
		}
	}

	rec := p.widgets.NewRecord(&Widget{Name: "bolt", Qty: 3})
	if err := rec.Store(ctx); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if rec.Key() == 0 {
		t.Fatal("expected a generated key")
	}
	if exists, _ := rec.Exists(ctx, true); !exists {
		t.Error("expected row to exist")
	}
	if rec.Locked() {
		t.Error("expected new row to be unlocked")
	}
	if got := p.keys(t, "AUX_widgets"); !slices.Equal(got, []int64{rec.Key()}) {
		t.Errorf("expected new key to be available, got %v", got)
	}

	if err := rec.Load(ctx); !errors.Is(err, store.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld, got %v", err)
	}
}

func TestScenario_TwoProcessesContend(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p1 := newProcess(t, path)
	p2 := newProcess(t, path)

	if _, err := p1.widgets.Insert(ctx, &Widget{ID: 5, Name: "five", Qty: 5}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	r1 := p1.widgets.NewRecord(&Widget{ID: 5})
	if err := r1.Lock(ctx); err != nil {
		t.Fatalf("P1 lock failed: %v", err)
	}
	if got := p1.keys(t, "AUX_widgets"); len(got) != 0 {
		t.Errorf("expected 5 to be gone from aux, got %v", got)
	}

	r2 := p2.widgets.NewRecord(&Widget{ID: 5})
	if err := r2.Lock(ctx); !errors.Is(err, store.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable for P2, got %v", err)
	}
	if r2.Locked() {
		t.Error("P2 must not hold the lock")
	}

	if err := r1.Unlock(ctx); err != nil {
		t.Fatalf("P1 unlock failed: %v", err)
	}
	if got := p1.keys(t, "AUX_widgets"); !slices.Equal(got, []int64{5}) {
		t.Errorf("expected 5 back in aux, got %v", got)
	}

	if err := r2.Lock(ctx); err != nil {
		t.Fatalf("P2 retry failed: %v", err)
	}
	if !r2.Locked() {
		t.Error("expected P2 to hold the lock")
	}
}

func TestScenario_InconsistentAuxBlocksLockAll(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	for i := 0; i < 10; i++ {
		p.insert(t, "w", int64(i))
	}
	p.exec(t, "DELETE FROM AUX_widgets WHERE id = (SELECT MIN(id) FROM AUX_widgets)")

	err := p.widgets.LockAll(ctx)
	if !errors.Is(err, store.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	if p.widgets.Locked() {
		t.Error("expected table-wide flag to stay false")
	}
	if got := p.keys(t, "AUX_widgets"); len(got) != 9 {
		t.Errorf("expected aux table untouched, got %d keys", len(got))
	}
}

func TestScenario_InsertUnderTableLock(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p1 := newProcess(t, path)
	p2 := newProcess(t, path)
	p1.insert(t, "a", 1)

	if err := p1.widgets.LockAll(ctx); err != nil {
		t.Fatalf("LockAll: %v", err)
	}
	rec := p1.insert(t, "b", 2)
	if !rec.Locked() {
		t.Error("expected row inserted under the table lock to be locked")
	}
	if got := p1.keys(t, "AUX_widgets"); len(got) != 0 {
		t.Errorf("expected aux to stay empty, got %v", got)
	}

	other := p2.widgets.NewRecord(&Widget{ID: rec.Key()})
	if err := other.Lock(ctx); !errors.Is(err, store.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable for P2, got %v", err)
	}

	if err := p1.widgets.UnlockAll(ctx, false); err != nil {
		t.Fatalf("UnlockAll: %v", err)
	}
	if rec.Locked() {
		t.Error("expected UnlockAll to release the inserted row")
	}
	if err := other.Lock(ctx); err != nil {
		t.Fatalf("P2 lock after UnlockAll: %v", err)
	}
	if err := other.Unlock(ctx); err != nil {
		t.Fatal(err)
	}

	// DeleteAll ends the table lock, so later inserts are available again.
	if err := p1.widgets.LockAll(ctx); err != nil {
		t.Fatal(err)
	}
	p1.insert(t, "c", 3)
	if err := p1.widgets.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	p1.insert(t, "d", 4)
	main, aux, err := p1.widgets.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if main != 1 || aux != 1 {
		t.Errorf("expected 1/1 after DeleteAll and insert, got %d/%d", main, aux)
	}
}

// --- Record Tests ---

func TestRecord_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p := newProcess(t, path)
	key := p.insert(t, "contended", 1).Key()

	procs := []*process{p, newProcess(t, path), newProcess(t, path)}
	var wg sync.WaitGroup
	var mu sync.Mutex
	held, unavailable := 0, 0
	for i := 0; i < 9; i++ {
		rec := procs[i%len(procs)].widgets.NewRecord(&Widget{ID: key})
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := rec.Lock(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				held++
			case errors.Is(err, store.ErrLockUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if held != 1 {
		t.Errorf("expected exactly one holder, got %d", held)
	}
	if unavailable != 8 {
		t.Errorf("expected 8 refusals, got %d", unavailable)
	}
}

func TestRecord_LockPrerequisites(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	key := p.insert(t, "guarded", 1).Key()

	rec := p.widgets.NewRecord(&Widget{ID: key, Name: "changed", Qty: 2})
	if err := rec.Store(ctx); !errors.Is(err, store.ErrLockNotHeld) {
		t.Errorf("Store: expected ErrLockNotHeld, got %v", err)
	}
	if err := rec.Delete(ctx); !errors.Is(err, store.ErrLockNotHeld) {
		t.Errorf("Delete: expected ErrLockNotHeld, got %v", err)
	}
	if err := rec.Load(ctx); !errors.Is(err, store.ErrLockNotHeld) {
		t.Errorf("Load: expected ErrLockNotHeld, got %v", err)
	}

	if err := rec.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := rec.Store(ctx); !errors.Is(err, store.ErrNotLoaded) {
		t.Errorf("Store before Load: expected ErrNotLoaded, got %v", err)
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p1 := newProcess(t, path)
	p2 := newProcess(t, path)
	key := p1.insert(t, "before", 1).Key()

	rec, err := p2.widgets.Load(ctx, key, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := rec.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	w := rec.Entity()
	w.Name, w.Qty = "after", 42
	if err := rec.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := rec.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := rec.Entity(); got.Name != "after" || got.Qty != 42 {
		t.Errorf("expected stored values, got %+v", got)
	}
	if err := rec.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	again, err := p1.widgets.Load(ctx, key, true)
	if err != nil {
		t.Fatalf("Load in P1: %v", err)
	}
	if got := again.Entity(); got.Name != "after" || got.Qty != 42 {
		t.Errorf("expected P1 to see stored values, got %+v", got)
	}
	if again.Locked() {
		t.Error("expected reload to release its temporary lock")
	}
}

func TestRecord_Delete(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	rec := p.insert(t, "doomed", 1)

	if err := rec.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := rec.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec.Locked() || rec.Loaded() {
		t.Error("expected deleted record to be neither locked nor loaded")
	}
	if exists, _ := rec.Exists(ctx, false); exists {
		t.Error("expected deleted record to not exist")
	}
	main, aux, err := p.widgets.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if main != 0 || aux != 0 {
		t.Errorf("expected empty tables, got %d/%d", main, aux)
	}
	if err := rec.Delete(ctx); !errors.Is(err, store.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld on second delete, got %v", err)
	}
}

func TestRecord_LockMissingRowIsNoop(t *testing.T) {
	p := newProcess(t, dbPath(t))
	rec := p.widgets.NewRecord(&Widget{ID: 42})

	if err := rec.Lock(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Locked() {
		t.Error("expected missing row to stay unlocked")
	}
	if err := rec.Unlock(context.Background()); err != nil {
		t.Errorf("expected Unlock of unheld lock to be a no-op, got %v", err)
	}
}

func TestRecord_RowVanishesUnderLock(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	rec := p.insert(t, "fleeting", 1)

	if err := rec.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	p.exec(t, "DELETE FROM widgets")

	if err := rec.Load(ctx); !errors.Is(err, store.ErrRowMissing) {
		t.Fatalf("expected ErrRowMissing, got %v", err)
	}
	if rec.Locked() || rec.Loaded() {
		t.Error("expected vanished row to be neither locked nor loaded")
	}
	if err := rec.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	main, aux, err := p.widgets.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if main != 0 || aux != 0 {
		t.Errorf("expected no orphan aux key, got %d/%d", main, aux)
	}
	if err := p.widgets.LockAll(ctx); err != nil {
		t.Errorf("expected LockAll to succeed, got %v", err)
	}
}

func TestRecord_ReloadOfVanishedRow(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	key := p.insert(t, "fleeting", 1).Key()

	rec, err := p.widgets.Load(ctx, key, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := rec.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	p.exec(t, "DELETE FROM widgets")

	if _, err := p.widgets.Load(ctx, key, true); !errors.Is(err, store.ErrRowMissing) {
		t.Fatalf("expected ErrRowMissing, got %v", err)
	}
	if rec.Locked() {
		t.Error("expected lock dropped with the row")
	}
	main, aux, err := p.widgets.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if main != aux {
		t.Errorf("expected matching counts, got %d/%d", main, aux)
	}
}

func TestRecord_LockReleaseFailed(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	rec := p.insert(t, "stuck", 1)

	if err := rec.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// A stray key makes the re-insert hit the primary key.
	p.exec(t, "INSERT INTO AUX_widgets (id) VALUES (?)", rec.Key())

	err := rec.Unlock(ctx)
	if !errors.Is(err, store.ErrLockReleaseFailed) {
		t.Fatalf("expected ErrLockReleaseFailed, got %v", err)
	}
	if !errors.Is(err, store.ErrConnector) {
		t.Errorf("expected the connector failure to be wrapped, got %v", err)
	}
	if !rec.Locked() {
		t.Error("expected record to stay locked after a failed release")
	}

	p.exec(t, "DELETE FROM AUX_widgets WHERE id = ?", rec.Key())
	if err := rec.Unlock(ctx); err != nil {
		t.Fatalf("Unlock retry: %v", err)
	}
	if rec.Locked() {
		t.Error("expected record unlocked after retry")
	}
	if got := p.keys(t, "AUX_widgets"); !slices.Equal(got, []int64{rec.Key()}) {
		t.Errorf("expected key back in aux, got %v", got)
	}
}

func TestRecord_StringKey(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p := newProcess(t, path)
	tags, err := store.NewTable[string](p.conn, store.DefaultConfig(), NewTag)
	if err != nil {
		t.Fatal(err)
	}
	if err := tags.AssureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	rec, err := tags.Insert(ctx, &Tag{Color: "red"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id, err := uuid.Parse(rec.Key())
	if err != nil {
		t.Fatalf("expected a UUID key, got %q", rec.Key())
	}
	if id.Version() != 7 {
		t.Errorf("expected UUIDv7, got version %d", id.Version())
	}

	got, err := tags.Load(ctx, rec.Key(), true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != rec {
		t.Error("expected the inserted record to be cached")
	}
	if got.Entity().Color != "red" {
		t.Errorf("expected color red, got %q", got.Entity().Color)
	}
}

// --- Table Tests ---

func TestTable_IdentityStability(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p1 := newProcess(t, path)
	key := p1.insert(t, "same", 1).Key()
	p2 := newProcess(t, path)

	a, err := p2.widgets.Load(ctx, key, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := p2.widgets.Load(ctx, key, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, err := p2.widgets.Load(ctx, key, true)
	if err != nil {
		t.Fatalf("Load(force): %v", err)
	}
	if a != b || b != c {
		t.Error("expected the same record for the same key")
	}
	if cached, ok := p2.widgets.Cached(key); !ok || cached != a {
		t.Error("expected record in cache")
	}
}

func TestTable_LoadMissing(t *testing.T) {
	p := newProcess(t, dbPath(t))

	_, err := p.widgets.Load(context.Background(), 999, false)
	if !errors.Is(err, store.ErrRowMissing) {
		t.Fatalf("expected ErrRowMissing, got %v", err)
	}
	if _, ok := p.widgets.Cached(999); ok {
		t.Error("expected missing row not to be cached")
	}
}

func TestTable_CacheIgnoresUnsetKey(t *testing.T) {
	p := newProcess(t, dbPath(t))
	p.widgets.Cache(p.widgets.NewRecord(&Widget{}))
	if _, ok := p.widgets.Cached(0); ok {
		t.Error("expected record without key to be ignored")
	}
}

func TestTable_AuxConsistency(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	for i := 0; i < 5; i++ {
		p.insert(t, "w", int64(i))
	}

	if err := p.widgets.LockAll(ctx); err != nil {
		t.Fatalf("LockAll: %v", err)
	}
	if got := p.keys(t, "AUX_widgets"); len(got) != 0 {
		t.Errorf("expected empty aux after LockAll, got %v", got)
	}
	for _, k := range p.keys(t, "widgets") {
		rec, ok := p.widgets.Cached(k)
		if !ok || !rec.Locked() {
			t.Errorf("expected cached record %d to be locked", k)
		}
	}
	if err := p.widgets.LockAll(ctx); err != nil {
		t.Errorf("expected second LockAll to be a no-op, got %v", err)
	}

	if err := p.widgets.UnlockAll(ctx, false); err != nil {
		t.Fatalf("UnlockAll: %v", err)
	}
	if main, aux := p.keys(t, "widgets"), p.keys(t, "AUX_widgets"); !slices.Equal(main, aux) {
		t.Errorf("expected aux %v to equal main %v", aux, main)
	}
	if p.widgets.Locked() {
		t.Error("expected table-wide flag cleared")
	}
}

func TestTable_UnlockAllRequiresLock(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	p.insert(t, "w", 1)
	p.exec(t, "DELETE FROM AUX_widgets")

	if err := p.widgets.UnlockAll(ctx, false); !errors.Is(err, store.ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld, got %v", err)
	}
	if err := p.widgets.UnlockAll(ctx, true); err != nil {
		t.Fatalf("forced UnlockAll: %v", err)
	}
	if got := p.keys(t, "AUX_widgets"); len(got) != 1 {
		t.Errorf("expected forced unlock to restore the key, got %v", got)
	}
}

func TestTable_LoadManyModes(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	writer := newProcess(t, path)
	for i := int64(1); i <= 6; i++ {
		writer.insert(t, "w", i)
	}

	tests := []struct {
		mode       store.SyncMode
		wantLoaded bool
		wantLocked bool
		wantAux    int
	}{
		{store.NoLockBeforeLoad, true, false, 6},
		{store.UnlockAfterLoad, true, false, 6},
		{store.KeepLockedAfterLoad, true, true, 0},
		{store.NoLoad, false, false, 6},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p := newProcess(t, path)
			t.Cleanup(func() { _ = p.widgets.UnlockAll(ctx, true) })

			recs, err := p.widgets.LoadMany(ctx, store.Where("qty > ?", 3), tt.mode)
			if err != nil {
				t.Fatalf("LoadMany: %v", err)
			}
			if len(recs) != 3 {
				t.Fatalf("expected 3 records, got %d", len(recs))
			}
			for _, rec := range recs {
				if rec.Loaded() != tt.wantLoaded {
					t.Errorf("%v: expected loaded=%v", rec, tt.wantLoaded)
				}
				if rec.Locked() != tt.wantLocked {
					t.Errorf("%v: expected locked=%v", rec, tt.wantLocked)
				}
				if tt.wantLoaded && rec.Entity().Qty <= 3 {
					t.Errorf("%v: filter not applied, qty %d", rec, rec.Entity().Qty)
				}
				if cached, ok := p.widgets.Cached(rec.Key()); !ok || cached != rec {
					t.Errorf("%v: expected record to be cached", rec)
				}
			}
			if p.widgets.Locked() != tt.wantLocked {
				t.Errorf("expected table locked=%v", tt.wantLocked)
			}
			if got := writer.keys(t, "AUX_widgets"); len(got) != tt.wantAux {
				t.Errorf("expected %d available keys, got %d", tt.wantAux, len(got))
			}
		})
	}
}

func TestTable_LoadManyUpdatesCachedInPlace(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p1 := newProcess(t, path)
	p2 := newProcess(t, path)
	key := p1.insert(t, "old", 1).Key()

	cached, err := p1.widgets.Load(ctx, key, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec, err := p2.widgets.Load(ctx, key, false)
	if err != nil {
		t.Fatalf("Load in P2: %v", err)
	}
	if err := rec.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	rec.Entity().Name = "new"
	if err := rec.Store(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rec.Unlock(ctx); err != nil {
		t.Fatal(err)
	}

	recs, err := p1.widgets.LoadMany(ctx, store.All(), store.NoLockBeforeLoad)
	if err != nil {
		t.Fatalf("LoadMany: %v", err)
	}
	if len(recs) != 1 || recs[0] != cached {
		t.Fatal("expected the cached record to be returned")
	}
	if cached.Entity().Name != "new" {
		t.Errorf("expected cached record updated, got %q", cached.Entity().Name)
	}
}

func TestTable_LoadManyLockFailure(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	p.insert(t, "w", 1)
	p.exec(t, "DELETE FROM AUX_widgets")

	_, err := p.widgets.LoadMany(ctx, nil, store.KeepLockedAfterLoad)
	if !errors.Is(err, store.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld, got %v", err)
	}
	if !errors.Is(err, store.ErrLockUnavailable) {
		t.Errorf("expected cause ErrLockUnavailable, got %v", err)
	}
}

func TestTable_LoadManyKeepsPriorTableLock(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	p.insert(t, "w", 1)

	if err := p.widgets.LockAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := p.widgets.LoadMany(ctx, nil, store.UnlockAfterLoad); err != nil {
		t.Fatalf("LoadMany: %v", err)
	}
	if !p.widgets.Locked() {
		t.Error("expected table lock taken before LoadMany to be kept")
	}
}

func TestTable_DeleteAll(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	rec := p.insert(t, "a", 1)
	p.insert(t, "b", 2)

	if err := p.widgets.DeleteAll(ctx); !errors.Is(err, store.ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld, got %v", err)
	}
	if err := p.widgets.LockAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.widgets.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	main, aux, err := p.widgets.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if main != 0 || aux != 0 {
		t.Errorf("expected empty tables, got %d/%d", main, aux)
	}
	if exists, _ := rec.Exists(ctx, false); exists {
		t.Error("expected cached record marked deleted")
	}
	if _, ok := p.widgets.Cached(rec.Key()); ok {
		t.Error("expected cache cleared")
	}
	if p.widgets.Locked() {
		t.Error("expected table-wide flag cleared")
	}
}

func TestTable_PurgeSchema(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	rec := p.insert(t, "a", 1)

	if err := p.widgets.PurgeSchema(ctx); err != nil {
		t.Fatalf("PurgeSchema: %v", err)
	}
	for _, name := range []string{"widgets", "AUX_widgets"} {
		if ok, _ := store.HasTable(ctx, p.conn, name, false); ok {
			t.Errorf("expected %s dropped", name)
		}
	}
	if exists, _ := rec.Exists(ctx, false); exists {
		t.Error("expected cached record marked deleted")
	}
	if _, ok := p.widgets.Cached(rec.Key()); ok {
		t.Error("expected cache cleared")
	}

	// Purging again is harmless and the schema can be recreated.
	if err := p.widgets.PurgeSchema(ctx); err != nil {
		t.Errorf("second PurgeSchema: %v", err)
	}
	if err := p.widgets.AssureSchema(ctx); err != nil {
		t.Errorf("AssureSchema after purge: %v", err)
	}
}

func TestTable_AssureSchemaSeedsAux(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	p.insert(t, "a", 1)
	p.insert(t, "b", 2)
	p.exec(t, "DROP TABLE AUX_widgets")

	if err := p.widgets.AssureSchema(ctx); err != nil {
		t.Fatalf("AssureSchema: %v", err)
	}
	if main, aux := p.keys(t, "widgets"), p.keys(t, "AUX_widgets"); !slices.Equal(main, aux) {
		t.Errorf("expected aux %v seeded from main %v", aux, main)
	}
}

func TestTable_RefreshAll(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	p1 := newProcess(t, path)
	p2 := newProcess(t, path)
	keep := p1.insert(t, "keep", 1)
	gone := p1.insert(t, "gone", 2)

	other, err := p2.widgets.LoadMany(ctx, nil, store.NoLockBeforeLoad)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range other {
		if err := rec.Lock(ctx); err != nil {
			t.Fatal(err)
		}
		if rec.Key() == gone.Key() {
			if err := rec.Delete(ctx); err != nil {
				t.Fatal(err)
			}
			continue
		}
		rec.Entity().Qty = 100
		if err := rec.Store(ctx); err != nil {
			t.Fatal(err)
		}
		if err := rec.Unlock(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if err := p1.widgets.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if keep.Entity().Qty != 100 {
		t.Errorf("expected refreshed qty 100, got %d", keep.Entity().Qty)
	}
	if exists, _ := gone.Exists(ctx, false); exists {
		t.Error("expected vanished row marked deleted")
	}
	if p1.widgets.Locked() || keep.Locked() {
		t.Error("expected RefreshAll to release the table lock")
	}
	if main, aux := p1.keys(t, "widgets"), p1.keys(t, "AUX_widgets"); !slices.Equal(main, aux) {
		t.Errorf("expected aux %v to equal main %v", aux, main)
	}
}

func TestTable_LoadManySkipsZeroKey(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, dbPath(t))
	p.exec(t, "INSERT INTO widgets (id, name, qty) VALUES (0, 'zero', 0)")
	key := p.insert(t, "one", 1).Key()

	for _, mode := range []store.SyncMode{store.NoLockBeforeLoad, store.NoLoad} {
		recs, err := p.widgets.LoadMany(ctx, store.All(), mode)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if len(recs) != 1 || recs[0].Key() != key {
			t.Errorf("%s: expected only key %d, got %d records", mode, key, len(recs))
		}
	}
	if _, ok := p.widgets.Cached(0); ok {
		t.Error("expected zero key not cached")
	}
}
