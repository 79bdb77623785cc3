package store

import "fmt"

// Filter builds the parameterized WHERE clause of a bulk load. The clause uses
// '?' placeholders; values always travel as args.
type Filter interface {
	Where() (clause string, args []any)
}

type whereFilter struct {
	clause string
	args   []any
}

func (f whereFilter) Where() (string, []any) { return f.clause, f.args }

// Where returns a Filter with a fixed clause and arguments.
//
//	store.Where("status = ? AND price > ?", "open", 100)
func Where(clause string, args ...any) Filter {
	return whereFilter{clause: clause, args: args}
}

// All returns a Filter matching every row.
func All() Filter {
	return whereFilter{}
}

// SyncMode selects how LoadMany synchronizes with the table lock.
type SyncMode int

const (
	// NoLockBeforeLoad loads row values without touching the table lock.
	NoLockBeforeLoad SyncMode = iota

	// UnlockAfterLoad locks the table, loads, then unlocks it.
	UnlockAfterLoad

	// KeepLockedAfterLoad locks the table, loads, and leaves it locked.
	KeepLockedAfterLoad

	// NoLoad only resolves the matching keys to records.
	NoLoad
)

func (m SyncMode) String() string {
	switch m {
	case NoLockBeforeLoad:
		return "NoLockBeforeLoad"
	case UnlockAfterLoad:
		return "UnlockAfterLoad"
	case KeepLockedAfterLoad:
		return "KeepLockedAfterLoad"
	case NoLoad:
		return "NoLoad"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

func (m SyncMode) locks() bool {
	return m == UnlockAfterLoad || m == KeepLockedAfterLoad
}
