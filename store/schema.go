package store

import (
	"fmt"
	"strings"
)

// ColumnType identifies the relational type of a column. The numeric values are
// part of the backup format and must not change.
type ColumnType int32

const (
	ColumnBool    ColumnType = 1
	ColumnInt32   ColumnType = 2
	ColumnInt64   ColumnType = 3
	ColumnDecimal ColumnType = 4
	ColumnText    ColumnType = 5
	ColumnBytes   ColumnType = 6
	ColumnDate    ColumnType = 7
)

var columnTypeNames = map[ColumnType]string{
	ColumnBool:    "bool",
	ColumnInt32:   "int32",
	ColumnInt64:   "int64",
	ColumnDecimal: "decimal",
	ColumnText:    "text",
	ColumnBytes:   "bytes",
	ColumnDate:    "date",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int32(t))
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	_, ok := columnTypeNames[t]
	return ok
}

// ParseColumnType parses the name returned by ColumnType.String.
func ParseColumnType(name string) (ColumnType, error) {
	for t, n := range columnTypeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown column type %q", name)
}

// Column describes one table column.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
}

// Schema describes the table an entity type persists to. Concrete entities
// supply it; every identifier in it is trusted and concatenated into SQL.
type Schema struct {
	// Table is the main table name.
	Table string

	// Key is the primary key column. Its type must be ColumnInt32,
	// ColumnInt64 or ColumnText.
	Key Column

	// AutoKey lets the database generate integer keys on insert.
	AutoKey bool

	// Columns are the non-key columns, in the order Entity.Values and
	// Entity.Dest use.
	Columns []Column

	// AuxForeignKey declares a foreign key from the auxiliary table back
	// to the main table.
	AuxForeignKey bool
}

// ColumnNames returns the non-key column names.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// AllColumns returns the key column followed by the non-key columns.
func (s *Schema) AllColumns() []Column {
	return append([]Column{s.Key}, s.Columns...)
}

// Validate checks the schema for obvious mistakes.
func (s *Schema) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("schema: empty table name")
	}
	if s.Key.Name == "" {
		return fmt.Errorf("schema %s: empty key column", s.Table)
	}
	switch s.Key.Type {
	case ColumnInt32, ColumnInt64:
	case ColumnText:
		if s.AutoKey {
			return fmt.Errorf("schema %s: AutoKey requires an integer key", s.Table)
		}
	default:
		return fmt.Errorf("schema %s: unsupported key type %s", s.Table, s.Key.Type)
	}
	seen := map[string]bool{strings.ToLower(s.Key.Name): true}
	for _, c := range s.Columns {
		if !c.Type.Valid() {
			return fmt.Errorf("schema %s: column %s: unsupported type %s", s.Table, c.Name, c.Type)
		}
		if seen[strings.ToLower(c.Name)] {
			return fmt.Errorf("schema %s: duplicate column %s", s.Table, c.Name)
		}
		seen[strings.ToLower(c.Name)] = true
	}
	return nil
}
