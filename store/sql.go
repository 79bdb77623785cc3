package store

import (
	"reflect"
	"strings"
)

// placeholders returns n comma-separated '?' markers.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// columnDDL renders one column definition.
func columnDDL(d Dialect, c Column) string {
	ddl := c.Name + " " + d.TypeName(c.Type)
	if c.NotNull {
		ddl += " NOT NULL"
	}
	return ddl
}

// CreateTableSQL returns the CREATE TABLE statement for the main table.
func CreateTableSQL(d Dialect, s *Schema) string {
	keyType := d.TypeName(s.Key.Type)
	if s.AutoKey {
		keyType = d.AutoKeyType(s.Key.Type)
	}
	defs := []string{s.Key.Name + " " + keyType + " PRIMARY KEY"}
	for _, c := range s.Columns {
		defs = append(defs, columnDDL(d, c))
	}
	return "CREATE TABLE " + s.Table + " (" + strings.Join(defs, ", ") + ")"
}

// CreateAuxTableSQL returns the CREATE TABLE statement for the auxiliary table.
// Its only column is the main table's primary key.
func CreateAuxTableSQL(d Dialect, s *Schema, aux string) string {
	def := s.Key.Name + " " + d.TypeName(s.Key.Type) + " PRIMARY KEY"
	if s.AuxForeignKey {
		def += " REFERENCES " + s.Table + " (" + s.Key.Name + ")"
	}
	return "CREATE TABLE " + aux + " (" + def + ")"
}

func dropTableSQL(table string) string {
	return "DROP TABLE " + table
}

func countSQL(table string) string {
	return "SELECT COUNT(*) FROM " + table
}

func truncateSQL(table string) string {
	return "DELETE FROM " + table
}

func deleteByKeySQL(table, key string) string {
	return "DELETE FROM " + table + " WHERE " + key + " = ?"
}

func insertKeySQL(table, key string) string {
	return "INSERT INTO " + table + " (" + key + ") VALUES (?)"
}

func countByKeySQL(s *Schema) string {
	return "SELECT COUNT(*) FROM " + s.Table + " WHERE " + s.Key.Name + " = ?"
}

func selectKeysSQL(table, key, where string) string {
	q := "SELECT " + key + " FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	return q
}

// insertSQL builds an INSERT. Without a key the database generates one and
// the statement returns it.
func insertSQL(s *Schema, withKey bool) string {
	cols := s.ColumnNames()
	if withKey {
		cols = append([]string{s.Key.Name}, cols...)
	}
	if len(cols) == 0 {
		return "INSERT INTO " + s.Table + " DEFAULT VALUES RETURNING " + s.Key.Name
	}
	q := "INSERT INTO " + s.Table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"
	if !withKey {
		q += " RETURNING " + s.Key.Name
	}
	return q
}

func updateSQL(s *Schema) string {
	sets := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		sets[i] = c.Name + " = ?"
	}
	return "UPDATE " + s.Table + " SET " + strings.Join(sets, ", ") + " WHERE " + s.Key.Name + " = ?"
}

func selectByKeySQL(s *Schema) string {
	cols := s.ColumnNames()
	if len(cols) == 0 {
		cols = []string{s.Key.Name}
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + s.Table + " WHERE " + s.Key.Name + " = ?"
}

// selectRowsSQL selects the key followed by every non-key column.
func selectRowsSQL(s *Schema, where string) string {
	cols := append([]string{s.Key.Name}, s.ColumnNames()...)
	q := "SELECT " + strings.Join(cols, ", ") + " FROM " + s.Table
	if where != "" {
		q += " WHERE " + where
	}
	return q
}

// keyArg converts a key to its underlying basic type so drivers that do not
// reflect on named types accept it.
func keyArg[K Key](k K) any {
	v := reflect.ValueOf(k)
	switch v.Kind() {
	case reflect.Int32:
		return int32(v.Int())
	case reflect.Int64:
		return v.Int()
	default:
		return v.String()
	}
}

// stringKey converts s to K when K is string-kinded.
func stringKey[K Key](s string) (K, bool) {
	var k K
	v := reflect.ValueOf(&k).Elem()
	if v.Kind() != reflect.String {
		return k, false
	}
	v.SetString(s)
	return k, true
}
