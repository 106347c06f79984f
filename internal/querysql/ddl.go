package querysql

import (
	"fmt"
	"strings"
)

// ColumnDef describes one column of CreateTable.
type ColumnDef struct {
	Name    string
	Type    string // INTEGER or TEXT
	NotNull bool
}

var columnTypes = map[string]bool{"INTEGER": true, "TEXT": true}

// CreateTable renders an idempotent CREATE TABLE statement. The column
// named primaryKey becomes the INTEGER PRIMARY KEY.
func CreateTable(table, primaryKey string, cols []ColumnDef) (string, error) {
	if err := checkIdent("table", table); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		if err := checkIdent("column", col.Name); err != nil {
			return "", err
		}
		if col.Name == primaryKey {
			defs = append(defs, col.Name+" INTEGER PRIMARY KEY")
			continue
		}
		if !columnTypes[col.Type] {
			return "", fmt.Errorf("column %s: unsupported type %q", col.Name, col.Type)
		}
		def := col.Name + " " + col.Type
		if col.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("table %s has no columns", table)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", ")), nil
}

// CreateIndex renders an idempotent CREATE INDEX statement.
func CreateIndex(name, table string, columns []string, unique bool) (string, error) {
	if err := checkIdent("index", name); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("index %s has no columns", name)
	}
	for _, col := range columns {
		if err := checkIdent("column", col); err != nil {
			return "", err
		}
	}

	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s(%s)",
		kind, name, table, strings.Join(columns, ", ")), nil
}
