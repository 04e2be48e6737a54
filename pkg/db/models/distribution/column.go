package distribution

import (
	"fmt"
	"strings"
)

// ColumnDef defines a single column for a ClickHouse table.
type ColumnDef struct {
	// Name is the column name
	Name string

	// Type is the ClickHouse data type (e.g., "Int64", "String")
	Type string

	// Codec is the optional compression codec (e.g., "Delta, ZSTD(3)")
	// Leave empty for no codec
	Codec string
}

// SQL returns the full column definition for CREATE TABLE statements.
// Example: "amount Int64 CODEC(ZSTD(1))"
func (c ColumnDef) SQL() string {
	if c.Codec != "" {
		return fmt.Sprintf("%s %s CODEC(%s)", c.Name, c.Type, c.Codec)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// ColumnsToSchemaSQL converts a list of ColumnDef to a CREATE TABLE schema string.
func ColumnsToSchemaSQL(columns []ColumnDef) string {
	var parts []string
	for _, col := range columns {
		parts = append(parts, col.SQL())
	}
	return strings.Join(parts, ",\n\t\t\t")
}

// ColumnNames returns the comma separated column list used by INSERT statements.
func ColumnNames(columns []ColumnDef) string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, col.Name)
	}
	return strings.Join(names, ", ")
}
