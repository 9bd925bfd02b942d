// Package schema models source database schemas and their translation into
// a destination graph schema.
//
// The translation is pure: introspection output goes in, a Plan plus the
// constraint set come out, and nothing here touches a connection. Source
// connectors and the destination loader both work off the Plan.
package schema

import (
	"fmt"
	"sort"
)

// ColumnSchema describes one column of a relational table.
type ColumnSchema struct {
	Name     string
	DataType string
	Nullable bool
	// Position is the 1-based ordinal position within the table
	Position int
}

// ForeignKey describes a reference from one table to another.
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedSchema  string
	ReferencedTable   string
	ReferencedColumns []string
}

// TableSchema describes one relational table.
type TableSchema struct {
	Schema      string
	Name        string
	Columns     []ColumnSchema
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// QualifiedName returns schema.name for diagnostics.
func (t TableSchema) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// HasPrimaryKey reports whether the table declares a primary key.
func (t TableSchema) HasPrimaryKey() bool {
	return len(t.PrimaryKey) > 0
}

// Column returns the column with the given name.
func (t TableSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// ColumnNames returns all column names in ordinal order.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumns returns the columns identifying a row: the primary key when
// one exists, otherwise every column.
func (t TableSchema) KeyColumns() []string {
	if t.HasPrimaryKey() {
		return t.PrimaryKey
	}
	return t.ColumnNames()
}

// ConstraintKind distinguishes the two destination constraint kinds.
type ConstraintKind int

const (
	// ConstraintExists requires a property to be present on every node of
	// a label
	ConstraintExists ConstraintKind = iota
	// ConstraintUnique requires a property set to be unique across nodes
	// of a label
	ConstraintUnique
)

// String returns the kind name.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintExists:
		return "exists"
	case ConstraintUnique:
		return "unique"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Constraint is one destination integrity constraint. Properties keep the
// source declaration order, so a composite unique constraint renders its
// columns in primary-key order.
type Constraint struct {
	Kind       ConstraintKind
	Label      string
	Properties []string
}

// Index describes a destination index, used both for transient load
// indexes and for indexes migrated from a graph source. Property is empty
// for a label-only index.
type Index struct {
	Label    string
	Property string
}

// GraphSchema carries label, constraint and index metadata introspected
// from a graph source.
type GraphSchema struct {
	Constraints []Constraint
	Indexes     []Index
}

// SourceSchema is the introspection result of one source. Exactly one of
// Tables or Graph is set depending on the source kind.
type SourceSchema struct {
	// DefaultSchema is the namespace whose tables map to bare labels
	// (public for PostgreSQL, the connected database for MySQL)
	DefaultSchema string
	Tables        []TableSchema
	Graph         *GraphSchema
}

// IsGraph reports whether the source is itself a property graph.
func (s *SourceSchema) IsGraph() bool {
	return s.Graph != nil
}

// SortedTables returns the tables ordered by qualified name for
// deterministic mapping output.
func (s *SourceSchema) SortedTables() []TableSchema {
	tables := make([]TableSchema, len(s.Tables))
	copy(tables, s.Tables)
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].QualifiedName() < tables[j].QualifiedName()
	})
	return tables
}

// TableByName finds a table by schema and name.
func (s *SourceSchema) TableByName(schemaName, name string) (TableSchema, bool) {
	for _, t := range s.Tables {
		if t.Schema == schemaName && t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}
