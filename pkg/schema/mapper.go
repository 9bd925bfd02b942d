package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
)

// EntityPlan tells connectors and the loader how one table becomes nodes.
type EntityPlan struct {
	Schema string
	Table  string
	Label  string
	// Columns lists every column in ordinal order
	Columns []string
	// KeyColumns identify a row: the primary key, or all columns when the
	// table has none
	KeyColumns    []string
	HasPrimaryKey bool
	// LoadIndex is the transient index created before the entity phase and
	// dropped after the relationship phase
	LoadIndex Index
}

// RelationshipPlan describes the edges derived from one foreign key.
type RelationshipPlan struct {
	Type string
	// ChildSchema/ChildTable is the referencing table whose rows produce
	// the relationships
	ChildSchema string
	ChildTable  string
	FromLabel   string
	// FromKeyColumns identify the child row (its key columns)
	FromKeyColumns []string
	// FKColumns hold the reference on the child side
	FKColumns []string
	ToLabel   string
	// ToKeyColumns are the referenced columns on the parent side
	ToKeyColumns []string
	// UseMerge avoids duplicate edges when the child table has no primary
	// key and identical rows may repeat
	UseMerge bool
}

// JunctionEnd is one side of a folded junction table.
type JunctionEnd struct {
	Label         string
	FKColumns     []string
	RefKeyColumns []string
}

// JunctionPlan describes a junction table folded into a relationship type.
type JunctionPlan struct {
	Schema string
	Table  string
	Type   string
	From   JunctionEnd
	To     JunctionEnd
	// PropertyColumns are the junction's own columns carried onto the edge
	PropertyColumns []string
	UseMerge        bool
}

// Plan is the full destination graph schema for one run.
type Plan struct {
	// IsGraph marks a graph-to-graph run, where the connector streams
	// nodes and edges directly and the table plans are empty
	IsGraph       bool
	Entities      []EntityPlan
	Relationships []RelationshipPlan
	Junctions     []JunctionPlan
	// Indexes holds indexes migrated verbatim from a graph source
	Indexes []Index
}

// Map translates a source schema into a destination plan plus the
// constraint set. It is pure and deterministic: equal inputs produce equal
// outputs, with tables processed in qualified-name order.
func Map(src *SourceSchema) (*Plan, []Constraint, error) {
	if src.IsGraph() {
		return mapGraph(src)
	}
	return mapRelational(src)
}

// mapGraph copies the source's own constraint and index metadata.
func mapGraph(src *SourceSchema) (*Plan, []Constraint, error) {
	plan := &Plan{
		IsGraph: true,
		Indexes: append([]Index(nil), src.Graph.Indexes...),
	}
	constraints := append([]Constraint(nil), src.Graph.Constraints...)
	return plan, constraints, nil
}

func mapRelational(src *SourceSchema) (*Plan, []Constraint, error) {
	if err := Validate(src); err != nil {
		return nil, nil, err
	}

	tables := src.SortedTables()
	junction := junctionTables(src)

	plan := &Plan{}
	var constraints []Constraint
	labels := map[string]string{}
	relTypes := map[string]string{}

	for _, t := range tables {
		if junction[t.QualifiedName()] {
			continue
		}
		label := TableLabel(t.Schema, t.Name, src.DefaultSchema)
		if prev, ok := labels[label]; ok {
			return nil, nil, migrateerrors.New(migrateerrors.ErrorTypeMapping,
				fmt.Sprintf("tables %s and %s both map to label %q", prev, t.QualifiedName(), label))
		}
		labels[label] = t.QualifiedName()

		ep := EntityPlan{
			Schema:        t.Schema,
			Table:         t.Name,
			Label:         label,
			Columns:       t.ColumnNames(),
			KeyColumns:    t.KeyColumns(),
			HasPrimaryKey: t.HasPrimaryKey(),
			LoadIndex:     loadIndex(label, t),
		}
		plan.Entities = append(plan.Entities, ep)

		constraints = append(constraints, tableConstraints(label, t)...)
	}

	for _, t := range tables {
		if junction[t.QualifiedName()] {
			jp, err := junctionPlan(src, t, relTypes)
			if err != nil {
				return nil, nil, err
			}
			plan.Junctions = append(plan.Junctions, jp)
			continue
		}
		for _, fk := range t.ForeignKeys {
			parent, _ := src.TableByName(fk.ReferencedSchema, fk.ReferencedTable)
			if junction[parent.QualifiedName()] {
				// The parent folded into a relationship type and has no
				// label to point at.
				return nil, nil, migrateerrors.New(migrateerrors.ErrorTypeMapping,
					fmt.Sprintf("table %s references junction table %s", t.QualifiedName(), parent.QualifiedName()))
			}
			childLabel := TableLabel(t.Schema, t.Name, src.DefaultSchema)
			parentLabel := TableLabel(parent.Schema, parent.Name, src.DefaultSchema)
			relType := childLabel + "_to_" + parentLabel
			if _, taken := relTypes[relType]; taken {
				// A second foreign key to the same parent disambiguates
				// on its referencing columns.
				relType += "_" + strings.Join(fk.Columns, "_")
			}
			if prev, ok := relTypes[relType]; ok {
				return nil, nil, migrateerrors.New(migrateerrors.ErrorTypeMapping,
					fmt.Sprintf("foreign keys %s and %s/%s both map to relationship type %q",
						prev, t.QualifiedName(), fk.Name, relType))
			}
			relTypes[relType] = t.QualifiedName() + "/" + fk.Name

			plan.Relationships = append(plan.Relationships, RelationshipPlan{
				Type:           relType,
				ChildSchema:    t.Schema,
				ChildTable:     t.Name,
				FromLabel:      childLabel,
				FromKeyColumns: t.KeyColumns(),
				FKColumns:      fk.Columns,
				ToLabel:        parentLabel,
				ToKeyColumns:   fk.ReferencedColumns,
				UseMerge:       !t.HasPrimaryKey(),
			})
		}
	}

	return plan, constraints, nil
}

// Validate checks the source schema for internal consistency: every
// foreign key must reference an existing table and existing columns, and
// primary-key columns must exist and be non-nullable.
func Validate(src *SourceSchema) error {
	for _, t := range src.Tables {
		for _, pk := range t.PrimaryKey {
			col, ok := t.Column(pk)
			if !ok {
				return migrateerrors.New(migrateerrors.ErrorTypeSchema,
					fmt.Sprintf("table %s: primary key column %q does not exist", t.QualifiedName(), pk))
			}
			if col.Nullable {
				return migrateerrors.New(migrateerrors.ErrorTypeSchema,
					fmt.Sprintf("table %s: primary key column %q is nullable", t.QualifiedName(), pk))
			}
		}
		for _, fk := range t.ForeignKeys {
			parent, ok := src.TableByName(fk.ReferencedSchema, fk.ReferencedTable)
			if !ok {
				return migrateerrors.New(migrateerrors.ErrorTypeSchema,
					fmt.Sprintf("table %s: foreign key %q references missing table %s.%s",
						t.QualifiedName(), fk.Name, fk.ReferencedSchema, fk.ReferencedTable))
			}
			if len(fk.Columns) != len(fk.ReferencedColumns) || len(fk.Columns) == 0 {
				return migrateerrors.New(migrateerrors.ErrorTypeSchema,
					fmt.Sprintf("table %s: foreign key %q has mismatched column lists",
						t.QualifiedName(), fk.Name))
			}
			for _, c := range fk.Columns {
				if _, ok := t.Column(c); !ok {
					return migrateerrors.New(migrateerrors.ErrorTypeSchema,
						fmt.Sprintf("table %s: foreign key %q uses missing column %q",
							t.QualifiedName(), fk.Name, c))
				}
			}
			for _, c := range fk.ReferencedColumns {
				if _, ok := parent.Column(c); !ok {
					return migrateerrors.New(migrateerrors.ErrorTypeSchema,
						fmt.Sprintf("table %s: foreign key %q references missing column %s.%q",
							t.QualifiedName(), fk.Name, parent.QualifiedName(), c))
				}
			}
		}
	}
	return nil
}

// junctionTables returns the set of tables folded into relationships: a
// table with exactly two foreign keys whose primary key no other table
// references.
func junctionTables(src *SourceSchema) map[string]bool {
	referenced := map[string]bool{}
	for _, t := range src.Tables {
		for _, fk := range t.ForeignKeys {
			referenced[fk.ReferencedSchema+"."+fk.ReferencedTable] = true
		}
	}
	out := map[string]bool{}
	for _, t := range src.Tables {
		if len(t.ForeignKeys) == 2 && !referenced[t.QualifiedName()] {
			out[t.QualifiedName()] = true
		}
	}
	return out
}

func junctionPlan(src *SourceSchema, t TableSchema, relTypes map[string]string) (JunctionPlan, error) {
	relType := TableLabel(t.Schema, t.Name, src.DefaultSchema)
	if prev, ok := relTypes[relType]; ok {
		return JunctionPlan{}, migrateerrors.New(migrateerrors.ErrorTypeMapping,
			fmt.Sprintf("junction table %s collides with relationship type %q from %s",
				t.QualifiedName(), relType, prev))
	}
	relTypes[relType] = t.QualifiedName()

	ends := make([]JunctionEnd, 0, 2)
	fkCols := map[string]bool{}
	for _, fk := range t.ForeignKeys {
		parent, _ := src.TableByName(fk.ReferencedSchema, fk.ReferencedTable)
		ends = append(ends, JunctionEnd{
			Label:         TableLabel(parent.Schema, parent.Name, src.DefaultSchema),
			FKColumns:     fk.Columns,
			RefKeyColumns: fk.ReferencedColumns,
		})
		for _, c := range fk.Columns {
			fkCols[c] = true
		}
	}

	var props []string
	for _, c := range t.Columns {
		if !fkCols[c.Name] {
			props = append(props, c.Name)
		}
	}

	return JunctionPlan{
		Schema:          t.Schema,
		Table:           t.Name,
		Type:            relType,
		From:            ends[0],
		To:              ends[1],
		PropertyColumns: props,
		UseMerge:        !t.HasPrimaryKey(),
	}, nil
}

// tableConstraints derives the constraint set for one entity table: one
// Exists constraint per non-nullable column and one Unique constraint over
// the primary key.
func tableConstraints(label string, t TableSchema) []Constraint {
	var out []Constraint
	for _, c := range t.Columns {
		if !c.Nullable {
			out = append(out, Constraint{
				Kind:       ConstraintExists,
				Label:      label,
				Properties: []string{c.Name},
			})
		}
	}
	if t.HasPrimaryKey() {
		out = append(out, Constraint{
			Kind:       ConstraintUnique,
			Label:      label,
			Properties: append([]string(nil), t.PrimaryKey...),
		})
	}
	return out
}

// loadIndex picks the transient load index for a table: label plus the
// first primary-key column, or a label-only index when the table has no
// primary key.
func loadIndex(label string, t TableSchema) Index {
	if t.HasPrimaryKey() {
		return Index{Label: label, Property: t.PrimaryKey[0]}
	}
	return Index{Label: label}
}

// TableLabel maps a table to its destination label. Tables in the default
// schema keep their bare name; everything else is prefixed with the schema
// name.
func TableLabel(schemaName, name, defaultSchema string) string {
	if schemaName == defaultSchema || schemaName == "" {
		return name
	}
	return schemaName + "_" + name
}

// SortConstraints orders constraints deterministically for creation and
// comparison: by label, then kind, then property list.
func SortConstraints(cs []Constraint) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		for k := 0; k < len(a.Properties) && k < len(b.Properties); k++ {
			if a.Properties[k] != b.Properties[k] {
				return a.Properties[k] < b.Properties[k]
			}
		}
		return len(a.Properties) < len(b.Properties)
	})
}
