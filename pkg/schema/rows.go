package schema

import (
	"fmt"

	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/value"
)

// EntityFromRow converts one source row into a destination entity. Key
// columns are stored as regular properties too, so destination queries can
// filter on them.
func EntityFromRow(p EntityPlan, row map[string]value.Value) graph.Entity {
	keyValues := make([]value.Value, len(p.KeyColumns))
	for i, col := range p.KeyColumns {
		keyValues[i] = row[col]
	}
	props := make(map[string]value.Value, len(p.Columns))
	for _, col := range p.Columns {
		if v, ok := row[col]; ok {
			props[col] = v
		}
	}
	return graph.Entity{
		Label:      p.Label,
		Key:        graph.NewKey(append([]string(nil), p.KeyColumns...), keyValues),
		Properties: props,
	}
}

// RelationshipFromRow converts one child-table row into the relationship
// derived from a foreign key. The second return is false when the row
// produces no relationship because every referencing column is null. A
// composite reference with only some columns null is malformed and yields
// a record error.
func RelationshipFromRow(p RelationshipPlan, row map[string]value.Value) (graph.Relationship, bool, error) {
	toValues, ok, err := referenceValues(p.FKColumns, row)
	if err != nil {
		return graph.Relationship{}, false, recordErr(p.ChildSchema, p.ChildTable, p.FKColumns, err)
	}
	if !ok {
		return graph.Relationship{}, false, nil
	}

	fromValues := make([]value.Value, len(p.FromKeyColumns))
	for i, col := range p.FromKeyColumns {
		fromValues[i] = row[col]
	}

	return graph.Relationship{
		Type: p.Type,
		From: graph.Endpoint{
			Label: p.FromLabel,
			Key:   graph.NewKey(append([]string(nil), p.FromKeyColumns...), fromValues),
		},
		To: graph.Endpoint{
			Label: p.ToLabel,
			Key:   graph.NewKey(append([]string(nil), p.ToKeyColumns...), toValues),
		},
	}, true, nil
}

// JunctionFromRow converts one junction-table row into its relationship.
// Unlike foreign-key rows, a null reference on either side is malformed
// rather than absent, since the row exists only to connect two entities.
func JunctionFromRow(p JunctionPlan, row map[string]value.Value) (graph.Relationship, error) {
	fromValues, ok, err := referenceValues(p.From.FKColumns, row)
	if err != nil || !ok {
		return graph.Relationship{}, recordErr(p.Schema, p.Table, p.From.FKColumns, err)
	}
	toValues, ok, err := referenceValues(p.To.FKColumns, row)
	if err != nil || !ok {
		return graph.Relationship{}, recordErr(p.Schema, p.Table, p.To.FKColumns, err)
	}

	props := make(map[string]value.Value, len(p.PropertyColumns))
	for _, col := range p.PropertyColumns {
		if v, ok := row[col]; ok {
			props[col] = v
		}
	}

	return graph.Relationship{
		Type: p.Type,
		From: graph.Endpoint{
			Label: p.From.Label,
			Key:   graph.NewKey(append([]string(nil), p.From.RefKeyColumns...), fromValues),
		},
		To: graph.Endpoint{
			Label: p.To.Label,
			Key:   graph.NewKey(append([]string(nil), p.To.RefKeyColumns...), toValues),
		},
		Properties: props,
	}, nil
}

// referenceValues extracts the values of a referencing column set. All
// null means no reference; a mix of null and non-null is malformed.
func referenceValues(cols []string, row map[string]value.Value) ([]value.Value, bool, error) {
	values := make([]value.Value, len(cols))
	nulls := 0
	for i, col := range cols {
		values[i] = row[col]
		if values[i].IsNull() {
			nulls++
		}
	}
	if nulls == len(cols) {
		return nil, false, nil
	}
	if nulls > 0 {
		return nil, false, fmt.Errorf("partially null composite reference")
	}
	return values, true, nil
}

func recordErr(schemaName, table string, cols []string, cause error) error {
	msg := fmt.Sprintf("table %s.%s: malformed reference over columns %v", schemaName, table, cols)
	if cause != nil {
		return migrateerrors.Wrap(cause, migrateerrors.ErrorTypeRecord, msg)
	}
	return migrateerrors.New(migrateerrors.ErrorTypeRecord, msg)
}
