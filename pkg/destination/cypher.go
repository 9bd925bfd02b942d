// Package destination implements the Memgraph loader: constraint and index
// management plus batched entity and relationship writes over Bolt.
package destination

import (
	"fmt"
	"strings"

	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/schema"
)

// EscapeName quotes an identifier for use as a label, relationship type or
// property name. Backticks inside the name are doubled.
func EscapeName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ConstraintQuery renders the creation statement for one constraint.
func ConstraintQuery(c schema.Constraint) string {
	switch c.Kind {
	case schema.ConstraintExists:
		return fmt.Sprintf("CREATE CONSTRAINT ON (u:%s) ASSERT EXISTS (u.%s);",
			EscapeName(c.Label), EscapeName(c.Properties[0]))
	case schema.ConstraintUnique:
		props := make([]string, len(c.Properties))
		for i, p := range c.Properties {
			props[i] = "u." + EscapeName(p)
		}
		return fmt.Sprintf("CREATE CONSTRAINT ON (u:%s) ASSERT %s IS UNIQUE;",
			EscapeName(c.Label), strings.Join(props, ", "))
	default:
		return ""
	}
}

// IndexQuery renders the creation statement for a label or label+property
// index.
func IndexQuery(idx schema.Index) string {
	if idx.Property == "" {
		return fmt.Sprintf("CREATE INDEX ON :%s;", EscapeName(idx.Label))
	}
	return fmt.Sprintf("CREATE INDEX ON :%s(%s);", EscapeName(idx.Label), EscapeName(idx.Property))
}

// DropIndexQuery renders the drop statement for an index.
func DropIndexQuery(idx schema.Index) string {
	if idx.Property == "" {
		return fmt.Sprintf("DROP INDEX ON :%s;", EscapeName(idx.Label))
	}
	return fmt.Sprintf("DROP INDEX ON :%s(%s);", EscapeName(idx.Label), EscapeName(idx.Property))
}

// EntityBatchQuery renders the batched node insert for one label set. Rows
// arrive as a $rows parameter of maps with a props entry.
func EntityBatchQuery(labels []string) string {
	escaped := make([]string, len(labels))
	for i, l := range labels {
		escaped[i] = EscapeName(l)
	}
	return fmt.Sprintf("UNWIND $rows AS row CREATE (u:%s) SET u = row.props;",
		strings.Join(escaped, ":"))
}

// RelationshipBatchQuery renders the batched edge insert for one
// relationship shape. Endpoint key values arrive flattened as row.f0..fN
// and row.t0..tN so property names never appear inside parameter paths.
// The returned count tells the caller how many rows resolved both
// endpoints.
func RelationshipBatchQuery(relType string, from, to graph.Endpoint, useMerge bool, withProps bool) string {
	var b strings.Builder
	b.WriteString("UNWIND $rows AS row MATCH (a:")
	b.WriteString(EscapeName(from.Label))
	b.WriteString("), (b:")
	b.WriteString(EscapeName(to.Label))
	b.WriteString(") WHERE ")

	var conds []string
	for i, name := range from.Key.Names {
		conds = append(conds, fmt.Sprintf("a.%s = row.f%d", EscapeName(name), i))
	}
	for i, name := range to.Key.Names {
		conds = append(conds, fmt.Sprintf("b.%s = row.t%d", EscapeName(name), i))
	}
	b.WriteString(strings.Join(conds, " AND "))

	verb := "CREATE"
	if useMerge {
		verb = "MERGE"
	}
	b.WriteString(fmt.Sprintf(" %s (a)-[r:%s]->(b)", verb, EscapeName(relType)))
	if withProps {
		b.WriteString(" SET r = row.props")
	}
	b.WriteString(" RETURN count(r) AS created;")
	return b.String()
}

// RemoveInternalLabelQuery strips the bridging label written during
// graph-to-graph entity load.
func RemoveInternalLabelQuery() string {
	return fmt.Sprintf("MATCH (u:%s) REMOVE u:%s;",
		EscapeName(graph.InternalVertexLabel), EscapeName(graph.InternalVertexLabel))
}

// RemoveInternalPropertyQuery strips the bridging id property.
func RemoveInternalPropertyQuery() string {
	return fmt.Sprintf("MATCH (u) REMOVE u.%s;", EscapeName(graph.InternalIDProperty))
}

// InternalIndex is the transient index used to resolve endpoints during a
// graph-to-graph run.
func InternalIndex() schema.Index {
	return schema.Index{Label: graph.InternalVertexLabel, Property: graph.InternalIDProperty}
}
