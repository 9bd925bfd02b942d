// Package graph defines the property-graph records flowing from source
// connectors to the destination loader.
package graph

import (
	"strings"

	"github.com/graphshift/mgmigrate/pkg/value"
)

// Key identifies an entity by an ordered list of property names and their
// values. The order follows the source primary-key declaration, so composite
// keys compare and render deterministically.
type Key struct {
	Names  []string
	Values []value.Value
}

// NewKey builds a key from parallel name and value slices.
func NewKey(names []string, values []value.Value) Key {
	return Key{Names: names, Values: values}
}

// Map returns the key as property name to value pairs.
func (k Key) Map() map[string]value.Value {
	m := make(map[string]value.Value, len(k.Names))
	for i, name := range k.Names {
		m[name] = k.Values[i]
	}
	return m
}

// HasNull reports whether any key value is null. Entities and endpoints
// with null key parts cannot be matched in the destination.
func (k Key) HasNull() bool {
	for _, v := range k.Values {
		if v.IsNull() {
			return true
		}
	}
	return false
}

// String renders the key for logs and skip reports.
func (k Key) String() string {
	parts := make([]string, len(k.Names))
	for i, name := range k.Names {
		parts[i] = name + "=" + k.Values[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Entity is one destination node. Label carries the mapped label; extra
// labels only occur for graph-to-graph migration, where source nodes keep
// all their labels.
type Entity struct {
	Label       string
	ExtraLabels []string
	Key         Key
	Properties  map[string]value.Value
}

// Endpoint names one end of a relationship: the label to match and the key
// properties identifying the node.
type Endpoint struct {
	Label string
	Key   Key
}

// Relationship is one destination edge between two endpoint keys.
type Relationship struct {
	Type       string
	From       Endpoint
	To         Endpoint
	Properties map[string]value.Value
}

// EntityStream is a channel-based stream of entities produced by a source
// connector. Both channels are closed by the producer when the stream ends.
type EntityStream struct {
	Entities <-chan Entity
	Errors   <-chan error
}

// RelationshipStream is a channel-based stream of relationships.
type RelationshipStream struct {
	Relationships <-chan Relationship
	Errors        <-chan error
}

// Internal label and property used to bridge graph-to-graph migration.
// Source nodes are written with this extra label and their source-internal
// id, relationships are matched through them, and both are removed once
// loading finishes.
const (
	InternalVertexLabel = "__mg_vertex__"
	InternalIDProperty  = "__mg_id__"
)
