// Package source defines the connector contract implemented by each
// supported source database and a registry that creates connectors by
// kind.
//
// Concrete connectors live in subpackages and register themselves from
// init, so a blank import in the binary is enough to make a source kind
// available.
package source

import (
	"context"

	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/schema"
)

// Connector is the capability shared by all source kinds: connection
// lifecycle plus schema introspection.
type Connector interface {
	// Connect establishes the connection and verifies it with a ping.
	Connect(ctx context.Context) error
	// IntrospectSchema reads the source's schema metadata.
	IntrospectSchema(ctx context.Context) (*schema.SourceSchema, error)
	// Close releases the connection. Safe to call after a failed Connect.
	Close(ctx context.Context) error
}

// RelationalConnector streams table contents according to the mapped plan.
// Streams are finite and single-pass; both channels close when the stream
// ends.
type RelationalConnector interface {
	Connector
	// StreamEntities reads one table's rows as entities.
	StreamEntities(ctx context.Context, p schema.EntityPlan) (*graph.EntityStream, error)
	// StreamRelationships reads a referencing table's rows as the
	// relationships derived from one foreign key.
	StreamRelationships(ctx context.Context, p schema.RelationshipPlan) (*graph.RelationshipStream, error)
	// StreamJunction reads a folded junction table's rows as relationships.
	StreamJunction(ctx context.Context, p schema.JunctionPlan) (*graph.RelationshipStream, error)
}

// GraphConnector streams a graph source's nodes and edges directly. Nodes
// carry the internal vertex label and id property so the loader can bridge
// relationships before cleanup.
type GraphConnector interface {
	Connector
	StreamAllEntities(ctx context.Context) (*graph.EntityStream, error)
	StreamAllRelationships(ctx context.Context) (*graph.RelationshipStream, error)
}
