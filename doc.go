// Package mgmigrate migrates relational and graph databases into Memgraph.
//
// The mg_migrate binary connects to a PostgreSQL, MySQL or Memgraph source,
// introspects its schema, translates it into labels, relationship types and
// integrity constraints, and bulk-loads the contents into a destination
// Memgraph instance in two ordered phases: all entities first, then all
// relationships.
//
// # Architecture
//
// The pipeline is assembled from small packages:
//
//   - pkg/value: the canonical property value model shared by every source
//     and the destination.
//   - pkg/schema: source schema metadata and the pure translation into a
//     destination graph plan plus the constraint set.
//   - pkg/source: the connector contract and registry, with one
//     implementation per source kind under pkg/source/postgresql,
//     pkg/source/mysql and pkg/source/memgraph.
//   - pkg/destination: the Memgraph loader, including constraint and index
//     management and batched writes with bisection on rejected batches.
//   - internal/pipeline: the orchestrator state machine running per-table
//     workers with a global barrier between the two data phases.
package mgmigrate
