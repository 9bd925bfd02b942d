// Package memgraph implements the graph source connector over the Bolt
// protocol. Schema introspection reads SHOW CONSTRAINT INFO and SHOW INDEX
// INFO; nodes and relationships stream straight out of MATCH queries with
// their internal ids preserved for endpoint bridging.
package memgraph

import (
	"context"
	"fmt"
	"net"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.uber.org/zap"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/logger"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/schema"
	"github.com/graphshift/mgmigrate/pkg/source"
	"github.com/graphshift/mgmigrate/pkg/value"
)

func init() {
	source.Register(config.SourceKindMemgraph, func(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) (source.Connector, error) {
		return NewConnector(cfg, timeouts, perf), nil
	})
}

const defaultStreamBufferSize = 64

// sendErr delivers a stream error, giving up once the context is
// cancelled so a departed consumer cannot block the reader.
func sendErr(ctx context.Context, errs chan<- error, err error) bool {
	select {
	case errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

// Connector reads schema metadata, nodes and relationships from a Memgraph
// instance.
type Connector struct {
	cfg        config.SourceConfig
	timeouts   config.TimeoutConfig
	bufferSize int
	driver     neo4j.DriverWithContext
	logger     *zap.Logger
}

// NewConnector creates an unconnected Memgraph connector.
func NewConnector(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) *Connector {
	bufferSize := perf.StreamBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultStreamBufferSize
	}
	return &Connector{
		cfg:        cfg,
		timeouts:   timeouts,
		bufferSize: bufferSize,
		logger:     logger.Get().With(zap.String("component", "memgraph_source")),
	}
}

// BoltURI builds the Bolt connection URI for an endpoint.
func BoltURI(host string, port int, useSSL bool) string {
	scheme := "bolt"
	if useSSL {
		scheme = "bolt+s"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprintf("%d", port)))
}

// Connect opens the Bolt driver and verifies connectivity.
func (c *Connector) Connect(ctx context.Context) error {
	uri := BoltURI(c.cfg.Host, c.cfg.Port, c.cfg.UseSSL)
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(c.cfg.Username, c.cfg.Password, ""))
	if err != nil {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConfig, "invalid Bolt connection config")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, c.timeouts.Connection)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConnection, "failed to reach Memgraph source").
			WithDetail("uri", uri)
	}

	c.driver = driver
	c.logger.Info("connected to Memgraph source", zap.String("uri", uri))
	return nil
}

// Close releases the driver.
func (c *Connector) Close(ctx context.Context) error {
	if c.driver != nil {
		err := c.driver.Close(ctx)
		c.driver = nil
		return err
	}
	return nil
}

// IntrospectSchema reads the source's own constraints and indexes, which a
// graph-to-graph run copies verbatim.
func (c *Connector) IntrospectSchema(ctx context.Context) (*schema.SourceSchema, error) {
	if c.timeouts.Query > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeouts.Query)
		defer cancel()
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	gs := &schema.GraphSchema{}

	result, err := session.Run(ctx, "SHOW CONSTRAINT INFO;", nil)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list constraints")
	}
	for result.Next(ctx) {
		record := result.Record()
		constraint, ok, err := schema.ParseConstraintInfoRow(record.Values)
		if err != nil {
			return nil, err
		}
		if ok {
			gs.Constraints = append(gs.Constraints, constraint)
		}
	}
	if err := result.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read constraint list")
	}

	result, err = session.Run(ctx, "SHOW INDEX INFO;", nil)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list indexes")
	}
	for result.Next(ctx) {
		record := result.Record()
		index, ok, err := schema.ParseIndexInfoRow(record.Values)
		if err != nil {
			return nil, err
		}
		if ok {
			gs.Indexes = append(gs.Indexes, index)
		}
	}
	if err := result.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read index list")
	}

	c.logger.Info("introspected Memgraph schema",
		zap.Int("constraints", len(gs.Constraints)),
		zap.Int("indexes", len(gs.Indexes)))
	return &schema.SourceSchema{Graph: gs}, nil
}

// StreamAllEntities reads every node. Nodes keep all their labels and gain
// the internal vertex label and id property for endpoint bridging.
func (c *Connector) StreamAllEntities(ctx context.Context) (*graph.EntityStream, error) {
	entities := make(chan graph.Entity, c.bufferSize)
	errs := make(chan error, c.bufferSize)

	go func() {
		defer close(entities)
		defer close(errs)

		session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		result, err := session.Run(ctx, "MATCH (n) RETURN n;", nil)
		if err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read nodes"))
			return
		}
		for result.Next(ctx) {
			node, ok := result.Record().Values[0].(neo4j.Node)
			if !ok {
				sendErr(ctx, errs, migrateerrors.New(migrateerrors.ErrorTypeQuery, "node query returned a non-node value"))
				return
			}
			entity, err := nodeToEntity(node)
			if err != nil {
				if !sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeRecord, "undecodable node").
					WithDetail("node_id", node.Id)) {
					return
				}
				continue
			}
			select {
			case entities <- entity:
			case <-ctx.Done():
				return
			}
		}
		if err := result.Err(); err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "node stream failed"))
		}
	}()

	return &graph.EntityStream{Entities: entities, Errors: errs}, nil
}

// StreamAllRelationships reads every relationship, with endpoints keyed by
// the internal ids written during the entity phase.
func (c *Connector) StreamAllRelationships(ctx context.Context) (*graph.RelationshipStream, error) {
	rels := make(chan graph.Relationship, c.bufferSize)
	errs := make(chan error, c.bufferSize)

	go func() {
		defer close(rels)
		defer close(errs)

		session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		result, err := session.Run(ctx, "MATCH (n)-[r]->(m) RETURN r;", nil)
		if err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read relationships"))
			return
		}
		for result.Next(ctx) {
			rel, ok := result.Record().Values[0].(neo4j.Relationship)
			if !ok {
				sendErr(ctx, errs, migrateerrors.New(migrateerrors.ErrorTypeQuery, "relationship query returned a non-relationship value"))
				return
			}
			converted, err := relationshipToRecord(rel)
			if err != nil {
				if !sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeRecord, "undecodable relationship").
					WithDetail("relationship_id", rel.Id)) {
					return
				}
				continue
			}
			select {
			case rels <- converted:
			case <-ctx.Done():
				return
			}
		}
		if err := result.Err(); err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "relationship stream failed"))
		}
	}()

	return &graph.RelationshipStream{Relationships: rels, Errors: errs}, nil
}

func nodeToEntity(node neo4j.Node) (graph.Entity, error) {
	props := make(map[string]value.Value, len(node.Props)+1)
	for k, raw := range node.Props {
		v, err := decodeBoltValue(raw)
		if err != nil {
			return graph.Entity{}, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = v
	}
	id := value.Int(node.Id)
	props[graph.InternalIDProperty] = id

	return graph.Entity{
		Label:       graph.InternalVertexLabel,
		ExtraLabels: node.Labels,
		Key:         graph.NewKey([]string{graph.InternalIDProperty}, []value.Value{id}),
		Properties:  props,
	}, nil
}

func relationshipToRecord(rel neo4j.Relationship) (graph.Relationship, error) {
	props := make(map[string]value.Value, len(rel.Props))
	for k, raw := range rel.Props {
		v, err := decodeBoltValue(raw)
		if err != nil {
			return graph.Relationship{}, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = v
	}
	return graph.Relationship{
		Type: rel.Type,
		From: graph.Endpoint{
			Label: graph.InternalVertexLabel,
			Key:   graph.NewKey([]string{graph.InternalIDProperty}, []value.Value{value.Int(rel.StartId)}),
		},
		To: graph.Endpoint{
			Label: graph.InternalVertexLabel,
			Key:   graph.NewKey([]string{graph.InternalIDProperty}, []value.Value{value.Int(rel.EndId)}),
		},
		Properties: props,
	}, nil
}

// decodeBoltValue converts a Bolt-decoded Go value into the canonical
// value model. Temporal types collapse onto DateTime.
func decodeBoltValue(in interface{}) (value.Value, error) {
	switch x := in.(type) {
	case dbtype.Date:
		return value.DateTime(x.Time()), nil
	case dbtype.LocalDateTime:
		return value.DateTime(x.Time()), nil
	case dbtype.LocalTime:
		return value.DateTime(x.Time()), nil
	case dbtype.Time:
		return value.DateTime(x.Time()), nil
	default:
		return value.FromNative(in)
	}
}
