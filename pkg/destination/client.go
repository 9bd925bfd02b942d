package destination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/logger"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/retry"
	"github.com/graphshift/mgmigrate/pkg/schema"
)

// cypherRunner executes statements against the destination. The Bolt
// implementation is the only production one; splitting it from Client
// keeps the batching and bisection logic testable without a server.
type cypherRunner interface {
	Run(ctx context.Context, query string, params map[string]interface{}) error
	RunCount(ctx context.Context, query string, params map[string]interface{}) (int64, error)
	ReadRows(ctx context.Context, query string) ([][]interface{}, error)
}

// boltRunner runs each statement in its own session.
type boltRunner struct {
	driver       neo4j.DriverWithContext
	queryTimeout time.Duration
}

func (b *boltRunner) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.queryTimeout > 0 {
		return context.WithTimeout(ctx, b.queryTimeout)
	}
	return ctx, func() {}
}

func (b *boltRunner) Run(ctx context.Context, query string, params map[string]interface{}) error {
	ctx, cancel := b.statementContext(ctx)
	defer cancel()

	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

func (b *boltRunner) RunCount(ctx context.Context, query string, params map[string]interface{}) (int64, error) {
	ctx, cancel := b.statementContext(ctx)
	defer cancel()

	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	count, _ := record.Values[0].(int64)
	return count, nil
}

func (b *boltRunner) ReadRows(ctx context.Context, query string) ([][]interface{}, error) {
	ctx, cancel := b.statementContext(ctx)
	defer cancel()

	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	var rows [][]interface{}
	for result.Next(ctx) {
		rows = append(rows, result.Record().Values)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Client writes constraints, indexes, entities and relationships into the
// destination Memgraph instance. The underlying driver pools connections,
// so one Client serves all loader workers; each batch write runs in its
// own session.
type Client struct {
	cfg          config.DestinationConfig
	batchSize    int
	onUnresolved config.UnresolvedPolicy
	retryPolicy  *retry.Policy
	driver       neo4j.DriverWithContext
	runner       cypherRunner
	logger       *zap.Logger
	timeouts     config.TimeoutConfig
}

// NewClient creates an unconnected destination client.
func NewClient(cfg *config.MigrationConfig) *Client {
	return &Client{
		cfg:          cfg.Destination,
		batchSize:    cfg.Performance.BatchSize,
		onUnresolved: cfg.Reliability.OnUnresolved,
		retryPolicy: retry.NewPolicy(cfg.Reliability.MaxRetries+1,
			cfg.Reliability.RetryInterval),
		timeouts: cfg.Timeouts,
		logger:   logger.Get().With(zap.String("component", "memgraph_destination")),
	}
}

// Connect opens the Bolt driver and verifies connectivity.
func (c *Client) Connect(ctx context.Context) error {
	scheme := "bolt"
	if c.cfg.UseSSL {
		scheme = "bolt+s"
	}
	uri := fmt.Sprintf("%s://%s", scheme, c.cfg.Address())

	auth := neo4j.NoAuth()
	if c.cfg.Username != "" {
		auth = neo4j.BasicAuth(c.cfg.Username, c.cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConfig, "invalid destination connection config")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, c.timeouts.Connection)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConnection, "failed to reach destination").
			WithDetail("uri", uri)
	}

	c.driver = driver
	c.runner = &boltRunner{driver: driver, queryTimeout: c.timeouts.Query}
	c.logger.Info("connected to destination", zap.String("uri", uri))
	return nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	if c.driver != nil {
		err := c.driver.Close(ctx)
		c.driver = nil
		return err
	}
	return nil
}

// run executes one write statement.
func (c *Client) run(ctx context.Context, query string, params map[string]interface{}) error {
	return c.runner.Run(ctx, query, params)
}

// ListConstraints reads the constraints currently present in the
// destination.
func (c *Client) ListConstraints(ctx context.Context) ([]schema.Constraint, error) {
	rows, err := c.runner.ReadRows(ctx, "SHOW CONSTRAINT INFO;")
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to list destination constraints")
	}
	var out []schema.Constraint
	for _, values := range rows {
		constraint, ok, err := schema.ParseConstraintInfoRow(values)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, constraint)
		}
	}
	return out, nil
}

// ConstraintResult summarizes constraint creation.
type ConstraintResult struct {
	Created  int
	Existing int
}

// CreateConstraints issues the constraint set against the destination.
// An identical constraint that already exists is skipped. A destination
// constraint of a different kind on the same label and properties is a
// fatal conflict, unless this run intends that kind on the target as well:
// a NOT NULL primary-key column legitimately carries both an Exists and a
// Unique constraint over the same property. Creation is serialized by the
// single caller during the constraint phase.
func (c *Client) CreateConstraints(ctx context.Context, constraints []schema.Constraint) (*ConstraintResult, error) {
	existing, err := c.ListConstraints(ctx)
	if err != nil {
		return nil, err
	}

	existingKinds := map[string]map[schema.ConstraintKind]bool{}
	for _, e := range existing {
		target := constraintTarget(e)
		if existingKinds[target] == nil {
			existingKinds[target] = map[schema.ConstraintKind]bool{}
		}
		existingKinds[target][e.Kind] = true
	}
	wantedKinds := map[string]map[schema.ConstraintKind]bool{}
	for _, w := range constraints {
		target := constraintTarget(w)
		if wantedKinds[target] == nil {
			wantedKinds[target] = map[schema.ConstraintKind]bool{}
		}
		wantedKinds[target][w.Kind] = true
	}

	res := &ConstraintResult{}
	for _, constraint := range constraints {
		target := constraintTarget(constraint)
		if existingKinds[target][constraint.Kind] {
			res.Existing++
			continue
		}
		for kind := range existingKinds[target] {
			if !wantedKinds[target][kind] {
				return res, migrateerrors.New(migrateerrors.ErrorTypeConstraintConflict,
					fmt.Sprintf("destination already has a %s constraint on :%s(%s), wanted %s",
						kind, constraint.Label, strings.Join(constraint.Properties, ", "), constraint.Kind))
			}
		}

		query := ConstraintQuery(constraint)
		err := c.retryPolicy.ExecuteWithCondition(ctx, func() error {
			return c.run(ctx, query, nil)
		}, neo4j.IsConnectivityError)
		if err != nil {
			return res, migrateerrors.Wrap(err, migrateerrors.ErrorTypeBatchWrite, "failed to create constraint").
				WithDetail("constraint", query)
		}
		if existingKinds[target] == nil {
			existingKinds[target] = map[schema.ConstraintKind]bool{}
		}
		existingKinds[target][constraint.Kind] = true
		res.Created++
		c.logger.Debug("created constraint", zap.String("query", query))
	}
	return res, nil
}

// constraintTarget keys a constraint by label and ordered property list,
// ignoring the kind, so conflicting kinds on the same target collide.
func constraintTarget(c schema.Constraint) string {
	key := c.Label
	for _, p := range c.Properties {
		key += "\x00" + p
	}
	return key
}

// CreateIndex creates one index. Already-existing indexes are tolerated.
func (c *Client) CreateIndex(ctx context.Context, idx schema.Index) error {
	err := c.retryPolicy.ExecuteWithCondition(ctx, func() error {
		return c.run(ctx, IndexQuery(idx), nil)
	}, neo4j.IsConnectivityError)
	if err != nil {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeBatchWrite, "failed to create index").
			WithDetail("label", idx.Label).
			WithDetail("property", idx.Property)
	}
	return nil
}

// DropIndex drops one index.
func (c *Client) DropIndex(ctx context.Context, idx schema.Index) error {
	err := c.retryPolicy.ExecuteWithCondition(ctx, func() error {
		return c.run(ctx, DropIndexQuery(idx), nil)
	}, neo4j.IsConnectivityError)
	if err != nil {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeBatchWrite, "failed to drop index").
			WithDetail("label", idx.Label).
			WithDetail("property", idx.Property)
	}
	return nil
}

// CleanupInternalGraph removes the bridging index, label and property a
// graph-to-graph run writes during loading.
func (c *Client) CleanupInternalGraph(ctx context.Context) error {
	if err := c.DropIndex(ctx, InternalIndex()); err != nil {
		return err
	}
	for _, query := range []string{RemoveInternalPropertyQuery(), RemoveInternalLabelQuery()} {
		err := c.retryPolicy.ExecuteWithCondition(ctx, func() error {
			return c.run(ctx, query, nil)
		}, neo4j.IsConnectivityError)
		if err != nil {
			return migrateerrors.Wrap(err, migrateerrors.ErrorTypeBatchWrite, "failed to clean up bridging metadata").
				WithDetail("query", query)
		}
	}
	return nil
}
