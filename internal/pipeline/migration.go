package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/destination"
	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/logger"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/retry"
	"github.com/graphshift/mgmigrate/pkg/schema"
	"github.com/graphshift/mgmigrate/pkg/source"
)

// Summary reports the outcome of one run: the phase the run reached,
// per-phase counts, the skipped-record list and the first fatal error if
// any. On failure, Phase names the phase that was executing when the run
// aborted, not the Failed state itself.
type Summary struct {
	Phase              State
	ConstraintsCreated int
	ConstraintsExisted int
	Entities           destination.LoadStats
	Relationships      destination.LoadStats
	Err                error
}

// Loader is the destination surface the orchestrator drives. Satisfied by
// destination.Client; a test double stands in for it in unit tests.
type Loader interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	CreateConstraints(ctx context.Context, constraints []schema.Constraint) (*destination.ConstraintResult, error)
	CreateIndex(ctx context.Context, idx schema.Index) error
	DropIndex(ctx context.Context, idx schema.Index) error
	CleanupInternalGraph(ctx context.Context) error
	LoadEntities(ctx context.Context, stream *graph.EntityStream) (*destination.LoadStats, error)
	LoadRelationships(ctx context.Context, stream *graph.RelationshipStream, useMerge bool) (*destination.LoadStats, error)
}

// Migration runs one end-to-end migration.
type Migration struct {
	cfg       *config.MigrationConfig
	connector source.Connector
	loader    Loader
	logger    *zap.Logger

	state atomic.Int32

	mu      sync.Mutex
	summary Summary
}

// New builds a migration from configuration, creating the connector for
// the configured source kind and a destination client.
func New(cfg *config.MigrationConfig) (*Migration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connector, err := source.NewConnector(cfg.Source, cfg.Timeouts, cfg.Performance)
	if err != nil {
		return nil, err
	}
	return NewWith(cfg, connector, destination.NewClient(cfg)), nil
}

// NewWith builds a migration from explicit collaborators.
func NewWith(cfg *config.MigrationConfig, connector source.Connector, loader Loader) *Migration {
	return &Migration{
		cfg:       cfg,
		connector: connector,
		loader:    loader,
		logger:    logger.Get().With(zap.String("component", "orchestrator")),
	}
}

// State returns the current phase.
func (m *Migration) State() State {
	return State(m.state.Load())
}

func (m *Migration) setState(s State) {
	m.state.Store(int32(s))
	m.logger.Info("entering phase", zap.String("phase", s.String()))
}

// Run executes the migration and always returns a summary; a non-nil
// Summary.Err means the run ended in the Failed state. Connections are
// closed on every exit path. Destination writes are not rolled back.
func (m *Migration) Run(ctx context.Context) *Summary {
	defer func() {
		closeCtx := context.Background()
		err := multierr.Append(m.connector.Close(closeCtx), m.loader.Close(closeCtx))
		if err != nil {
			m.logger.Warn("close failed", zap.Error(err))
		}
	}()

	fail := func(err error) *Summary {
		reached := m.State()
		m.setState(StateFailed)
		m.mu.Lock()
		defer m.mu.Unlock()
		m.summary.Phase = reached
		if m.summary.Err == nil {
			m.summary.Err = err
		}
		return &m.summary
	}

	m.setState(StateConnecting)
	connectPolicy := retry.NewPolicy(m.cfg.Reliability.MaxRetries+1, m.cfg.Reliability.RetryInterval)
	if err := connectPolicy.ExecuteWithCondition(ctx, func() error {
		return m.connector.Connect(ctx)
	}, migrateerrors.IsRetryable); err != nil {
		return fail(err)
	}
	if err := connectPolicy.ExecuteWithCondition(ctx, func() error {
		return m.loader.Connect(ctx)
	}, migrateerrors.IsRetryable); err != nil {
		return fail(err)
	}

	m.setState(StateIntrospectingSchema)
	src, err := m.connector.IntrospectSchema(ctx)
	if err != nil {
		return fail(err)
	}

	m.setState(StateMappingSchema)
	plan, constraints, err := schema.Map(src)
	if err != nil {
		return fail(err)
	}

	// Constraint creation is single-writer before the workers fan out.
	m.setState(StateCreatingConstraints)
	res, err := m.loader.CreateConstraints(ctx, constraints)
	if err != nil {
		return fail(err)
	}
	m.mu.Lock()
	m.summary.ConstraintsCreated = res.Created
	m.summary.ConstraintsExisted = res.Existing
	m.mu.Unlock()

	if err := m.createLoadIndexes(ctx, plan); err != nil {
		return fail(err)
	}

	m.setState(StateLoadingEntities)
	if err := m.loadEntities(ctx, plan); err != nil {
		return fail(err)
	}

	// The errgroup wait inside loadEntities is the global barrier: no
	// relationship write can start before every entity batch committed.
	m.setState(StateLoadingRelationships)
	if err := m.loadRelationships(ctx, plan); err != nil {
		return fail(err)
	}

	if err := m.dropLoadIndexes(ctx, plan); err != nil {
		return fail(err)
	}

	m.setState(StateDone)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary.Phase = StateDone
	return &m.summary
}

// createLoadIndexes creates the transient per-label indexes that speed up
// endpoint matching, plus any indexes migrated from a graph source.
func (m *Migration) createLoadIndexes(ctx context.Context, plan *schema.Plan) error {
	if plan.IsGraph {
		if err := m.loader.CreateIndex(ctx, destination.InternalIndex()); err != nil {
			return err
		}
		for _, idx := range plan.Indexes {
			if err := m.loader.CreateIndex(ctx, idx); err != nil {
				return err
			}
		}
		return nil
	}
	for _, ep := range plan.Entities {
		if err := m.loader.CreateIndex(ctx, ep.LoadIndex); err != nil {
			return err
		}
	}
	return nil
}

// dropLoadIndexes removes the transient indexes once relationships are
// loaded. Graph runs also strip the bridging label and id property.
func (m *Migration) dropLoadIndexes(ctx context.Context, plan *schema.Plan) error {
	if plan.IsGraph {
		return m.loader.CleanupInternalGraph(ctx)
	}
	for _, ep := range plan.Entities {
		if err := m.loader.DropIndex(ctx, ep.LoadIndex); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration) loadEntities(ctx context.Context, plan *schema.Plan) error {
	if plan.IsGraph {
		gc, ok := m.connector.(source.GraphConnector)
		if !ok {
			return migrateerrors.New(migrateerrors.ErrorTypeInternal, "graph plan with non-graph connector")
		}
		stream, err := gc.StreamAllEntities(ctx)
		if err != nil {
			return err
		}
		stats, err := m.loader.LoadEntities(ctx, stream)
		m.mergeEntityStats(stats)
		return err
	}

	rc, ok := m.connector.(source.RelationalConnector)
	if !ok {
		return migrateerrors.New(migrateerrors.ErrorTypeInternal, "relational plan with non-relational connector")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Performance.MaxConcurrency)
	for _, ep := range plan.Entities {
		ep := ep
		g.Go(func() error {
			stream, err := rc.StreamEntities(gctx, ep)
			if err != nil {
				return err
			}
			stats, err := m.loader.LoadEntities(gctx, stream)
			m.mergeEntityStats(stats)
			if err != nil {
				m.logger.Error("entity load failed",
					zap.String("table", ep.Schema+"."+ep.Table), zap.Error(err))
			}
			return err
		})
	}
	return g.Wait()
}

func (m *Migration) loadRelationships(ctx context.Context, plan *schema.Plan) error {
	if plan.IsGraph {
		gc := m.connector.(source.GraphConnector)
		stream, err := gc.StreamAllRelationships(ctx)
		if err != nil {
			return err
		}
		stats, err := m.loader.LoadRelationships(ctx, stream, false)
		m.mergeRelationshipStats(stats)
		return err
	}

	rc := m.connector.(source.RelationalConnector)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Performance.MaxConcurrency)

	for _, rp := range plan.Relationships {
		rp := rp
		g.Go(func() error {
			stream, err := rc.StreamRelationships(gctx, rp)
			if err != nil {
				return err
			}
			stats, err := m.loader.LoadRelationships(gctx, stream, rp.UseMerge)
			m.mergeRelationshipStats(stats)
			if err != nil {
				m.logger.Error("relationship load failed",
					zap.String("type", rp.Type), zap.Error(err))
			}
			return err
		})
	}
	for _, jp := range plan.Junctions {
		jp := jp
		g.Go(func() error {
			stream, err := rc.StreamJunction(gctx, jp)
			if err != nil {
				return err
			}
			stats, err := m.loader.LoadRelationships(gctx, stream, jp.UseMerge)
			m.mergeRelationshipStats(stats)
			if err != nil {
				m.logger.Error("junction load failed",
					zap.String("type", jp.Type), zap.Error(err))
			}
			return err
		})
	}
	return g.Wait()
}

func (m *Migration) mergeEntityStats(stats *destination.LoadStats) {
	if stats == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary.Entities.Merge(stats)
}

func (m *Migration) mergeRelationshipStats(stats *destination.LoadStats) {
	if stats == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary.Relationships.Merge(stats)
}
