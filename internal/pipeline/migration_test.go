package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/destination"
	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/schema"
	"github.com/graphshift/mgmigrate/pkg/value"
)

type fakeConnector struct {
	schema      *schema.SourceSchema
	connectErrs []error
	connects    int
	closed      bool
	rows        map[string][]map[string]value.Value
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeConnector) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeConnector) IntrospectSchema(ctx context.Context) (*schema.SourceSchema, error) {
	return f.schema, nil
}

func (f *fakeConnector) StreamEntities(ctx context.Context, p schema.EntityPlan) (*graph.EntityStream, error) {
	entities := make(chan graph.Entity, 16)
	errs := make(chan error, 16)
	for _, row := range f.rows[p.Table] {
		entities <- schema.EntityFromRow(p, row)
	}
	close(entities)
	close(errs)
	return &graph.EntityStream{Entities: entities, Errors: errs}, nil
}

func (f *fakeConnector) StreamRelationships(ctx context.Context, p schema.RelationshipPlan) (*graph.RelationshipStream, error) {
	rels := make(chan graph.Relationship, 16)
	errs := make(chan error, 16)
	for _, row := range f.rows[p.ChildTable] {
		rel, ok, err := schema.RelationshipFromRow(p, row)
		if err != nil {
			errs <- err
			continue
		}
		if ok {
			rels <- rel
		}
	}
	close(rels)
	close(errs)
	return &graph.RelationshipStream{Relationships: rels, Errors: errs}, nil
}

func (f *fakeConnector) StreamJunction(ctx context.Context, p schema.JunctionPlan) (*graph.RelationshipStream, error) {
	rels := make(chan graph.Relationship, 16)
	errs := make(chan error, 16)
	for _, row := range f.rows[p.Table] {
		rel, err := schema.JunctionFromRow(p, row)
		if err != nil {
			errs <- err
			continue
		}
		rels <- rel
	}
	close(rels)
	close(errs)
	return &graph.RelationshipStream{Relationships: rels, Errors: errs}, nil
}

type fakeLoader struct {
	mu sync.Mutex

	entityLoads        int32
	entityLoadsDone    int32
	relationshipLoads  int32
	barrierViolated    atomic.Bool
	constraints        []schema.Constraint
	constraintErr      error
	indexesCreated     []schema.Index
	indexesDropped     []schema.Index
	cleanedUp          bool
	closed             bool
	entities           []graph.Entity
	relationships      []graph.Relationship
	skipRecordErrors   bool
}

func (l *fakeLoader) Connect(ctx context.Context) error { return nil }

func (l *fakeLoader) Close(ctx context.Context) error {
	l.closed = true
	return nil
}

func (l *fakeLoader) CreateConstraints(ctx context.Context, cs []schema.Constraint) (*destination.ConstraintResult, error) {
	if l.constraintErr != nil {
		return nil, l.constraintErr
	}
	l.constraints = cs
	return &destination.ConstraintResult{Created: len(cs)}, nil
}

func (l *fakeLoader) CreateIndex(ctx context.Context, idx schema.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indexesCreated = append(l.indexesCreated, idx)
	return nil
}

func (l *fakeLoader) DropIndex(ctx context.Context, idx schema.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indexesDropped = append(l.indexesDropped, idx)
	return nil
}

func (l *fakeLoader) CleanupInternalGraph(ctx context.Context) error {
	l.cleanedUp = true
	return nil
}

func (l *fakeLoader) LoadEntities(ctx context.Context, stream *graph.EntityStream) (*destination.LoadStats, error) {
	atomic.AddInt32(&l.entityLoads, 1)
	stats := &destination.LoadStats{}
	for e := range stream.Entities {
		stats.Attempted++
		stats.Written++
		l.mu.Lock()
		l.entities = append(l.entities, e)
		l.mu.Unlock()
	}
	for err := range stream.Errors {
		if l.skipRecordErrors && migrateerrors.IsType(err, migrateerrors.ErrorTypeRecord) {
			stats.Skipped++
			continue
		}
		return stats, err
	}
	atomic.AddInt32(&l.entityLoadsDone, 1)
	return stats, nil
}

func (l *fakeLoader) LoadRelationships(ctx context.Context, stream *graph.RelationshipStream, useMerge bool) (*destination.LoadStats, error) {
	// Every entity load must have finished before any relationship load
	// starts.
	if atomic.LoadInt32(&l.entityLoadsDone) != atomic.LoadInt32(&l.entityLoads) {
		l.barrierViolated.Store(true)
	}
	atomic.AddInt32(&l.relationshipLoads, 1)
	stats := &destination.LoadStats{}
	for rel := range stream.Relationships {
		stats.Attempted++
		stats.Written++
		l.mu.Lock()
		l.relationships = append(l.relationships, rel)
		l.mu.Unlock()
	}
	for err := range stream.Errors {
		if migrateerrors.IsType(err, migrateerrors.ErrorTypeRecord) {
			stats.Attempted++
			stats.Skipped++
			continue
		}
		return stats, err
	}
	return stats, nil
}

func testConfig() *config.MigrationConfig {
	cfg := config.NewMigrationConfig()
	cfg.Source.Kind = config.SourceKindPostgreSQL
	cfg.Source.Database = "imdb"
	cfg.Source.Port = 5432
	cfg.Reliability.RetryInterval = 0
	return cfg
}

func fixtureSchema() *schema.SourceSchema {
	return &schema.SourceSchema{
		DefaultSchema: "public",
		Tables: []schema.TableSchema{
			{
				Schema: "public", Name: "actors",
				Columns: []schema.ColumnSchema{
					{Name: "id", DataType: "integer", Position: 1},
					{Name: "name", DataType: "text", Position: 2},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Schema: "public", Name: "movies",
				Columns: []schema.ColumnSchema{
					{Name: "id", DataType: "integer", Position: 1},
					{Name: "title", DataType: "text", Position: 2},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Schema: "public", Name: "roles",
				Columns: []schema.ColumnSchema{
					{Name: "actor_id", DataType: "integer", Position: 1},
					{Name: "movie_id", DataType: "integer", Position: 2},
				},
				ForeignKeys: []schema.ForeignKey{
					{Name: "fk_actor", Columns: []string{"actor_id"}, ReferencedSchema: "public", ReferencedTable: "actors", ReferencedColumns: []string{"id"}},
					{Name: "fk_movie", Columns: []string{"movie_id"}, ReferencedSchema: "public", ReferencedTable: "movies", ReferencedColumns: []string{"id"}},
				},
			},
		},
	}
}

func fixtureRows() map[string][]map[string]value.Value {
	return map[string][]map[string]value.Value{
		"actors": {
			{"id": value.Int(1), "name": value.String("Christian Bale")},
			{"id": value.Int(2), "name": value.String("Michael Caine")},
		},
		"movies": {
			{"id": value.Int(10), "title": value.String("The Prestige")},
		},
		"roles": {
			{"actor_id": value.Int(1), "movie_id": value.Int(10)},
			{"actor_id": value.Int(2), "movie_id": value.Int(10)},
		},
	}
}

func TestRunReachesDone(t *testing.T) {
	connector := &fakeConnector{schema: fixtureSchema(), rows: fixtureRows()}
	loader := &fakeLoader{}
	m := NewWith(testConfig(), connector, loader)

	summary := m.Run(context.Background())
	require.NoError(t, summary.Err)
	assert.Equal(t, StateDone, summary.Phase)
	assert.Equal(t, StateDone, m.State())

	// actors and movies load as entities; roles folds into relationships.
	assert.Len(t, loader.entities, 3)
	assert.Len(t, loader.relationships, 2)
	assert.Equal(t, int64(3), summary.Entities.Written)
	assert.Equal(t, int64(2), summary.Relationships.Written)

	// 4 Exists + 2 Unique for the two entity tables.
	assert.Equal(t, 6, summary.ConstraintsCreated)

	// Transient load indexes are created and dropped again.
	assert.Len(t, loader.indexesCreated, 2)
	assert.Equal(t, loader.indexesCreated, loader.indexesDropped)

	assert.True(t, connector.closed)
	assert.True(t, loader.closed)
}

func TestRunEnforcesBarrier(t *testing.T) {
	connector := &fakeConnector{schema: fixtureSchema(), rows: fixtureRows()}
	loader := &fakeLoader{}
	cfg := testConfig()
	cfg.Performance.MaxConcurrency = 8
	m := NewWith(cfg, connector, loader)

	summary := m.Run(context.Background())
	require.NoError(t, summary.Err)
	assert.False(t, loader.barrierViolated.Load(), "relationship load started before entity phase finished")
}

func TestRunSkipsMalformedRowsAndStillSucceeds(t *testing.T) {
	rows := fixtureRows()
	// A junction row referencing nothing on one side is malformed and
	// skipped, not fatal.
	rows["roles"] = append(rows["roles"], map[string]value.Value{
		"actor_id": value.Null(), "movie_id": value.Int(10),
	})
	connector := &fakeConnector{schema: fixtureSchema(), rows: rows}
	loader := &fakeLoader{}
	m := NewWith(testConfig(), connector, loader)

	summary := m.Run(context.Background())
	require.NoError(t, summary.Err)
	assert.Equal(t, StateDone, summary.Phase)
	assert.Equal(t, int64(2), summary.Relationships.Written)
	assert.Equal(t, int64(1), summary.Relationships.Skipped)
}

func TestRunRetriesConnectionThenSucceeds(t *testing.T) {
	connector := &fakeConnector{
		schema: fixtureSchema(),
		rows:   fixtureRows(),
		connectErrs: []error{
			migrateerrors.New(migrateerrors.ErrorTypeConnection, "refused"),
			migrateerrors.New(migrateerrors.ErrorTypeConnection, "refused"),
		},
	}
	loader := &fakeLoader{}
	m := NewWith(testConfig(), connector, loader)

	summary := m.Run(context.Background())
	require.NoError(t, summary.Err)
	assert.Equal(t, 3, connector.connects)
}

func TestRunFailsAfterRetryBudget(t *testing.T) {
	connector := &fakeConnector{
		schema: fixtureSchema(),
		connectErrs: []error{
			migrateerrors.New(migrateerrors.ErrorTypeConnection, "refused"),
			migrateerrors.New(migrateerrors.ErrorTypeConnection, "refused"),
			migrateerrors.New(migrateerrors.ErrorTypeConnection, "refused"),
			migrateerrors.New(migrateerrors.ErrorTypeConnection, "refused"),
		},
	}
	loader := &fakeLoader{}
	m := NewWith(testConfig(), connector, loader)

	summary := m.Run(context.Background())
	require.Error(t, summary.Err)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, StateConnecting, summary.Phase)
	assert.True(t, connector.closed)
	assert.True(t, loader.closed)
}

func TestRunFailsOnConstraintConflict(t *testing.T) {
	connector := &fakeConnector{schema: fixtureSchema(), rows: fixtureRows()}
	loader := &fakeLoader{
		constraintErr: migrateerrors.New(migrateerrors.ErrorTypeConstraintConflict, "kind mismatch"),
	}
	m := NewWith(testConfig(), connector, loader)

	summary := m.Run(context.Background())
	require.Error(t, summary.Err)
	assert.Equal(t, StateFailed, m.State())
	// The summary names the phase that was executing when the run aborted.
	assert.Equal(t, StateCreatingConstraints, summary.Phase)
	assert.True(t, migrateerrors.IsType(summary.Err, migrateerrors.ErrorTypeConstraintConflict))
	// Failure happens before any data is written.
	assert.Empty(t, loader.entities)
}

func TestRunFailsOnMappingCollision(t *testing.T) {
	src := fixtureSchema()
	src.Tables = append(src.Tables, schema.TableSchema{
		Schema: "other", Name: "actors",
		Columns:    []schema.ColumnSchema{{Name: "id", DataType: "integer", Position: 1}},
		PrimaryKey: []string{"id"},
	}, schema.TableSchema{
		Schema: "public", Name: "other_actors",
		Columns:    []schema.ColumnSchema{{Name: "id", DataType: "integer", Position: 1}},
		PrimaryKey: []string{"id"},
	})
	connector := &fakeConnector{schema: src, rows: fixtureRows()}
	loader := &fakeLoader{}
	m := NewWith(testConfig(), connector, loader)

	summary := m.Run(context.Background())
	require.Error(t, summary.Err)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, StateMappingSchema, summary.Phase)
	assert.True(t, migrateerrors.IsType(summary.Err, migrateerrors.ErrorTypeMapping))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading_relationships", StateLoadingRelationships.String())
	assert.Equal(t, "failed", StateFailed.String())
}
