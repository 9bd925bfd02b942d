package destination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/value"
)

// maxSkippedDetails bounds the per-stream skip report kept in memory.
const maxSkippedDetails = 100

// LoadStats counts the outcome of one stream load.
type LoadStats struct {
	Attempted int64
	Written   int64
	Skipped   int64
	// SkippedRecords describes the first skipped records for the run
	// summary
	SkippedRecords []string
}

func (s *LoadStats) addSkipped(desc string) {
	s.Skipped++
	if len(s.SkippedRecords) < maxSkippedDetails {
		s.SkippedRecords = append(s.SkippedRecords, desc)
	}
}

// Merge folds another stream's stats into s.
func (s *LoadStats) Merge(o *LoadStats) {
	s.Attempted += o.Attempted
	s.Written += o.Written
	s.Skipped += o.Skipped
	for _, r := range o.SkippedRecords {
		if len(s.SkippedRecords) >= maxSkippedDetails {
			break
		}
		s.SkippedRecords = append(s.SkippedRecords, r)
	}
}

// LoadEntities consumes one entity stream, writing bounded batches as
// single transactions. A batch rejected by a constraint is bisected to
// isolate the offending record, which is reported and skipped while the
// rest of the batch proceeds. Record-level stream errors are skips too;
// everything else is fatal.
func (c *Client) LoadEntities(ctx context.Context, stream *graph.EntityStream) (*LoadStats, error) {
	stats := &LoadStats{}
	batches := map[string][]graph.Entity{}
	labelSets := map[string][]string{}

	entities := stream.Entities
	errs := stream.Errors

	flushAll := func() error {
		for key, batch := range batches {
			if len(batch) == 0 {
				continue
			}
			if err := c.writeEntityBatch(ctx, labelSets[key], batch, stats); err != nil {
				return err
			}
			batches[key] = batch[:0]
		}
		return nil
	}

	for entities != nil || errs != nil {
		select {
		case entity, ok := <-entities:
			if !ok {
				entities = nil
				continue
			}
			stats.Attempted++
			labels := entityLabels(entity)
			key := strings.Join(labels, "\x00")
			if _, seen := labelSets[key]; !seen {
				labelSets[key] = labels
			}
			batches[key] = append(batches[key], entity)
			if len(batches[key]) >= c.batchSize {
				if err := c.writeEntityBatch(ctx, labels, batches[key], stats); err != nil {
					return stats, err
				}
				batches[key] = batches[key][:0]
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if migrateerrors.IsType(err, migrateerrors.ErrorTypeRecord) {
				stats.Attempted++
				stats.addSkipped(err.Error())
				continue
			}
			return stats, err
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}

	if err := flushAll(); err != nil {
		return stats, err
	}
	return stats, nil
}

func entityLabels(e graph.Entity) []string {
	labels := make([]string, 0, 1+len(e.ExtraLabels))
	labels = append(labels, e.Label)
	labels = append(labels, e.ExtraLabels...)
	return labels
}

// writeEntityBatch writes one batch, bisecting on record-level rejection.
func (c *Client) writeEntityBatch(ctx context.Context, labels []string, batch []graph.Entity, stats *LoadStats) error {
	rows := make([]interface{}, len(batch))
	for i, e := range batch {
		rows[i] = map[string]interface{}{"props": nativeProps(e.Properties)}
	}

	query := EntityBatchQuery(labels)
	err := c.retryPolicy.ExecuteWithCondition(ctx, func() error {
		return c.run(ctx, query, map[string]interface{}{"rows": rows})
	}, neo4j.IsConnectivityError)
	if err == nil {
		stats.Written += int64(len(batch))
		return nil
	}

	if !isRecordLevel(err) {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeBatchWrite, "entity batch write failed").
			WithDetail("labels", strings.Join(labels, ":")).
			WithDetail("batch_size", len(batch))
	}

	if len(batch) == 1 {
		desc := fmt.Sprintf("entity %s %s: %v", batch[0].Label, batch[0].Key, err)
		c.logger.Warn("skipping rejected entity", zap.String("record", desc))
		stats.addSkipped(desc)
		return nil
	}

	// Bisect to isolate the offending record.
	mid := len(batch) / 2
	if err := c.writeEntityBatch(ctx, labels, batch[:mid], stats); err != nil {
		return err
	}
	return c.writeEntityBatch(ctx, labels, batch[mid:], stats)
}

// LoadRelationships consumes one relationship stream after the entity
// barrier. The write query returns how many rows resolved both endpoints;
// a shortfall is bisected down to the unresolved records, which are
// skipped or fatal depending on the configured policy.
func (c *Client) LoadRelationships(ctx context.Context, stream *graph.RelationshipStream, useMerge bool) (*LoadStats, error) {
	stats := &LoadStats{}
	batches := map[string][]graph.Relationship{}

	rels := stream.Relationships
	errs := stream.Errors

	for rels != nil || errs != nil {
		select {
		case rel, ok := <-rels:
			if !ok {
				rels = nil
				continue
			}
			stats.Attempted++
			key := relationshipShape(rel)
			batches[key] = append(batches[key], rel)
			if len(batches[key]) >= c.batchSize {
				if err := c.writeRelationshipBatch(ctx, batches[key], useMerge, stats); err != nil {
					return stats, err
				}
				batches[key] = batches[key][:0]
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if migrateerrors.IsType(err, migrateerrors.ErrorTypeRecord) {
				stats.Attempted++
				stats.addSkipped(err.Error())
				continue
			}
			return stats, err
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}

	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		if err := c.writeRelationshipBatch(ctx, batch, useMerge, stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// relationshipShape keys relationships that can share one batch query:
// same type, endpoint labels and key property names.
func relationshipShape(r graph.Relationship) string {
	parts := []string{r.Type, r.From.Label, r.To.Label}
	parts = append(parts, r.From.Key.Names...)
	parts = append(parts, r.To.Key.Names...)
	return strings.Join(parts, "\x00")
}

func (c *Client) writeRelationshipBatch(ctx context.Context, batch []graph.Relationship, useMerge bool, stats *LoadStats) error {
	first := batch[0]
	withProps := len(first.Properties) > 0
	query := RelationshipBatchQuery(first.Type, first.From, first.To, useMerge, withProps)

	rows := make([]interface{}, len(batch))
	for i, rel := range batch {
		row := map[string]interface{}{}
		for j, v := range rel.From.Key.Values {
			row[fmt.Sprintf("f%d", j)] = v.Native()
		}
		for j, v := range rel.To.Key.Values {
			row[fmt.Sprintf("t%d", j)] = v.Native()
		}
		if withProps {
			row["props"] = nativeProps(rel.Properties)
		}
		rows[i] = row
	}

	var created int64
	err := c.retryPolicy.ExecuteWithCondition(ctx, func() error {
		var runErr error
		created, runErr = c.runCount(ctx, query, map[string]interface{}{"rows": rows})
		return runErr
	}, neo4j.IsConnectivityError)

	if err != nil {
		if !isRecordLevel(err) {
			return migrateerrors.Wrap(err, migrateerrors.ErrorTypeBatchWrite, "relationship batch write failed").
				WithDetail("type", first.Type).
				WithDetail("batch_size", len(batch))
		}
		if len(batch) == 1 {
			desc := fmt.Sprintf("relationship %s %s -> %s: %v", first.Type, first.From.Key, first.To.Key, err)
			c.logger.Warn("skipping rejected relationship", zap.String("record", desc))
			stats.addSkipped(desc)
			return nil
		}
		mid := len(batch) / 2
		if err := c.writeRelationshipBatch(ctx, batch[:mid], useMerge, stats); err != nil {
			return err
		}
		return c.writeRelationshipBatch(ctx, batch[mid:], useMerge, stats)
	}

	if created == int64(len(batch)) {
		stats.Written += created
		return nil
	}

	// Some rows did not resolve both endpoints.
	if len(batch) == 1 {
		desc := fmt.Sprintf("relationship %s %s -> %s: endpoint not found", first.Type, first.From.Key, first.To.Key)
		if c.onUnresolved == config.UnresolvedFail {
			return migrateerrors.New(migrateerrors.ErrorTypeBatchWrite, desc)
		}
		c.logger.Warn("skipping unresolved relationship", zap.String("record", desc))
		stats.addSkipped(desc)
		return nil
	}
	mid := len(batch) / 2
	if err := c.writeRelationshipBatch(ctx, batch[:mid], useMerge, stats); err != nil {
		return err
	}
	return c.writeRelationshipBatch(ctx, batch[mid:], useMerge, stats)
}

// runCount executes one statement and returns the single count it yields.
func (c *Client) runCount(ctx context.Context, query string, params map[string]interface{}) (int64, error) {
	return c.runner.RunCount(ctx, query, params)
}

func nativeProps(props map[string]value.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v.Native()
	}
	return out
}

// isRecordLevel reports whether the destination rejected the statement
// itself, which for batch writes means some record violates a constraint.
// Connectivity failures are handled by the retry policy and never reach
// here as server errors.
func isRecordLevel(err error) bool {
	var dbErr *neo4j.Neo4jError
	return errors.As(err, &dbErr)
}
