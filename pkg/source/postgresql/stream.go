package postgresql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/graph"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/schema"
	"github.com/graphshift/mgmigrate/pkg/value"
)

// defaultStreamBufferSize is the fallback channel capacity between the row
// reader and the loader worker consuming the stream.
const defaultStreamBufferSize = 64

func streamBufferSize(perf config.PerformanceConfig) int {
	if perf.StreamBufferSize > 0 {
		return perf.StreamBufferSize
	}
	return defaultStreamBufferSize
}

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

// StreamEntities reads one table's rows in primary-key order and converts
// them into entities.
func (c *Connector) StreamEntities(ctx context.Context, p schema.EntityPlan) (*graph.EntityStream, error) {
	query := selectQuery(p.Schema, p.Table, p.Columns, orderBy(p))

	entities := make(chan graph.Entity, c.bufferSize)
	errs := make(chan error, c.bufferSize)

	go func() {
		defer close(entities)
		defer close(errs)

		rows, err := c.pool.Query(ctx, query)
		if err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read table").
				WithDetail("table", p.Schema+"."+p.Table))
			return
		}
		defer rows.Close()

		for rows.Next() {
			raw, err := rows.Values()
			if err != nil {
				sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read row values").
					WithDetail("table", p.Schema+"."+p.Table))
				return
			}
			row, err := rowMap(p.Columns, raw)
			if err != nil {
				// A row we cannot decode is skipped, not fatal.
				if !sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeRecord, "undecodable row").
					WithDetail("table", p.Schema+"."+p.Table)) {
					return
				}
				continue
			}
			select {
			case entities <- schema.EntityFromRow(p, row):
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "row stream failed").
				WithDetail("table", p.Schema+"."+p.Table))
		}
	}()

	return &graph.EntityStream{Entities: entities, Errors: errs}, nil
}

// StreamRelationships reads the referencing table's key and foreign-key
// columns and emits one relationship per row carrying a non-null reference.
func (c *Connector) StreamRelationships(ctx context.Context, p schema.RelationshipPlan) (*graph.RelationshipStream, error) {
	cols := mergeColumns(p.FromKeyColumns, p.FKColumns)
	query := selectQuery(p.ChildSchema, p.ChildTable, cols, nil)
	return c.streamRelationshipRows(ctx, query, cols, p.ChildSchema+"."+p.ChildTable,
		func(row map[string]value.Value) (graph.Relationship, bool, error) {
			return schema.RelationshipFromRow(p, row)
		})
}

// StreamJunction reads a folded junction table and emits one relationship
// per row.
func (c *Connector) StreamJunction(ctx context.Context, p schema.JunctionPlan) (*graph.RelationshipStream, error) {
	cols := mergeColumns(p.From.FKColumns, p.To.FKColumns, p.PropertyColumns)
	query := selectQuery(p.Schema, p.Table, cols, nil)
	return c.streamRelationshipRows(ctx, query, cols, p.Schema+"."+p.Table,
		func(row map[string]value.Value) (graph.Relationship, bool, error) {
			rel, err := schema.JunctionFromRow(p, row)
			if err != nil {
				return graph.Relationship{}, false, err
			}
			return rel, true, nil
		})
}

func (c *Connector) streamRelationshipRows(ctx context.Context, query string, cols []string, table string,
	convert func(map[string]value.Value) (graph.Relationship, bool, error)) (*graph.RelationshipStream, error) {

	rels := make(chan graph.Relationship, c.bufferSize)
	errs := make(chan error, c.bufferSize)

	go func() {
		defer close(rels)
		defer close(errs)

		rows, err := c.pool.Query(ctx, query)
		if err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read table").
				WithDetail("table", table))
			return
		}
		defer rows.Close()

		for rows.Next() {
			raw, err := rows.Values()
			if err != nil {
				sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read row values").
					WithDetail("table", table))
				return
			}
			row, err := rowMap(cols, raw)
			if err != nil {
				if !sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeRecord, "undecodable row").
					WithDetail("table", table)) {
					return
				}
				continue
			}
			rel, ok, err := convert(row)
			if err != nil {
				c.logger.Warn("skipping malformed row", zap.String("table", table), zap.Error(err))
				if !sendErr(ctx, errs, err) {
					return
				}
				continue
			}
			if !ok {
				continue
			}
			select {
			case rels <- rel:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "row stream failed").
				WithDetail("table", table))
		}
	}()

	return &graph.RelationshipStream{Relationships: rels, Errors: errs}, nil
}

func orderBy(p schema.EntityPlan) []string {
	if p.HasPrimaryKey {
		return p.KeyColumns
	}
	return nil
}

func selectQuery(schemaName, table string, cols, order []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	q := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(quoted, ", "), quoteIdent(schemaName), quoteIdent(table))
	if len(order) > 0 {
		ordered := make([]string, len(order))
		for i, c := range order {
			ordered[i] = quoteIdent(c)
		}
		q += " ORDER BY " + strings.Join(ordered, ", ")
	}
	return q
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func mergeColumns(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func rowMap(cols []string, raw []interface{}) (map[string]value.Value, error) {
	row := make(map[string]value.Value, len(cols))
	for i, col := range cols {
		v, err := decodeValue(raw[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		row[col] = v
	}
	return row, nil
}

// decodeValue converts a pgx-decoded Go value into the canonical value
// model. NUMERIC goes through an exact decimal before the uniform
// conversion to float64; arrays decode element-wise into lists, nesting
// for multidimensional arrays.
func decodeValue(in interface{}) (value.Value, error) {
	switch x := in.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return value.Null(), nil
		}
		if x.NaN {
			return value.Null(), fmt.Errorf("NaN numeric")
		}
		d := decimal.NewFromBigInt(x.Int, x.Exp)
		return value.Float(d.InexactFloat64()), nil
	case [16]byte:
		// uuid
		return value.String(fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])), nil
	case []interface{}:
		items := make([]value.Value, len(x))
		for i, item := range x {
			v, err := decodeValue(item)
			if err != nil {
				return value.Null(), err
			}
			items[i] = v
		}
		return value.List(items), nil
	default:
		return value.FromNative(in)
	}
}
