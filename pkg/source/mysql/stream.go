package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

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
	query := selectQuery(p.Table, p.Columns, orderBy(p))

	entities := make(chan graph.Entity, c.bufferSize)
	errs := make(chan error, c.bufferSize)

	go func() {
		defer close(entities)
		defer close(errs)
		c.scanRows(ctx, query, p.Columns, p.Table, errs, func(row map[string]value.Value) bool {
			select {
			case entities <- schema.EntityFromRow(p, row):
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return &graph.EntityStream{Entities: entities, Errors: errs}, nil
}

// StreamRelationships reads the referencing table's key and foreign-key
// columns and emits one relationship per row carrying a non-null reference.
func (c *Connector) StreamRelationships(ctx context.Context, p schema.RelationshipPlan) (*graph.RelationshipStream, error) {
	cols := mergeColumns(p.FromKeyColumns, p.FKColumns)
	return c.streamRelationshipRows(ctx, selectQuery(p.ChildTable, cols, nil), cols, p.ChildTable,
		func(row map[string]value.Value) (graph.Relationship, bool, error) {
			return schema.RelationshipFromRow(p, row)
		})
}

// StreamJunction reads a folded junction table and emits one relationship
// per row.
func (c *Connector) StreamJunction(ctx context.Context, p schema.JunctionPlan) (*graph.RelationshipStream, error) {
	cols := mergeColumns(p.From.FKColumns, p.To.FKColumns, p.PropertyColumns)
	return c.streamRelationshipRows(ctx, selectQuery(p.Table, cols, nil), cols, p.Table,
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
		c.scanRows(ctx, query, cols, table, errs, func(row map[string]value.Value) bool {
			rel, ok, err := convert(row)
			if err != nil {
				c.logger.Warn("skipping malformed row", zap.String("table", table), zap.Error(err))
				return sendErr(ctx, errs, err)
			}
			if !ok {
				return true
			}
			select {
			case rels <- rel:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return &graph.RelationshipStream{Relationships: rels, Errors: errs}, nil
}

// scanRows runs the query and feeds each decoded row to emit until the
// stream ends or emit reports cancellation.
func (c *Connector) scanRows(ctx context.Context, query string, cols []string, table string,
	errs chan<- error, emit func(map[string]value.Value) bool) {

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read table").
			WithDetail("table", table))
		return
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to read column types").
			WithDetail("table", table))
		return
	}

	raw := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "failed to scan row").
				WithDetail("table", table))
			return
		}
		row := make(map[string]value.Value, len(cols))
		decodeErr := false
		for i, col := range cols {
			v, err := decodeValue(raw[i], types[i])
			if err != nil {
				if !sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeRecord, "undecodable row").
					WithDetail("table", table).
					WithDetail("column", col)) {
					return
				}
				decodeErr = true
				break
			}
			row[col] = v
		}
		if decodeErr {
			continue
		}
		if !emit(row) {
			return
		}
	}
	if err := rows.Err(); err != nil {
		sendErr(ctx, errs, migrateerrors.Wrap(err, migrateerrors.ErrorTypeQuery, "row stream failed").
			WithDetail("table", table))
	}
}

func orderBy(p schema.EntityPlan) []string {
	if p.HasPrimaryKey {
		return p.KeyColumns
	}
	return nil
}

func selectQuery(table string, cols, order []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(table))
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
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
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

// decodeValue converts a driver value into the canonical value model. The
// text protocol delivers most types as byte slices, so the declared column
// type drives the decoding. DECIMAL goes through an exact decimal before
// the uniform conversion to float64.
func decodeValue(in interface{}, ct *sql.ColumnType) (value.Value, error) {
	if in == nil {
		return value.Null(), nil
	}

	switch x := in.(type) {
	case int64:
		return value.Int(x), nil
	case float64:
		return value.Float(x), nil
	case time.Time:
		return value.DateTime(x), nil
	case bool:
		return value.Bool(x), nil
	case string:
		return decodeText(x, ct.DatabaseTypeName())
	case []byte:
		return decodeText(string(x), ct.DatabaseTypeName())
	default:
		return value.FromNative(in)
	}
}

func decodeText(s, typeName string) (value.Value, error) {
	switch typeName {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value.Null(), fmt.Errorf("bad integer %q: %w", s, err)
		}
		return value.Int(i), nil
	case "UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT":
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return value.Null(), fmt.Errorf("bad unsigned integer %q: %w", s, err)
		}
		// The destination has no unsigned integer, so values past the
		// signed range cannot be represented without silently wrapping.
		if u > math.MaxInt64 {
			return value.Null(), fmt.Errorf("unsigned integer %q exceeds the representable range", s)
		}
		return value.Int(int64(u)), nil
	case "FLOAT", "DOUBLE":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value.Null(), fmt.Errorf("bad float %q: %w", s, err)
		}
		return value.Float(f), nil
	case "DECIMAL":
		d, err := decimal.NewFromString(s)
		if err != nil {
			return value.Null(), fmt.Errorf("bad decimal %q: %w", s, err)
		}
		return value.Float(d.InexactFloat64()), nil
	case "BIT":
		var n int64
		for _, b := range []byte(s) {
			n = n<<8 | int64(b)
		}
		return value.Int(n), nil
	default:
		return value.String(s), nil
	}
}
