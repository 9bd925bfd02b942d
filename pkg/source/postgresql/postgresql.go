// Package postgresql implements the PostgreSQL source connector on top of
// pgx connection pools. Schema introspection reads the information_schema
// catalog; table contents stream through pooled queries in primary-key
// order.
package postgresql

import (
	"context"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/logger"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/schema"
	"github.com/graphshift/mgmigrate/pkg/source"
)

func init() {
	source.Register(config.SourceKindPostgreSQL, func(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) (source.Connector, error) {
		return NewConnector(cfg, timeouts, perf), nil
	})
}

// Connector reads schema and rows from a PostgreSQL database.
type Connector struct {
	cfg        config.SourceConfig
	timeouts   config.TimeoutConfig
	bufferSize int
	pool       *pgxpool.Pool
	logger     *zap.Logger
}

// NewConnector creates an unconnected PostgreSQL connector.
func NewConnector(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) *Connector {
	return &Connector{
		cfg:        cfg,
		timeouts:   timeouts,
		bufferSize: streamBufferSize(perf),
		logger:     logger.Get().With(zap.String("component", "postgresql_source")),
	}
}

// Connect opens the connection pool and verifies it with a ping.
func (c *Connector) Connect(ctx context.Context) error {
	sslMode := "disable"
	if c.cfg.UseSSL {
		sslMode = "require"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.cfg.Username, c.cfg.Password,
		net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port)),
		c.cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConfig, "invalid PostgreSQL connection config")
	}
	poolCfg.ConnConfig.ConnectTimeout = c.timeouts.Connection

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConnection, "failed to create PostgreSQL pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConnection, "failed to ping PostgreSQL").
			WithDetail("host", c.cfg.Host).
			WithDetail("database", c.cfg.Database)
	}

	c.pool = pool
	c.logger.Info("connected to PostgreSQL source",
		zap.String("host", c.cfg.Host),
		zap.String("database", c.cfg.Database))
	return nil
}

// Close releases the pool.
func (c *Connector) Close(ctx context.Context) error {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

const (
	tablesQuery = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_schema, table_name`

	columnsQuery = `
		SELECT table_schema, table_name, column_name, data_type,
		       is_nullable = 'YES', ordinal_position
		FROM information_schema.columns
		WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_schema, table_name, ordinal_position`

	primaryKeysQuery = `
		SELECT tc.table_schema, tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = tc.constraint_schema
		 AND kcu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY tc.table_schema, tc.table_name, kcu.ordinal_position`

	foreignKeysQuery = `
		SELECT rc.constraint_schema, rc.constraint_name,
		       kcu.table_schema, kcu.table_name, kcu.column_name,
		       rkcu.table_schema, rkcu.table_name, rkcu.column_name
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = rc.constraint_schema
		 AND kcu.constraint_name = rc.constraint_name
		JOIN information_schema.key_column_usage rkcu
		  ON rkcu.constraint_schema = rc.unique_constraint_schema
		 AND rkcu.constraint_name = rc.unique_constraint_name
		 AND rkcu.ordinal_position = kcu.position_in_unique_constraint
		WHERE kcu.table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY rc.constraint_schema, rc.constraint_name, kcu.ordinal_position`
)

// IntrospectSchema reads tables, columns, primary keys and foreign keys
// from the catalog inside one repeatable-read transaction so the metadata
// forms a consistent snapshot.
func (c *Connector) IntrospectSchema(ctx context.Context) (*schema.SourceSchema, error) {
	if c.timeouts.Query > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeouts.Query)
		defer cancel()
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeConnection, "failed to begin introspection transaction")
	}
	defer tx.Rollback(ctx)

	tables := map[string]*schema.TableSchema{}
	var order []string

	rows, err := tx.Query(ctx, tablesQuery)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list tables")
	}
	for rows.Next() {
		var schemaName, name string
		if err := rows.Scan(&schemaName, &name); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan table row")
		}
		key := schemaName + "." + name
		tables[key] = &schema.TableSchema{Schema: schemaName, Name: name}
		order = append(order, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read table list")
	}

	rows, err = tx.Query(ctx, columnsQuery)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list columns")
	}
	for rows.Next() {
		var schemaName, tableName, colName, dataType string
		var nullable bool
		var position int
		if err := rows.Scan(&schemaName, &tableName, &colName, &dataType, &nullable, &position); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan column row")
		}
		if t, ok := tables[schemaName+"."+tableName]; ok {
			t.Columns = append(t.Columns, schema.ColumnSchema{
				Name:     colName,
				DataType: dataType,
				Nullable: nullable,
				Position: position,
			})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read column list")
	}

	rows, err = tx.Query(ctx, primaryKeysQuery)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list primary keys")
	}
	for rows.Next() {
		var schemaName, tableName, colName string
		if err := rows.Scan(&schemaName, &tableName, &colName); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan primary key row")
		}
		if t, ok := tables[schemaName+"."+tableName]; ok {
			t.PrimaryKey = append(t.PrimaryKey, colName)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read primary key list")
	}

	rows, err = tx.Query(ctx, foreignKeysQuery)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list foreign keys")
	}
	fks := map[string]*schema.ForeignKey{}
	fkTable := map[string]string{}
	var fkOrder []string
	for rows.Next() {
		var conSchema, conName string
		var childSchema, childTable, childCol string
		var parentSchema, parentTable, parentCol string
		if err := rows.Scan(&conSchema, &conName, &childSchema, &childTable, &childCol,
			&parentSchema, &parentTable, &parentCol); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan foreign key row")
		}
		key := conSchema + "." + conName + "." + childSchema + "." + childTable
		fk, ok := fks[key]
		if !ok {
			fk = &schema.ForeignKey{
				Name:             conName,
				ReferencedSchema: parentSchema,
				ReferencedTable:  parentTable,
			}
			fks[key] = fk
			fkTable[key] = childSchema + "." + childTable
			fkOrder = append(fkOrder, key)
		}
		fk.Columns = append(fk.Columns, childCol)
		fk.ReferencedColumns = append(fk.ReferencedColumns, parentCol)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read foreign key list")
	}
	for _, key := range fkOrder {
		if t, ok := tables[fkTable[key]]; ok {
			t.ForeignKeys = append(t.ForeignKeys, *fks[key])
		}
	}

	src := &schema.SourceSchema{DefaultSchema: "public"}
	for _, key := range order {
		src.Tables = append(src.Tables, *tables[key])
	}
	if err := schema.Validate(src); err != nil {
		return nil, err
	}

	c.logger.Info("introspected PostgreSQL schema", zap.Int("tables", len(src.Tables)))
	return src, nil
}
