// Package mysql implements the MySQL source connector over database/sql
// with the go-sql-driver. Schema introspection reads information_schema;
// values arrive in the text protocol and are decoded using the declared
// column types.
package mysql

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"

	gomysql "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/logger"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
	"github.com/graphshift/mgmigrate/pkg/schema"
	"github.com/graphshift/mgmigrate/pkg/source"
)

func init() {
	source.Register(config.SourceKindMySQL, func(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) (source.Connector, error) {
		return NewConnector(cfg, timeouts, perf), nil
	})
}

const tlsConfigName = "mgmigrate"

// Connector reads schema and rows from a MySQL database.
type Connector struct {
	cfg        config.SourceConfig
	timeouts   config.TimeoutConfig
	bufferSize int
	db         *sql.DB
	logger     *zap.Logger
}

// NewConnector creates an unconnected MySQL connector.
func NewConnector(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) *Connector {
	return &Connector{
		cfg:        cfg,
		timeouts:   timeouts,
		bufferSize: streamBufferSize(perf),
		logger:     logger.Get().With(zap.String("component", "mysql_source")),
	}
}

// Connect opens the database handle and verifies it with a ping.
func (c *Connector) Connect(ctx context.Context) error {
	mc := gomysql.NewConfig()
	mc.User = c.cfg.Username
	mc.Passwd = c.cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	mc.DBName = c.cfg.Database
	mc.ParseTime = true
	mc.Timeout = c.timeouts.Connection
	if c.cfg.UseSSL {
		if err := gomysql.RegisterTLSConfig(tlsConfigName, &tls.Config{ServerName: c.cfg.Host}); err != nil {
			return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConfig, "failed to register TLS config")
		}
		mc.TLSConfig = tlsConfigName
	}

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConfig, "invalid MySQL connection config")
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.timeouts.Connection)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return migrateerrors.Wrap(err, migrateerrors.ErrorTypeConnection, "failed to ping MySQL").
			WithDetail("host", c.cfg.Host).
			WithDetail("database", c.cfg.Database)
	}

	c.db = db
	c.logger.Info("connected to MySQL source",
		zap.String("host", c.cfg.Host),
		zap.String("database", c.cfg.Database))
	return nil
}

// Close releases the database handle.
func (c *Connector) Close(ctx context.Context) error {
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

const (
	tablesQuery = `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`

	columnsQuery = `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, IS_NULLABLE, ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION`

	primaryKeysQuery = `
		SELECT TABLE_NAME, COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION`

	foreignKeysQuery = `
		SELECT CONSTRAINT_NAME, TABLE_NAME, COLUMN_NAME,
		       REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION`
)

// IntrospectSchema reads tables, columns, primary keys and foreign keys of
// the connected database. The connected database acts as the default
// schema, so its tables map to bare labels.
func (c *Connector) IntrospectSchema(ctx context.Context) (*schema.SourceSchema, error) {
	if c.timeouts.Query > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeouts.Query)
		defer cancel()
	}

	tables := map[string]*schema.TableSchema{}
	var order []string

	rows, err := c.db.QueryContext(ctx, tablesQuery, c.cfg.Database)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list tables")
	}
	for rows.Next() {
		var schemaName, name string
		if err := rows.Scan(&schemaName, &name); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan table row")
		}
		tables[name] = &schema.TableSchema{Schema: schemaName, Name: name}
		order = append(order, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read table list")
	}

	rows, err = c.db.QueryContext(ctx, columnsQuery, c.cfg.Database)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list columns")
	}
	for rows.Next() {
		var tableName, colName, dataType, nullable string
		var position int
		if err := rows.Scan(&tableName, &colName, &dataType, &nullable, &position); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan column row")
		}
		if t, ok := tables[tableName]; ok {
			t.Columns = append(t.Columns, schema.ColumnSchema{
				Name:     colName,
				DataType: dataType,
				Nullable: nullable == "YES",
				Position: position,
			})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read column list")
	}

	rows, err = c.db.QueryContext(ctx, primaryKeysQuery, c.cfg.Database)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list primary keys")
	}
	for rows.Next() {
		var tableName, colName string
		if err := rows.Scan(&tableName, &colName); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan primary key row")
		}
		if t, ok := tables[tableName]; ok {
			t.PrimaryKey = append(t.PrimaryKey, colName)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to read primary key list")
	}

	rows, err = c.db.QueryContext(ctx, foreignKeysQuery, c.cfg.Database)
	if err != nil {
		return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to list foreign keys")
	}
	fks := map[string]*schema.ForeignKey{}
	fkTable := map[string]string{}
	var fkOrder []string
	for rows.Next() {
		var conName, tableName, colName string
		var refSchema, refTable, refCol string
		if err := rows.Scan(&conName, &tableName, &colName, &refSchema, &refTable, &refCol); err != nil {
			rows.Close()
			return nil, migrateerrors.Wrap(err, migrateerrors.ErrorTypeSchema, "failed to scan foreign key row")
		}
		key := tableName + "." + conName
		fk, ok := fks[key]
		if !ok {
			fk = &schema.ForeignKey{
				Name:             conName,
				ReferencedSchema: refSchema,
				ReferencedTable:  refTable,
			}
			fks[key] = fk
			fkTable[key] = tableName
			fkOrder = append(fkOrder, key)
		}
		fk.Columns = append(fk.Columns, colName)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refCol)
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

	src := &schema.SourceSchema{DefaultSchema: c.cfg.Database}
	for _, name := range order {
		src.Tables = append(src.Tables, *tables[name])
	}
	if err := schema.Validate(src); err != nil {
		return nil, err
	}

	c.logger.Info("introspected MySQL schema", zap.Int("tables", len(src.Tables)))
	return src, nil
}
