// Package config defines the unified configuration for a migration run.
//
// Configuration is organized into sections so that every component reads
// from one place: endpoints for the source and destination, a performance
// section for batching and concurrency, timeouts, and a reliability section
// for retry behavior.
package config

import (
	"fmt"
	"time"

	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
)

// SourceKind identifies the type of source database.
type SourceKind string

const (
	// SourceKindPostgreSQL is a PostgreSQL relational source
	SourceKindPostgreSQL SourceKind = "postgresql"
	// SourceKindMySQL is a MySQL relational source
	SourceKindMySQL SourceKind = "mysql"
	// SourceKindMemgraph is a Memgraph graph source
	SourceKindMemgraph SourceKind = "memgraph"
)

// ParseSourceKind parses a source kind from its CLI spelling.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceKindPostgreSQL, SourceKindMySQL, SourceKindMemgraph:
		return SourceKind(s), nil
	default:
		return "", migrateerrors.New(migrateerrors.ErrorTypeConfig,
			fmt.Sprintf("unknown source kind %q (want memgraph, mysql or postgresql)", s))
	}
}

// UnresolvedPolicy controls how relationships with missing endpoints are
// handled.
type UnresolvedPolicy string

const (
	// UnresolvedSkip reports and skips relationships whose endpoints cannot
	// be resolved in the destination
	UnresolvedSkip UnresolvedPolicy = "skip"
	// UnresolvedFail aborts the run on the first unresolved endpoint
	UnresolvedFail UnresolvedPolicy = "fail"
)

// ParseUnresolvedPolicy parses an unresolved-endpoint policy.
func ParseUnresolvedPolicy(s string) (UnresolvedPolicy, error) {
	switch UnresolvedPolicy(s) {
	case UnresolvedSkip, UnresolvedFail:
		return UnresolvedPolicy(s), nil
	default:
		return "", migrateerrors.New(migrateerrors.ErrorTypeConfig,
			fmt.Sprintf("unknown unresolved-endpoint policy %q (want skip or fail)", s))
	}
}

// EndpointConfig holds connection parameters for one database endpoint.
type EndpointConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	UseSSL   bool   `json:"use_ssl"`
}

// Address returns host:port.
func (e EndpointConfig) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// SourceConfig describes the source database.
type SourceConfig struct {
	Kind SourceKind `json:"kind"`
	EndpointConfig
}

// DestinationConfig describes the destination Memgraph instance.
type DestinationConfig struct {
	EndpointConfig
}

// PerformanceConfig holds batching and concurrency settings.
type PerformanceConfig struct {
	// BatchSize is the number of records per destination write
	BatchSize int `json:"batch_size"`
	// MaxConcurrency caps the number of tables migrated in parallel
	MaxConcurrency int `json:"max_concurrency"`
	// StreamBufferSize is the channel capacity between reader and loader
	StreamBufferSize int `json:"stream_buffer_size"`
}

// TimeoutConfig holds per-operation timeouts.
type TimeoutConfig struct {
	Connection time.Duration `json:"connection"`
	Query      time.Duration `json:"query"`
}

// ReliabilityConfig holds retry settings.
type ReliabilityConfig struct {
	MaxRetries    int           `json:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval"`
	// OnUnresolved controls handling of relationships with missing endpoints
	OnUnresolved UnresolvedPolicy `json:"on_unresolved"`
}

// MigrationConfig is the complete configuration for one run.
type MigrationConfig struct {
	Source      SourceConfig      `json:"source"`
	Destination DestinationConfig `json:"destination"`
	Performance PerformanceConfig `json:"performance"`
	Timeouts    TimeoutConfig     `json:"timeouts"`
	Reliability ReliabilityConfig `json:"reliability"`
}

// NewMigrationConfig returns a config with sensible defaults applied to
// every section. Endpoint fields are left for the caller.
func NewMigrationConfig() *MigrationConfig {
	return &MigrationConfig{
		Source: SourceConfig{
			EndpointConfig: EndpointConfig{Host: "127.0.0.1"},
		},
		Destination: DestinationConfig{
			EndpointConfig: EndpointConfig{Host: "127.0.0.1", Port: 7687},
		},
		Performance: PerformanceConfig{
			BatchSize:        1000,
			MaxConcurrency:   4,
			StreamBufferSize: 64,
		},
		Timeouts: TimeoutConfig{
			Connection: 30 * time.Second,
			Query:      5 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:    3,
			RetryInterval: 1 * time.Second,
			OnUnresolved:  UnresolvedSkip,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *MigrationConfig) Validate() error {
	if c.Source.Kind == "" {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig, "source kind is required")
	}
	if _, err := ParseSourceKind(string(c.Source.Kind)); err != nil {
		return err
	}
	if c.Source.Host == "" {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig, "source host is required")
	}
	if c.Source.Port <= 0 || c.Source.Port > 65535 {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig,
			fmt.Sprintf("invalid source port %d", c.Source.Port))
	}
	if c.Source.Kind != SourceKindMemgraph && c.Source.Database == "" {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig,
			"source database is required for relational sources")
	}
	if c.Destination.Host == "" {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig, "destination host is required")
	}
	if c.Destination.Port <= 0 || c.Destination.Port > 65535 {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig,
			fmt.Sprintf("invalid destination port %d", c.Destination.Port))
	}
	if c.Performance.BatchSize <= 0 {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig, "batch size must be positive")
	}
	if c.Performance.MaxConcurrency <= 0 {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig, "max concurrency must be positive")
	}
	if c.Reliability.MaxRetries < 0 {
		return migrateerrors.New(migrateerrors.ErrorTypeConfig, "max retries cannot be negative")
	}
	if _, err := ParseUnresolvedPolicy(string(c.Reliability.OnUnresolved)); err != nil {
		return err
	}
	return nil
}

// DefaultSourcePort returns the conventional port for a source kind.
func DefaultSourcePort(kind SourceKind) int {
	switch kind {
	case SourceKindPostgreSQL:
		return 5432
	case SourceKindMySQL:
		return 3306
	case SourceKindMemgraph:
		return 7687
	default:
		return 0
	}
}
