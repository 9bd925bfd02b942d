package source

import (
	"fmt"
	"sync"

	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/migrateerrors"
)

// Factory creates a connector for one source kind.
type Factory func(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) (Connector, error)

var (
	mu        sync.RWMutex
	factories = make(map[config.SourceKind]Factory)
)

// Register makes a source kind available. Called from connector package
// init functions; registering the same kind twice panics.
func Register(kind config.SourceKind, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("source: kind %q registered twice", kind))
	}
	factories[kind] = factory
}

// NewConnector creates a connector for the configured source kind.
func NewConnector(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) (Connector, error) {
	mu.RLock()
	factory, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, migrateerrors.New(migrateerrors.ErrorTypeConfig,
			fmt.Sprintf("no connector registered for source kind %q", cfg.Kind))
	}
	return factory(cfg, timeouts, perf)
}

// RegisteredKinds returns the registered source kinds.
func RegisteredKinds() []config.SourceKind {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]config.SourceKind, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	return kinds
}
