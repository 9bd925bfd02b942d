package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphshift/mgmigrate/pkg/config"
)

type nopConnector struct{ Connector }

func TestRegisterAndCreate(t *testing.T) {
	kind := config.SourceKind("testkind")
	var gotPerf config.PerformanceConfig
	Register(kind, func(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) (Connector, error) {
		gotPerf = perf
		return nopConnector{}, nil
	})

	perf := config.PerformanceConfig{StreamBufferSize: 16}
	c, err := NewConnector(config.SourceConfig{Kind: kind}, config.TimeoutConfig{}, perf)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, perf, gotPerf)
	assert.Contains(t, RegisteredKinds(), kind)
}

func TestCreateUnknownKindFails(t *testing.T) {
	_, err := NewConnector(config.SourceConfig{Kind: "unknown"}, config.TimeoutConfig{}, config.PerformanceConfig{})
	assert.Error(t, err)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	kind := config.SourceKind("dupkind")
	factory := func(cfg config.SourceConfig, timeouts config.TimeoutConfig, perf config.PerformanceConfig) (Connector, error) {
		return nopConnector{}, nil
	}
	Register(kind, factory)
	assert.Panics(t, func() { Register(kind, factory) })
}
