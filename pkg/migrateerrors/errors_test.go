package migrateerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesStackAndFormats(t *testing.T) {
	err := New(ErrorTypeSchema, "bad catalog")
	assert.Equal(t, "schema: bad catalog", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrorTypeConnection, "failed to reach source")
	assert.Equal(t, "connection: failed to reach source: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	var structured *Error
	require.True(t, errors.As(err, &structured))
	assert.Equal(t, ErrorTypeConnection, structured.Type)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeConnection, "ignored"))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeRecord, "malformed row").
		WithDetail("table", "roles").
		WithDetail("column", "actor_id")
	assert.Equal(t, "roles", err.Details["table"])
	assert.Equal(t, "actor_id", err.Details["column"])
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeConnection, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeBatchWrite, true},
		{ErrorTypeSchema, false},
		{ErrorTypeMapping, false},
		{ErrorTypeConstraintConflict, false},
		{ErrorTypeRecord, false},
		{ErrorTypeConfig, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(New(tt.errType, "x")))
		})
	}
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsTypeSeesThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeRecord, "skipped")
	outer := fmt.Errorf("while loading: %w", inner)
	assert.True(t, IsType(outer, ErrorTypeRecord))
	assert.False(t, IsType(outer, ErrorTypeSchema))
}
