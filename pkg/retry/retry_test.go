package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSucceedsAfterFailures(t *testing.T) {
	p := NewPolicy(3, time.Millisecond)
	attempts := 0
	err := p.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	p := NewPolicy(2, time.Millisecond)
	attempts := 0
	cause := errors.New("down")
	err := p.Execute(context.Background(), func() error {
		attempts++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, attempts)
}

func TestExecuteWithConditionStopsOnFatal(t *testing.T) {
	p := NewPolicy(5, time.Millisecond)
	attempts := 0
	fatal := errors.New("fatal")
	err := p.ExecuteWithCondition(context.Background(), func() error {
		attempts++
		return fatal
	}, func(err error) bool { return false })
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	p := NewPolicy(5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Execute(ctx, func() error { return errors.New("always") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayGrowsExponentiallyWithinCap(t *testing.T) {
	p := &Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}
	assert.Equal(t, 100*time.Millisecond, p.GetDelay(0))
	assert.Equal(t, 200*time.Millisecond, p.GetDelay(1))
	assert.Equal(t, 400*time.Millisecond, p.GetDelay(2))
	// Capped
	assert.Equal(t, 1*time.Second, p.GetDelay(5))
}

func TestNoRetryPolicy(t *testing.T) {
	p := NoRetryPolicy()
	attempts := 0
	_ = p.Execute(context.Background(), func() error {
		attempts++
		return errors.New("x")
	})
	assert.Equal(t, 1, attempts)
}
