package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func transientErr() error {
	return &TransientError{Err: eris.New("connection refused")}
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _ := testBreaker(DefaultBreakerConfig())

	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error {
			return transientErr()
		})
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, b.State())

	// Once open, calls are rejected without reaching the service.
	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error {
			return eris.New("not found")
		})
		require.Error(t, err)
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return transientErr()
	}))
	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return transientErr()
	}))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b, now := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return transientErr()
	}))
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenProbeReopens(t *testing.T) {
	b, now := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return transientErr()
	}))
	*now = now.Add(2 * time.Minute)

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return transientErr()
	}))
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestBreaker_ExecuteValReturnsValue(t *testing.T) {
	b, _ := testBreaker(DefaultBreakerConfig())

	got, err := ExecuteVal(context.Background(), b, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return transientErr()
	}))
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	}))
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b, _ := testBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return transientErr()
	}))
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(99).String())
}
