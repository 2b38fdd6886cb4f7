package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDelay(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(0))
	assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 400*time.Millisecond, policy.Delay(3))
	assert.Equal(t, 800*time.Millisecond, policy.Delay(4))
	assert.Equal(t, time.Second, policy.Delay(5))
	assert.Equal(t, time.Second, policy.Delay(9))
}

func TestPolicyDelayJitter(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.5}

	for i := 0; i < 50; i++ {
		delay := policy.Delay(3)
		assert.GreaterOrEqual(t, delay, 2*time.Second)
		assert.LessOrEqual(t, delay, 6*time.Second)
	}
}

func TestPolicyExhausted(t *testing.T) {
	policy := Policy{MaxAttempts: 3}
	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.False(t, Policy{}.Exhausted(100), "zero MaxAttempts retries forever")
}

func TestDeliveryLifecycle(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	storeDown := errors.New("store unavailable")

	t.Run("acked on first attempt", func(t *testing.T) {
		d := Deliver("E-1", 1, now)
		require.NoError(t, d.Ack())
		assert.Equal(t, StateAcked, d.State)
		assert.True(t, d.State.Terminal())
	})

	t.Run("retries until success", func(t *testing.T) {
		d := Deliver("E-2", 1, now)
		for attempt := 1; attempt < 3; attempt++ {
			require.NoError(t, d.Fail(storeDown, policy))
			assert.Equal(t, StateRetrying, d.State)
			assert.Equal(t, policy.Delay(attempt), d.NextAttemptIn)
			require.NoError(t, d.Redeliver(now.Add(time.Duration(attempt)*time.Second)))
		}
		require.NoError(t, d.Ack())
		assert.Equal(t, 3, d.Attempt)
		assert.Equal(t, StateAcked, d.State)
	})

	t.Run("dead-lettered when exhausted", func(t *testing.T) {
		d := Deliver("E-3", 3, now)
		require.NoError(t, d.Fail(storeDown, policy))
		assert.Equal(t, StateDeadLettered, d.State)
		assert.ErrorIs(t, d.LastError, storeDown)
	})

	t.Run("reject skips retrying", func(t *testing.T) {
		d := Deliver("E-4", 1, now)
		require.NoError(t, d.Reject(errors.New("unsupported schema")))
		assert.Equal(t, StateDeadLettered, d.State)
	})

	t.Run("terminal states refuse transitions", func(t *testing.T) {
		d := Deliver("E-5", 1, now)
		require.NoError(t, d.Ack())
		assert.ErrorIs(t, d.Ack(), ErrInvalidTransition)
		assert.ErrorIs(t, d.Fail(storeDown, policy), ErrInvalidTransition)
		assert.ErrorIs(t, d.Reject(storeDown), ErrInvalidTransition)
		assert.ErrorIs(t, d.Redeliver(now), ErrInvalidTransition)
	})
}

func TestSettle(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cause := errors.New("lock wait timeout")

	tests := []struct {
		name      string
		attempt   int
		verdict   Verdict
		state     State
		nextIn    time.Duration
		lastError error
	}{
		{name: "ack", attempt: 1, verdict: VerdictAck, state: StateAcked},
		{name: "retry with budget left", attempt: 2, verdict: VerdictRetry, state: StateRetrying, nextIn: 2 * time.Second, lastError: cause},
		{name: "retry on last attempt", attempt: 3, verdict: VerdictRetry, state: StateDeadLettered, lastError: cause},
		{name: "reject on first attempt", attempt: 1, verdict: VerdictReject, state: StateDeadLettered, lastError: cause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Settle("E-1", tt.attempt, now, tt.verdict, cause, policy)

			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.attempt, d.Attempt)
			assert.Equal(t, tt.nextIn, d.NextAttemptIn)
			assert.Equal(t, tt.lastError, d.LastError)
			assert.Equal(t, now, d.LastAttemptAt)
		})
	}
}
