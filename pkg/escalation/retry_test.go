// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 200 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryConfig_Budget(t *testing.T) {
	// 3 attempts of 5s plus 200ms and 400ms between them
	assert.Equal(t, 15600*time.Millisecond, DefaultTrackerRetry().Budget())

	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, BackoffMultiplier: 3, AttemptTimeout: time.Second}
	assert.Equal(t, 5*time.Second+time.Second+3*2*time.Second, cfg.Budget(), "backoff is capped")
}

func TestRetryConfig_WithDefaults(t *testing.T) {
	got := RetryConfig{MaxAttempts: 5, BackoffMultiplier: 0.5}.withDefaults(DefaultTrackerRetry())
	assert.Equal(t, 5, got.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, got.InitialBackoff)
	assert.Equal(t, 2*time.Second, got.MaxBackoff)
	assert.Equal(t, 2.0, got.BackoffMultiplier)
	assert.Equal(t, 5*time.Second, got.AttemptTimeout)
}

func TestContextSleep(t *testing.T) {
	require.NoError(t, ContextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
}

func TestRetry_AttemptTimeout(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, &fakeTracker{})
	cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
		BackoffMultiplier: 2, AttemptTimeout: 10 * time.Millisecond}

	var deadlines int
	attempts, err := h.handler.retry(context.Background(), "test", cfg, func(ctx context.Context, _ int) bool {
		if _, ok := ctx.Deadline(); ok {
			deadlines++
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, deadlines)
	assert.Equal(t, []time.Duration{time.Millisecond}, h.sleeps)
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, &fakeTracker{})

	attempts, err := h.handler.retry(context.Background(), "test", DefaultTrackerRetry(), func(_ context.Context, attempt int) bool {
		return attempt < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
