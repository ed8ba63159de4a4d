// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/metrics"
	"github.com/telekom/alarm-escalator/pkg/outcome"
)

// RetryConfig bounds the attempts of one remote stage.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor applied to the backoff after each retry
	BackoffMultiplier float64
	// AttemptTimeout bounds a single attempt
	AttemptTimeout time.Duration
}

// DefaultCredentialRetry returns the retry policy of the credential fetch.
func DefaultCredentialRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    3 * time.Second,
	}
}

// DefaultTrackerRetry returns the retry policy of the issue creation.
func DefaultTrackerRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    5 * time.Second,
	}
}

func (c RetryConfig) withDefaults(def RetryConfig) RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	return c
}

// newBackOff returns the deterministic exponential schedule of c.
func (c RetryConfig) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          c.BackoffMultiplier,
		MaxInterval:         c.MaxBackoff,
	}
	b.Reset()
	return b
}

// nextBackoff advances b and caps the result at MaxBackoff, which the first
// interval may exceed when InitialBackoff is larger.
func (c RetryConfig) nextBackoff(b *backoff.ExponentialBackOff) time.Duration {
	d := b.NextBackOff()
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// Backoff returns the wait after the given failed attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	b := c.newBackOff()
	d := c.nextBackoff(b)
	for i := 1; i < attempt; i++ {
		d = c.nextBackoff(b)
	}
	return d
}

// Budget is the longest a full retry sequence can take: every attempt
// running into its timeout plus every backoff in between.
func (c RetryConfig) Budget() time.Duration {
	total := time.Duration(c.MaxAttempts) * c.AttemptTimeout
	b := c.newBackOff()
	for i := 1; i < c.MaxAttempts; i++ {
		total += c.nextBackoff(b)
	}
	return total
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attemptFunc performs one attempt and reports whether a retry may help.
type attemptFunc func(ctx context.Context, attempt int) (retry bool)

// retry runs op until it stops asking for a retry or the budget is spent.
// It returns the number of attempts made and the context error when the
// sequence was abandoned while waiting.
func (h *Handler) retry(ctx context.Context, stage outcome.Stage, cfg RetryConfig, op attemptFunc) (int, error) {
	schedule := cfg.newBackOff()
	attempt := 0
	for {
		attempt++
		metrics.StageAttempts.WithLabelValues(string(stage)).Inc()

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		again := op(attemptCtx, attempt)
		cancel()

		if !again || attempt >= cfg.MaxAttempts {
			return attempt, nil
		}
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		wait := cfg.nextBackoff(schedule)
		metrics.Retries.WithLabelValues(string(stage)).Inc()
		h.logger.Debug("retrying stage",
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", cfg.MaxAttempts),
			zap.Duration("backoff", wait))

		if err := h.sleep(ctx, wait); err != nil {
			return attempt, err
		}
	}
}
