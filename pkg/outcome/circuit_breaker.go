/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package outcome

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/metrics"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int32

const (
	// CircuitClosed indicates normal operation - writes flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit is tripped - writes are rejected.
	CircuitOpen
	// CircuitHalfOpen indicates the circuit is probing - limited writes allowed.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open state
	// required to close the circuit.
	// Default: 2
	SuccessThreshold int

	// OpenTimeout is how long to wait before transitioning from open to half-open.
	// Default: 30s
	OpenTimeout time.Duration

	// HalfOpenMaxRequests is the maximum number of writes allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker keeps a failing secondary sink (Kafka, mail) from adding
// latency to every invocation while it is down.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *zap.Logger

	state            atomic.Int32 // CircuitState
	consecutiveFails atomic.Int64
	consecutiveSuccs atomic.Int64
	halfOpenRequests atomic.Int64
	lastStateChange  atomic.Value // time.Time

	totalFailures   atomic.Int64
	totalRejections atomic.Int64

	mu  sync.Mutex
	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}

	cb := &CircuitBreaker{
		name:   name,
		config: cfg,
		logger: logger.Named("circuit-breaker").With(zap.String("sink", name)),
		now:    time.Now,
	}
	cb.state.Store(int32(CircuitClosed))
	cb.lastStateChange.Store(cb.now())
	metrics.SinkCircuitBreakerState.WithLabelValues(name).Set(float64(CircuitClosed))

	return cb
}

// Execute wraps a function call with circuit breaker protection.
// Returns ErrCircuitOpen if the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.canExecute() {
		cb.totalRejections.Add(1)
		metrics.SinkCircuitBreakerRejections.WithLabelValues(cb.name).Inc()
		return ErrCircuitOpen
	}

	if err := fn(ctx); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canExecute() bool {
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		return true

	case CircuitOpen:
		lastChange, ok := cb.lastStateChange.Load().(time.Time)
		if ok && cb.now().Sub(lastChange) >= cb.config.OpenTimeout {
			cb.transitionTo(CircuitHalfOpen)
			return cb.admitHalfOpen()
		}
		return false

	case CircuitHalfOpen:
		return cb.admitHalfOpen()

	default:
		return false
	}
}

func (cb *CircuitBreaker) admitHalfOpen() bool {
	if cb.halfOpenRequests.Add(1) <= int64(cb.config.HalfOpenMaxRequests) {
		return true
	}
	cb.halfOpenRequests.Add(-1)
	return false
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.consecutiveFails.Store(0)
	successes := cb.consecutiveSuccs.Add(1)

	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.halfOpenRequests.Add(-1)
		if int(successes) >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.totalFailures.Add(1)
	cb.consecutiveSuccs.Store(0)
	failures := cb.consecutiveFails.Add(1)

	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		if int(failures) >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open trips back to open
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := CircuitState(cb.state.Load())
	if oldState == newState {
		return
	}

	cb.state.Store(int32(newState))
	cb.lastStateChange.Store(cb.now())
	cb.consecutiveFails.Store(0)
	cb.consecutiveSuccs.Store(0)
	cb.halfOpenRequests.Store(0)

	cb.logger.Info("circuit breaker state changed",
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()))
	metrics.SinkCircuitBreakerState.WithLabelValues(cb.name).Set(float64(newState))
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Rejections returns the number of writes rejected while open.
func (cb *CircuitBreaker) Rejections() int64 {
	return cb.totalRejections.Load()
}

// CircuitBreakerSink wraps a Sink with circuit breaker protection.
type CircuitBreakerSink struct {
	sink    Sink
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewCircuitBreakerSink wraps a sink with circuit breaker protection.
func NewCircuitBreakerSink(sink Sink, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerSink {
	return &CircuitBreakerSink{
		sink:    sink,
		breaker: NewCircuitBreaker(sink.Name(), cfg, logger),
		logger:  logger.Named("cb-sink").With(zap.String("sink", sink.Name())),
	}
}

// Write implements Sink with circuit breaker protection.
func (s *CircuitBreakerSink) Write(ctx context.Context, record *Record) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.sink.Write(ctx, record)
	})
}

// Close closes the underlying sink.
func (s *CircuitBreakerSink) Close() error {
	s.logger.Info("closing circuit breaker sink",
		zap.String("state", s.breaker.State().String()))
	return s.sink.Close()
}

// Name returns the wrapped sink's name.
func (s *CircuitBreakerSink) Name() string {
	return s.sink.Name()
}

// CircuitBreaker returns the underlying circuit breaker for status checks.
func (s *CircuitBreakerSink) CircuitBreaker() *CircuitBreaker {
	return s.breaker
}
