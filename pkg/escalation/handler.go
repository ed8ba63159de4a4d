// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/alarm"
	"github.com/telekom/alarm-escalator/pkg/credentials"
	"github.com/telekom/alarm-escalator/pkg/dedup"
	"github.com/telekom/alarm-escalator/pkg/metrics"
	"github.com/telekom/alarm-escalator/pkg/outcome"
	"github.com/telekom/alarm-escalator/pkg/tracker"
)

// DefaultDedupTTL is how long a created issue suppresses its dedup key.
const DefaultDedupTTL = 24 * time.Hour

// reservationMargin is added to the issue creation budget to form the
// default in-flight reservation ttl.
const reservationMargin = 30 * time.Second

const tracerName = "github.com/telekom/alarm-escalator/pkg/escalation"

// Tracker creates issues. Implemented by *tracker.Client.
type Tracker interface {
	CreateIssue(ctx context.Context, req tracker.IssueRequest, creds credentials.Bundle) outcome.Result
}

// Limiter throttles issue creation per alarm name. Implemented by
// *ratelimit.KeyedLimiter.
type Limiter interface {
	Allow(key string) bool
}

// invalidator is implemented by providers that cache bundles.
type invalidator interface {
	Invalidate(name string)
}

// Config holds the handler settings.
type Config struct {
	// SecretName names the credential bundle in the provider
	SecretName string
	// OwnLogGroup is the log group receiving this handler's outcome records.
	// Notifications originating from it are never escalated.
	OwnLogGroup string
	// DedupWindow is the bucket width used when the alarm carries no evaluation window
	DedupWindow time.Duration
	// DedupTTL is how long a created issue suppresses duplicates
	DedupTTL time.Duration
	// ReservationTTL bounds an in-flight reservation. An execution killed
	// before creating the issue blocks redeliveries for at most this long.
	// Defaults to the issue creation retry budget plus a margin.
	ReservationTTL time.Duration

	CredentialRetry RetryConfig
	TrackerRetry    RetryConfig
}

// Handler runs the escalation pipeline for one notification at a time. It is
// safe for concurrent use.
type Handler struct {
	cfg      Config
	provider credentials.Provider
	tracker  Tracker
	store    dedup.Store
	limiter  Limiter
	renderer *Renderer
	sink     outcome.Sink
	logger   *zap.Logger
	tracer   trace.Tracer
	sleep    Sleeper
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLimiter enables per-alarm runaway protection.
func WithLimiter(l Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithRenderer replaces the default issue renderer.
func WithRenderer(r *Renderer) Option {
	return func(h *Handler) { h.renderer = r }
}

// WithSink replaces the default log sink.
func WithSink(s outcome.Sink) Option {
	return func(h *Handler) { h.sink = s }
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(h *Handler) { h.sleep = s }
}

// WithClock replaces the clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler wires a handler. A nil store selects an in-memory store.
func NewHandler(cfg Config, provider credentials.Provider, client Tracker, store dedup.Store, logger *zap.Logger, opts ...Option) (*Handler, error) {
	if provider == nil {
		return nil, errors.New("credential provider is required")
	}
	if client == nil {
		return nil, errors.New("issue tracker client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = alarm.DefaultDedupWindow
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	cfg.CredentialRetry = cfg.CredentialRetry.withDefaults(DefaultCredentialRetry())
	cfg.TrackerRetry = cfg.TrackerRetry.withDefaults(DefaultTrackerRetry())
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = cfg.TrackerRetry.Budget() + reservationMargin
	}
	if store == nil {
		store = dedup.NewMemoryStore(dedup.DefaultMaxEntries, cfg.DedupTTL)
	}

	h := &Handler{
		cfg:      cfg,
		provider: provider,
		tracker:  client,
		store:    store,
		logger:   logger.Named("escalation"),
		tracer:   otel.Tracer(tracerName),
		sleep:    ContextSleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.renderer == nil {
		r, err := NewRenderer(Templates{}, "")
		if err != nil {
			return nil, err
		}
		h.renderer = r
	}
	if h.sink == nil {
		h.sink = outcome.NewLogSink(logger)
	}
	return h, nil
}

// Sink returns the sink receiving outcome records.
func (h *Handler) Sink() outcome.Sink {
	return h.sink
}

// run carries the per-notification progress needed for the outcome record.
type run struct {
	stage    outcome.Stage
	attempts int
	dedupKey string
	reserved bool
}

// Handle escalates one delivery and emits exactly one outcome record, which
// it also returns. A panic inside the pipeline is recorded as
// Failed{internal} and then re-raised.
func (h *Handler) Handle(ctx context.Context, d alarm.Delivery, requestID string) (rec *outcome.Record) {
	start := h.now()
	ctx, span := h.tracer.Start(ctx, "escalation.Handle", trace.WithAttributes(
		attribute.String("alarm.name", d.Name()),
		attribute.String("faas.invocation_id", requestID),
	))
	defer span.End()

	r := &run{stage: outcome.StageReceived}
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("escalation pipeline panicked",
				zap.String("alarm_name", d.Name()),
				zap.String("stage", string(r.stage)),
				zap.Any("panic", p))
			h.releaseIfReserved(ctx, r)
			rec = h.emit(ctx, span, d.Name(), outcome.Failed(outcome.KindInternal, fmt.Sprintf("panic: %v", p)), r, requestID, start)
			panic(p)
		}
	}()

	result := h.process(ctx, d, r)
	return h.emit(ctx, span, d.Name(), result, r, requestID, start)
}

func (h *Handler) emit(ctx context.Context, span trace.Span, name string, result outcome.Result, r *run, requestID string, start time.Time) *outcome.Record {
	rec := outcome.NewRecord(name, result, r.attempts, r.stage)
	rec.RequestID = requestID
	rec.DedupKey = r.dedupKey
	rec.Timestamp = h.now().UTC()
	rec.Duration = rec.Timestamp.Sub(start)

	metrics.Outcomes.WithLabelValues(string(result.Status), string(result.Kind)).Inc()
	span.SetAttributes(
		attribute.String("escalation.status", string(result.Status)),
		attribute.String("escalation.stage", string(r.stage)),
		attribute.Int("escalation.attempts", r.attempts),
	)
	if result.Status == outcome.StatusFailed {
		span.SetStatus(codes.Error, string(result.Kind))
	}

	// The outcome stands even when the sink cannot record it.
	if err := h.sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("failed to write outcome record",
			zap.String("sink", h.sink.Name()),
			zap.String("error", err.Error()))
	}
	return rec
}

func (h *Handler) process(ctx context.Context, d alarm.Delivery, r *run) outcome.Result {
	if d.Err != nil || d.Notification == nil {
		msg := "missing notification"
		if d.Err != nil {
			msg = d.Err.Error()
		}
		metrics.NotificationsReceived.WithLabelValues("malformed").Inc()
		return outcome.Failed(outcome.KindMalformedInput, msg)
	}
	n := d.Notification
	metrics.NotificationsReceived.WithLabelValues(string(n.NewState)).Inc()
	h.logger.Debug("notification received", zap.Object("notification", n))
	if n.TimestampErr != nil {
		h.logger.Warn("alarm timestamp unparseable, using SNS publish or receipt time",
			zap.String("alarm_name", n.AlarmName),
			zap.String("raw_timestamp", n.RawTimestamp),
			zap.Time("timestamp", n.Timestamp),
			zap.String("error", n.TimestampErr.Error()))
	}

	if !n.IsAlarm() {
		return outcome.Skipped(outcome.ReasonNonAlarmState)
	}
	if h.cfg.OwnLogGroup != "" && n.SourceLogGroup == h.cfg.OwnLogGroup {
		h.logger.Info("ignoring notification from own log group",
			zap.String("alarm_name", n.AlarmName),
			zap.String("log_group", n.SourceLogGroup))
		return outcome.Skipped(outcome.ReasonFeedbackLoop)
	}

	r.stage = outcome.StageCredentialFetch
	creds, err := h.fetchCredentials(ctx, r)
	if err != nil {
		if credentials.IsFatal(err) {
			return outcome.Failed(outcome.KindInvalidCredentials, err.Error())
		}
		return outcome.Failed(outcome.KindUpstreamUnavailable,
			fmt.Sprintf("credential fetch failed after %d attempts: %v", r.attempts, err))
	}

	r.stage = outcome.StageDedupCheck
	r.attempts = 0
	key := n.DedupKey(h.cfg.DedupWindow)
	r.dedupKey = key.String()
	reservation, err := h.store.Reserve(ctx, r.dedupKey, h.cfg.ReservationTTL)
	switch {
	case err != nil:
		h.logger.Warn("dedup store unavailable, escalating without reservation",
			zap.String("store", h.store.Name()),
			zap.String("error", err.Error()))
	case !reservation.Reserved:
		return outcome.Duplicate(reservation.IssueKey)
	default:
		r.reserved = true
	}

	if h.limiter != nil && !h.limiter.Allow(n.AlarmName) {
		r.stage = outcome.StageRateLimit
		metrics.RateLimited.Inc()
		h.releaseIfReserved(ctx, r)
		return outcome.Skipped(outcome.ReasonRateLimited)
	}

	req, err := h.renderer.Render(n, creds)
	if err != nil {
		h.releaseIfReserved(ctx, r)
		return outcome.Failed(outcome.KindInternal, err.Error())
	}

	r.stage = outcome.StageIssueCreate
	result := h.createIssue(ctx, req, creds, r)
	if result.Status == outcome.StatusCreated {
		if err := h.store.Commit(context.WithoutCancel(ctx), r.dedupKey, result.IssueKey, h.cfg.DedupTTL); err != nil {
			h.logger.Warn("failed to commit dedup key",
				zap.String("dedup_key", r.dedupKey),
				zap.String("error", err.Error()))
		}
		r.reserved = false
		return result
	}

	h.releaseIfReserved(ctx, r)
	if result.HTTPStatus == http.StatusUnauthorized || result.HTTPStatus == http.StatusForbidden {
		if inv, ok := h.provider.(invalidator); ok {
			inv.Invalidate(h.cfg.SecretName)
		}
	}
	return result
}

func (h *Handler) fetchCredentials(ctx context.Context, r *run) (credentials.Bundle, error) {
	ctx, span := h.tracer.Start(ctx, "escalation.CredentialFetch")
	defer span.End()

	var (
		bundle  credentials.Bundle
		lastErr error
	)
	attempts, abandoned := h.retry(ctx, outcome.StageCredentialFetch, h.cfg.CredentialRetry, func(ctx context.Context, attempt int) bool {
		b, err := h.provider.Fetch(ctx, h.cfg.SecretName)
		if err == nil {
			metrics.CredentialFetches.WithLabelValues("success").Inc()
			bundle, lastErr = b, nil
			return false
		}
		lastErr = err
		if credentials.IsFatal(err) {
			metrics.CredentialFetches.WithLabelValues("fatal").Inc()
			return false
		}
		metrics.CredentialFetches.WithLabelValues("transient").Inc()
		h.logger.Warn("credential fetch failed",
			zap.String("secret", h.cfg.SecretName),
			zap.Int("attempt", attempt),
			zap.String("error", err.Error()))
		return true
	})
	r.attempts = attempts
	span.SetAttributes(attribute.Int("attempts", attempts))

	if lastErr == nil && abandoned == nil {
		return bundle, nil
	}
	if abandoned != nil && (lastErr == nil || !credentials.IsFatal(lastErr)) {
		lastErr = fmt.Errorf("%w: retry abandoned: %v", credentials.ErrProviderUnavailable, abandoned)
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "credential fetch failed")
	return credentials.Bundle{}, lastErr
}

func (h *Handler) createIssue(ctx context.Context, req tracker.IssueRequest, creds credentials.Bundle, r *run) outcome.Result {
	ctx, span := h.tracer.Start(ctx, "escalation.IssueCreate", trace.WithAttributes(
		attribute.String("tracker.project", req.Project),
	))
	defer span.End()

	var result outcome.Result
	attempts, abandoned := h.retry(ctx, outcome.StageIssueCreate, h.cfg.TrackerRetry, func(ctx context.Context, attempt int) bool {
		result = h.tracker.CreateIssue(ctx, req, creds)
		if result.Status == outcome.StatusFailed && result.Kind.Retryable() {
			h.logger.Warn("issue creation failed",
				zap.Int("attempt", attempt),
				zap.Object("result", result))
			return true
		}
		return false
	})
	r.attempts = attempts
	span.SetAttributes(attribute.Int("attempts", attempts))

	if result.Status == outcome.StatusFailed && result.Kind.Retryable() {
		msg := fmt.Sprintf("issue creation failed after %d attempts: %s", attempts, result.Message)
		if abandoned != nil {
			msg = fmt.Sprintf("issue creation abandoned after %d attempts: %v", attempts, abandoned)
		}
		exhausted := outcome.Failed(outcome.KindUpstreamUnavailable, msg)
		exhausted.HTTPStatus = result.HTTPStatus
		result = exhausted
	}
	if result.Status == outcome.StatusFailed {
		span.SetStatus(codes.Error, result.Message)
	} else {
		span.SetAttributes(attribute.String("tracker.issue_key", result.IssueKey))
	}
	return result
}

func (h *Handler) releaseIfReserved(ctx context.Context, r *run) {
	if !r.reserved {
		return
	}
	r.reserved = false
	if err := h.store.Release(context.WithoutCancel(ctx), r.dedupKey); err != nil {
		h.logger.Warn("failed to release dedup key",
			zap.String("dedup_key", r.dedupKey),
			zap.String("error", err.Error()))
	}
}
