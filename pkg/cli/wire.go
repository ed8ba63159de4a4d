package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/config"
	"github.com/telekom/alarm-escalator/pkg/credentials"
	"github.com/telekom/alarm-escalator/pkg/dedup"
	"github.com/telekom/alarm-escalator/pkg/escalation"
	"github.com/telekom/alarm-escalator/pkg/outcome"
	"github.com/telekom/alarm-escalator/pkg/ratelimit"
	"github.com/telekom/alarm-escalator/pkg/telemetry"
	"github.com/telekom/alarm-escalator/pkg/tracker"
	"github.com/telekom/alarm-escalator/pkg/version"
)

// BuildOptions adjusts how Build wires the handler.
type BuildOptions struct {
	// CredentialSource overrides credentials.source from the configuration
	CredentialSource string
	// Synchronous exports spans as they end. Set it inside Lambda.
	Synchronous bool
	// Getenv backs the env credential provider. Defaults to os.Getenv.
	Getenv func(string) string
	// Provider replaces the configured credential provider, mainly for tests.
	Provider credentials.Provider
}

// App is a fully wired escalation handler together with the resources that
// must be released on shutdown.
type App struct {
	Handler *escalation.Handler
	Tracing *telemetry.Tracing

	sink    outcome.Sink
	limiter *ratelimit.KeyedLimiter
	redis   *redis.Client
	log     *zap.Logger
}

// Build validates cfg and assembles the escalation pipeline from it.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts BuildOptions) (*App, error) {
	if opts.CredentialSource != "" {
		cfg.Credentials.Source = strings.ToLower(opts.CredentialSource)
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{log: logger}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	tracing, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceVersion: version.Version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Synchronous:    opts.Synchronous,
		Logger:         logger.Sugar(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.Tracing = tracing

	provider := opts.Provider
	if provider == nil {
		provider, err = newProvider(ctx, cfg.Credentials, opts.Getenv, logger)
		if err != nil {
			return nil, err
		}
	}
	if ttl := *cfg.Credentials.CacheTTL; ttl > 0 { // set by Defaults
		provider = credentials.NewCachingProvider(provider, credentials.NewTTLCache(ttl))
	}

	userAgent := cfg.Tracker.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	client, err := tracker.New(logger,
		tracker.WithTimeout(cfg.Tracker.Timeout),
		tracker.WithUserAgent(userAgent),
		tracker.WithTLSConfig(cfg.Tracker.CAFile, cfg.Tracker.InsecureSkipVerify),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker client: %w", err)
	}

	renderer, err := escalation.NewRenderer(escalation.Templates{
		Summary:     cfg.Templates.Summary,
		Description: cfg.Templates.Description,
	}, cfg.Tracker.IssueType)
	if err != nil {
		return nil, err
	}

	store := app.newStore(cfg.Dedup)

	sink, err := newSink(cfg.Sinks, logger)
	if err != nil {
		return nil, err
	}
	app.sink = sink

	handlerOpts := []escalation.Option{
		escalation.WithRenderer(renderer),
		escalation.WithSink(sink),
	}
	if cfg.RateLimit.PerMinute > 0 {
		app.limiter = ratelimit.New(ratelimit.PerMinute(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst))
		handlerOpts = append(handlerOpts, escalation.WithLimiter(app.limiter))
	}

	handler, err := escalation.NewHandler(escalation.Config{
		SecretName:      cfg.Credentials.SecretName,
		OwnLogGroup:     cfg.Logging.OutcomeLogGroup,
		DedupWindow:     cfg.Dedup.Window,
		DedupTTL:        cfg.Dedup.TTL,
		ReservationTTL:  cfg.Dedup.ReservationTTL,
		CredentialRetry: retryConfig(cfg.Credentials.Retry, cfg.Credentials.Timeout),
		TrackerRetry:    retryConfig(cfg.Tracker.Retry, cfg.Tracker.Timeout),
	}, provider, client, store, logger, handlerOpts...)
	if err != nil {
		return nil, err
	}
	app.Handler = handler

	logger.Info("Escalation handler ready",
		zap.String("credentials_source", cfg.Credentials.Source),
		zap.String("dedup_store", store.Name()),
		zap.String("sink", sink.Name()),
		zap.Bool("rate_limited", app.limiter != nil),
		zap.Bool("tracing", cfg.Telemetry.Enabled))

	ok = true
	return app, nil
}

// Close flushes the sinks and tracing and releases connections.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.sink != nil {
		err = multierr.Append(err, a.sink.Close())
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.Tracing != nil {
		err = multierr.Append(err, a.Tracing.Shutdown(ctx))
	}
	return err
}

func newProvider(ctx context.Context, cfg config.Credentials, getenv func(string) string, logger *zap.Logger) (credentials.Provider, error) {
	switch cfg.Source {
	case config.SourceEnv:
		return credentials.EnvProvider{Getenv: getenv}, nil
	case config.SourceKeyring:
		return credentials.KeyringProvider{Service: credentials.KeyringService}, nil
	case config.SourceSecretsManager:
		client, err := credentials.NewSecretsManagerClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return credentials.NewSecretsManagerProvider(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown credentials source %q", cfg.Source)
	}
}

// newStore returns the process-local store, backed by Redis when configured.
func (a *App) newStore(cfg config.Dedup) dedup.Store {
	local := dedup.NewMemoryStore(cfg.MaxEntries, cfg.TTL)
	if cfg.Redis.Address == "" {
		return local
	}
	a.redis = dedup.NewRedisClient(dedup.RedisOptions{
		Address:     cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	return dedup.NewTieredStore(local, dedup.NewRedisStore(a.redis, cfg.Redis.KeyPrefix), a.log)
}

func newSink(cfg config.Sinks, logger *zap.Logger) (outcome.Sink, error) {
	sinks := []outcome.Sink{outcome.NewLogSink(logger)}
	breaker := outcome.DefaultCircuitBreakerConfig()
	breaker.FailureThreshold = cfg.CircuitBreaker.FailureThreshold
	breaker.OpenTimeout = cfg.CircuitBreaker.OpenTimeout

	if cfg.Kafka.Enabled {
		kcfg := outcome.KafkaSinkConfig{
			Name:         "kafka",
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		}
		if t := cfg.Kafka.TLS; t != nil {
			kcfg.TLS = &outcome.KafkaTLSConfig{Enabled: t.Enabled, InsecureSkipVerify: t.InsecureSkipVerify}
			if t.CACert != "" {
				pem, err := os.ReadFile(t.CACert)
				if err != nil {
					return nil, fmt.Errorf("failed to read Kafka CA certificate: %w", err)
				}
				kcfg.TLS.CACert = pem
			}
		}
		if s := cfg.Kafka.SASL; s != nil {
			kcfg.SASL = &outcome.KafkaSASLConfig{Mechanism: s.Mechanism, Username: s.Username, Password: s.Password}
		}
		kafka, err := outcome.NewKafkaSink(kcfg, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, outcome.NewCircuitBreakerSink(kafka, breaker, logger))
	}

	if cfg.Mail.Enabled {
		sender := outcome.NewSMTPSender(outcome.MailConfig{
			Host:               cfg.Mail.Host,
			Port:               cfg.Mail.Port,
			Username:           cfg.Mail.Username,
			Password:           cfg.Mail.Password,
			InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
			SenderAddress:      cfg.Mail.SenderAddress,
			SenderName:         cfg.Mail.SenderName,
			Receivers:          cfg.Mail.Receivers,
			RetryCount:         cfg.Mail.RetryCount,
		}, logger)
		mail, err := outcome.NewMailSink(sender, cfg.Mail.Receivers, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, outcome.NewCircuitBreakerSink(mail, breaker, logger))
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return outcome.NewMultiSink(sinks, logger), nil
}

func retryConfig(r config.Retry, attemptTimeout time.Duration) escalation.RetryConfig {
	return escalation.RetryConfig{
		MaxAttempts:       r.MaxAttempts,
		InitialBackoff:    r.InitialBackoff,
		MaxBackoff:        r.MaxBackoff,
		BackoffMultiplier: r.BackoffMultiplier,
		AttemptTimeout:    attemptTimeout,
	}
}
