package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/config"
	"github.com/telekom/alarm-escalator/pkg/escalation"
	"github.com/telekom/alarm-escalator/pkg/metrics"
	"github.com/telekom/alarm-escalator/pkg/ratelimit"
	"github.com/telekom/alarm-escalator/pkg/system"
	"github.com/telekom/alarm-escalator/pkg/version"
)

// Invoker runs one escalation invocation. Implemented by *escalation.Handler.
type Invoker interface {
	Invoke(ctx context.Context, payload json.RawMessage) (escalation.InvocationResponse, error)
}

type Server struct {
	gin     *gin.Engine
	config  config.Server
	log     *zap.SugaredLogger
	limiter *ratelimit.KeyedLimiter
	sns     *snsEndpoint
}

// NewServer builds the HTTP transport: POST /sns for SNS HTTPS subscriptions,
// GET /healthz, GET /metrics and GET /version.
func NewServer(log *zap.Logger, cfg config.Server, invoker Invoker, debug bool) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	s := &Server{
		gin:     engine,
		config:  cfg,
		log:     log.Sugar(),
		limiter: ratelimit.New(ratelimit.DefaultHTTPConfig()),
	}
	s.sns = newSNSEndpoint(invoker, cfg.AllowedTopicARNs, s.log)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.GetBuildInfo())
	})
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.POST("/sns", s.limiter.Middleware(), system.RequestLogger(s.log), s.sns.handle)

	return s, nil
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Starting SNS endpoint", "address", s.config.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.log.Infow("Shutting down SNS endpoint")
	return srv.Shutdown(shutdownCtx)
}

// Close stops background work of the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
