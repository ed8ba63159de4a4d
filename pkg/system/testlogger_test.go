package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger()
	require.NotNil(t, logger)

	// Verify it's a sugared logger that can log without panicking
	logger.Info("test message")
	logger.Infow("test message with fields", "key", "value")
}

func TestNewObservedLogger(t *testing.T) {
	logger, logs := NewObservedLogger(zap.InfoLevel)
	logger.Debug("dropped")
	logger.Info("escalation_outcome", zap.String("alarm_name", "svc-error-alarm"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "svc-error-alarm", entries[0].ContextMap()["alarm_name"])
}
