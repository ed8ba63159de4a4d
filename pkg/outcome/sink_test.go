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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu      sync.Mutex
	name    string
	err     error
	records []*Record
	closed  bool
}

func (s *recordingSink) Write(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) Name() string { return s.name }

func TestLogSink_LevelsFollowResult(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	created := NewRecord("HighCPU", Created("OPS-42"), 1, StageIssueCreate)
	created.RequestID = "req-1"
	created.DedupKey = "abc"
	require.NoError(t, sink.Write(context.Background(), created))

	failed := NewRecord("HighCPU", Failed(KindRejected, "HTTP 400"), 1, StageIssueCreate)
	require.NoError(t, sink.Write(context.Background(), failed))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "escalation_outcome", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "HighCPU", fields["alarm_name"])
	assert.Equal(t, int64(1), fields["attempt_count"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "abc", fields["dedup_key"])
	result, ok := fields["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "created", result["status"])
	assert.Equal(t, "OPS-42", result["issue_key"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	_, hasRequestID := entries[1].ContextMap()["request_id"]
	assert.False(t, hasRequestID)
}

func TestLogSink_NeverLogsCredentials(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	rec := NewRecord("HighCPU", Failed(KindRejected, "HTTP 401 Unauthorized"), 1, StageIssueCreate)
	require.NoError(t, sink.Write(context.Background(), rec))

	for _, e := range logs.All() {
		for k := range e.ContextMap() {
			assert.NotContains(t, k, "token")
		}
	}
}

func TestMultiSink_WritesAllAndAggregatesErrors(t *testing.T) {
	good := &recordingSink{name: "good"}
	bad1 := &recordingSink{name: "bad1", err: errors.New("first")}
	bad2 := &recordingSink{name: "bad2", err: errors.New("second")}
	multi := NewMultiSink([]Sink{bad1, good, bad2}, zaptest.NewLogger(t))

	err := multi.Write(context.Background(), NewRecord("A", Skipped(ReasonDuplicate), 0, StageDedupCheck))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
	assert.Len(t, good.records, 1)
	assert.Len(t, bad1.records, 1)
	assert.Len(t, bad2.records, 1)

	require.NoError(t, multi.Close())
	assert.True(t, good.closed)
	assert.Equal(t, "multi", multi.Name())
	assert.Len(t, multi.Sinks(), 3)
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "Created{OPS-1}", Created("OPS-1").String())
	assert.Equal(t, "Skipped{duplicate}", Skipped(ReasonDuplicate).String())
	assert.Equal(t, "Skipped{duplicate}", Duplicate("").String())
	assert.Equal(t, "Skipped{duplicate: OPS-1}", Duplicate("OPS-1").String())
	assert.True(t, Duplicate("OPS-1").Succeeded())
	assert.False(t, Failed(KindTransient, "HTTP 503").Succeeded())
	assert.Equal(t, "Failed{transient: HTTP 503}", Failed(KindTransient, "HTTP 503").String())
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelInfo, LevelFor(Created("X-1")))
	assert.Equal(t, LevelInfo, LevelFor(Skipped(ReasonNonAlarmState)))
	assert.Equal(t, LevelError, LevelFor(Failed(KindInternal, "panic")))
}

func TestFailureKind_Retryable(t *testing.T) {
	assert.True(t, KindTransient.Retryable())
	for _, k := range []FailureKind{KindMalformedInput, KindInvalidCredentials, KindRejected, KindUpstreamUnavailable, KindInternal} {
		assert.False(t, k.Retryable(), k)
	}
}

func TestNewRecord(t *testing.T) {
	before := time.Now().UTC()
	rec := NewRecord("Disk", Failed(KindUpstreamUnavailable, "HTTP 503"), 3, StageIssueCreate)

	assert.Equal(t, LevelError, rec.Level)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Equal(t, StageIssueCreate, rec.Stage)
	assert.False(t, rec.Timestamp.Before(before))
}
