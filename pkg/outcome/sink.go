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

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/metrics"
)

// Sink defines the interface for outcome record destinations.
type Sink interface {
	// Write sends an outcome record to the sink.
	Write(ctx context.Context, record *Record) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes outcome records as structured log lines. This is the durable
// record of every invocation; the logger it is given must not write into a log
// group watched by the alarms that trigger the handler.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("outcome")}
}

// Write logs the outcome record at INFO or ERROR according to its level.
func (s *LogSink) Write(_ context.Context, record *Record) error {
	fields := []zap.Field{
		zap.String("alarm_name", record.AlarmName),
		zap.Object("result", record.Result),
		zap.Int("attempt_count", record.AttemptCount),
		zap.String("stage", string(record.Stage)),
		zap.Duration("duration", record.Duration),
	}
	if record.RequestID != "" {
		fields = append(fields, zap.String("request_id", record.RequestID))
	}
	if record.DedupKey != "" {
		fields = append(fields, zap.String("dedup_key", record.DedupKey))
	}

	if record.Level == LevelError {
		s.logger.Error("escalation_outcome", fields...)
	} else {
		s.logger.Info("escalation_outcome", fields...)
	}
	return nil
}

// Close flushes the underlying logger.
func (s *LogSink) Close() error {
	// Sync on stdout/stderr returns EINVAL on some platforms; nothing to report.
	_ = s.logger.Sync()
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// MultiSink writes to multiple sinks in order.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger,
	}
}

// Write sends the record to all sinks. A failing sink does not prevent the
// remaining sinks from receiving the record.
func (s *MultiSink) Write(ctx context.Context, record *Record) error {
	var errs error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, record); err != nil {
			// Use string representation to avoid noisy stacktraces for transient errors
			s.logger.Warn("outcome sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			metrics.SinkErrors.WithLabelValues(sink.Name(), "write").Inc()
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Close closes all sinks.
func (s *MultiSink) Close() error {
	var errs error
	for _, sink := range s.sinks {
		errs = multierr.Append(errs, sink.Close())
	}
	return errs
}

// Name returns the sink identifier.
func (s *MultiSink) Name() string {
	return "multi"
}

// Sinks returns the wrapped sinks.
func (s *MultiSink) Sinks() []Sink {
	return s.sinks
}
