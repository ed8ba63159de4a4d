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
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Status is the discriminator of a Result.
type Status string

const (
	StatusCreated Status = "created"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// FailureKind classifies a failed escalation.
type FailureKind string

const (
	// KindMalformedInput: the notification could not be parsed. Never retried.
	KindMalformedInput FailureKind = "malformed_input"
	// KindInvalidCredentials: the secret is missing, unreadable or incomplete. Never retried.
	KindInvalidCredentials FailureKind = "invalid_credentials"
	// KindTransient: a retryable upstream failure (429, 5xx, timeout, provider throttling).
	KindTransient FailureKind = "transient"
	// KindRejected: the issue tracker refused the request (auth, validation).
	KindRejected FailureKind = "rejected"
	// KindUpstreamUnavailable: transient failures exhausted the retry budget.
	KindUpstreamUnavailable FailureKind = "upstream_unavailable"
	// KindInternal: a defect inside the handler. The invocation fails as well.
	KindInternal FailureKind = "internal"
)

// Retryable reports whether the handler may retry an operation that failed with this kind.
func (k FailureKind) Retryable() bool {
	return k == KindTransient
}

// Skip reasons.
const (
	ReasonNonAlarmState = "non-alarm state"
	ReasonDuplicate     = "duplicate"
	ReasonRateLimited   = "rate limited"
	ReasonFeedbackLoop  = "feedback loop"
)

// Result is the tagged outcome of an escalation attempt. Status selects
// IssueKey (created), Reason (skipped) or Kind/Message (failed). A duplicate
// skip also names the issue created for the first delivery when it is known.
type Result struct {
	Status   Status      `json:"status"`
	IssueKey string      `json:"issue_key,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Kind     FailureKind `json:"kind,omitempty"`
	Message  string      `json:"message,omitempty"`

	// HTTPStatus is the issue tracker response code when one was received.
	HTTPStatus int `json:"http_status,omitempty"`
}

// Created returns a Result for a newly created issue.
func Created(issueKey string) Result {
	return Result{Status: StatusCreated, IssueKey: issueKey}
}

// Skipped returns a Result for a notification that was intentionally not escalated.
func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// Duplicate returns Skipped{duplicate}, naming the issue already opened for
// the incident when it is known.
func Duplicate(existingIssueKey string) Result {
	return Result{Status: StatusSkipped, Reason: ReasonDuplicate, IssueKey: existingIssueKey}
}

// Failed returns a Result for a failed escalation.
func Failed(kind FailureKind, message string) Result {
	return Result{Status: StatusFailed, Kind: kind, Message: message}
}

// Succeeded reports whether the result is a terminal success (created or skipped).
func (r Result) Succeeded() bool {
	return r.Status == StatusCreated || r.Status == StatusSkipped
}

func (r Result) String() string {
	switch r.Status {
	case StatusCreated:
		return fmt.Sprintf("Created{%s}", r.IssueKey)
	case StatusSkipped:
		if r.IssueKey != "" {
			return fmt.Sprintf("Skipped{%s: %s}", r.Reason, r.IssueKey)
		}
		return fmt.Sprintf("Skipped{%s}", r.Reason)
	case StatusFailed:
		return fmt.Sprintf("Failed{%s: %s}", r.Kind, r.Message)
	default:
		return "Unknown{}"
	}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r Result) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("status", string(r.Status))
	switch r.Status {
	case StatusCreated:
		enc.AddString("issue_key", r.IssueKey)
	case StatusSkipped:
		enc.AddString("reason", r.Reason)
		if r.IssueKey != "" {
			enc.AddString("issue_key", r.IssueKey)
		}
	case StatusFailed:
		enc.AddString("kind", string(r.Kind))
		enc.AddString("message", r.Message)
	}
	if r.HTTPStatus != 0 {
		enc.AddInt("http_status", r.HTTPStatus)
	}
	return nil
}

// Level is the severity of an outcome record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// LevelFor maps a result to its record level: failures are ERROR, everything else INFO.
func LevelFor(r Result) Level {
	if r.Status == StatusFailed {
		return LevelError
	}
	return LevelInfo
}

// Stage names the pipeline state in which an escalation terminated.
type Stage string

const (
	StageReceived        Stage = "received"
	StageCredentialFetch Stage = "credential_fetch"
	StageDedupCheck      Stage = "dedup_check"
	StageRateLimit       Stage = "rate_limit"
	StageIssueCreate     Stage = "issue_create"
)

// Record is the single structured artifact written per handled notification.
type Record struct {
	Level     Level     `json:"level"`
	AlarmName string    `json:"alarm_name"`
	Result    Result    `json:"result"`
	// AttemptCount is the number of attempts made in the stage that decided
	// the outcome; zero when no remote stage ran.
	AttemptCount int `json:"attempt_count"`

	RequestID string        `json:"request_id,omitempty"`
	DedupKey  string        `json:"dedup_key,omitempty"`
	Stage     Stage         `json:"stage"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewRecord builds a record with its level derived from the result.
func NewRecord(alarmName string, result Result, attempts int, stage Stage) *Record {
	return &Record{
		Level:        LevelFor(result),
		AlarmName:    alarmName,
		Result:       result,
		AttemptCount: attempts,
		Stage:        stage,
		Timestamp:    time.Now().UTC(),
	}
}
