// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alarm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrMalformed is wrapped by every error describing an unusable notification.
var ErrMalformed = errors.New("malformed alarm notification")

// State is the alarm state a notification reports.
type State string

const (
	StateAlarm            State = "ALARM"
	StateOK               State = "OK"
	StateInsufficientData State = "INSUFFICIENT_DATA"
)

// ParseState normalizes s into a known State.
func ParseState(s string) (State, error) {
	switch st := State(strings.ToUpper(strings.TrimSpace(s))); st {
	case StateAlarm, StateOK, StateInsufficientData:
		return st, nil
	case "":
		return "", fmt.Errorf("%w: missing alarm state", ErrMalformed)
	default:
		return "", fmt.Errorf("%w: unknown alarm state %q", ErrMalformed, s)
	}
}

// Trigger describes the metric condition behind an alarm.
type Trigger struct {
	MetricName         string  `json:"metric_name,omitempty"`
	Namespace          string  `json:"namespace,omitempty"`
	Statistic          string  `json:"statistic,omitempty"`
	Period             int     `json:"period,omitempty"`
	EvaluationPeriods  int     `json:"evaluation_periods,omitempty"`
	Threshold          float64 `json:"threshold,omitempty"`
	ComparisonOperator string  `json:"comparison_operator,omitempty"`
}

// Window returns the evaluation window of the alarm, or zero when unknown.
func (t *Trigger) Window() time.Duration {
	if t == nil || t.Period <= 0 || t.EvaluationPeriods <= 0 {
		return 0
	}
	return time.Duration(t.Period) * time.Duration(t.EvaluationPeriods) * time.Second
}

// Notification is a validated alarm state change. It is immutable once parsed
// and may be delivered more than once.
type Notification struct {
	AlarmName      string
	Description    string
	NewState       State
	OldState       State
	Reason         string
	Timestamp      time.Time
	SourceLogGroup string
	Dimensions     map[string]string

	AccountID string
	Region    string
	Trigger   *Trigger

	// RawTimestamp keeps the state change time as received, for display.
	RawTimestamp string
	// TimestampErr is set when RawTimestamp could not be parsed. Timestamp
	// then holds the SNS publish time or the receipt time.
	TimestampErr error
}

// IsAlarm reports whether the notification should be escalated at all.
func (n *Notification) IsAlarm() bool {
	return n.NewState == StateAlarm
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (n *Notification) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("alarm_name", n.AlarmName)
	enc.AddString("new_state", string(n.NewState))
	if n.OldState != "" {
		enc.AddString("old_state", string(n.OldState))
	}
	enc.AddTime("timestamp", n.Timestamp)
	if n.SourceLogGroup != "" {
		enc.AddString("source_log_group", n.SourceLogGroup)
	}
	if n.Region != "" {
		enc.AddString("region", n.Region)
	}
	return nil
}

// Delivery is one alarm payload found in an envelope. Exactly one of
// Notification and Err is set.
type Delivery struct {
	Notification *Notification

	// Err describes why the payload could not be turned into a Notification.
	Err error
	// AlarmName is the best-effort name of a malformed payload.
	AlarmName string
	// Raw is the unparsed message text when it was not JSON.
	Raw string
}

// Name returns the alarm name of the delivery, parsed or best effort.
func (d Delivery) Name() string {
	if d.Notification != nil {
		return d.Notification.AlarmName
	}
	return d.AlarmName
}

// timestampLayouts are tried in order; CloudWatch uses a millisecond layout
// with a numeric zone.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z0700",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTimestamp parses a CloudWatch or RFC3339 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
