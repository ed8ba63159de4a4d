// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alarm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

const (
	eventBridgeAlarmDetailType = "CloudWatch Alarm State Change"
	logGroupDimension          = "LogGroupName"

	// maxEnvelopeDepth bounds JSON-in-JSON unwrapping.
	maxEnvelopeDepth = 4
)

// cloudWatchBody is the alarm payload CloudWatch publishes to SNS.
type cloudWatchBody struct {
	AlarmName        string             `json:"AlarmName"`
	AlarmDescription string             `json:"AlarmDescription"`
	AWSAccountID     string             `json:"AWSAccountId"`
	NewStateValue    string             `json:"NewStateValue"`
	NewStateReason   string             `json:"NewStateReason"`
	OldStateValue    string             `json:"OldStateValue"`
	StateChangeTime  string             `json:"StateChangeTime"`
	Region           string             `json:"Region"`
	SourceLogGroup   string             `json:"SourceLogGroup"`
	Trigger          *cloudWatchTrigger `json:"Trigger"`
}

type cloudWatchTrigger struct {
	MetricName         string  `json:"MetricName"`
	Namespace          string  `json:"Namespace"`
	Statistic          string  `json:"Statistic"`
	Period             float64 `json:"Period"`
	EvaluationPeriods  float64 `json:"EvaluationPeriods"`
	Threshold          float64 `json:"Threshold"`
	ComparisonOperator string  `json:"ComparisonOperator"`
	Dimensions         []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"Dimensions"`
}

// eventBridgeDetail is the detail object of an EventBridge alarm state change.
type eventBridgeDetail struct {
	AlarmName string `json:"alarmName"`
	State     struct {
		Value     string `json:"value"`
		Reason    string `json:"reason"`
		Timestamp string `json:"timestamp"`
	} `json:"state"`
	PreviousState struct {
		Value string `json:"value"`
	} `json:"previousState"`
	Configuration struct {
		Description string `json:"description"`
		Metrics     []struct {
			MetricStat struct {
				Metric struct {
					Namespace  string            `json:"namespace"`
					Name       string            `json:"name"`
					Dimensions map[string]string `json:"dimensions"`
				} `json:"metric"`
				Period int    `json:"period"`
				Stat   string `json:"stat"`
			} `json:"metricStat"`
		} `json:"metrics"`
	} `json:"configuration"`
}

// plainBody is the snake_case notification shape used by direct invocations.
type plainBody struct {
	AlarmName      string            `json:"alarm_name"`
	Description    string            `json:"description"`
	NewState       string            `json:"new_state"`
	OldState       string            `json:"old_state"`
	Reason         string            `json:"reason"`
	Timestamp      string            `json:"timestamp"`
	SourceLogGroup string            `json:"source_log_group"`
	Dimensions     map[string]string `json:"dimensions"`
	AccountID      string            `json:"account_id"`
	Region         string            `json:"region"`
	Trigger        *Trigger          `json:"trigger"`
}

type snsHTTPMessage struct {
	Type      string `json:"Type"`
	Message   string `json:"Message"`
	TopicArn  string `json:"TopicArn"`
	Timestamp string `json:"Timestamp"`
}

// ParseEnvelope extracts every alarm payload from data. An SNS event with
// several records yields one Delivery per record; a record that cannot be
// parsed yields a Delivery carrying the error. The returned error is set only
// when the envelope as a whole is unusable. A payload without a usable
// timestamp gets the SNS publish time, or received when there is none.
func ParseEnvelope(data []byte, received time.Time) ([]Delivery, error) {
	p := parser{received: received.UTC()}
	return p.parseValue(data, 0)
}

type parser struct {
	received time.Time
	// published is the SNS publish time of the record being parsed
	published time.Time
}

func (p parser) withPublished(t time.Time) parser {
	if !t.IsZero() {
		p.published = t.UTC()
	}
	return p
}

func (p parser) fallbackTime() time.Time {
	if !p.published.IsZero() {
		return p.published
	}
	return p.received
}

func (p parser) parseValue(data []byte, depth int) ([]Delivery, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty envelope", ErrMalformed)
	}
	if depth > maxEnvelopeDepth {
		return nil, fmt.Errorf("%w: envelope nested too deeply", ErrMalformed)
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		trimmed := strings.TrimSpace(s)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return []Delivery{{Err: fmt.Errorf("%w: message is not JSON", ErrMalformed), Raw: s}}, nil
		}
		return p.parseValue([]byte(trimmed), depth+1)

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		deliveries := make([]Delivery, 0, len(items))
		for _, item := range items {
			ds, err := p.parseValue(item, depth+1)
			if err != nil {
				deliveries = append(deliveries, Delivery{Err: err})
				continue
			}
			deliveries = append(deliveries, ds...)
		}
		return deliveries, nil

	case '{':
		return p.parseObject(data, depth)

	default:
		return nil, fmt.Errorf("%w: unsupported envelope", ErrMalformed)
	}
}

func (p parser) parseObject(data []byte, depth int) ([]Delivery, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	has := func(k string) bool {
		_, ok := keys[k]
		return ok
	}

	switch {
	case has("Records"):
		var ev events.SNSEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: SNS event: %v", ErrMalformed, err)
		}
		if len(ev.Records) == 0 {
			return nil, fmt.Errorf("%w: SNS event without records", ErrMalformed)
		}
		var deliveries []Delivery
		for _, rec := range ev.Records {
			deliveries = append(deliveries, p.withPublished(rec.SNS.Timestamp).parseMessage(rec.SNS.Message, depth)...)
		}
		return deliveries, nil

	case has("Type") && has("Message"):
		var msg snsHTTPMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: SNS message: %v", ErrMalformed, err)
		}
		if msg.Type != "Notification" {
			return nil, fmt.Errorf("%w: unsupported SNS message type %q", ErrMalformed, msg.Type)
		}
		q := p
		if t, err := ParseTimestamp(msg.Timestamp); err == nil {
			q = p.withPublished(t)
		}
		return q.parseMessage(msg.Message, depth), nil

	case has("detail-type"):
		var ev events.CloudWatchEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: EventBridge event: %v", ErrMalformed, err)
		}
		if ev.DetailType != eventBridgeAlarmDetailType {
			return nil, fmt.Errorf("%w: unsupported detail-type %q", ErrMalformed, ev.DetailType)
		}
		return []Delivery{p.fromEventBridge(ev)}, nil

	case has("AlarmName") || has("NewStateValue"):
		var body cloudWatchBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("%w: alarm body: %v", ErrMalformed, err)
		}
		return []Delivery{p.fromCloudWatch(body)}, nil

	case has("alarm_name") || has("new_state"):
		var body plainBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("%w: alarm body: %v", ErrMalformed, err)
		}
		return []Delivery{p.fromPlain(body)}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported envelope", ErrMalformed)
	}
}

func (p parser) parseMessage(message string, depth int) []Delivery {
	if strings.TrimSpace(message) == "" {
		return []Delivery{{Err: fmt.Errorf("%w: SNS record without message", ErrMalformed)}}
	}
	ds, err := p.parseValue([]byte(message), depth+1)
	if err != nil {
		if !json.Valid([]byte(message)) {
			return []Delivery{{Err: fmt.Errorf("%w: message is not JSON", ErrMalformed), Raw: message}}
		}
		return []Delivery{{Err: err}}
	}
	return ds
}

func (p parser) fromCloudWatch(b cloudWatchBody) Delivery {
	n := Notification{
		AlarmName:      b.AlarmName,
		Description:    b.AlarmDescription,
		Reason:         b.NewStateReason,
		SourceLogGroup: b.SourceLogGroup,
		AccountID:      b.AWSAccountID,
		Region:         b.Region,
	}
	if t := b.Trigger; t != nil {
		n.Trigger = &Trigger{
			MetricName:         t.MetricName,
			Namespace:          t.Namespace,
			Statistic:          t.Statistic,
			Period:             int(t.Period),
			EvaluationPeriods:  int(t.EvaluationPeriods),
			Threshold:          t.Threshold,
			ComparisonOperator: t.ComparisonOperator,
		}
		if len(t.Dimensions) > 0 {
			n.Dimensions = make(map[string]string, len(t.Dimensions))
			for _, d := range t.Dimensions {
				n.Dimensions[d.Name] = d.Value
			}
		}
	}
	return p.finish(n, b.NewStateValue, b.OldStateValue, b.StateChangeTime)
}

func (p parser) fromEventBridge(ev events.CloudWatchEvent) Delivery {
	var d eventBridgeDetail
	if err := json.Unmarshal(ev.Detail, &d); err != nil {
		return Delivery{Err: fmt.Errorf("%w: EventBridge detail: %v", ErrMalformed, err)}
	}
	n := Notification{
		AlarmName:   d.AlarmName,
		Description: d.Configuration.Description,
		Reason:      d.State.Reason,
		AccountID:   ev.AccountID,
		Region:      ev.Region,
	}
	if len(d.Configuration.Metrics) > 0 {
		stat := d.Configuration.Metrics[0].MetricStat
		n.Trigger = &Trigger{
			MetricName: stat.Metric.Name,
			Namespace:  stat.Metric.Namespace,
			Statistic:  stat.Stat,
			Period:     stat.Period,
		}
		n.Dimensions = stat.Metric.Dimensions
	}
	ts := d.State.Timestamp
	if ts == "" && !ev.Time.IsZero() {
		ts = ev.Time.Format(time.RFC3339)
	}
	return p.finish(n, d.State.Value, d.PreviousState.Value, ts)
}

func (p parser) fromPlain(b plainBody) Delivery {
	n := Notification{
		AlarmName:      b.AlarmName,
		Description:    b.Description,
		Reason:         b.Reason,
		SourceLogGroup: b.SourceLogGroup,
		Dimensions:     b.Dimensions,
		AccountID:      b.AccountID,
		Region:         b.Region,
		Trigger:        b.Trigger,
	}
	return p.finish(n, b.NewState, b.OldState, b.Timestamp)
}

// finish validates the required fields and fills derived ones.
func (p parser) finish(n Notification, state, oldState, ts string) Delivery {
	n.AlarmName = strings.TrimSpace(n.AlarmName)
	if n.AlarmName == "" {
		return Delivery{Err: fmt.Errorf("%w: missing alarm name", ErrMalformed)}
	}
	st, err := ParseState(state)
	if err != nil {
		return Delivery{Err: err, AlarmName: n.AlarmName}
	}
	n.NewState = st
	if old, err := ParseState(oldState); err == nil {
		n.OldState = old
	}

	n.RawTimestamp = ts
	n.Timestamp = p.fallbackTime()
	if ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			n.Timestamp = t
		} else {
			n.TimestampErr = err
		}
	}

	if n.SourceLogGroup == "" {
		n.SourceLogGroup = n.Dimensions[logGroupDimension]
	}
	return Delivery{Notification: &n}
}
