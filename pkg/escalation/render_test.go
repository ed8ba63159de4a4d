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

package escalation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/alarm-escalator/pkg/alarm"
	"github.com/telekom/alarm-escalator/pkg/credentials"
)

func richNotification() *alarm.Notification {
	return &alarm.Notification{
		AlarmName:      "svc-error-alarm",
		Description:    "Errors in svc",
		NewState:       alarm.StateAlarm,
		OldState:       alarm.StateOK,
		Reason:         "Threshold Crossed: 1 datapoint [3.0] was greater than the threshold (0.0).",
		Timestamp:      alarmTime,
		RawTimestamp:   "2026-05-04T09:58:12.000+0000",
		SourceLogGroup: "/ecs/svc",
		AccountID:      "123456789012",
		Region:         "EU (Frankfurt)",
		Trigger: &alarm.Trigger{
			MetricName:         "ErrorCount",
			Namespace:          "svc/logs",
			Period:             60,
			EvaluationPeriods:  1,
			Threshold:          0,
			ComparisonOperator: "GreaterThanThreshold",
		},
	}
}

func TestRender_Defaults(t *testing.T) {
	r, err := NewRenderer(Templates{}, "")
	require.NoError(t, err)

	creds := testBundle()
	creds.Components = []string{"backend"}
	creds.AssigneeAccountID = "5b10a2844c20165700ede21g"
	req, err := r.Render(richNotification(), creds)
	require.NoError(t, err)

	assert.Equal(t, "OPS", req.Project)
	assert.Equal(t, "[CloudWatch] svc-error-alarm is ALARM", req.Summary)
	assert.Equal(t, DefaultIssueType, req.IssueType)
	assert.Equal(t, []string{"RCA", "AI"}, req.Labels)
	assert.Equal(t, []string{"backend"}, req.Components)
	assert.Equal(t, "5b10a2844c20165700ede21g", req.AssigneeAccountID)

	for _, want := range []string{
		"Alarm Name: svc-error-alarm",
		"Alarm Description: Errors in svc",
		"AWS Account: 123456789012",
		"Region: EU (Frankfurt)",
		"State Change Time: 2026-05-04T09:58:12.000+0000",
		"Previous State: OK",
		"Current State: ALARM",
		"Log Group: /ecs/svc",
		"Threshold Crossed",
		`"metric_name": "ErrorCount"`,
	} {
		assert.Contains(t, req.Description, want)
	}
}

func TestRender_MissingContextUsesPlaceholders(t *testing.T) {
	r, err := NewRenderer(Templates{}, "Bug")
	require.NoError(t, err)

	n := &alarm.Notification{AlarmName: "svc-error-alarm", NewState: alarm.StateAlarm, Timestamp: alarmTime}
	req, err := r.Render(n, testBundle())
	require.NoError(t, err)

	assert.Equal(t, "Bug", req.IssueType)
	assert.Contains(t, req.Description, "Alarm Description: N/A")
	assert.Contains(t, req.Description, "Previous State: UNKNOWN")
	assert.Contains(t, req.Description, "State Change Time: 2026-05-04T09:58:12Z")
	assert.NotContains(t, req.Description, "Trigger:")
	assert.NotContains(t, req.Description, "Log Group:")
}

func TestRender_SecretIssueTypeWins(t *testing.T) {
	r, err := NewRenderer(Templates{}, "Bug")
	require.NoError(t, err)

	creds := testBundle()
	creds.IssueType = "Incident"
	req, err := r.Render(richNotification(), creds)
	require.NoError(t, err)
	assert.Equal(t, "Incident", req.IssueType)
}

func TestRender_CustomTemplates(t *testing.T) {
	r, err := NewRenderer(Templates{
		Summary:     `{{ .State | lower }}: {{ .AlarmName | upper }}`,
		Description: `{{ .Dimensions.Service | default "unknown" }}`,
	}, "")
	require.NoError(t, err)

	n := richNotification()
	n.Dimensions = map[string]string{"Service": "checkout"}
	req, err := r.Render(n, testBundle())
	require.NoError(t, err)
	assert.Equal(t, "alarm: SVC-ERROR-ALARM", req.Summary)
	assert.Equal(t, "checkout", req.Description)
}

func TestRender_SummaryIsSingleLineAndTruncated(t *testing.T) {
	r, err := NewRenderer(Templates{Summary: "{{ .AlarmName }}\n\n{{ .State }}"}, "")
	require.NoError(t, err)

	n := richNotification()
	n.AlarmName = strings.Repeat("ä", 300)
	req, err := r.Render(n, testBundle())
	require.NoError(t, err)

	assert.Equal(t, MaxSummaryLength, utf8.RuneCountInString(req.Summary))
	assert.NotContains(t, req.Summary, "\n")
	assert.True(t, utf8.ValidString(req.Summary))
}

func TestNewRenderer_InvalidTemplate(t *testing.T) {
	_, err := NewRenderer(Templates{Summary: "{{ .AlarmName "}, "")
	assert.ErrorContains(t, err, "summary template")

	_, err = NewRenderer(Templates{Description: "{{ nosuchfunc }}"}, "")
	assert.ErrorContains(t, err, "description template")
}

func TestRender_NoCredentialsLeak(t *testing.T) {
	r, err := NewRenderer(Templates{Description: "{{ . }}"}, "")
	require.NoError(t, err)

	creds := credentials.Bundle{Project: "OPS", APIToken: credentials.Token("super-secret")}
	req, err := r.Render(richNotification(), creds)
	require.NoError(t, err)
	assert.NotContains(t, req.Description, "super-secret")
}
