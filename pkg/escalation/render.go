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
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/alarm-escalator/pkg/alarm"
	"github.com/telekom/alarm-escalator/pkg/credentials"
	"github.com/telekom/alarm-escalator/pkg/tracker"
)

// MaxSummaryLength is the issue tracker's summary limit, in characters.
const MaxSummaryLength = 255

// DefaultIssueType is used when neither the secret nor the configuration names one.
const DefaultIssueType = "Task"

const defaultSummaryTemplate = `[CloudWatch] {{ .AlarmName }} is {{ .State }}`

const defaultDescriptionTemplate = `CloudWatch alarm transitioned state.

Alarm Name: {{ .AlarmName }}
Alarm Description: {{ .Description | default "N/A" }}
AWS Account: {{ .AccountID | default "N/A" }}
Region: {{ .Region | default "N/A" }}
State Change Time: {{ .StateChangeTime }}
Previous State: {{ .OldState | default "UNKNOWN" }}
Current State: {{ .State }}
{{- with .SourceLogGroup }}
Log Group: {{ . }}
{{- end }}

New State Reason:
{{ .Reason | default "N/A" }}
{{- with .Trigger }}

Trigger:
{{ toPrettyJson . }}
{{- end }}`

// Templates overrides the issue text. Empty fields select the defaults.
type Templates struct {
	Summary     string
	Description string
}

// templateData is the view of a notification exposed to templates.
type templateData struct {
	AlarmName       string
	State           string
	OldState        string
	Description     string
	Reason          string
	AccountID       string
	Region          string
	StateChangeTime string
	SourceLogGroup  string
	Dimensions      map[string]string
	Trigger         *alarm.Trigger
}

// Renderer builds issue requests from notifications.
type Renderer struct {
	summary     *template.Template
	description *template.Template
	issueType   string
}

// NewRenderer parses the templates. issueType is the configured default,
// overridden per secret.
func NewRenderer(t Templates, issueType string) (*Renderer, error) {
	summary := t.Summary
	if strings.TrimSpace(summary) == "" {
		summary = defaultSummaryTemplate
	}
	description := t.Description
	if strings.TrimSpace(description) == "" {
		description = defaultDescriptionTemplate
	}

	st, err := template.New("summary").Funcs(sprig.TxtFuncMap()).Parse(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary template: %w", err)
	}
	dt, err := template.New("description").Funcs(sprig.TxtFuncMap()).Parse(description)
	if err != nil {
		return nil, fmt.Errorf("failed to parse description template: %w", err)
	}
	if issueType == "" {
		issueType = DefaultIssueType
	}
	return &Renderer{summary: st, description: dt, issueType: issueType}, nil
}

// Render builds the issue request for n using the project and routing
// settings of creds.
func (r *Renderer) Render(n *alarm.Notification, creds credentials.Bundle) (tracker.IssueRequest, error) {
	data := templateData{
		AlarmName:       n.AlarmName,
		State:           string(n.NewState),
		OldState:        string(n.OldState),
		Description:     n.Description,
		Reason:          n.Reason,
		AccountID:       n.AccountID,
		Region:          n.Region,
		StateChangeTime: n.RawTimestamp,
		SourceLogGroup:  n.SourceLogGroup,
		Dimensions:      n.Dimensions,
		Trigger:         n.Trigger,
	}
	if data.StateChangeTime == "" {
		data.StateChangeTime = n.Timestamp.UTC().Format(time.RFC3339)
	}

	summary, err := execute(r.summary, data)
	if err != nil {
		return tracker.IssueRequest{}, err
	}
	summary = strings.Join(strings.Fields(summary), " ")
	if summary == "" {
		summary = fmt.Sprintf("[CloudWatch] %s is %s", n.AlarmName, n.NewState)
	}
	description, err := execute(r.description, data)
	if err != nil {
		return tracker.IssueRequest{}, err
	}

	issueType := creds.IssueType
	if issueType == "" {
		issueType = r.issueType
	}

	return tracker.IssueRequest{
		Project:           creds.Project,
		Summary:           truncateRunes(summary, MaxSummaryLength),
		Description:       description,
		Labels:            credentials.NormalizeLabels(creds.Labels),
		IssueType:         issueType,
		Components:        creds.Components,
		AssigneeAccountID: creds.AssigneeAccountID,
	}, nil
}

func execute(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
