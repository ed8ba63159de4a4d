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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockSender records sent mails.
type MockSender struct {
	Receivers [][]string
	Subjects  []string
	Bodies    []string
	Err       error
}

func (m *MockSender) Send(_ context.Context, receivers []string, subject, body string) error {
	m.Receivers = append(m.Receivers, receivers)
	m.Subjects = append(m.Subjects, subject)
	m.Bodies = append(m.Bodies, body)
	return m.Err
}

func (m *MockSender) GetHost() string { return "mock" }

func TestNewMailSink_RequiresReceivers(t *testing.T) {
	_, err := NewMailSink(&MockSender{}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestMailSink_OnlyErrorRecords(t *testing.T) {
	sender := &MockSender{}
	sink, err := NewMailSink(sender, []string{"oncall@example.com"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), NewRecord("HighCPU", Created("OPS-1"), 1, StageIssueCreate)))
	assert.Empty(t, sender.Subjects)

	failed := NewRecord("HighCPU", Failed(KindUpstreamUnavailable, "HTTP 503"), 3, StageIssueCreate)
	failed.Result.HTTPStatus = 503
	failed.RequestID = "req-9"
	require.NoError(t, sink.Write(context.Background(), failed))

	require.Len(t, sender.Subjects, 1)
	assert.Equal(t, []string{"oncall@example.com"}, sender.Receivers[0])
	assert.Contains(t, sender.Subjects[0], "HighCPU")
	assert.Contains(t, sender.Bodies[0], "upstream_unavailable")
	assert.Contains(t, sender.Bodies[0], "HTTP:      503")
	assert.Contains(t, sender.Bodies[0], "req-9")
	assert.Equal(t, "mail", sink.Name())
}

func TestMailSink_PropagatesSendError(t *testing.T) {
	sender := &MockSender{Err: errors.New("smtp down")}
	sink, err := NewMailSink(sender, []string{"oncall@example.com"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = sink.Write(context.Background(), NewRecord("Disk", Failed(KindInternal, "panic"), 0, StageReceived))
	assert.ErrorContains(t, err, "smtp down")
}

func TestNewSMTPSender_Defaults(t *testing.T) {
	s := NewSMTPSender(MailConfig{Host: "smtp.example.com", Port: 587}, zaptest.NewLogger(t))

	impl, ok := s.(*smtpSender)
	require.True(t, ok)
	assert.Equal(t, "smtp.example.com", s.GetHost())
	assert.Equal(t, "Alarm Escalator", impl.senderName)
	assert.Equal(t, 2, impl.retryCount)
}
