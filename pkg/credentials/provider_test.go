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

package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap/zaptest"
)

type fakeSecretsManager struct {
	out   *secretsmanager.GetSecretValueOutput
	err   error
	calls int
	ids   []string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	f.ids = append(f.ids, aws.ToString(in.SecretId))
	return f.out, f.err
}

func TestSecretsManagerProvider_Fetch(t *testing.T) {
	client := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(validSecret)}}
	p := NewSecretsManagerProvider(client, zaptest.NewLogger(t))

	b, err := p.Fetch(context.Background(), "jira/escalator")
	require.NoError(t, err)
	assert.Equal(t, "OPS", b.Project)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, []string{"jira/escalator"}, client.ids)
}

func TestSecretsManagerProvider_SecretBinary(t *testing.T) {
	client := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte(validSecret)}}
	b, err := NewSecretsManagerProvider(client, zaptest.NewLogger(t)).Fetch(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", b.Identity)
}

func TestSecretsManagerProvider_Errors(t *testing.T) {
	tests := []struct {
		name  string
		out   *secretsmanager.GetSecretValueOutput
		err   error
		want  error
		fatal bool
	}{
		{
			name:  "not found",
			err:   &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no such secret"},
			want:  ErrSecretNotFound,
			fatal: true,
		},
		{
			name:  "access denied",
			err:   &smithy.GenericAPIError{Code: "AccessDeniedException"},
			want:  ErrAccessDenied,
			fatal: true,
		},
		{
			name:  "kms decryption",
			err:   &smithy.GenericAPIError{Code: "DecryptionFailure"},
			want:  ErrAccessDenied,
			fatal: true,
		},
		{
			name: "throttled",
			err:  &smithy.GenericAPIError{Code: "ThrottlingException"},
			want: ErrProviderUnavailable,
		},
		{
			name: "internal service error",
			err:  &smithy.GenericAPIError{Code: "InternalServiceError"},
			want: ErrProviderUnavailable,
		},
		{
			name: "timeout",
			err:  context.DeadlineExceeded,
			want: ErrProviderUnavailable,
		},
		{
			name: "transport",
			err:  errors.New("dial tcp: i/o timeout"),
			want: ErrProviderUnavailable,
		},
		{
			name:  "empty secret",
			out:   &secretsmanager.GetSecretValueOutput{},
			want:  ErrSecretMalformed,
			fatal: true,
		},
		{
			name:  "missing field",
			out:   &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"host":"https://x.io"}`)},
			want:  ErrSecretMalformed,
			fatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSecretsManager{out: tt.out, err: tt.err}
			_, err := NewSecretsManagerProvider(client, zaptest.NewLogger(t)).Fetch(context.Background(), "jira")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.fatal, IsFatal(err))
		})
	}
}

func TestKeyringProvider(t *testing.T) {
	keyring.MockInit()

	p := KeyringProvider{}
	_, err := p.Fetch(context.Background(), "jira")
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.Error(t, StoreInKeyring("", "jira", `{"host":"https://x.io"}`))
	require.NoError(t, StoreInKeyring("", "jira", validSecret))

	b, err := p.Fetch(context.Background(), "jira")
	require.NoError(t, err)
	assert.Equal(t, "OPS", b.Project)
}

func TestKeyringProvider_BackendError(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus unavailable"))
	t.Cleanup(keyring.MockInit)

	_, err := KeyringProvider{}.Fetch(context.Background(), "jira")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestEnvProvider(t *testing.T) {
	env := map[string]string{
		"JIRA_HOST":        "https://jira.example.com",
		"JIRA_EMAIL":       "bot@example.com",
		"JIRA_API_TOKEN":   "tok",
		"JIRA_PROJECT_KEY": "OPS",
		"JIRA_ALARM_LABEL": "cloudwatch alarm",
	}
	p := EnvProvider{Getenv: func(k string) string { return env[k] }}

	b, err := p.Fetch(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "OPS", b.Project)
	assert.Equal(t, []string{"cloudwatch-alarm"}, b.Labels)

	delete(env, "JIRA_API_TOKEN")
	_, err = p.Fetch(context.Background(), "ignored")
	assert.ErrorIs(t, err, ErrSecretMalformed)
}

func TestCachingProvider(t *testing.T) {
	calls := 0
	inner := ProviderFunc(func(context.Context, string) (Bundle, error) {
		calls++
		return ParseBundle([]byte(validSecret))
	})
	p := NewCachingProvider(inner, NewTTLCache(time.Minute))

	for i := 0; i < 3; i++ {
		_, err := p.Fetch(context.Background(), "jira")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	p.Invalidate("jira")
	_, err := p.Fetch(context.Background(), "jira")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestTTLCache_Expiry(t *testing.T) {
	c := NewTTLCache(50 * time.Millisecond)
	c.Put("jira", Bundle{Project: "OPS"})

	b, ok := c.Get("jira")
	require.True(t, ok)
	assert.Equal(t, "OPS", b.Project)

	require.Eventually(t, func() bool {
		_, ok := c.Get("jira")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCachingProvider_ErrorsNotCached(t *testing.T) {
	calls := 0
	inner := ProviderFunc(func(context.Context, string) (Bundle, error) {
		calls++
		return Bundle{}, ErrProviderUnavailable
	})
	p := NewCachingProvider(inner, NewTTLCache(time.Minute))

	_, err := p.Fetch(context.Background(), "jira")
	require.Error(t, err)
	_, err = p.Fetch(context.Background(), "jira")
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestTTLCache_ZeroTTLDisables(t *testing.T) {
	c := NewTTLCache(0)
	c.Put("a", Bundle{Project: "P"})
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Invalidate("a")
}
