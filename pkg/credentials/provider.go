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
	"encoding/json"
	"errors"
	"os"
)

var (
	// ErrProviderUnavailable marks transient provider failures (throttling,
	// timeouts, service errors). Fetches failing with it may be retried.
	ErrProviderUnavailable = errors.New("credential provider unavailable")
	// ErrSecretNotFound is returned when the named secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretMalformed is returned when the secret exists but cannot be used.
	ErrSecretMalformed = errors.New("secret malformed")
	// ErrAccessDenied is returned when the caller may not read the secret.
	ErrAccessDenied = errors.New("access to secret denied")
)

// IsFatal reports whether err is a credential error that retrying cannot fix.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSecretNotFound) ||
		errors.Is(err, ErrSecretMalformed) ||
		errors.Is(err, ErrAccessDenied)
}

// Provider resolves a secret name into a credential bundle.
type Provider interface {
	Fetch(ctx context.Context, name string) (Bundle, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, name string) (Bundle, error)

// Fetch calls f.
func (f ProviderFunc) Fetch(ctx context.Context, name string) (Bundle, error) {
	return f(ctx, name)
}

// EnvProvider builds the bundle from JIRA_* environment variables. It is meant
// for local invocations; the secret name is ignored.
type EnvProvider struct {
	Getenv func(string) string
}

// Fetch reads the aliases accepted by ParseBundle from the environment.
func (p EnvProvider) Fetch(_ context.Context, _ string) (Bundle, error) {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	values := map[string]string{}
	for _, keys := range [][]string{hostKeys, identityKeys, tokenKeys, projectKeys, labelKeys, issueTypeKeys, componentKeys, assigneeKeys} {
		alias := keys[len(keys)-1]
		if v := getenv(alias); v != "" {
			values[alias] = v
		}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return Bundle{}, err
	}
	return ParseBundle(data)
}
