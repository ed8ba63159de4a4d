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
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service the local provider reads from.
const KeyringService = "alarm-escalator"

// KeyringProvider reads secret payloads stored in the OS keyring, keyed by
// secret name. Used by local invocations.
type KeyringProvider struct {
	Service string
}

// Fetch reads and parses the keyring entry for name.
func (p KeyringProvider) Fetch(_ context.Context, name string) (Bundle, error) {
	service := p.Service
	if service == "" {
		service = KeyringService
	}
	payload, err := keyring.Get(service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Bundle{}, fmt.Errorf("%w: keyring entry %q", ErrSecretNotFound, name)
		}
		return Bundle{}, fmt.Errorf("%w: keyring: %v", ErrProviderUnavailable, err)
	}
	b, err := ParseBundle([]byte(payload))
	if err != nil {
		return Bundle{}, fmt.Errorf("keyring entry %q: %w", name, err)
	}
	return b, nil
}

// StoreInKeyring saves a secret payload after checking that it parses.
func StoreInKeyring(service, name, payload string) error {
	if _, err := ParseBundle([]byte(payload)); err != nil {
		return err
	}
	if service == "" {
		service = KeyringService
	}
	return keyring.Set(service, name, payload)
}
