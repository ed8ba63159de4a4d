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
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Token is an API token. It never prints its value; use Reveal to obtain it.
type Token string

func (Token) String() string   { return redacted }
func (Token) GoString() string { return redacted }

// MarshalJSON keeps tokens out of serialized structures.
func (Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// Reveal returns the raw token value for use in request authentication.
func (t Token) Reveal() string { return string(t) }

// Bundle holds everything needed to talk to the issue tracker. Bundles are
// values; callers must not mutate the slices they contain.
type Bundle struct {
	Host     *url.URL
	Identity string
	APIToken Token
	Project  string
	Labels   []string

	IssueType         string
	Components        []string
	AssigneeAccountID string
}

// MarshalLogObject implements zapcore.ObjectMarshaler. The token is omitted.
func (b Bundle) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if b.Host != nil {
		enc.AddString("host", b.Host.String())
	}
	enc.AddString("identity", b.Identity)
	enc.AddString("project", b.Project)
	enc.AddInt("labels", len(b.Labels))
	if b.IssueType != "" {
		enc.AddString("issue_type", b.IssueType)
	}
	return nil
}

// secret field names, canonical first, followed by accepted aliases.
var (
	hostKeys       = []string{"host", "JIRA_HOST"}
	identityKeys   = []string{"identity", "JIRA_EMAIL"}
	tokenKeys      = []string{"api_token", "JIRA_API_TOKEN"}
	projectKeys    = []string{"project", "JIRA_PROJECT_KEY"}
	labelKeys      = []string{"labels", "JIRA_ALARM_LABEL"}
	issueTypeKeys  = []string{"issue_type", "JIRA_ISSUE_TYPE"}
	componentKeys  = []string{"components", "JIRA_COMPONENTS"}
	assigneeKeys   = []string{"assignee_account_id", "JIRA_DEFAULT_ASSIGNEE_ACCOUNT_ID"}
	requiredFields = [][]string{hostKeys, identityKeys, tokenKeys, projectKeys}
)

// ParseBundle decodes a secret payload. Errors wrap ErrSecretMalformed and
// name the offending field, never its value.
func ParseBundle(data []byte) (Bundle, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Bundle{}, fmt.Errorf("%w: secret is not a JSON object", ErrSecretMalformed)
	}
	fields := secretFields(raw)

	for _, keys := range requiredFields {
		v, err := fields.str(keys)
		if err != nil {
			return Bundle{}, err
		}
		if v == "" {
			return Bundle{}, fmt.Errorf("%w: missing required field %q", ErrSecretMalformed, keys[0])
		}
	}

	hostValue, _ := fields.str(hostKeys)
	host, err := parseHost(hostValue)
	if err != nil {
		return Bundle{}, err
	}
	identity, _ := fields.str(identityKeys)
	token, _ := fields.str(tokenKeys)
	project, _ := fields.str(projectKeys)

	labels, err := fields.list(labelKeys)
	if err != nil {
		return Bundle{}, err
	}
	components, err := fields.list(componentKeys)
	if err != nil {
		return Bundle{}, err
	}
	issueType, err := fields.str(issueTypeKeys)
	if err != nil {
		return Bundle{}, err
	}
	assignee, err := fields.str(assigneeKeys)
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{
		Host:              host,
		Identity:          identity,
		APIToken:          Token(token),
		Project:           project,
		Labels:            NormalizeLabels(labels),
		IssueType:         issueType,
		Components:        components,
		AssigneeAccountID: assignee,
	}, nil
}

func parseHost(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("%w: field %q is not an absolute http(s) URL", ErrSecretMalformed, hostKeys[0])
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// NormalizeLabels trims labels, replaces inner spaces by hyphens, drops empty
// entries and de-duplicates while keeping the first occurrence order.
func NormalizeLabels(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.Join(strings.Fields(l), "-")
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

type secretFields map[string]json.RawMessage

func (f secretFields) lookup(keys []string) (json.RawMessage, string, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && string(v) != "null" {
			return v, k, true
		}
	}
	return nil, "", false
}

func (f secretFields) str(keys []string) (string, error) {
	v, key, ok := f.lookup(keys)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: field %q must be a string", ErrSecretMalformed, key)
	}
	return strings.TrimSpace(s), nil
}

// list accepts a comma separated string or an array of strings.
func (f secretFields) list(keys []string) ([]string, error) {
	v, key, ok := f.lookup(keys)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return splitList(s), nil
	}
	var items []string
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("%w: field %q must be a string or an array of strings", ErrSecretMalformed, key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
