package tracker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/credentials"
	"github.com/telekom/alarm-escalator/pkg/metrics"
	"github.com/telekom/alarm-escalator/pkg/outcome"
)

const (
	issueEndpoint = "/rest/api/2/issue"

	// maxMessageLen bounds response details copied into results.
	maxMessageLen = 512
)

// IssueRequest is the content of an issue to create.
type IssueRequest struct {
	Project     string
	Summary     string
	Description string
	// Labels must already be normalized and de-duplicated.
	Labels []string

	IssueType         string
	Components        []string
	AssigneeAccountID string
}

// Client creates issues through the Jira REST API. It performs exactly one
// HTTP request per CreateIssue call and never retries on its own.
type Client struct {
	http      *resty.Client
	logger    *zap.Logger
	userAgent string
	timeout   time.Duration
	tlsConfig *tls.Config
}

// Option configures a Client.
type Option func(*Client) error

// New creates a Client.
func New(logger *zap.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		logger:    logger.Named("tracker"),
		userAgent: "alarm-escalator",
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.http = resty.New().
		SetTimeout(c.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	if c.tlsConfig != nil {
		c.http.SetTLSClientConfig(c.tlsConfig)
	}
	return c, nil
}

// WithTimeout bounds a single request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

// WithTLSConfig trusts caFile in addition to the system roots.
func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecureSkipTLSVerify} //nolint:gosec // Configurable for test instances
		if caFile != "" {
			data, err := os.ReadFile(caFile)
			if err != nil {
				return fmt.Errorf("failed to read CA file: %w", err)
			}
			pool, err := x509.SystemCertPool()
			if err != nil || pool == nil {
				pool = x509.NewCertPool()
			}
			if !pool.AppendCertsFromPEM(data) {
				return errors.New("failed to parse CA file")
			}
			tlsConfig.RootCAs = pool
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

type keyRef struct {
	Key string `json:"key"`
}

type nameRef struct {
	Name string `json:"name"`
}

type idRef struct {
	ID string `json:"id"`
}

type issueFields struct {
	Project     keyRef    `json:"project"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	IssueType   nameRef   `json:"issuetype"`
	Labels      []string  `json:"labels"`
	Components  []nameRef `json:"components,omitempty"`
	Assignee    *idRef    `json:"assignee,omitempty"`
}

type issuePayload struct {
	Fields issueFields `json:"fields"`
}

type createdIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

type errorBody struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

func buildPayload(req IssueRequest) issuePayload {
	labels := req.Labels
	if labels == nil {
		labels = []string{}
	}
	issueType := req.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	fields := issueFields{
		Project:     keyRef{Key: req.Project},
		Summary:     req.Summary,
		Description: req.Description,
		IssueType:   nameRef{Name: issueType},
		Labels:      labels,
	}
	for _, name := range req.Components {
		fields.Components = append(fields.Components, nameRef{Name: name})
	}
	if req.AssigneeAccountID != "" {
		fields.Assignee = &idRef{ID: req.AssigneeAccountID}
	}
	return issuePayload{Fields: fields}
}

// CreateIssue posts the issue using the bundle's host and basic auth. The
// returned result is Created, Failed{Transient} (429, 5xx, transport errors,
// timeouts) or Failed{Rejected} (everything else).
func (c *Client) CreateIssue(ctx context.Context, req IssueRequest, creds credentials.Bundle) outcome.Result {
	if creds.Host == nil {
		return outcome.Failed(outcome.KindRejected, "credential bundle has no host")
	}
	endpoint := *creds.Host
	endpoint.Path = path.Join("/", endpoint.Path, issueEndpoint)

	var created createdIssue
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(creds.Identity, creds.APIToken.Reveal()).
		SetHeader("Content-Type", "application/json").
		SetBody(buildPayload(req)).
		Post(endpoint.String())
	metrics.TrackerRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TrackerRequests.WithLabelValues("transport").Inc()
		msg := "transport error: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		c.logger.Debug("issue create transport failure", zap.String("error", err.Error()))
		return outcome.Failed(outcome.KindTransient, truncate(msg))
	}

	status := resp.StatusCode()
	var result outcome.Result
	switch {
	case status >= 200 && status < 300:
		if jsonErr := json.Unmarshal(resp.Body(), &created); jsonErr != nil || created.Key == "" {
			result = outcome.Failed(outcome.KindRejected, fmt.Sprintf("HTTP %d without issue key", status))
		} else {
			result = outcome.Created(created.Key)
		}
	case status == http.StatusTooManyRequests || status >= 500:
		result = outcome.Failed(outcome.KindTransient, describe(status, resp.Body()))
	default:
		result = outcome.Failed(outcome.KindRejected, describe(status, resp.Body()))
	}
	result.HTTPStatus = status

	class := string(result.Status)
	if result.Status == outcome.StatusFailed {
		class = string(result.Kind)
	}
	metrics.TrackerRequests.WithLabelValues(class).Inc()
	return result
}

// describe renders an HTTP failure for the outcome record.
func describe(status int, body []byte) string {
	msg := http.StatusText(status)
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		parts := append([]string(nil), eb.ErrorMessages...)
		fields := make([]string, 0, len(eb.Errors))
		for field := range eb.Errors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			parts = append(parts, field+": "+eb.Errors[field])
		}
		if len(parts) > 0 {
			msg = strings.Join(parts, "; ")
		}
	}
	return truncate(fmt.Sprintf("HTTP %d: %s", status, msg))
}

// truncate caps s at maxMessageLen characters without splitting one.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLen {
		return s
	}
	return string([]rune(s)[:maxMessageLen])
}
