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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsManagerClient loads the default AWS configuration. SDK retries are
// disabled; the escalation handler owns the retry budget.
func NewSecretsManagerClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// SecretsManagerProvider reads credential bundles from AWS Secrets Manager.
type SecretsManagerProvider struct {
	client SecretsManagerAPI
	logger *zap.Logger
}

// NewSecretsManagerProvider creates a provider backed by client.
func NewSecretsManagerProvider(client SecretsManagerAPI, logger *zap.Logger) *SecretsManagerProvider {
	return &SecretsManagerProvider{client: client, logger: logger.Named("secretsmanager")}
}

// Fetch retrieves and parses the secret. Exactly one API call is made.
func (p *SecretsManagerProvider) Fetch(ctx context.Context, name string) (Bundle, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		classified := classifySecretsManagerError(name, err)
		p.logger.Debug("secret fetch failed",
			zap.String("secret", name),
			zap.String("error", classified.Error()))
		return Bundle{}, classified
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(aws.ToString(out.SecretString))
	case len(out.SecretBinary) > 0:
		payload = out.SecretBinary
	default:
		return Bundle{}, fmt.Errorf("%w: secret %q has no value", ErrSecretMalformed, name)
	}

	b, err := ParseBundle(payload)
	if err != nil {
		return Bundle{}, fmt.Errorf("secret %q: %w", name, err)
	}
	return b, nil
}

func classifySecretsManagerError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: fetching %q: %v", ErrProviderUnavailable, name, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException", "InvalidRequestException", "InvalidParameterException":
			return fmt.Errorf("%w: %q (%s)", ErrSecretNotFound, name, apiErr.ErrorCode())
		case "AccessDeniedException", "DecryptionFailure", "UnrecognizedClientException":
			return fmt.Errorf("%w: %q (%s)", ErrAccessDenied, name, apiErr.ErrorCode())
		default:
			return fmt.Errorf("%w: %q (%s)", ErrProviderUnavailable, name, apiErr.ErrorCode())
		}
	}
	return fmt.Errorf("%w: fetching %q: %v", ErrProviderUnavailable, name, err)
}
