package config

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManager resolves a secret ARN to its stored key/value payload.
// Mirrors the teacher's connectors/config.SecretsManager interface so a
// backend's api_key_secret_arn is resolved the same way a connector's
// credentials_secret_arn is: one interface, swappable for a fake in
// tests or a different secret store entirely.
type SecretsManager interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// AWSSecretsManager resolves secrets from AWS Secrets Manager. Secret
// values are expected to be a JSON object; the single field "api_key"
// is what resolveSecrets reads, but the full map is returned so
// callers needing other fields aren't forced through a second lookup.
type AWSSecretsManager struct {
	client *secretsmanager.Client
}

// NewAWSSecretsManager builds a client from the default AWS credential
// chain (environment, shared config, EC2/ECS role).
func NewAWSSecretsManager(ctx context.Context) (*AWSSecretsManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: loading AWS credentials: %w", err)
	}
	return &AWSSecretsManager{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (m *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretARN})
	if err != nil {
		return nil, fmt.Errorf("config: fetching secret %s: %w", secretARN, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("config: secret %s has no string payload", secretARN)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		// Some operators store a bare string secret rather than a JSON
		// object; treat the whole payload as the api_key in that case.
		return map[string]string{"api_key": *out.SecretString}, nil
	}
	return payload, nil
}

// resolveSecrets fills in b.APIKey for every backend that named an
// api_key_secret_arn instead of an inline api_key. Inline api_key
// always wins if both are somehow set, matching the teacher's
// credentials-map-overrides-config precedence.
func resolveSecrets(ctx context.Context, f *File, sm SecretsManager) error {
	for i := range f.Backends {
		b := &f.Backends[i]
		if b.APIKey != "" || b.APIKeySecretARN == "" {
			continue
		}
		if sm == nil {
			return fmt.Errorf("backend %q declares api_key_secret_arn but no SecretsManager was configured", b.ID)
		}
		secret, err := sm.GetSecret(ctx, b.APIKeySecretARN)
		if err != nil {
			return fmt.Errorf("backend %q: %w", b.ID, err)
		}
		key, ok := secret["api_key"]
		if !ok || key == "" {
			return fmt.Errorf("backend %q: secret %s has no api_key field", b.ID, b.APIKeySecretARN)
		}
		b.APIKey = key
	}
	return nil
}
