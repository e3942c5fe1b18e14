package identity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/google/uuid"
)

// NamespaceProvider supplies the secret 128-bit hashing namespace. The value
// is opaque to the hasher; rotation requires a process restart.
type NamespaceProvider interface {
	Namespace(ctx context.Context) (uuid.UUID, error)
}

// StaticProvider returns a fixed namespace. Intended for tests and local
// development.
type StaticProvider struct {
	NS uuid.UUID
}

func (p StaticProvider) Namespace(ctx context.Context) (uuid.UUID, error) {
	return p.NS, nil
}

// seams for the AWS SDK, swapped out in tests
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newSecretsManagerClient = func(cfg aws.Config) *secretsmanager.Client {
		return secretsmanager.NewFromConfig(cfg)
	}

	getSecretValue = func(c *secretsmanager.Client, ctx context.Context, in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
		return c.GetSecretValue(ctx, in)
	}
)

// SecretsManagerProvider fetches the namespace UUID from AWS Secrets Manager.
// The secret value must be the canonical textual form of a UUID.
type SecretsManagerProvider struct {
	SecretID string
	Region   string
}

func (p *SecretsManagerProvider) Namespace(ctx context.Context) (uuid.UUID, error) {
	cfg, err := loadDefaultAWSConfig(ctx, config.WithRegion(p.Region))
	if err != nil {
		return uuid.Nil, fmt.Errorf("aws config: %w", err)
	}

	client := newSecretsManagerClient(cfg)

	out, err := getSecretValue(client, ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.SecretID),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("get secret %q: %w", p.SecretID, err)
	}
	if out.SecretString == nil {
		return uuid.Nil, fmt.Errorf("secret %q has no string value", p.SecretID)
	}

	ns, err := uuid.Parse(*out.SecretString)
	if err != nil {
		return uuid.Nil, fmt.Errorf("secret %q is not a UUID: %w", p.SecretID, err)
	}

	return ns, nil
}
