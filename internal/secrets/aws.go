package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
// It allows mocking the SDK in unit tests.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSStore resolves handles from AWS Secrets Manager. The path is the
// secret id or ARN; the optional key selects a field of a JSON secret.
type AWSStore struct {
	client SecretsManagerAPI
}

// AWSOption configures NewAWSStore.
type AWSOption func(*awsOptions)

type awsOptions struct {
	region   string
	endpoint string
	client   SecretsManagerAPI
}

// WithRegion sets the AWS region.
func WithRegion(region string) AWSOption {
	return func(o *awsOptions) { o.region = region }
}

// WithEndpoint overrides the service endpoint, e.g. for LocalStack.
func WithEndpoint(endpoint string) AWSOption {
	return func(o *awsOptions) { o.endpoint = endpoint }
}

// WithClient injects a client, bypassing AWS config loading.
func WithClient(c SecretsManagerAPI) AWSOption {
	return func(o *awsOptions) { o.client = c }
}

// NewAWSStore creates a Secrets Manager store. Credentials come from the
// default AWS credential chain and are loaded lazily by the SDK.
func NewAWSStore(ctx context.Context, opts ...AWSOption) (*AWSStore, error) {
	o := &awsOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.client != nil {
		return &AWSStore{client: o.client}, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg, func(so *secretsmanager.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
		}
	})
	return &AWSStore{client: client}, nil
}

// Name implements Store.
func (s *AWSStore) Name() string { return "aws" }

// Resolve implements Resolver.
func (s *AWSStore) Resolve(ctx context.Context, ref pipeline.SecretRef) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Path),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("secret %s: %w", ref, ErrSecretNotFound)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", ref, err)
	}

	var raw string
	switch {
	case out.SecretString != nil:
		raw = aws.ToString(out.SecretString)
	case out.SecretBinary != nil:
		raw = string(out.SecretBinary)
	default:
		return "", fmt.Errorf("secret %s has no value", ref)
	}
	return extractKey(ref, raw)
}
