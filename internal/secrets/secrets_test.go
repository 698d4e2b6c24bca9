package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	values map[string]string
	calls  []string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	id := aws.ToString(in.SecretId)
	f.calls = append(f.calls, id)
	v, ok := f.values[id]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no such secret")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestEnvStore(t *testing.T) {
	t.Setenv("STAGEGRID_TEST_TOKEN", "s3cr3t")
	t.Setenv("STAGEGRID_TEST_JSON", `{"token":"abc","port":5432}`)
	s := NewEnvStore()

	v, err := s.Resolve(context.Background(), pipeline.SecretRef{Path: "STAGEGRID_TEST_TOKEN"})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)

	v, err = s.Resolve(context.Background(), pipeline.SecretRef{Path: "STAGEGRID_TEST_JSON", Key: "port"})
	require.NoError(t, err)
	assert.Equal(t, "5432", v)

	_, err = s.Resolve(context.Background(), pipeline.SecretRef{Path: "STAGEGRID_TEST_MISSING"})
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestAWSStore(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{
		"ci/registry": `{"token":"crates-io-token"}`,
		"ci/plain":    "plain-value",
	}}
	store, err := NewAWSStore(context.Background(), WithClient(fake))
	require.NoError(t, err)
	assert.Equal(t, "aws", store.Name())

	v, err := store.Resolve(context.Background(), pipeline.SecretRef{Provider: "aws", Path: "ci/registry", Key: "token"})
	require.NoError(t, err)
	assert.Equal(t, "crates-io-token", v)

	v, err = store.Resolve(context.Background(), pipeline.SecretRef{Path: "ci/plain"})
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)

	_, err = store.Resolve(context.Background(), pipeline.SecretRef{Path: "ci/registry", Key: "missing"})
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = store.Resolve(context.Background(), pipeline.SecretRef{Path: "ci/none"})
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, []string{"ci/registry", "ci/plain", "ci/registry", "ci/none"}, fake.calls)
}

func TestRegistry(t *testing.T) {
	mem := NewMemoryStore("memory", map[string]string{"cargo": "token-1"})
	other := NewMemoryStore("vault", map[string]string{"cargo": "token-2"})
	r := NewRegistry(mem, other)
	assert.Equal(t, []string{"memory", "vault"}, r.Providers())

	v, err := r.Resolve(context.Background(), pipeline.SecretRef{Path: "cargo"})
	require.NoError(t, err)
	assert.Equal(t, "token-1", v, "first store is the default")

	v, err = r.Resolve(context.Background(), pipeline.SecretRef{Provider: "vault", Path: "cargo"})
	require.NoError(t, err)
	assert.Equal(t, "token-2", v)

	require.NoError(t, r.SetDefault("vault"))
	v, err = r.Resolve(context.Background(), pipeline.SecretRef{Path: "cargo"})
	require.NoError(t, err)
	assert.Equal(t, "token-2", v)

	assert.Error(t, r.SetDefault("nope"))
	_, err = r.Resolve(context.Background(), pipeline.SecretRef{Provider: "nope", Path: "cargo"})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestResolveAll(t *testing.T) {
	r := NewRegistry(NewMemoryStore("memory", map[string]string{"a": "1", "b": "2"}))
	got, err := ResolveAll(context.Background(), r, map[string]pipeline.SecretRef{
		"A": {Path: "a"},
		"B": {Path: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got)

	_, err = ResolveAll(context.Background(), r, map[string]pipeline.SecretRef{"C": {Path: "c"}})
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}
