package secrets

import (
	"context"
	"fmt"
	"os"

	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// EnvStore resolves handles from the process environment. The path is the
// variable name.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore creates a store reading os.LookupEnv.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// Name implements Store.
func (s *EnvStore) Name() string { return "env" }

// Resolve implements Resolver.
func (s *EnvStore) Resolve(_ context.Context, ref pipeline.SecretRef) (string, error) {
	v, ok := s.lookup(ref.Path)
	if !ok {
		return "", fmt.Errorf("secret %s: %w", ref, ErrSecretNotFound)
	}
	return extractKey(ref, v)
}

// MemoryStore keeps secrets in memory. Intended for tests and embedding.
type MemoryStore struct {
	name   string
	values map[string]string
}

// NewMemoryStore creates a store named name holding values keyed by path.
func NewMemoryStore(name string, values map[string]string) *MemoryStore {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &MemoryStore{name: name, values: cp}
}

// Name implements Store.
func (s *MemoryStore) Name() string { return s.name }

// Resolve implements Resolver.
func (s *MemoryStore) Resolve(_ context.Context, ref pipeline.SecretRef) (string, error) {
	v, ok := s.values[ref.Path]
	if !ok {
		return "", fmt.Errorf("secret %s: %w", ref, ErrSecretNotFound)
	}
	return extractKey(ref, v)
}
