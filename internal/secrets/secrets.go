// Package secrets resolves opaque secret handles into values for the step
// executor. The orchestration core only ever passes pipeline.SecretRef
// handles around; values exist solely inside the executor, right before a
// command is started.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// ErrSecretNotFound is returned (wrapped) when a handle does not resolve.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver turns a handle into its value.
type Resolver interface {
	Resolve(ctx context.Context, ref pipeline.SecretRef) (string, error)
}

// Store is a named secret backend.
type Store interface {
	Resolver
	// Name is the provider name used in `provider://path` handles.
	Name() string
}

// Registry routes handles to stores by provider name. Handles without a
// provider go to the default store.
type Registry struct {
	mu              sync.RWMutex
	stores          map[string]Store
	defaultProvider string
}

// NewRegistry creates a registry with the given stores. The first store is
// the default one.
func NewRegistry(stores ...Store) *Registry {
	r := &Registry{stores: make(map[string]Store)}
	for _, s := range stores {
		r.Register(s)
	}
	return r
}

// Register adds a store. The first registered store becomes the default.
func (r *Registry) Register(s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultProvider == "" {
		r.defaultProvider = s.Name()
	}
	r.stores[s.Name()] = s
}

// SetDefault selects the store used for handles without a provider.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[name]; !ok {
		return fmt.Errorf("secret provider %q is not registered", name)
	}
	r.defaultProvider = name
	return nil
}

// Providers lists registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve implements Resolver.
func (r *Registry) Resolve(ctx context.Context, ref pipeline.SecretRef) (string, error) {
	r.mu.RLock()
	provider := ref.Provider
	if provider == "" {
		provider = r.defaultProvider
	}
	store, ok := r.stores[provider]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("secret %s: unknown provider %q", ref, provider)
	}
	return store.Resolve(ctx, ref)
}

// ResolveAll resolves every handle in refs, keyed the same way.
func ResolveAll(ctx context.Context, r Resolver, refs map[string]pipeline.SecretRef) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := r.Resolve(ctx, refs[name])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve secret for %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// extractKey returns raw, or the named field when raw is a JSON object.
func extractKey(ref pipeline.SecretRef, raw string) (string, error) {
	if ref.Key == "" {
		return raw, nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %s: value is not a JSON object: %w", ref, err)
	}
	v, ok := fields[ref.Key]
	if !ok {
		return "", fmt.Errorf("secret %s: key %q: %w", ref, ref.Key, ErrSecretNotFound)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
