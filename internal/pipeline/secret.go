// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package pipeline

import (
	"fmt"
	"strings"
)

// SecretRef is an opaque handle to a credential. The orchestration core only
// carries it around; resolving it to a value is the step executor's job.
type SecretRef struct {
	// Provider selects the secret store, e.g. "env" or "aws". Empty means the
	// default store.
	Provider string
	Path     string
	// Key selects a field of a JSON secret.
	Key string
}

// ParseSecretRef parses `provider://path#key`, `provider://path` or a bare
// `path`.
func ParseSecretRef(s string) (SecretRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SecretRef{}, fmt.Errorf("empty secret reference")
	}
	var ref SecretRef
	if provider, rest, ok := strings.Cut(s, "://"); ok {
		if provider == "" {
			return SecretRef{}, fmt.Errorf("secret reference %q has an empty provider", s)
		}
		ref.Provider = provider
		s = rest
	}
	if path, key, ok := strings.Cut(s, "#"); ok {
		ref.Key = key
		s = path
	}
	if s == "" {
		return SecretRef{}, fmt.Errorf("secret reference has an empty path")
	}
	ref.Path = s
	return ref, nil
}

// String renders the handle. It never contains a secret value.
func (r SecretRef) String() string {
	var b strings.Builder
	if r.Provider != "" {
		b.WriteString(r.Provider)
		b.WriteString("://")
	}
	b.WriteString(r.Path)
	if r.Key != "" {
		b.WriteString("#")
		b.WriteString(r.Key)
	}
	return b.String()
}
