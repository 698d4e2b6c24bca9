// Package runctx holds the process-wide, read-only state of one pipeline
// invocation: trigger metadata, environment bindings and declared secret
// handles. A RunContext is safe for concurrent reads by every job instance
// because nothing can mutate it after New returns.
package runctx

import (
	"crypto/rand"
	"encoding/hex"
	"maps"
	"strings"
	"time"

	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

const (
	branchPrefix = "refs/heads/"
	tagPrefix    = "refs/tags/"
)

// Kind classifies the trigger ref.
type Kind int

const (
	Other Kind = iota
	Branch
	Tag
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Branch:
		return "branch"
	case Tag:
		return "tag"
	default:
		return "other"
	}
}

// ClassifyRef derives the Kind from a fully qualified ref.
func ClassifyRef(ref string) Kind {
	switch {
	case strings.HasPrefix(ref, tagPrefix):
		return Tag
	case strings.HasPrefix(ref, branchPrefix):
		return Branch
	default:
		return Other
	}
}

// Options configures New.
type Options struct {
	Ref string
	// Kind overrides ClassifyRef when the trigger source knows better.
	Kind    *Kind
	Env     map[string]string
	Secrets map[string]pipeline.SecretRef
	RunID   string
	Started time.Time
}

// RunContext is the immutable context of one pipeline run.
type RunContext struct {
	ref     string
	kind    Kind
	env     map[string]string
	secrets map[string]pipeline.SecretRef
	runID   string
	started time.Time
}

// New creates a RunContext. Maps are copied so callers cannot mutate it later.
func New(opts Options) *RunContext {
	kind := ClassifyRef(opts.Ref)
	if opts.Kind != nil {
		kind = *opts.Kind
	}
	runID := opts.RunID
	if runID == "" {
		runID = newRunID()
	}
	started := opts.Started
	if started.IsZero() {
		started = time.Now()
	}
	env := map[string]string{}
	maps.Copy(env, opts.Env)
	secrets := map[string]pipeline.SecretRef{}
	maps.Copy(secrets, opts.Secrets)

	return &RunContext{
		ref:     opts.Ref,
		kind:    kind,
		env:     env,
		secrets: secrets,
		runID:   runID,
		started: started,
	}
}

// Ref returns the fully qualified trigger ref, e.g. "refs/tags/v1.0.0".
func (rc *RunContext) Ref() string { return rc.ref }

// Kind returns the ref classification.
func (rc *RunContext) Kind() Kind { return rc.kind }

// IsTag reports whether the run was triggered by a tag.
func (rc *RunContext) IsTag() bool { return rc.kind == Tag }

// RefName returns the short ref name, e.g. "v1.0.0" or "main".
func (rc *RunContext) RefName() string {
	for _, p := range []string{tagPrefix, branchPrefix} {
		if strings.HasPrefix(rc.ref, p) {
			return strings.TrimPrefix(rc.ref, p)
		}
	}
	return rc.ref
}

// Env returns a copy of the run-level environment bindings.
func (rc *RunContext) Env() map[string]string { return maps.Clone(rc.env) }

// Secrets returns a copy of the run-level secret handles.
func (rc *RunContext) Secrets() map[string]pipeline.SecretRef { return maps.Clone(rc.secrets) }

// RunID identifies this invocation in logs and reports.
func (rc *RunContext) RunID() string { return rc.runID }

// Started returns the invocation start time.
func (rc *RunContext) Started() time.Time { return rc.started }

func newRunID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UTC().Format("20060102T150405")
	}
	return time.Now().UTC().Format("20060102T150405") + "-" + hex.EncodeToString(b[:])
}
