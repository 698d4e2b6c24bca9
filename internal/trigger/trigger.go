// Package trigger determines the ref that started a run. Sources range from
// an explicit flag to the environment of a CI system to the local git
// checkout.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/runctx"
	"github.com/specialistvlad/stagegrid/internal/settings"
)

// ErrNoTrigger is returned when no source produced a ref.
var ErrNoTrigger = errors.New("no trigger ref found")

// Trigger describes what started a run.
type Trigger struct {
	// Ref is fully qualified, e.g. "refs/tags/v1.2.0".
	Ref  string
	Kind runctx.Kind
	// Commit is the commit hash when known.
	Commit string
	// Source names the source that produced the trigger.
	Source string
}

// IsZero reports whether no ref was found.
func (t Trigger) IsZero() bool { return t.Ref == "" }

// Source produces a trigger. A source with nothing to offer returns a zero
// Trigger and a nil error.
type Source interface {
	Trigger(ctx context.Context) (Trigger, error)
}

// Static always returns the same ref.
type Static struct {
	Ref string
}

// Trigger implements Source.
func (s Static) Trigger(context.Context) (Trigger, error) {
	if s.Ref == "" {
		return Trigger{}, nil
	}
	return Trigger{Ref: s.Ref, Kind: runctx.ClassifyRef(s.Ref), Source: "static"}, nil
}

// Env reads the ref from the `ref` setting (STAGEGRID_REF), then from
// GITHUB_REF.
type Env struct {
	Settings *settings.Settings
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Trigger implements Source.
func (e Env) Trigger(context.Context) (Trigger, error) {
	if e.Settings != nil {
		ref, ok, err := e.Settings.GetString("ref")
		var notDeclared *settings.KeyNotFoundError
		if err != nil && !errors.As(err, &notDeclared) {
			return Trigger{}, fmt.Errorf("failed to read ref setting: %w", err)
		}
		if ok && ref != "" {
			return Trigger{Ref: ref, Kind: runctx.ClassifyRef(ref), Source: "env"}, nil
		}
	}

	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if ref, ok := lookup("GITHUB_REF"); ok && ref != "" {
		sha, _ := lookup("GITHUB_SHA")
		return Trigger{Ref: ref, Kind: runctx.ClassifyRef(ref), Commit: sha, Source: "env"}, nil
	}
	return Trigger{}, nil
}

// Chain tries sources in order; the first non-empty trigger wins.
type Chain []Source

// Trigger implements Source. It returns ErrNoTrigger when every source came
// up empty.
func (c Chain) Trigger(ctx context.Context) (Trigger, error) {
	logger := ctxlog.FromContext(ctx)
	for _, src := range c {
		t, err := src.Trigger(ctx)
		if err != nil {
			return Trigger{}, err
		}
		if !t.IsZero() {
			logger.Debug("Resolved trigger ref.", "ref", t.Ref, "kind", t.Kind, "source", t.Source)
			return t, nil
		}
	}
	return Trigger{}, ErrNoTrigger
}
