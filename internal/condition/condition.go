// Package condition decides whether a gated stage runs for a given trigger.
package condition

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"github.com/specialistvlad/stagegrid/internal/runctx"
)

// ShouldRun reports whether the stage's instances execute in this run.
// A stage without a condition always runs. A condition that cannot be
// evaluated is treated as unsatisfied and logged.
func ShouldRun(ctx context.Context, stage *pipeline.Stage, rc *runctx.RunContext) bool {
	ok, err := Evaluate(stage.EffectiveCondition(), rc)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Stage condition could not be evaluated, skipping stage.",
			"stage", stage.Name, "condition", stage.EffectiveCondition().Describe(), "error", err)
		return false
	}
	return ok
}

// Evaluate evaluates a single condition against the run context.
func Evaluate(cond pipeline.Condition, rc *runctx.RunContext) (bool, error) {
	switch c := cond.(type) {
	case nil, pipeline.Always:
		return true, nil
	case pipeline.Never:
		return false, nil
	case pipeline.RefPrefix:
		return strings.HasPrefix(rc.Ref(), c.Prefix), nil
	case pipeline.IsTag:
		return rc.IsTag(), nil
	case pipeline.TagSemver:
		return tagSatisfies(c.Constraint, rc)
	default:
		return false, fmt.Errorf("unsupported condition %T", cond)
	}
}

// Validate checks that a condition is well formed without a run context,
// so bad constraints fail at load time instead of silently skipping.
func Validate(cond pipeline.Condition) error {
	if c, ok := cond.(pipeline.TagSemver); ok {
		if _, err := semver.NewConstraint(c.Constraint); err != nil {
			return fmt.Errorf("invalid semver constraint %q: %w", c.Constraint, err)
		}
	}
	if c, ok := cond.(pipeline.RefPrefix); ok && c.Prefix == "" {
		return fmt.Errorf("ref prefix condition needs a non-empty prefix")
	}
	return nil
}

func tagSatisfies(constraint string, rc *runctx.RunContext) (bool, error) {
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid semver constraint %q: %w", constraint, err)
	}
	if !rc.IsTag() {
		return false, nil
	}
	// Tags that are not versions never satisfy a version constraint.
	v, err := semver.NewVersion(rc.RefName())
	if err != nil {
		return false, nil
	}
	return cons.Check(v), nil
}
