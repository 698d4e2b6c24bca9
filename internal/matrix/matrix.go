// Package matrix expands a stage template into its concrete job instances.
//
// Expansion is the cross-product of the declared axes, in declaration order
// with the last axis varying fastest, followed by include entries not already
// present; every combination matching an exclude entry is then removed.
// The result is deterministic: expanding the same stage twice yields the
// same instances in the same order.
package matrix

import (
	"fmt"

	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// AxisError reports a malformed matrix declaration.
type AxisError struct {
	Stage  string
	Axis   string
	Reason string
}

func (e *AxisError) Error() string {
	if e.Axis == "" {
		return fmt.Sprintf("invalid matrix for stage %q: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("invalid matrix axis %q for stage %q: %s", e.Axis, e.Stage, e.Reason)
}

// Expand returns the job instances of a stage. A stage without a matrix
// expands to exactly one instance.
func Expand(stage *pipeline.Stage) ([]*job.Instance, error) {
	combos, err := Combinations(stage.Name, stage.Matrix)
	if err != nil {
		return nil, err
	}
	instances := make([]*job.Instance, 0, len(combos))
	for i, c := range combos {
		instances = append(instances, job.NewInstance(stage, i, c))
	}
	return instances, nil
}

// Combinations computes the ordered matrix points. It returns a single empty
// combination for a nil or empty matrix. If the excludes remove every point,
// the result is empty.
func Combinations(stageName string, m *pipeline.Matrix) ([]pipeline.Combination, error) {
	if m.IsEmpty() {
		return []pipeline.Combination{nil}, nil
	}
	if err := validate(stageName, m); err != nil {
		return nil, err
	}

	combos := product(m.Axes)

	for _, inc := range m.Include {
		if !containsEqual(combos, inc) {
			combos = append(combos, inc)
		}
	}

	if len(m.Exclude) == 0 {
		return combos, nil
	}
	kept := combos[:0:0]
	for _, c := range combos {
		if !matchesAny(c, m.Exclude) {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// product computes the cross-product of axes. With no axes it returns nothing,
// so that a matrix made only of includes yields exactly the includes.
func product(axes []pipeline.Axis) []pipeline.Combination {
	if len(axes) == 0 {
		return nil
	}
	combos := []pipeline.Combination{nil}
	for _, axis := range axes {
		next := make([]pipeline.Combination, 0, len(combos)*len(axis.Values))
		for _, c := range combos {
			for _, v := range axis.Values {
				next = append(next, c.With(axis.Name, v))
			}
		}
		combos = next
	}
	return combos
}

func validate(stageName string, m *pipeline.Matrix) error {
	known := make(map[string]bool, len(m.Axes))
	for _, axis := range m.Axes {
		if axis.Name == "" {
			return &AxisError{Stage: stageName, Reason: "axis has no name"}
		}
		if known[axis.Name] {
			return &AxisError{Stage: stageName, Axis: axis.Name, Reason: "declared more than once"}
		}
		known[axis.Name] = true
		if len(axis.Values) == 0 {
			return &AxisError{Stage: stageName, Axis: axis.Name, Reason: "has no values"}
		}
		seen := make(map[string]bool, len(axis.Values))
		for _, v := range axis.Values {
			if seen[v] {
				return &AxisError{Stage: stageName, Axis: axis.Name, Reason: fmt.Sprintf("value %q listed more than once", v)}
			}
			seen[v] = true
		}
	}
	for _, inc := range m.Include {
		if len(inc) == 0 {
			return &AxisError{Stage: stageName, Reason: "include entry is empty"}
		}
	}
	for _, exc := range m.Exclude {
		if len(exc) == 0 {
			return &AxisError{Stage: stageName, Reason: "exclude entry is empty"}
		}
		for _, p := range exc {
			if len(m.Axes) > 0 && !known[p.Axis] && !includeNames(m.Include, p.Axis) {
				return &AxisError{Stage: stageName, Axis: p.Axis, Reason: "exclude names an undeclared axis"}
			}
		}
	}
	return nil
}

func includeNames(includes []pipeline.Combination, axis string) bool {
	for _, inc := range includes {
		if _, ok := inc.Get(axis); ok {
			return true
		}
	}
	return false
}

func containsEqual(combos []pipeline.Combination, c pipeline.Combination) bool {
	for _, existing := range combos {
		if existing.Equal(c) {
			return true
		}
	}
	return false
}

func matchesAny(c pipeline.Combination, partials []pipeline.Combination) bool {
	for _, p := range partials {
		if c.Matches(p) {
			return true
		}
	}
	return false
}
