// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines Definition, Stage and Step, the structures every loader
// produces and every later component consumes.
package pipeline

import (
	"fmt"
	"time"
)

// Definition is a complete pipeline as declared by the user.
type Definition struct {
	Name string
	// Env is bound into every step of every stage. Stage and step env win.
	Env    map[string]string
	Stages []*Stage
}

// NewDefinition creates an empty, initialized Definition.
func NewDefinition(name string) *Definition {
	return &Definition{
		Name:   name,
		Env:    map[string]string{},
		Stages: []*Stage{},
	}
}

// Stage returns the stage with the given name.
func (d *Definition) Stage(name string) (*Stage, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// StageNames lists stage names in declaration order.
func (d *Definition) StageNames() []string {
	names := make([]string, 0, len(d.Stages))
	for _, s := range d.Stages {
		names = append(names, s.Name)
	}
	return names
}

// Stage is one node of the job graph.
type Stage struct {
	Name string
	// Needs lists upstream stage names in declaration order.
	Needs []string
	// Matrix is nil for stages that run as a single instance.
	Matrix *Matrix
	// Condition gates the stage. A nil condition always runs.
	Condition Condition
	// FailFast is nil when the user did not set it; see FailFastEnabled.
	FailFast *bool
	Env      map[string]string
	Steps    []Step
}

// FailFastEnabled reports the effective fail-fast policy. It defaults to true.
func (s *Stage) FailFastEnabled() bool {
	if s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// EffectiveCondition returns the stage condition, substituting Always for nil.
func (s *Stage) EffectiveCondition() Condition {
	if s.Condition == nil {
		return Always{}
	}
	return s.Condition
}

// Step is a single opaque command inside a stage.
type Step struct {
	Name string
	Run  Command
	// Shell overrides the default `sh -c` wrapper, e.g. "bash".
	Shell      string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
	// Secrets maps env var names to opaque secret handles. Values are only
	// resolved by the step executor.
	Secrets map[string]SecretRef
}

// DisplayName returns the step name, or a positional name when unnamed.
func (s Step) DisplayName(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step-%d", index+1)
}

// Bool returns a pointer to b. Handy for Stage.FailFast literals.
func Bool(b bool) *bool {
	return &b
}
