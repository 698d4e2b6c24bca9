// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the closed set of run conditions a stage may declare.
//
// Conditions are a tagged union rather than an expression language: every
// predicate that a pipeline can express has its own named variant, and the
// evaluator switches over them exhaustively. New variants are added only when
// a pipeline actually needs them.
package pipeline

import "fmt"

// Condition is a predicate over the run's trigger metadata.
type Condition interface {
	// Describe renders the condition for logs and reports.
	Describe() string
	isCondition()
}

// Always runs the stage unconditionally. It is the default.
type Always struct{}

// Never skips the stage unconditionally.
type Never struct{}

// RefPrefix runs the stage when the trigger ref starts with Prefix,
// e.g. "refs/tags/".
type RefPrefix struct {
	Prefix string
}

// IsTag runs the stage when the trigger ref is a tag.
type IsTag struct{}

// TagSemver runs the stage when the trigger ref is a tag whose short name
// parses as a semantic version satisfying Constraint, e.g. ">= 1.0.0".
type TagSemver struct {
	Constraint string
}

func (Always) Describe() string      { return "always" }
func (Never) Describe() string       { return "never" }
func (c RefPrefix) Describe() string { return fmt.Sprintf("ref starts with %q", c.Prefix) }
func (IsTag) Describe() string       { return "ref is a tag" }
func (c TagSemver) Describe() string { return fmt.Sprintf("tag satisfies %q", c.Constraint) }

func (Always) isCondition()    {}
func (Never) isCondition()     {}
func (RefPrefix) isCondition() {}
func (IsTag) isCondition()     {}
func (TagSemver) isCondition() {}
