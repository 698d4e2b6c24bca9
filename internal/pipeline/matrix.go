// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the matrix model: named axes with ordered values, plus
// explicit include and exclude overrides.
package pipeline

import "strings"

// Matrix declares the variable axes of a stage.
type Matrix struct {
	Axes    []Axis
	Include []Combination
	Exclude []Combination
}

// Axis is one named dimension with an ordered sequence of values.
type Axis struct {
	Name   string
	Values []string
}

// IsEmpty reports whether the matrix produces nothing beyond a single instance.
func (m *Matrix) IsEmpty() bool {
	return m == nil || (len(m.Axes) == 0 && len(m.Include) == 0)
}

// AxisNames lists the axis names in declaration order.
func (m *Matrix) AxisNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Axes))
	for _, a := range m.Axes {
		names = append(names, a.Name)
	}
	return names
}

// Pair is a single axis assignment.
type Pair struct {
	Axis  string
	Value string
}

// Combination is one point of a matrix: an ordered list of axis assignments.
// When used as an exclude entry it may name only a subset of the axes.
type Combination []Pair

// Get returns the value assigned to axis.
func (c Combination) Get(axis string) (string, bool) {
	for _, p := range c {
		if p.Axis == axis {
			return p.Value, true
		}
	}
	return "", false
}

// Keys lists the axes assigned by this combination, in order.
func (c Combination) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, p := range c {
		keys = append(keys, p.Axis)
	}
	return keys
}

// Vars returns the combination as a map.
func (c Combination) Vars() map[string]string {
	vars := make(map[string]string, len(c))
	for _, p := range c {
		vars[p.Axis] = p.Value
	}
	return vars
}

// Matches reports whether every field named in partial equals this
// combination's value for that field. An empty partial matches everything.
func (c Combination) Matches(partial Combination) bool {
	for _, p := range partial {
		v, ok := c.Get(p.Axis)
		if !ok || v != p.Value {
			return false
		}
	}
	return true
}

// Equal reports whether both combinations assign the same values to the same
// axes, regardless of order.
func (c Combination) Equal(o Combination) bool {
	return len(c) == len(o) && c.Matches(o)
}

// String renders the combination as `axis=value,axis=value`.
func (c Combination) String() string {
	parts := make([]string, 0, len(c))
	for _, p := range c {
		parts = append(parts, p.Axis+"="+p.Value)
	}
	return strings.Join(parts, ",")
}

// With returns a copy of c with the pair appended.
func (c Combination) With(axis, value string) Combination {
	out := make(Combination, len(c), len(c)+1)
	copy(out, c)
	return append(out, Pair{Axis: axis, Value: value})
}
