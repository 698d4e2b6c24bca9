// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// Command produces the concrete command line of a step for one matrix point.
// Loaders supply their own implementations so that templating stays in the
// definition format that declared it.
type Command interface {
	Render(vars Combination) (string, error)
}

// Literal is a command string with optional `${{ matrix.<axis> }}`
// placeholders.
type Literal string

var placeholderRegex = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z0-9_-]+)\s*\}\}`)

// Render substitutes matrix placeholders. Referencing an axis that the
// combination does not assign is an error.
func (l Literal) Render(vars Combination) (string, error) {
	var missing []string
	out := placeholderRegex.ReplaceAllStringFunc(string(l), func(m string) string {
		axis := placeholderRegex.FindStringSubmatch(m)[1]
		v, ok := vars.Get(axis)
		if !ok {
			missing = append(missing, axis)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("command references unknown matrix axis: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Placeholders lists the matrix axes referenced by the literal.
func (l Literal) Placeholders() []string {
	var axes []string
	for _, m := range placeholderRegex.FindAllStringSubmatch(string(l), -1) {
		axes = append(axes, m[1])
	}
	return axes
}
