package graph

import (
	"fmt"
	"strings"
)

// DuplicateStageError is returned by AddStage when the name is taken.
type DuplicateStageError struct {
	Stage string
}

func (e *DuplicateStageError) Error() string {
	return fmt.Sprintf("duplicate stage %q", e.Stage)
}

// UnknownDependencyError is returned by Validate when a stage needs a stage
// that was never declared.
type UnknownDependencyError struct {
	Stage      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("stage %q needs non-existent stage %q", e.Stage, e.Dependency)
}

// CycleError is returned by Validate when the needs relation has a cycle.
// Path starts and ends with the same stage.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in stage needs: %s", strings.Join(e.Path, " -> "))
}
