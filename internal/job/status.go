// Package job defines the concrete execution unit of a pipeline run, the job
// instance, together with its status lifecycle.
package job

import "fmt"

// Status is the lifecycle state of a job instance or a stage.
type Status int32

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
	// Skipped means the stage condition was not satisfied. It satisfies
	// downstream needs.
	Skipped
	// SkippedDependencyFailed means an upstream stage failed, so this one
	// never executed.
	SkippedDependencyFailed
	// Aborted means the run was cancelled or a fail-fast sibling failed.
	Aborted
)

var statusNames = map[Status]string{
	Pending:                 "pending",
	Running:                 "running",
	Succeeded:               "succeeded",
	Failed:                  "failed",
	Skipped:                 "skipped",
	SkippedDependencyFailed: "skipped-dependency-failed",
	Aborted:                 "aborted",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// MarshalText renders the status by name in JSON reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for st, name := range statusNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, SkippedDependencyFailed, Aborted:
		return true
	}
	return false
}

// Satisfies reports whether a dependency in this state lets dependents run.
func (s Status) Satisfies() bool {
	return s == Succeeded || s == Skipped
}
