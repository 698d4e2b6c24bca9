// Package report holds the outcome of a pipeline run: every stage and every
// job instance with its terminal status, plus renderers for humans (text
// table) and machines (JSON).
package report

import (
	"time"

	"github.com/specialistvlad/stagegrid/internal/job"
)

// RunReport is the final, immutable result of a run.
type RunReport struct {
	RunID    string        `json:"run_id"`
	Pipeline string        `json:"pipeline,omitempty"`
	Ref      string        `json:"ref"`
	Status   job.Status    `json:"status"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Stages   []StageReport `json:"stages"`
}

// StageReport is the outcome of one stage.
type StageReport struct {
	Name   string     `json:"name"`
	Status job.Status `json:"status"`
	// Condition describes the gate the stage was evaluated against.
	Condition string           `json:"condition,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Instances []InstanceReport `json:"instances"`
}

// InstanceReport is the outcome of one job instance.
type InstanceReport struct {
	ID          string            `json:"id"`
	Combination map[string]string `json:"combination,omitempty"`
	Status      job.Status        `json:"status"`
	// FailedStep is the zero-based index of the failing step.
	FailedStep     *int      `json:"failed_step,omitempty"`
	FailedStepName string    `json:"failed_step_name,omitempty"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Started        time.Time `json:"started,omitzero"`
	Finished       time.Time `json:"finished,omitzero"`
}

// InstanceFromSnapshot converts an instance snapshot into its report form.
func InstanceFromSnapshot(s job.Snapshot) InstanceReport {
	ir := InstanceReport{
		ID:       s.ID,
		Status:   s.Status,
		Reason:   s.Reason,
		Started:  s.Started,
		Finished: s.Finished,
	}
	if len(s.Combination) > 0 {
		ir.Combination = s.Combination.Vars()
	}
	if f := s.Failure; f != nil {
		idx, code := f.StepIndex, f.ExitCode
		ir.FailedStep = &idx
		ir.FailedStepName = f.StepName
		ir.ExitCode = &code
		if f.Err != nil {
			ir.Error = f.Err.Error()
		}
	}
	return ir
}

// Exit codes returned by ExitCode.
const (
	ExitSucceeded = 0
	ExitFailed    = 1
	ExitAborted   = 130
)

// ExitCode maps the run status to a process exit code.
func (r *RunReport) ExitCode() int {
	switch r.Status {
	case job.Succeeded:
		return ExitSucceeded
	case job.Aborted:
		return ExitAborted
	default:
		return ExitFailed
	}
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Stage returns the report of the named stage.
func (r *RunReport) Stage(name string) (*StageReport, bool) {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i], true
		}
	}
	return nil, false
}

// Instance returns the report of the instance with the given id.
func (r *RunReport) Instance(id string) (*InstanceReport, bool) {
	for i := range r.Stages {
		for j := range r.Stages[i].Instances {
			if r.Stages[i].Instances[j].ID == id {
				return &r.Stages[i].Instances[j], true
			}
		}
	}
	return nil, false
}

// Counts tallies instances by status.
func (r *RunReport) Counts() map[job.Status]int {
	counts := make(map[job.Status]int)
	for _, s := range r.Stages {
		for _, i := range s.Instances {
			counts[i.Status]++
		}
	}
	return counts
}
