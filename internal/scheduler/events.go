package scheduler

import (
	"time"

	"github.com/specialistvlad/stagegrid/internal/job"
)

// EventKind identifies a progress event.
type EventKind int

const (
	StageStarted EventKind = iota
	StageSkipped
	InstanceStarted
	InstanceFinished
	StageFinished
	RunFinished
)

func (k EventKind) String() string {
	switch k {
	case StageStarted:
		return "stage-started"
	case StageSkipped:
		return "stage-skipped"
	case InstanceStarted:
		return "instance-started"
	case InstanceFinished:
		return "instance-finished"
	case StageFinished:
		return "stage-finished"
	case RunFinished:
		return "run-finished"
	}
	return "unknown"
}

// Event is a progress notification. Instance is empty for stage and run
// events; Stage is empty for RunFinished.
type Event struct {
	Kind     EventKind
	RunID    string
	Stage    string
	Instance string
	Status   job.Status
	At       time.Time
}
