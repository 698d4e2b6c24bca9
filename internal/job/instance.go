package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// Failure records why an instance failed.
type Failure struct {
	// StepIndex is the zero-based index of the failing step.
	StepIndex int
	StepName  string
	// ExitCode is -1 when the step could not be started at all.
	ExitCode int
	Err      error
}

// Instance is one concrete, independently schedulable execution of a stage.
// Identity fields are immutable; the outcome is guarded by a mutex since the
// instance goroutine writes it while observers read it.
type Instance struct {
	ID          string
	Stage       *pipeline.Stage
	Index       int
	Combination pipeline.Combination

	mu       sync.Mutex
	status   Status
	failure  *Failure
	reason   string
	started  time.Time
	finished time.Time
}

// NewInstance creates a pending instance for one matrix point of stage.
func NewInstance(stage *pipeline.Stage, index int, combo pipeline.Combination) *Instance {
	return &Instance{
		ID:          InstanceID(stage.Name, combo),
		Stage:       stage,
		Index:       index,
		Combination: combo,
		status:      Pending,
	}
}

// InstanceID renders `stage` or `stage[axis=value,...]`.
func InstanceID(stage string, combo pipeline.Combination) string {
	if len(combo) == 0 {
		return stage
	}
	return fmt.Sprintf("%s[%s]", stage, combo.String())
}

// Status returns the current status.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Transition moves the instance to s. Leaving a terminal state is refused
// and reported as false.
func (i *Instance) Transition(s Status, at time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status.Terminal() {
		return false
	}
	if s == Running && i.started.IsZero() {
		i.started = at
	}
	if s.Terminal() {
		i.finished = at
	}
	i.status = s
	return true
}

// Fail marks the instance Failed with the failing step details.
func (i *Instance) Fail(f Failure, at time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status.Terminal() {
		return false
	}
	i.status = Failed
	i.failure = &f
	i.finished = at
	return true
}

// Finish moves the instance to a terminal status with a human-readable reason,
// e.g. which dependency failed or why it was aborted.
func (i *Instance) Finish(s Status, reason string, at time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status.Terminal() {
		return false
	}
	i.status = s
	i.reason = reason
	i.finished = at
	return true
}

// Snapshot is a consistent copy of an instance's outcome.
type Snapshot struct {
	ID          string
	Stage       string
	Combination pipeline.Combination
	Status      Status
	Failure     *Failure
	Reason      string
	Started     time.Time
	Finished    time.Time
}

// Snapshot returns a copy of the instance's current outcome.
func (i *Instance) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := Snapshot{
		ID:          i.ID,
		Stage:       i.Stage.Name,
		Combination: i.Combination,
		Status:      i.status,
		Reason:      i.reason,
		Started:     i.started,
		Finished:    i.finished,
	}
	if i.failure != nil {
		f := *i.failure
		s.Failure = &f
	}
	return s
}
