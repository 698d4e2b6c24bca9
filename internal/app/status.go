package app

import (
	"sync"
	"time"

	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/scheduler"
)

// statusTracker folds scheduler events into a snapshot served by /status.
type statusTracker struct {
	mu        sync.Mutex
	runID     string
	status    string
	stages    map[string]job.Status
	instances map[string]job.Status
	updated   time.Time
}

// StatusSnapshot is the JSON body of GET /status.
type StatusSnapshot struct {
	RunID     string            `json:"run_id,omitempty"`
	Status    string            `json:"status"`
	Stages    map[string]string `json:"stages"`
	Instances map[string]string `json:"instances"`
	Updated   time.Time         `json:"updated,omitzero"`
}

func newStatusTracker() *statusTracker {
	return &statusTracker{
		status:    "idle",
		stages:    make(map[string]job.Status),
		instances: make(map[string]job.Status),
	}
}

func (t *statusTracker) observe(e scheduler.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runID = e.RunID
	t.updated = e.At
	switch e.Kind {
	case scheduler.StageStarted:
		t.status = "running"
		t.stages[e.Stage] = job.Running
	case scheduler.StageSkipped, scheduler.StageFinished:
		t.stages[e.Stage] = e.Status
	case scheduler.InstanceStarted:
		t.instances[e.Instance] = job.Running
	case scheduler.InstanceFinished:
		t.instances[e.Instance] = e.Status
	case scheduler.RunFinished:
		t.status = e.Status.String()
	}
}

func (t *statusTracker) snapshot() StatusSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return StatusSnapshot{
		RunID:     t.runID,
		Status:    t.status,
		Stages:    stringify(t.stages),
		Instances: stringify(t.instances),
		Updated:   t.updated,
	}
}

func stringify(m map[string]job.Status) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}
