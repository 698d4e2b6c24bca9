package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/stagegrid/internal/executor"
)

// ExecutionRecord holds the start and end times of one instance's steps.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// ScriptedExecutor is a StepExecutor for tests. Outcomes are keyed by
// instance id, or by "instance#step" for a single step; everything else
// succeeds immediately.
type ScriptedExecutor struct {
	mu      sync.Mutex
	codes   map[string]int
	errs    map[string]error
	delays  map[string]time.Duration
	gates   map[string]chan struct{}
	calls   []executor.Invocation
	records map[string]*ExecutionRecord
}

// NewScriptedExecutor creates an executor where every step succeeds.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{
		codes:   make(map[string]int),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		gates:   make(map[string]chan struct{}),
		records: make(map[string]*ExecutionRecord),
	}
}

// ExitWith makes steps matching key exit with code.
func (s *ScriptedExecutor) ExitWith(key string, code int) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[key] = code
	return s
}

// ErrorWith makes steps matching key fail to start with err.
func (s *ScriptedExecutor) ErrorWith(key string, err error) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[key] = err
	return s
}

// Delay makes steps matching key take d, or until the context is cancelled.
func (s *ScriptedExecutor) Delay(key string, d time.Duration) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[key] = d
	return s
}

// Block makes steps matching key wait until Release(key) or cancellation.
func (s *ScriptedExecutor) Block(key string) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[key] = make(chan struct{})
	return s
}

// Release unblocks steps registered with Block.
func (s *ScriptedExecutor) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gates[key]; ok {
		close(g)
		delete(s.gates, key)
	}
}

// Execute implements executor.StepExecutor.
func (s *ScriptedExecutor) Execute(ctx context.Context, inv executor.Invocation) (executor.ExitStatus, error) {
	stepKey := fmt.Sprintf("%s#%s", inv.Instance, inv.StepName())

	s.mu.Lock()
	s.calls = append(s.calls, inv)
	rec, ok := s.records[inv.Instance]
	if !ok {
		rec = &ExecutionRecord{Start: time.Now()}
		s.records[inv.Instance] = rec
	}
	delay := lookup(s.delays, stepKey, inv.Instance)
	gate := lookup(s.gates, stepKey, inv.Instance)
	code := lookup(s.codes, stepKey, inv.Instance)
	err := lookup(s.errs, stepKey, inv.Instance)
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return executor.ExitStatus{Code: -1}, ctx.Err()
		}
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return executor.ExitStatus{Code: -1}, ctx.Err()
		}
	}

	s.mu.Lock()
	rec.End = time.Now()
	s.mu.Unlock()

	if err != nil {
		return executor.ExitStatus{Code: -1}, err
	}
	return executor.ExitStatus{Code: code}, nil
}

func lookup[V any](m map[string]V, keys ...string) V {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	var zero V
	return zero
}

// Calls returns every invocation seen so far, in call order.
func (s *ScriptedExecutor) Calls() []executor.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]executor.Invocation(nil), s.calls...)
}

// Ran reports whether any step of the instance was executed.
func (s *ScriptedExecutor) Ran(instance string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[instance]
	return ok
}

// Record returns the timing of an instance's steps.
func (s *ScriptedExecutor) Record(instance string) (ExecutionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[instance]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

// ErrScripted is a convenience error for ErrorWith.
var ErrScripted = errors.New("scripted executor failure")
