package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// node is a stage plus its resolved edges.
type node struct {
	stage      *pipeline.Stage
	order      int
	deps       []string // declared needs, in order, deduplicated
	dependents []string // in declaration order of the dependents
}

// Graph is a directed graph of stages keyed by name.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	order []string
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// FromDefinition adds every stage of def and validates the result.
func FromDefinition(def *pipeline.Definition) (*Graph, error) {
	g := New()
	for _, s := range def.Stages {
		if err := g.AddStage(s); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddStage adds a stage to the graph. It fails with *DuplicateStageError if a
// stage with the same name already exists. Edges are resolved by Validate,
// so stages may be added in any order.
func (g *Graph) AddStage(stage *pipeline.Stage) error {
	if stage == nil || stage.Name == "" {
		return fmt.Errorf("stage must have a name")
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[stage.Name]; ok {
		return &DuplicateStageError{Stage: stage.Name}
	}

	var deps []string
	for _, need := range stage.Needs {
		if !slices.Contains(deps, need) {
			deps = append(deps, need)
		}
	}

	g.nodes[stage.Name] = &node{stage: stage, order: len(g.order), deps: deps}
	g.order = append(g.order, stage.Name)
	return nil
}

// Validate resolves dependency edges and checks the graph. Unknown
// dependencies are reported first, as *UnknownDependencyError; a cycle is
// reported as *CycleError.
func (g *Graph) Validate() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	for _, name := range g.order {
		n := g.nodes[name]
		for _, dep := range n.deps {
			if _, ok := g.nodes[dep]; !ok {
				return &UnknownDependencyError{Stage: name, Dependency: dep}
			}
		}
	}

	for _, name := range g.order {
		g.nodes[name].dependents = nil
	}
	for _, name := range g.order {
		for _, dep := range g.nodes[name].deps {
			d := g.nodes[dep]
			d.dependents = append(d.dependents, name)
		}
	}

	return g.detectCycles()
}

// detectCycles walks the needs edges depth-first. Nodes on the current
// recursion stack are temporary; fully explored nodes are permanent.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			start := slices.Index(stack, name)
			path := append(slices.Clone(stack[start:]), name)
			return &CycleError{Path: path}
		}

		temporary[name] = true
		stack = append(stack, name)

		for _, dep := range g.nodes[name].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, name := range g.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// ReadyStages returns the stages not in completed whose whole dependency set
// is in completed, in declaration order.
func (g *Graph) ReadyStages(completed map[string]bool) []*pipeline.Stage {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var ready []*pipeline.Stage
	for _, name := range g.order {
		if completed[name] {
			continue
		}
		n := g.nodes[name]
		satisfied := true
		for _, dep := range n.deps {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, n.stage)
		}
	}
	return ready
}

// Stages returns every stage in declaration order.
func (g *Graph) Stages() []*pipeline.Stage {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	stages := make([]*pipeline.Stage, 0, len(g.order))
	for _, name := range g.order {
		stages = append(stages, g.nodes[name].stage)
	}
	return stages
}

// Stage returns the stage with the given name.
func (g *Graph) Stage(name string) (*pipeline.Stage, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	return n.stage, true
}

// Dependencies returns the names the given stage needs.
func (g *Graph) Dependencies(name string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("stage not found: %s", name)
	}
	return slices.Clone(n.deps), nil
}

// Dependents returns the names of the stages that need the given stage.
// Only populated after Validate.
func (g *Graph) Dependents(name string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("stage not found: %s", name)
	}
	return slices.Clone(n.dependents), nil
}

// Len returns the number of stages.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.order)
}
