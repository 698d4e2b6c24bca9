// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file decodes workflow-shaped YAML pipelines:
//
//	name: release
//	jobs:
//	  lint:
//	    steps:
//	      - run: cargo clippy
//	  build:
//	    needs: lint
//	    strategy:
//	      matrix:
//	        target: [x86_64, aarch64]
//	    steps:
//	      - run: cargo build --target ${{ matrix.target }}
//	  publish:
//	    needs: build
//	    if: github.ref_type == 'tag'
//	    steps:
//	      - run: cargo publish
package loader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/fsutil"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// YAML loads `.yaml`/`.yml` pipeline files. Jobs keep their document order.
type YAML struct{}

type workflowFile struct {
	Name string            `yaml:"name"`
	Env  map[string]string `yaml:"env"`
	Jobs yaml.Node         `yaml:"jobs"`
}

type jobSpec struct {
	Needs    stringList        `yaml:"needs"`
	If       string            `yaml:"if"`
	When     *whenSpec         `yaml:"when"`
	Strategy *strategySpec     `yaml:"strategy"`
	Env      map[string]string `yaml:"env"`
	Steps    []stepSpec        `yaml:"steps"`
}

type whenSpec struct {
	Always    *bool   `yaml:"always"`
	Never     *bool   `yaml:"never"`
	RefPrefix *string `yaml:"ref_prefix"`
	Tag       *bool   `yaml:"tag"`
	TagSemver *string `yaml:"tag_semver"`
}

type strategySpec struct {
	FailFast *bool     `yaml:"fail-fast"`
	Matrix   yaml.Node `yaml:"matrix"`
}

type stepSpec struct {
	Name             string            `yaml:"name"`
	Run              string            `yaml:"run"`
	Shell            string            `yaml:"shell"`
	WorkingDirectory string            `yaml:"working-directory"`
	TimeoutMinutes   float64           `yaml:"timeout-minutes"`
	Env              map[string]string `yaml:"env"`
	Secrets          map[string]string `yaml:"secrets"`
}

// stringList accepts either a scalar or a sequence of scalars.
type stringList []string

func (l *stringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*l = stringList{n.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
}

// Load implements Loader.
func (YAML) Load(ctx context.Context, paths ...string) (*pipeline.Definition, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := fsutil.ExpandPaths(paths, yamlExtensions...)
	if err != nil {
		return nil, err
	}

	def := pipeline.NewDefinition(defaultName(files))
	named := false
	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read YAML file %s: %w", file, err)
		}
		var wf workflowFile
		if err := yaml.Unmarshal(b, &wf); err != nil {
			return nil, fmt.Errorf("failed to decode YAML file %s: %w", file, err)
		}
		if wf.Name != "" {
			if named && wf.Name != def.Name {
				return nil, fmt.Errorf("YAML file %s: pipeline already named %q", file, def.Name)
			}
			def.Name, named = wf.Name, true
		}
		for k, v := range wf.Env {
			def.Env[k] = v
		}
		if err := decodeJobs(def, &wf.Jobs); err != nil {
			return nil, fmt.Errorf("YAML file %s: %w", file, err)
		}
	}

	logger.Debug("YAML loading complete.", "pipeline", def.Name, "stages", len(def.Stages))
	return def, nil
}

func decodeJobs(def *pipeline.Definition, jobs *yaml.Node) error {
	if jobs.Kind == 0 {
		return nil
	}
	if jobs.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: jobs must be a mapping", jobs.Line)
	}
	for i := 0; i+1 < len(jobs.Content); i += 2 {
		name := jobs.Content[i].Value
		if _, exists := def.Stage(name); exists {
			return fmt.Errorf("line %d: duplicate job %q", jobs.Content[i].Line, name)
		}
		var spec jobSpec
		if err := jobs.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
		st, err := translateJob(name, &spec)
		if err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
		def.Stages = append(def.Stages, st)
	}
	return nil
}

func translateJob(name string, spec *jobSpec) (*pipeline.Stage, error) {
	st := &pipeline.Stage{
		Name:  name,
		Needs: spec.Needs,
		Env:   spec.Env,
	}

	switch {
	case spec.If != "" && spec.When != nil:
		return nil, fmt.Errorf("if and when are mutually exclusive")
	case spec.If != "":
		cond, err := parseIf(spec.If)
		if err != nil {
			return nil, err
		}
		st.Condition = cond
	case spec.When != nil:
		cond, err := translateWhen((*whenBlock)(spec.When))
		if err != nil {
			return nil, err
		}
		st.Condition = cond
	}

	if spec.Strategy != nil {
		st.FailFast = spec.Strategy.FailFast
		m, err := decodeMatrix(&spec.Strategy.Matrix)
		if err != nil {
			return nil, err
		}
		st.Matrix = m
	}

	axes := matrixScope(st.Matrix)
	for i, ss := range spec.Steps {
		step, err := translateYAMLStep(ss, axes)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		st.Steps = append(st.Steps, step)
	}
	return st, nil
}

func translateYAMLStep(ss stepSpec, axes map[string]bool) (pipeline.Step, error) {
	if ss.Run == "" {
		return pipeline.Step{}, fmt.Errorf("run is required")
	}
	cmd := pipeline.Literal(ss.Run)
	for _, axis := range cmd.Placeholders() {
		if !axes[axis] {
			return pipeline.Step{}, fmt.Errorf("run references unknown matrix axis %q", axis)
		}
	}
	secrets, err := parseSecrets(ss.Secrets)
	if err != nil {
		return pipeline.Step{}, err
	}
	if ss.TimeoutMinutes < 0 {
		return pipeline.Step{}, fmt.Errorf("timeout-minutes must not be negative")
	}
	return pipeline.Step{
		Name:       ss.Name,
		Run:        cmd,
		Shell:      ss.Shell,
		WorkingDir: ss.WorkingDirectory,
		Timeout:    time.Duration(ss.TimeoutMinutes * float64(time.Minute)),
		Env:        ss.Env,
		Secrets:    secrets,
	}, nil
}

// decodeMatrix reads a strategy matrix. Every key except include and exclude
// is an axis, in document order.
func decodeMatrix(n *yaml.Node) (*pipeline.Matrix, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: matrix must be a mapping", n.Line)
	}
	m := &pipeline.Matrix{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		switch key {
		case "include":
			combos, err := decodeCombinations(val)
			if err != nil {
				return nil, fmt.Errorf("include: %w", err)
			}
			m.Include = combos
		case "exclude":
			combos, err := decodeCombinations(val)
			if err != nil {
				return nil, fmt.Errorf("exclude: %w", err)
			}
			m.Exclude = combos
		default:
			var values []string
			if err := val.Decode(&values); err != nil {
				return nil, fmt.Errorf("axis %q: %w", key, err)
			}
			m.Axes = append(m.Axes, pipeline.Axis{Name: key, Values: values})
		}
	}
	return m, nil
}

// decodeCombinations reads a sequence of mappings, keeping key order.
func decodeCombinations(n *yaml.Node) ([]pipeline.Combination, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of mappings", n.Line)
	}
	var out []pipeline.Combination
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: expected a mapping", item.Line)
		}
		var c pipeline.Combination
		for i := 0; i+1 < len(item.Content); i += 2 {
			v := item.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: matrix values must be scalars", v.Line)
			}
			c = append(c, pipeline.Pair{Axis: item.Content[i].Value, Value: v.Value})
		}
		out = append(out, c)
	}
	return out, nil
}
