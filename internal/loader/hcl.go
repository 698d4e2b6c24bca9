// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file decodes HCL pipeline files:
//
//	pipeline "release" {
//	  env = { CARGO_TERM_COLOR = "always" }
//	}
//
//	stage "build" {
//	  needs = ["lint"]
//	  matrix {
//	    axis "target" { values = ["x86_64", "aarch64"] }
//	  }
//	  step "compile" {
//	    run = "cargo build --target ${matrix.target}"
//	  }
//	}
package loader

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/stagegrid/internal/condition"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/fsutil"
	"github.com/specialistvlad/stagegrid/internal/hclutil"
	"github.com/specialistvlad/stagegrid/internal/pipeline"
)

// HCL loads `.hcl` pipeline files.
type HCL struct{}

// topLevelSchema is used for a first pass over each file to enforce block
// cardinality before decoding.
var topLevelSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "pipeline", LabelNames: []string{"name"}},
		{Type: "stage", LabelNames: []string{"name"}},
	},
}

type fileRoot struct {
	Pipelines []*pipelineBlock `hcl:"pipeline,block"`
	Stages    []*stageBlock    `hcl:"stage,block"`
}

type pipelineBlock struct {
	Name string            `hcl:"name,label"`
	Env  map[string]string `hcl:"env,optional"`
}

type stageBlock struct {
	Name     string            `hcl:"name,label"`
	Needs    []string          `hcl:"needs,optional"`
	FailFast *bool             `hcl:"fail_fast,optional"`
	Env      map[string]string `hcl:"env,optional"`
	When     *whenBlock        `hcl:"when,block"`
	Matrix   *matrixBlock      `hcl:"matrix,block"`
	Steps    []*stepBlock      `hcl:"step,block"`
}

type whenBlock struct {
	Always    *bool   `hcl:"always,optional"`
	Never     *bool   `hcl:"never,optional"`
	RefPrefix *string `hcl:"ref_prefix,optional"`
	Tag       *bool   `hcl:"tag,optional"`
	TagSemver *string `hcl:"tag_semver,optional"`
}

type matrixBlock struct {
	Axes    []*axisBlock        `hcl:"axis,block"`
	Include []map[string]string `hcl:"include,optional"`
	Exclude []map[string]string `hcl:"exclude,optional"`
}

type axisBlock struct {
	Name   string   `hcl:"name,label"`
	Values []string `hcl:"values"`
}

type stepBlock struct {
	Name       string            `hcl:"name,label"`
	Run        hcl.Expression    `hcl:"run"`
	Shell      *string           `hcl:"shell,optional"`
	WorkingDir *string           `hcl:"working_dir,optional"`
	Timeout    *string           `hcl:"timeout,optional"`
	Env        map[string]string `hcl:"env,optional"`
	Secrets    map[string]string `hcl:"secrets,optional"`
}

// Load implements Loader.
func (HCL) Load(ctx context.Context, paths ...string) (*pipeline.Definition, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := fsutil.ExpandPaths(paths, hclExtensions...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	var pipelines []*pipelineBlock
	var stages []*stageBlock
	var allBlocks hcl.Blocks

	for _, file := range files {
		f, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		content, _, diags := f.Body.PartialContent(topLevelSchema)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to read HCL file %s: %w", file, diags)
		}
		allBlocks = append(allBlocks, content.Blocks...)

		var root fileRoot
		if diags := gohcl.DecodeBody(f.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		pipelines = append(pipelines, root.Pipelines...)
		stages = append(stages, root.Stages...)
	}

	if _, diags := hclutil.FindUniqueBlock(allBlocks, "pipeline"); diags.HasErrors() {
		return nil, fmt.Errorf("invalid pipeline: %w", diags)
	}
	if _, diags := hclutil.LabeledBlocks(allBlocks, "stage"); diags.HasErrors() {
		return nil, fmt.Errorf("invalid pipeline: %w", diags)
	}

	def := pipeline.NewDefinition(defaultName(files))
	if len(pipelines) == 1 {
		def.Name = pipelines[0].Name
		if pipelines[0].Env != nil {
			def.Env = pipelines[0].Env
		}
	}
	for _, sb := range stages {
		st, err := translateStage(def, sb)
		if err != nil {
			return nil, err
		}
		def.Stages = append(def.Stages, st)
	}

	logger.Debug("HCL loading complete.", "pipeline", def.Name, "stages", len(def.Stages))
	return def, nil
}

func translateStage(def *pipeline.Definition, sb *stageBlock) (*pipeline.Stage, error) {
	st := &pipeline.Stage{
		Name:     sb.Name,
		Needs:    sb.Needs,
		FailFast: sb.FailFast,
		Env:      sb.Env,
	}

	cond, err := translateWhen(sb.When)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", sb.Name, err)
	}
	st.Condition = cond

	if sb.Matrix != nil {
		st.Matrix = translateMatrix(sb.Matrix)
	}

	axes := matrixScope(st.Matrix)
	for i, step := range sb.Steps {
		s, err := translateStep(def, st, step, axes)
		if err != nil {
			return nil, fmt.Errorf("stage %q step %d (%s): %w", sb.Name, i+1, step.Name, err)
		}
		st.Steps = append(st.Steps, s)
	}
	return st, nil
}

func translateWhen(w *whenBlock) (pipeline.Condition, error) {
	if w == nil {
		return nil, nil
	}
	var conds []pipeline.Condition
	if w.Always != nil {
		if *w.Always {
			conds = append(conds, pipeline.Always{})
		} else {
			conds = append(conds, pipeline.Never{})
		}
	}
	if w.Never != nil {
		if *w.Never {
			conds = append(conds, pipeline.Never{})
		} else {
			conds = append(conds, pipeline.Always{})
		}
	}
	if w.RefPrefix != nil {
		conds = append(conds, pipeline.RefPrefix{Prefix: *w.RefPrefix})
	}
	if w.Tag != nil {
		if !*w.Tag {
			return nil, fmt.Errorf("when: tag = false is not supported, use ref_prefix instead")
		}
		conds = append(conds, pipeline.IsTag{})
	}
	if w.TagSemver != nil {
		conds = append(conds, pipeline.TagSemver{Constraint: *w.TagSemver})
	}

	switch len(conds) {
	case 0:
		return nil, nil
	case 1:
		if err := condition.Validate(conds[0]); err != nil {
			return nil, fmt.Errorf("when: %w", err)
		}
		return conds[0], nil
	default:
		return nil, fmt.Errorf("when: only one of always, never, ref_prefix, tag, tag_semver may be set")
	}
}

func translateMatrix(mb *matrixBlock) *pipeline.Matrix {
	m := &pipeline.Matrix{}
	var order []string
	for _, a := range mb.Axes {
		m.Axes = append(m.Axes, pipeline.Axis{Name: a.Name, Values: a.Values})
		order = append(order, a.Name)
	}
	for _, inc := range mb.Include {
		m.Include = append(m.Include, combinationFromMap(inc, order))
	}
	for _, exc := range mb.Exclude {
		m.Exclude = append(m.Exclude, combinationFromMap(exc, order))
	}
	return m
}

// combinationFromMap orders keys by declared axis order, then the rest by
// name.
func combinationFromMap(m map[string]string, axisOrder []string) pipeline.Combination {
	var c pipeline.Combination
	used := make(map[string]bool, len(m))
	for _, axis := range axisOrder {
		if v, ok := m[axis]; ok {
			c = append(c, pipeline.Pair{Axis: axis, Value: v})
			used[axis] = true
		}
	}
	var extra []string
	for k := range m {
		if !used[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		c = append(c, pipeline.Pair{Axis: k, Value: m[k]})
	}
	return c
}

// matrixScope lists every axis name a command may reference: declared axes
// and keys introduced by include entries.
func matrixScope(m *pipeline.Matrix) map[string]bool {
	scope := make(map[string]bool)
	if m == nil {
		return scope
	}
	for _, a := range m.Axes {
		scope[a.Name] = true
	}
	for _, inc := range m.Include {
		for _, p := range inc {
			scope[p.Axis] = true
		}
	}
	return scope
}

func translateStep(def *pipeline.Definition, st *pipeline.Stage, sb *stepBlock, axes map[string]bool) (pipeline.Step, error) {
	step := pipeline.Step{
		Name: sb.Name,
		Env:  sb.Env,
	}
	if isNullExpr(sb.Run) {
		return step, fmt.Errorf("missing required argument \"run\"")
	}
	if sb.Shell != nil {
		step.Shell = *sb.Shell
	}
	if sb.WorkingDir != nil {
		step.WorkingDir = *sb.WorkingDir
	}
	if sb.Timeout != nil {
		d, err := time.ParseDuration(*sb.Timeout)
		if err != nil {
			return step, fmt.Errorf("invalid timeout %q: %w", *sb.Timeout, err)
		}
		step.Timeout = d
	}

	secrets, err := parseSecrets(sb.Secrets)
	if err != nil {
		return step, err
	}
	step.Secrets = secrets

	env := mergeEnv(def.Env, st.Env, sb.Env)
	envScope := make(map[string]bool, len(env))
	for k := range env {
		envScope[k] = true
	}
	scope := hclutil.Scope{"matrix": axes, "env": envScope}
	if diags := hclutil.CheckReferences(sb.Run, scope); diags.HasErrors() {
		return step, diags
	}
	if fns := hclutil.Functions(sb.Run); len(fns) > 0 {
		return step, fmt.Errorf("function calls are not supported in run: %v", fns)
	}

	step.Run = &exprCommand{expr: sb.Run, env: env}
	return step, nil
}

// isNullExpr reports whether expr is absent or a literal null. gohcl decodes
// a missing expression attribute as a static null.
func isNullExpr(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}

func parseSecrets(raw map[string]string) (map[string]pipeline.SecretRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]pipeline.SecretRef, len(raw))
	for name, handle := range raw {
		ref, err := pipeline.ParseSecretRef(handle)
		if err != nil {
			return nil, fmt.Errorf("secret %s: %w", name, err)
		}
		out[name] = ref
	}
	return out, nil
}

func mergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}
