// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package pipeline provides the format-agnostic Go representation of a
// pipeline definition: stages, their `needs` edges, matrix axes, run
// conditions and the opaque steps each stage executes.
//
// # Core Concepts
//
//   - Definition: The root container for one pipeline. It holds the stages in
//     declaration order, which is the order used for every deterministic
//     listing (ready stages, reports, logs).
//
//   - Stage: A named unit of configuration. A stage may declare a Matrix, in
//     which case it expands into one job instance per matrix point.
//
//   - Step: A black-box command. The orchestration core never interprets a
//     step; it only renders its command with the instance's matrix values and
//     hands it to a step executor.
//
//   - Condition: A small closed set of predicates over trigger metadata that
//     gate whether a stage's instances execute at all.
//
// Loaders (HCL, YAML) translate their input into this model, and nothing
// downstream of the loader knows which format a pipeline came from.
package pipeline
