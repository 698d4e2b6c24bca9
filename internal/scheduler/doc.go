// Package scheduler executes a validated job graph.
//
// The scheduler keeps a frontier of ready stages. A stage becomes ready once
// every instance of every stage it needs is terminal. Each ready stage is
// gated by its condition, expanded into job instances and run with one
// goroutine per instance. Instances run their steps strictly in order and
// stop at the first failing step.
//
// # Failure policy
//
// With fail-fast enabled (the default) the first failed instance cancels its
// siblings and the rest of the run; work that had not finished is recorded
// as Aborted. With fail-fast disabled every sibling runs to completion and
// the stage is Failed if any instance failed. Stages that need a failed
// stage are recorded as SkippedDependencyFailed and never execute.
//
// Step failures never surface as errors from Run: they are data in the
// returned report. Run only errors when the graph or a matrix is invalid.
package scheduler
