// Package graph is the Job Graph of a pipeline: stages keyed by name with
// directed `needs` edges between them.
//
// The graph is built once from a pipeline.Definition and validated before a
// run starts. After Validate succeeds it is read-only, and the scheduler asks
// it which stages are ready given the set of stages that already reached a
// terminal state.
//
// Every listing returned by the graph follows stage declaration order so that
// logs, reports and tests are reproducible.
package graph
