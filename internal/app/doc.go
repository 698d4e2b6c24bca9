// Package app wires the pipeline run together: it loads the definition,
// resolves the trigger ref, builds the run context, the secret stores and
// the step executor, drives the scheduler and writes the report. It is
// decoupled from any specific entrypoint like a CLI.
package app
