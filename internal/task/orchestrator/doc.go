// Package orchestrator keeps the task catalog and the live schedule in step.
//
// Every catalog mutation (create, update, toggle, delete) is mirrored onto the
// scheduler under the task's job key, and every execution, scheduled or manual,
// is recorded through the execution log. Non-concurrent tasks are gated so a fire
// that overlaps a running instance is recorded as skipped instead of run.
package orchestrator
