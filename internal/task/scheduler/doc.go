// Package scheduler owns the live cron entries of scheduled tasks.
//
// Each job is keyed by its JobKey and fires a registered function on its own
// schedule. The scheduler is trigger-only and agnostic to concurrency policy:
// every fire is handed to the installed Dispatcher (the orchestrator wraps
// fires with overlap gating and execution logging).
package scheduler
