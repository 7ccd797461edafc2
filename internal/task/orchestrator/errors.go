package orchestrator

import "errors"

var (
	// ErrScheduleFailed marks a task row that was persisted but could not be put on the
	// live schedule. It is always joined with the scheduling cause.
	ErrScheduleFailed = errors.New("task saved but not scheduled")

	// ErrOverlapSkip is recorded when a non-concurrent task fires while its previous run
	// is still in flight.
	ErrOverlapSkip = errors.New("task skipped: previous run still in progress")

	ErrInvalidStatus = errors.New("invalid task status")
)
