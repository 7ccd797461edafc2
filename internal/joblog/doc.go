// Package joblog records one row per task execution attempt.
//
// A Service fans every record out to its sinks (the catalog store and an
// optional JSON Lines file). Sink failures are logged, rate limited, and never
// surface to the task being executed.
package joblog
