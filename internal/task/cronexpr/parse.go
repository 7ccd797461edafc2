package cronexpr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser is the robfig parser matching the normalized 6-field layout.
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse normalizes expr and builds a schedule from it.
// Both a bad field count and a parser rejection wrap ErrInvalidCronExpression.
func Parse(expr string) (cron.Schedule, string, error) {
	norm, err := Normalize(expr)
	if err != nil {
		return nil, "", err
	}
	sched, err := Parser.Parse(norm)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, norm, err)
	}
	return sched, norm, nil
}

// Validate reports whether expr can be scheduled.
func Validate(expr string) error {
	_, _, err := Parse(expr)
	return err
}

// NextRuns returns up to n upcoming fire times after from, evaluated in loc.
func NextRuns(expr string, from time.Time, n int, loc *time.Location) ([]time.Time, error) {
	sched, _, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
