// Package cronexpr normalizes and parses the 6-field cron expressions stored on
// task definitions (second minute hour day-of-month month day-of-week).
package cronexpr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const fieldCount = 6

const (
	fieldDayOfMonth = 3
	fieldDayOfWeek  = 5
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrInvalidFieldCount     = fmt.Errorf("%w: want %d fields (sec min hour dom month dow)", ErrInvalidCronExpression, fieldCount)
)

var reFieldChars = regexp.MustCompile(`^[0-9/*\-,]+$`)

// WarnFunc receives fields that fall outside the plain numeric character class.
// Such fields are kept as-is; the cron parser decides whether they are usable.
type WarnFunc func(index int, field string)

// Normalize returns the canonical form of expr. It is pure and idempotent.
func Normalize(expr string) (string, error) {
	return NormalizeWithWarn(expr, nil)
}

// NormalizeWithWarn is Normalize with a hook for character-class warnings.
func NormalizeWithWarn(expr string, warn WarnFunc) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != fieldCount {
		return "", fmt.Errorf("%w, got %d in %q", ErrInvalidFieldCount, len(fields), strings.TrimSpace(expr))
	}
	for i, f := range fields {
		// "?" means "no constraint" in Quartz-style expressions.
		if (i == fieldDayOfMonth || i == fieldDayOfWeek) && f == "?" {
			f = "*"
		}
		if f == "*/1" {
			f = "*"
		}
		if warn != nil && !reFieldChars.MatchString(f) {
			warn(i, f)
		}
		fields[i] = f
	}
	return strings.Join(fields, " "), nil
}
