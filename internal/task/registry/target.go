package registry

import (
	"fmt"
	"strings"
)

// ParseTarget splits an invoke target into its key and optional single argument.
//
// Accepted forms:
//   - "system.noop"
//   - "system.noop()"
//   - "system.echo(hello)"
//   - "system.echo('hello')" / "system.echo(\"hello\")"
func ParseTarget(target string) (key, arg string, err error) {
	s := strings.TrimSpace(target)
	if s == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.ContainsAny(s, ") \t") {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
		return s, "", nil
	}
	if !strings.HasSuffix(s, ")") || strings.Count(s, "(") != 1 || strings.Count(s, ")") != 1 {
		return "", "", fmt.Errorf("%w: unbalanced parentheses in %q", ErrInvalidTarget, target)
	}
	key = strings.TrimSpace(s[:open])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", fmt.Errorf("%w: missing function name in %q", ErrInvalidTarget, target)
	}
	arg = strings.TrimSpace(s[open+1 : len(s)-1])
	if len(arg) >= 2 {
		q := arg[0]
		if (q == '\'' || q == '"') && arg[len(arg)-1] == q {
			arg = arg[1 : len(arg)-1]
		}
	}
	return key, arg, nil
}
