// Package registry maps invoke-target keys to background functions.
//
// Keys are late-bound: task definitions reference them by string and they are
// resolved when a job is scheduled or run. The set of legitimate keys is an
// application contract (see internal/app/functions.go), not a compiler-enforced one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrInvalidTarget   = errors.New("invalid invoke target")
)

// Func is a registered background operation. arg is empty for zero-argument targets.
type Func func(ctx context.Context, arg string) (any, error)

type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

func New() *Registry {
	return &Registry{fns: map[string]Func{}}
}

// Register stores fn under key. A later registration for the same key replaces
// the earlier one. Empty keys and nil functions are ignored.
func (r *Registry) Register(key string, fn Func) {
	key = strings.TrimSpace(key)
	if key == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.fns[key] = fn
	r.mu.Unlock()
}

// RegisterFunc adapts a function that takes no argument and returns only an error.
func (r *Registry) RegisterFunc(key string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	r.Register(key, func(ctx context.Context, _ string) (any, error) {
		return nil, fn(ctx)
	})
}

func (r *Registry) Resolve(key string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.fns[strings.TrimSpace(key)]
	r.mu.RUnlock()
	return fn, ok
}

// Lookup parses target and resolves its key.
func (r *Registry) Lookup(target string) (Func, string, error) {
	key, arg, err := ParseTarget(target)
	if err != nil {
		return nil, "", err
	}
	fn, ok := r.Resolve(key)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownFunction, key)
	}
	return fn, arg, nil
}

// ExecuteOnce resolves target and runs it on the caller's goroutine.
func (r *Registry) ExecuteOnce(ctx context.Context, target string) (any, error) {
	fn, arg, err := r.Lookup(target)
	if err != nil {
		return nil, err
	}
	return fn(ctx, arg)
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.fns))
	for k := range r.fns {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
