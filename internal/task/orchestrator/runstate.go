package orchestrator

import "sync"

// RunState tracks whether a job is already in flight.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Running reports whether a run currently holds the gate.
func (s *RunState) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// gates hands out one RunState per job key.
type gates struct {
	mu sync.Mutex
	m  map[string]*RunState
}

func (g *gates) get(key string) *RunState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.m == nil {
		g.m = map[string]*RunState{}
	}
	st, ok := g.m[key]
	if !ok {
		st = &RunState{}
		g.m[key] = st
	}
	return st
}

// drop forgets key. A run still holding the old state releases it harmlessly.
func (g *gates) drop(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
