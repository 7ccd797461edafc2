package scheduler

import "sort"

// List returns a snapshot of every job sorted by key. Next/Prev are zero when the
// job is paused or the scheduler is not running.
func (s *Service) List() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		it := JobInfo{Key: j.key, CronExpression: j.spec, Target: j.target, Paused: j.paused}
		if s.c != nil && j.entryID != 0 {
			e := s.c.Entry(j.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Key < items[b].Key })
	return items
}

// Get returns the snapshot of one job.
func (s *Service) Get(key string) (JobInfo, bool) {
	for _, it := range s.List() {
		if it.Key == key {
			return it, true
		}
	}
	return JobInfo{}, false
}

// Len returns the number of registered jobs (active and paused).
func (s *Service) Len() int {
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	return n
}

// Active returns the number of jobs that will fire on schedule.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if !j.paused {
			n++
		}
	}
	return n
}
