package engine

import "sync"

// jobLocks serializes transition attempts per job. Guard evaluation reads
// sibling and parent state, so two phases of the same job must never
// transition concurrently against a stale job snapshot.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: map[string]*sync.Mutex{}}
}

func (l *jobLocks) lock(jobID string) func() {
	l.mu.Lock()
	m, ok := l.locks[jobID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[jobID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
