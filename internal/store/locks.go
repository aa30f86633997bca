package store

import (
	"sync"

	"github.com/google/uuid"
)

// docLocks hands out one mutex per document id so a pipeline run and a
// review action can never interleave writes on the same document.
type docLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sync.Mutex
}

func newDocLocks() *docLocks {
	return &docLocks{m: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *docLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.m[id]
	if !ok {
		m = &sync.Mutex{}
		l.m[id] = m
	}
	return m
}

// LockDocument blocks until the per-document lock is held and returns the
// unlock func.
func (s *Store) LockDocument(id uuid.UUID) func() {
	m := s.locks.get(id)
	m.Lock()
	return m.Unlock
}

// TryLockDocument acquires the per-document lock without blocking. The
// second return is false when another writer holds it.
func (s *Store) TryLockDocument(id uuid.UUID) (func(), bool) {
	m := s.locks.get(id)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
