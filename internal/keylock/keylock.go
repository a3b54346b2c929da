// internal/keylock/keylock.go
package keylock

import "sync"

// Map hands out one mutex per key. Entries are reference counted and
// removed once nobody holds or waits for them.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// TryLock acquires the mutex for key only if it is free.
func (m *Map) TryLock(key string) (unlock func(), ok bool) {
	m.mu.Lock()
	e, exists := m.locks[key]
	if !exists {
		e = &entry{}
		m.locks[key] = e
	}
	if !e.mu.TryLock() {
		if !exists {
			delete(m.locks, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	e.refs++
	m.mu.Unlock()

	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}, true
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
