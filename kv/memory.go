package kv

import (
	"context"
	"sync"
)

// MemoryStore is an in-process [Store]. It backs the ephemeral
// per-client scope (tab ID, wasLoggedIn flag) and doubles as the test
// stand-in for the shared store.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[int]*memoryWatcher
	nextID   int
}

type memoryWatcher struct {
	keys map[string]struct{}
	ch   chan Change
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]string),
		watchers: make(map[int]*memoryWatcher),
	}
}

// Get returns the value stored under key, or [ErrNotFound].
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set writes key and notifies watchers.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.notifyLocked(Change{Key: key, Op: OpSet, Value: value})
	s.mu.Unlock()
	return nil
}

// Remove deletes key and notifies watchers. Absent keys are a no-op
// that still notifies.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.notifyLocked(Change{Key: key, Op: OpRemove})
	s.mu.Unlock()
	return nil
}

// Watch subscribes to mutations of the named keys.
func (s *MemoryStore) Watch(_ context.Context, keys ...string) (<-chan Change, func(), error) {
	w := &memoryWatcher{
		keys: watchSet(keys),
		ch:   make(chan Change, watchBuffer),
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	var stopped bool
	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if stopped {
			return
		}
		stopped = true
		delete(s.watchers, id)
		close(w.ch)
	}
	return w.ch, stop, nil
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) notifyLocked(change Change) {
	for _, w := range s.watchers {
		if _, ok := w.keys[change.Key]; !ok {
			continue
		}
		select {
		case w.ch <- change:
		default:
			// Slow subscriber: drop, last-write-wins.
		}
	}
}
