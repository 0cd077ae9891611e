package script

import (
	"sync"
	"time"
)

// DefaultHistoryCap bounds the state change history when no cap is configured.
const DefaultHistoryCap = 200

// Change records a single state mutation.
type Change struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
}

// StateStore is the ordered key/value store a session exposes to its
// script. Only hook code mutates it; external readers get copies via
// Snapshot, never a live handle. It carries its own lock so snapshots do
// not wait behind a slow hook holding the environment lock.
type StateStore struct {
	mu        sync.RWMutex
	keys      []string
	values    map[string]any
	history   []Change
	capacity  int
	startedAt time.Time
}

// NewStateStore creates an empty store. historyCap <= 0 uses DefaultHistoryCap.
func NewStateStore(historyCap int) *StateStore {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &StateStore{
		values:   make(map[string]any),
		capacity: historyCap,
	}
}

// Get returns the value for key and whether it is present.
func (s *StateStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return copyValue(v), ok
}

// Set stores value under key, appending to the change history.
func (s *StateStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value)
}

// Update applies all entries of m in one locked pass.
func (s *StateStore) Update(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range m {
		s.setLocked(k, v)
	}
}

func (s *StateStore) setLocked(key string, value any) {
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value

	s.history = append(s.history, Change{
		Timestamp: time.Now().UTC(),
		Key:       key,
		Value:     copyValue(value),
	})
	if len(s.history) > s.capacity {
		s.history = s.history[len(s.history)-s.capacity:]
	}
}

// Keys returns the keys in insertion order.
func (s *StateStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Snapshot returns a deep copy of the current state.
func (s *StateStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = copyValue(v)
	}
	return out
}

// History returns a copy of the retained change history, oldest first.
func (s *StateStore) History() []Change {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Change, len(s.history))
	copy(out, s.history)
	return out
}

// MarkStarted stamps the session start time and mirrors it into the
// "started_at" state key so scripts can read it.
func (s *StateStore) MarkStarted(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = t
	s.setLocked("started_at", t.Format(time.RFC3339))
}

// StartedAt returns the start timestamp, zero if the session never started.
func (s *StateStore) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// copyValue deep-copies the plain-data values the converter produces.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
