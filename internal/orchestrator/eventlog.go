package orchestrator

import (
	"sync"

	"github.com/chandra-edu/chandra/internal/script"
)

// DefaultEventLogCap bounds the global event ring buffer.
const DefaultEventLogCap = 1000

// DefaultRecentLimit is the query limit when the caller passes none.
const DefaultRecentLimit = 100

// EventLog is the orchestrator-wide ring buffer of session events.
// Oldest entries are evicted first once the capacity is reached.
type EventLog struct {
	mu       sync.RWMutex
	buf      []script.Event
	capacity int
	seq      uint64 // Total events ever appended; cursor base for Since.
}

// NewEventLog creates a ring buffer. capacity <= 0 uses DefaultEventLogCap.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCap
	}
	return &EventLog{capacity: capacity}
}

// Append adds events in order, evicting the oldest past capacity.
func (l *EventLog) Append(events ...script.Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, events...)
	l.seq += uint64(len(events))
	if len(l.buf) > l.capacity {
		l.buf = l.buf[len(l.buf)-l.capacity:]
	}
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Recent returns up to limit of the newest retained events in append
// order, optionally filtered by lesson id. limit <= 0 uses
// DefaultRecentLimit.
func (l *EventLog) Recent(lessonID string, limit int) []script.Event {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []script.Event
	if lessonID == "" {
		matched = l.buf
	} else {
		for _, ev := range l.buf {
			if ev.LessonID == lessonID {
				matched = append(matched, ev)
			}
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]script.Event, len(matched))
	copy(out, matched)
	return out
}

// Since returns retained events appended after the given cursor and the
// new cursor. Events that were evicted before being read are lost; the
// archiver accepts that in exchange for the bounded buffer.
func (l *EventLog) Since(cursor uint64) ([]script.Event, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if cursor >= l.seq {
		return nil, l.seq
	}
	missed := l.seq - cursor
	start := 0
	if missed < uint64(len(l.buf)) {
		start = len(l.buf) - int(missed)
	}
	out := make([]script.Event, len(l.buf)-start)
	copy(out, l.buf[start:])
	return out, l.seq
}
