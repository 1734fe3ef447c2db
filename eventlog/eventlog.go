// Package eventlog provides a bounded, in-memory feed of recent sync and
// connectivity events. The log is diagnostic only: it is never persisted and
// starts empty on every process start.
package eventlog

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies the kind of event recorded in the log.
type EventType string

const (
	NetworkOnline  EventType = "network_online"
	NetworkOffline EventType = "network_offline"
	ActionQueued   EventType = "action_queued"
	ActionExecuted EventType = "action_executed"
	ActionFailed   EventType = "action_failed"
	SyncStarted    EventType = "sync_started"
	SyncCompleted  EventType = "sync_completed"
	CacheCleared   EventType = "cache_cleared"
)

// Event is a single diagnostic record.
type Event struct {
	Type         EventType `json:"type"`
	Details      string    `json:"details"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DefaultCapacity is the ring size used when New is given a non-positive value.
const DefaultCapacity = 100

// Log is a ring-bounded event feed. Appends evict the oldest entry once the
// capacity is exceeded. All methods are safe for concurrent use.
type Log struct {
	mu          sync.RWMutex
	events      []Event
	capacity    int
	subscribers []func(Event)
}

// New creates an event log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an event to the log, evicting the oldest entry when full.
// A zero Timestamp is stamped with the current time.
func (l *Log) Append(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, evt)
	if len(l.events) > l.capacity {
		l.events = l.events[1:]
	}
	l.mu.Unlock()

	l.notifySubscribers(evt)
}

// Record is a convenience wrapper around Append.
func (l *Log) Record(t EventType, details string, success bool, errMsg string) {
	l.Append(Event{
		Type:         t,
		Details:      details,
		Success:      success,
		ErrorMessage: errMsg,
	})
}

// All returns a copy of every retained event, oldest first.
func (l *Log) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Recent returns a copy of the newest n events, oldest first. When n exceeds
// the retained count the whole log is returned.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

// CountByType returns how many retained events have the given type.
func (l *Log) CountByType(t EventType) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, evt := range l.events {
		if evt.Type == t {
			count++
		}
	}
	return count
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Clear drops all retained events. Subscribers are unaffected.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = l.events[:0]
}

// Subscribe registers a callback invoked for every appended event. Callbacks
// run on their own goroutines after the append completes, so they may call
// back into the log.
func (l *Log) Subscribe(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

func (l *Log) notifySubscribers(evt Event) {
	l.mu.RLock()
	subscribers := make([]func(Event), len(l.subscribers))
	copy(subscribers, l.subscribers)
	l.mu.RUnlock()

	for _, sub := range subscribers {
		go func(s func(Event)) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event subscriber panicked", "panic", r)
				}
			}()
			s(evt)
		}(sub)
	}
}
