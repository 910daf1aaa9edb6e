package testutil

import (
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// EventRecorder records events for later inspection.
type EventRecorder struct {
	mu     sync.Mutex
	events []uploadtypes.Event
	notify chan struct{}
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{notify: make(chan struct{}, 1)}
}

// Record is an uploadtypes.EventHandler.
func (r *EventRecorder) Record(ev uploadtypes.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns every recorded event.
func (r *EventRecorder) Events() []uploadtypes.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uploadtypes.Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *EventRecorder) OfType(t uploadtypes.EventType) []uploadtypes.Event {
	var out []uploadtypes.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the number of recorded events of one type.
func (r *EventRecorder) Count(t uploadtypes.EventType) int {
	return len(r.OfType(t))
}

// WaitFor blocks until at least n events of the type were recorded or the
// timeout elapses. It reports whether the events arrived.
func (r *EventRecorder) WaitFor(t uploadtypes.EventType, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if r.Count(t) >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return r.Count(t) >= n
		}
	}
}

// MockProgressTracker records progress callbacks.
type MockProgressTracker struct {
	mu      sync.Mutex
	Updates []uploadtypes.Progress
}

// Update records a progress update.
func (m *MockProgressTracker) Update(loaded, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates = append(m.Updates, uploadtypes.Progress{BytesUploaded: loaded, BytesTotal: total})
}

// Snapshot returns the recorded updates.
func (m *MockProgressTracker) Snapshot() []uploadtypes.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uploadtypes.Progress(nil), m.Updates...)
}

// Last returns the most recent update.
func (m *MockProgressTracker) Last() uploadtypes.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Updates) == 0 {
		return uploadtypes.Progress{}
	}
	return m.Updates[len(m.Updates)-1]
}
