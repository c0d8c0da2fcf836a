package state

import (
	"encoding/json"
	"sync"
)

// LogRing retains the most recent log events for the status API. It is
// wired as an extra zerolog writer, so every event written to the main
// log also lands here. Each Write call carries exactly one JSON event.
type LogRing struct {
	mu      sync.Mutex
	entries []json.RawMessage
	next    int
	full    bool
}

// NewLogRing creates a ring holding up to capacity events.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = 200
	}
	return &LogRing{entries: make([]json.RawMessage, capacity)}
}

// Write stores one log event. It never fails.
func (r *LogRing) Write(p []byte) (int, error) {
	entry := make(json.RawMessage, len(p))
	copy(entry, p)

	r.mu.Lock()
	r.entries[r.next] = entry
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()

	return len(p), nil
}

// Snapshot returns the retained events, oldest first.
func (r *LogRing) Snapshot() []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []json.RawMessage
	if r.full {
		out = append(out, r.entries[r.next:]...)
	}
	out = append(out, r.entries[:r.next]...)
	return out
}
