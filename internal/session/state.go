// Package session holds the run session's UI-facing state and routes decoded
// protocol messages into it.
package session

import (
	"encoding/json"
	"sync"
)

// Status is the run lifecycle state. Monotonic except Error, which may be
// entered from any state.
type Status string

const (
	StatusInitializing Status = "Initializing"
	StatusStarted      Status = "Started"
	StatusEnded        Status = "Ended"
	StatusError        Status = "Error"
	StatusAtCapacity   Status = "At capacity"
)

// Entry is one transcript line.
type Entry struct {
	From string `json:"from"` // "system" or "user"
	Text string `json:"text"`
	Kind string `json:"kind"` // message type or content kind
}

// PendingInput describes a non-freetext input widget the backend requested:
// an options tree, a choice list, or a yes/no radio.
type PendingInput struct {
	Type    string          `json:"type"`
	Options json.RawMessage `json:"options,omitempty"`
}

// State is the mutable session view shared between the router, the lifecycle
// controller and the HTTP handlers.
type State struct {
	mu      sync.RWMutex
	entries []Entry
	status  Status
	waiting bool
	pending *PendingInput
}

// NewState starts a session in Initializing.
func NewState() *State {
	return &State{status: StatusInitializing}
}

// Reset returns the session to its initial empty state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.status = StatusInitializing
	s.waiting = false
	s.pending = nil
}

// AddSystem appends a system transcript entry. The first system text flips
// the status from Initializing to Started.
func (s *State) AddSystem(text, kind string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{From: "system", Text: text, Kind: kind})
	if s.status == StatusInitializing {
		s.status = StatusStarted
	}
}

// AddUser appends a user transcript entry.
func (s *State) AddUser(text, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{From: "user", Text: text, Kind: kind})
}

// SetStatus overwrites the lifecycle status.
func (s *State) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status returns the current lifecycle status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetWaiting flips the waiting-for-input flag.
func (s *State) SetWaiting(waiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = waiting
}

// Waiting reports whether the backend is waiting on user input.
func (s *State) Waiting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting
}

// SetPending publishes a pending input widget; nil clears it.
func (s *State) SetPending(p *PendingInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = p
}

// Pending returns the pending input widget, nil when free text is expected.
func (s *State) Pending() *PendingInput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// Transcript returns a copy of the transcript entries.
func (s *State) Transcript() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LastEntry returns the newest transcript entry, ok=false when empty.
func (s *State) LastEntry() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}
