// Package connectivity exposes network reachability and the current owner
// identity to collections.
package connectivity

import (
	"sync"
	"sync/atomic"
)

// Oracle reports connectivity and identity. An empty owner id is treated
// exactly like being offline.
type Oracle interface {
	IsOnline() bool
	CurrentOwnerID() string
}

// Available reports whether remote calls should be attempted, returning the owner id.
func Available(o Oracle) (string, bool) {
	if o == nil || !o.IsOnline() {
		return "", false
	}
	owner := o.CurrentOwnerID()
	return owner, owner != ""
}

// State is a snapshot of a Switch.
type State struct {
	Online  bool
	OwnerID string
}

// Available reports whether the state allows remote calls.
func (s State) Available() bool {
	return s.Online && s.OwnerID != ""
}

// Listener is notified after a Switch changes state.
type Listener func(prev, next State)

// Switch is a settable Oracle. The CLI and tests drive it directly.
type Switch struct {
	state atomic.Pointer[State]

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewSwitch creates a Switch with the given initial state.
func NewSwitch(online bool, ownerID string) *Switch {
	s := &Switch{listeners: make(map[int]Listener)}
	s.state.Store(&State{Online: online, OwnerID: ownerID})
	return s
}

// IsOnline implements Oracle.
func (s *Switch) IsOnline() bool {
	return s.state.Load().Online
}

// CurrentOwnerID implements Oracle.
func (s *Switch) CurrentOwnerID() string {
	return s.state.Load().OwnerID
}

// State returns the current snapshot.
func (s *Switch) State() State {
	return *s.state.Load()
}

// SetOnline changes reachability.
func (s *Switch) SetOnline(online bool) {
	s.update(func(st *State) { st.Online = online })
}

// SetOwner changes the signed-in identity; "" signs out.
func (s *Switch) SetOwner(ownerID string) {
	s.update(func(st *State) { st.OwnerID = ownerID })
}

func (s *Switch) update(fn func(*State)) {
	s.mu.Lock()
	prev := *s.state.Load()
	next := prev
	fn(&next)
	if next == prev {
		s.mu.Unlock()
		return
	}
	s.state.Store(&next)
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(prev, next)
	}
}

// OnChange registers l and returns a function that removes it.
func (s *Switch) OnChange(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
