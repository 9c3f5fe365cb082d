// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"github.com/wneessen/waybar-location/internal/backend"
)

// State is the observable state of a Service.
type State struct {
	IsLoading        bool
	HasPermission    bool
	PermissionStatus backend.PermissionState
	LastError        string
	IsSupported      bool
	Platform         string
}

// Snapshot is delivered to subscribers on every change of the state or the current reading.
// Current is nil if no reading is available.
type Snapshot struct {
	State   State
	Current *Reading
}

// PlatformInfo describes the backend serving a Service.
type PlatformInfo struct {
	Platform    string
	IsNative    bool
	IsSupported bool
	API         string
}

// Subscribe returns a channel that receives a Snapshot on every change and a function to
// unsubscribe. The current snapshot is delivered right away. Slow subscribers miss updates
// instead of blocking the service.
func (s *Service) Subscribe(size int) (<-chan Snapshot, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan Snapshot, size)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshot()
	s.subMu.Unlock()

	unsub := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subscribers[ch]; !ok {
			return
		}
		delete(s.subscribers, ch)
		close(ch)
	}
	return ch, unsub
}

func (s *Service) broadcast() {
	snap := s.snapshot()
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Service) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{State: s.state}
	if s.current != nil {
		current := *s.current
		snap.Current = &current
	}
	return snap
}

// update applies fn to the state and the current reading and notifies all subscribers.
func (s *Service) update(fn func(state *State, current **Reading)) {
	s.mu.Lock()
	fn(&s.state, &s.current)
	s.mu.Unlock()
	s.broadcast()
}

func (s *Service) setLoading(loading bool) {
	s.update(func(state *State, _ **Reading) {
		state.IsLoading = loading
	})
}

func (s *Service) setPermission(permission backend.PermissionState) {
	s.update(func(state *State, _ **Reading) {
		state.PermissionStatus = permission
		state.HasPermission = permission == backend.PermissionGranted
	})
}

func (s *Service) setCurrent(r Reading) {
	s.update(func(_ *State, current **Reading) {
		*current = &r
	})
}
