// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package backend

import (
	"context"
	"fmt"
	"sync"
)

// StaticPermission is a PermissionQuerier whose state is set by the application, e.g. from
// a configured policy. Changing the state with Set notifies the OnChange function.
type StaticPermission struct {
	mu       sync.RWMutex
	state    PermissionState
	onChange func(PermissionState)
}

// ParsePermissionState converts s into a PermissionState.
func ParsePermissionState(s string) (PermissionState, error) {
	switch state := PermissionState(s); state {
	case PermissionGranted, PermissionDenied, PermissionPrompt:
		return state, nil
	default:
		return "", fmt.Errorf("invalid permission state: %q", s)
	}
}

// NewStaticPermission returns a StaticPermission with the given initial state.
func NewStaticPermission(state PermissionState) *StaticPermission {
	return &StaticPermission{state: state}
}

func (s *StaticPermission) Query(context.Context) (PermissionStatus, error) {
	return s, nil
}

func (s *StaticPermission) State() PermissionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *StaticPermission) OnChange(fn func(PermissionState)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Set changes the state and calls the OnChange function if the state differs.
func (s *StaticPermission) Set(state PermissionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	fn := s.onChange
	s.mu.Unlock()
	if changed && fn != nil {
		fn(state)
	}
}
