// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package backend

import (
	"testing"
	"time"
)

func TestParsePermissionState(t *testing.T) {
	for _, s := range []string{"granted", "denied", "prompt"} {
		state, err := ParsePermissionState(s)
		if err != nil {
			t.Errorf("failed to parse permission state %q: %s", s, err)
		}
		if string(state) != s {
			t.Errorf("expected permission state to be %s, got %s", s, state)
		}
	}
	if _, err := ParsePermissionState("maybe"); err == nil {
		t.Error("expected parsing an invalid permission state to fail")
	}
}

func TestLastFix_Get(t *testing.T) {
	now := testPosition.Timestamp
	t.Run("empty last fix returns nothing", func(t *testing.T) {
		var l LastFix
		if _, ok := l.Get(MaximumAgeInfinite); ok {
			t.Error("expected empty last fix to return nothing")
		}
	})
	t.Run("zero maximum age always requests a new position", func(t *testing.T) {
		l := LastFix{now: func() time.Time { return now }}
		l.Put(testPosition)
		if _, ok := l.Get(0); ok {
			t.Error("expected zero maximum age to return nothing")
		}
	})
	t.Run("infinite maximum age returns any position", func(t *testing.T) {
		l := LastFix{now: func() time.Time { return now.Add(time.Hour * 24 * 365) }}
		l.Put(testPosition)
		if _, ok := l.Get(MaximumAgeInfinite); !ok {
			t.Error("expected infinite maximum age to return the last fix")
		}
	})
	t.Run("position without timestamp ages from the time it was stored", func(t *testing.T) {
		current := now
		l := LastFix{now: func() time.Time { return current }}
		l.Put(Position{Latitude: 1, Longitude: 2})
		current = now.Add(time.Second * 10)
		if _, ok := l.Get(time.Second * 10); !ok {
			t.Error("expected last fix to be within the maximum age")
		}
		if _, ok := l.Get(time.Second * 9); ok {
			t.Error("expected last fix to be too old")
		}
	})
}
