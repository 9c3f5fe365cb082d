// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package backend

import (
	"sync"
	"time"
)

// LastFix remembers the most recent position a platform produced so that requests with a
// MaximumAge can be answered without asking the platform again.
type LastFix struct {
	mu  sync.RWMutex
	pos Position
	at  time.Time
	ok  bool
	now func() time.Time
}

// Put stores pos as the most recent position.
func (l *LastFix) Put(pos Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = pos
	l.at = l.clock()
	if !pos.Timestamp.IsZero() {
		l.at = pos.Timestamp
	}
	l.ok = true
}

// Get returns the most recent position if it is not older than maxAge.
func (l *LastFix) Get(maxAge time.Duration) (Position, bool) {
	if maxAge <= 0 {
		return Position{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ok {
		return Position{}, false
	}
	if maxAge != MaximumAgeInfinite && l.clock().Sub(l.at) > maxAge {
		return Position{}, false
	}
	return l.pos, true
}

func (l *LastFix) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}
