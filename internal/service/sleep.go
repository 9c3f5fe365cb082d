// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	login1Interface = "org.freedesktop.login1.Manager"
	login1Member    = "PrepareForSleep"

	debounceWindow   = time.Second * 2
	signalBufferSize = 8

	busRetryDelay      = time.Second * 5
	networkWakeupDelay = time.Second * 10
)

// sleepBus is the part of a system bus connection used to watch for sleep and resume.
type sleepBus interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

func connectSystemBus() (sleepBus, error) {
	return dbus.ConnectSystemBus()
}

// monitorSleepResume refreshes the location whenever logind reports that the system resumed.
// The bus connection is reestablished until ctx is done.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResume atomic.Int64
	for {
		conn, ok := s.subscribeSleepSignals(ctx)
		if !ok {
			return
		}

		sigCh := make(chan *dbus.Signal, signalBufferSize)
		conn.Signal(sigCh)
		s.logger.Debug("subscribed to dbus signal", slog.String("interface", login1Interface),
			slog.String("member", login1Member))
		s.handleSleepSignals(ctx, sigCh, &lastResume)

		conn.RemoveSignal(sigCh)
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close system bus connection", logger.Err(err))
		}
		if !sleepOrDone(ctx, busRetryDelay) {
			return
		}
	}
}

// subscribeSleepSignals connects to the system bus and subscribes to PrepareForSleep. It
// retries until it succeeds or ctx is done.
func (s *Service) subscribeSleepSignals(ctx context.Context) (sleepBus, bool) {
	for {
		conn, err := s.busFn()
		if err == nil {
			err = conn.AddMatchSignal(dbus.WithMatchInterface(login1Interface), dbus.WithMatchMember(login1Member))
			if err == nil {
				return conn, true
			}
			_ = conn.Close()
		}
		s.logger.Debug("failed to watch for system sleep", logger.Err(err))
		if !sleepOrDone(ctx, busRetryDelay) {
			return nil, false
		}
	}
}

// handleSleepSignals processes signals until ctx is done or the channel is closed.
func (s *Service) handleSleepSignals(ctx context.Context, sigCh chan *dbus.Signal, lastResume *atomic.Int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case sgn, ok := <-sigCh:
			if !ok {
				return
			}
			if resumed(sgn) {
				s.handleResumeEvent(ctx, lastResume)
			}
		}
	}
}

// resumed reports whether sgn announces the end of a sleep.
func resumed(sgn *dbus.Signal) bool {
	if sgn == nil || len(sgn.Body) != 1 {
		return false
	}
	sleeping, ok := sgn.Body[0].(bool)
	return ok && !sleeping
}

// handleResumeEvent refreshes the location after the system woke up. Multiple resume events
// within the debounce window are handled once. A running watch is restarted since the sources
// may have lost their connections during sleep.
func (s *Service) handleResumeEvent(ctx context.Context, lastResume *atomic.Int64) {
	now := time.Now()
	if now.Sub(time.Unix(0, lastResume.Load())) < debounceWindow {
		return
	}
	lastResume.Store(now.UnixNano())

	// Give the system time to wake up and establish network connection
	if !sleepOrDone(ctx, networkWakeupDelay) {
		return
	}

	s.logger.Debug(s.t.Get("resuming from sleep, refreshing location"))
	if s.location.IsWatching() {
		s.location.StartWatching(ctx, nil)
	}
	s.refreshLocation(ctx)
}

// sleepOrDone waits for d and reports false if ctx was done before.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
