// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	testLat = 52.5129
	testLon = 13.3910
	testAcc = 12.5
)

var testTime = time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC)

// mockBackend is a backend.Backend with configurable results that records every call.
type mockBackend struct {
	mu           sync.Mutex
	kind         backend.Kind
	unsupported  bool
	position     backend.Position
	fetchErr     error
	fetchOpts    []backend.PositionOptions
	checkState   backend.PermissionState
	checkErr     error
	requestState backend.PermissionState
	requestErr   error
	watchErr     error
	watches      map[backend.WatchID]backend.WatchHandler
	unwatched    []backend.WatchID
	listener     func(backend.PermissionState)
	nextWatch    int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		kind: backend.KindDirect,
		position: backend.Position{
			Latitude:  testLat,
			Longitude: testLon,
			Accuracy:  testAcc,
			Timestamp: testTime,
		},
		checkState:   backend.PermissionPrompt,
		requestState: backend.PermissionGranted,
		watches:      make(map[backend.WatchID]backend.WatchHandler),
	}
}

func (m *mockBackend) Kind() backend.Kind { return m.kind }
func (m *mockBackend) Name() string       { return "mock" }
func (m *mockBackend) Supported() bool    { return !m.unsupported }

func (m *mockBackend) CheckPermission(context.Context) (backend.PermissionState, error) {
	return m.checkState, m.checkErr
}

func (m *mockBackend) RequestPermission(context.Context) (backend.PermissionState, error) {
	return m.requestState, m.requestErr
}

func (m *mockBackend) FetchOnce(_ context.Context, opts backend.PositionOptions) (backend.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchOpts = append(m.fetchOpts, opts)
	if m.fetchErr != nil {
		return backend.Position{}, m.fetchErr
	}
	return m.position, nil
}

func (m *mockBackend) Watch(_ context.Context, _ backend.PositionOptions, handler backend.WatchHandler) (backend.WatchID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchErr != nil {
		return "", m.watchErr
	}
	m.nextWatch++
	id := backend.WatchID(time.Duration(m.nextWatch).String())
	m.watches[id] = handler
	return id, nil
}

func (m *mockBackend) Unwatch(_ context.Context, id backend.WatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, id)
	m.unwatched = append(m.unwatched, id)
	return nil
}

func (m *mockBackend) OnPermissionChange(fn func(backend.PermissionState)) {
	m.listener = fn
}

func (m *mockBackend) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetchOpts)
}

func (m *mockBackend) lastFetchOpts() backend.PositionOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchOpts[len(m.fetchOpts)-1]
}

// emit delivers an update to every active watch.
func (m *mockBackend) emit(pos backend.Position, err error) {
	m.mu.Lock()
	handlers := make([]backend.WatchHandler, 0, len(m.watches))
	for _, h := range m.watches {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(pos, err)
	}
}

func (m *mockBackend) activeWatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// streamGeo is a backend.Geolocation whose watches deliver the positions sent to positions.
// ended is closed when the first watch ends.
type streamGeo struct {
	positions chan backend.Position
	ended     chan struct{}
	once      sync.Once
}

func (g *streamGeo) Name() string { return "stream" }

func (g *streamGeo) CurrentPosition(ctx context.Context, _ backend.PositionOptions) (backend.Position, error) {
	select {
	case pos := <-g.positions:
		return pos, nil
	case <-ctx.Done():
		return backend.Position{}, ctx.Err()
	}
}

func (g *streamGeo) WatchPosition(ctx context.Context, _ backend.PositionOptions, handler backend.WatchHandler) {
	defer g.once.Do(func() { close(g.ended) })
	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-g.positions:
			handler(pos, nil)
		}
	}
}

func testService(b backend.Backend, opts ...Option) (*Service, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(testTime)
	return newService(b, logger.New(slog.LevelError), clock, opts...), clock
}
