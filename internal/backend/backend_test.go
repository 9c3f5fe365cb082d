// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	testLat = 52.5129
	testLon = 13.3910
	testAcc = 12.5
)

var testPosition = Position{
	Latitude:  testLat,
	Longitude: testLon,
	Accuracy:  testAcc,
	Altitude:  Float(35),
	Timestamp: time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC),
}

func testLogger() *logger.Logger {
	return logger.New(slog.LevelError)
}

type fakeGeo struct {
	mu      sync.Mutex
	calls   int
	opts    []PositionOptions
	fetchFn func(ctx context.Context) (Position, error)
	updates []error
}

func (g *fakeGeo) Name() string { return "fake" }

func (g *fakeGeo) CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error) {
	g.mu.Lock()
	g.calls++
	g.opts = append(g.opts, opts)
	fn := g.fetchFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return testPosition, nil
}

// WatchPosition delivers one update per entry in updates (nil meaning a position) and then
// blocks until ctx is done.
func (g *fakeGeo) WatchPosition(ctx context.Context, _ PositionOptions, handler WatchHandler) {
	for _, err := range g.updates {
		if err != nil {
			handler(Position{}, err)
			continue
		}
		handler(testPosition, nil)
	}
	<-ctx.Done()
}

func (g *fakeGeo) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeBridge struct {
	checkErr     error
	state        PermissionState
	requestState PermissionState
	requestErr   error
	fetchErr     error
	cleared      []WatchID
}

func (b *fakeBridge) Name() string { return "fakebridge" }

func (b *fakeBridge) CheckPermissions(context.Context) (PermissionState, error) {
	if b.checkErr != nil {
		return "", b.checkErr
	}
	return b.state, nil
}

func (b *fakeBridge) RequestPermissions(context.Context) (PermissionState, error) {
	return b.requestState, b.requestErr
}

func (b *fakeBridge) CurrentPosition(context.Context, PositionOptions) (Position, error) {
	if b.fetchErr != nil {
		return Position{}, b.fetchErr
	}
	return testPosition, nil
}

func (b *fakeBridge) WatchPosition(context.Context, PositionOptions, WatchHandler) (WatchID, error) {
	return "bridge-watch", nil
}

func (b *fakeBridge) ClearWatch(_ context.Context, id WatchID) error {
	b.cleared = append(b.cleared, id)
	return nil
}
