// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package multi

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/logger"
)

type update struct {
	after time.Duration
	pos   backend.Position
	err   error
}

type fakeSource struct {
	name    string
	pos     backend.Position
	err     error
	calls   int
	updates []update
	panics  bool
}

func (f *fakeSource) Name() string {
	return f.name
}

func (f *fakeSource) CurrentPosition(ctx context.Context, _ backend.PositionOptions) (backend.Position, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return backend.Position{}, err
	}
	return f.pos, f.err
}

func (f *fakeSource) WatchPosition(ctx context.Context, _ backend.PositionOptions, handler backend.WatchHandler) {
	if f.panics {
		panic("broken source")
	}
	for _, u := range f.updates {
		select {
		case <-ctx.Done():
			return
		case <-time.After(u.after):
		}
		handler(u.pos, u.err)
	}
	<-ctx.Done()
}

func TestNew(t *testing.T) {
	t.Run("at least one source is required", func(t *testing.T) {
		if _, err := New(testLogger()); !errors.Is(err, ErrNoSources) {
			t.Errorf("expected error to be %s, got %s", ErrNoSources, err)
		}
	})
	t.Run("the name lists all sources", func(t *testing.T) {
		source, err := New(testLogger(), &fakeSource{name: "file"}, &fakeSource{name: "gpsd"})
		if err != nil {
			t.Fatalf("failed to create source: %s", err)
		}
		if source.Name() != "file+gpsd" {
			t.Errorf("expected name to be file+gpsd, got %s", source.Name())
		}
	})
}

func TestSource_CurrentPosition(t *testing.T) {
	t.Run("the first source with a position wins", func(t *testing.T) {
		first := &fakeSource{name: "file", err: backend.ErrPositionUnavailable}
		second := &fakeSource{name: "gpsd", pos: backend.Position{Latitude: 1, Longitude: 2, Accuracy: 5}}
		third := &fakeSource{name: "ichnaea", pos: backend.Position{Latitude: 3, Longitude: 4, Accuracy: 50}}
		source, _ := New(testLogger(), first, second, third)

		pos, err := source.CurrentPosition(t.Context(), backend.PositionOptions{})
		if err != nil {
			t.Fatalf("failed to get position: %s", err)
		}
		if pos.Latitude != 1 || pos.Longitude != 2 {
			t.Errorf("expected position of the second source, got %f, %f", pos.Latitude, pos.Longitude)
		}
		if third.calls != 0 {
			t.Errorf("expected the third source not to be asked, got %d calls", third.calls)
		}
	})
	t.Run("failing sources make the position unavailable", func(t *testing.T) {
		source, _ := New(testLogger(),
			&fakeSource{name: "file", err: backend.ErrPermissionDenied},
			&fakeSource{name: "gpsd", err: backend.ErrPositionUnavailable},
		)
		_, err := source.CurrentPosition(t.Context(), backend.PositionOptions{})
		if !errors.Is(err, backend.ErrPositionUnavailable) {
			t.Errorf("expected error to be %s, got %s", backend.ErrPositionUnavailable, err)
		}
		if !errors.Is(err, backend.ErrPermissionDenied) {
			t.Error("expected the denial of the first source to be kept")
		}
	})
	t.Run("access is denied if every source denies it", func(t *testing.T) {
		source, _ := New(testLogger(),
			&fakeSource{name: "file", err: backend.ErrPermissionDenied},
			&fakeSource{name: "serialgps", err: backend.ErrPermissionDenied},
		)
		_, err := source.CurrentPosition(t.Context(), backend.PositionOptions{})
		if !errors.Is(err, backend.ErrPermissionDenied) {
			t.Errorf("expected error to be %s, got %s", backend.ErrPermissionDenied, err)
		}
		if errors.Is(err, backend.ErrPositionUnavailable) {
			t.Error("expected error not to be unavailable")
		}
	})
	t.Run("a canceled context is returned as is", func(t *testing.T) {
		source, _ := New(testLogger(), &fakeSource{name: "file", err: backend.ErrPositionUnavailable})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := source.CurrentPosition(ctx, backend.PositionOptions{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected error to be %s, got %s", context.Canceled, err)
		}
		if errors.Is(err, backend.ErrPositionUnavailable) {
			t.Error("expected context error not to be wrapped")
		}
	})
}

func TestSource_WatchPosition(t *testing.T) {
	t.Run("the most accurate position is passed on", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			coarse := backend.Position{Latitude: 52.5, Longitude: 13.4, Accuracy: 3000}
			precise := backend.Position{Latitude: 52.5163, Longitude: 13.3777, Accuracy: 10}
			network := &fakeSource{name: "ichnaea", updates: []update{
				{after: time.Second, pos: coarse},
				{after: time.Minute, pos: coarse},
			}}
			gps := &fakeSource{name: "gpsd", updates: []update{
				{after: time.Second * 30, pos: precise},
			}}
			positions, errs := runWatch(t, time.Minute*5, network, gps)

			if len(errs) != 0 {
				t.Errorf("expected no errors, got %v", errs)
			}
			if len(positions) != 2 {
				t.Fatalf("expected 2 positions, got %d", len(positions))
			}
			if positions[0] != coarse || positions[1] != precise {
				t.Errorf("unexpected positions: %+v", positions)
			}
		})
	})
	t.Run("an expired position is replaced by a less accurate one", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			coarse := backend.Position{Latitude: 52.5, Longitude: 13.4, Accuracy: 3000}
			precise := backend.Position{Latitude: 52.5163, Longitude: 13.3777, Accuracy: 10}
			gps := &fakeSource{name: "gpsd", updates: []update{
				{after: time.Second, pos: precise},
			}}
			network := &fakeSource{name: "ichnaea", updates: []update{
				{after: time.Minute, pos: coarse},
				{after: DefaultTTL, pos: coarse},
			}}
			positions, _ := runWatch(t, time.Minute*15, gps, network)

			if len(positions) != 2 {
				t.Fatalf("expected 2 positions, got %d", len(positions))
			}
			if positions[1] != coarse {
				t.Errorf("expected the coarse position to replace the expired one, got %+v", positions[1])
			}
		})
	})
	t.Run("errors are passed on until a position arrives", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			pos := backend.Position{Latitude: 52.5, Longitude: 13.4, Accuracy: 30}
			failing := &fakeSource{name: "serialgps", updates: []update{
				{after: time.Second, err: backend.ErrPositionUnavailable},
				{after: time.Minute, err: backend.ErrPositionUnavailable},
			}}
			working := &fakeSource{name: "gpsd", updates: []update{
				{after: time.Second * 30, pos: pos},
			}}
			positions, errs := runWatch(t, time.Minute*5, failing, working)

			if len(positions) != 1 {
				t.Errorf("expected 1 position, got %d", len(positions))
			}
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %d", len(errs))
			}
			if !errors.Is(errs[0], backend.ErrPositionUnavailable) {
				t.Errorf("expected error to be %s, got %s", backend.ErrPositionUnavailable, errs[0])
			}
		})
	})
	t.Run("a panicking source does not stop the others", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			pos := backend.Position{Latitude: 52.5, Longitude: 13.4, Accuracy: 30}
			broken := &fakeSource{name: "broken", panics: true}
			working := &fakeSource{name: "gpsd", updates: []update{{after: time.Second, pos: pos}}}
			positions, _ := runWatch(t, time.Minute, broken, working)

			if len(positions) != 1 {
				t.Errorf("expected 1 position, got %d", len(positions))
			}
		})
	})
}

func runWatch(t *testing.T, duration time.Duration, sources ...backend.Geolocation) ([]backend.Position, []error) {
	t.Helper()
	source, err := New(testLogger(), sources...)
	if err != nil {
		t.Fatalf("failed to create source: %s", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var mu sync.Mutex
	var positions []backend.Position
	var errs []error
	done := make(chan struct{})
	go func() {
		defer close(done)
		source.WatchPosition(ctx, backend.PositionOptions{}, func(pos backend.Position, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			positions = append(positions, pos)
		})
	}()

	time.Sleep(duration)
	synctest.Wait()
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	return positions, errs
}

func testLogger() *logger.Logger {
	return logger.New(slog.LevelError)
}
