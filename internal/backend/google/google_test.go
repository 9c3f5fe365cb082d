// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"googlemaps.github.io/maps"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/testhelper"
)

const (
	testFile   = "../../../testdata/beacondb.json"
	testAPIKey = "AIzaTestKey"
	testLat    = 40.7185
	testLon    = -74.0025
	testAcc    = 2000
)

var testAccessPoints = []maps.WiFiAccessPoint{
	{MACAddress: "01:23:45:67:89:ab", SignalStrength: -51, Age: 1200},
	{MACAddress: "01:23:45:67:89:cd", SignalStrength: -72, Age: 3400},
}

func TestNew(t *testing.T) {
	t.Run("new source succeeds", func(t *testing.T) {
		source, err := New(http.New(testLogger()), testAPIKey, testLogger())
		if err != nil {
			t.Fatalf("failed to create google source: %s", err)
		}
		t.Cleanup(func() {
			if err := source.Close(); err != nil {
				t.Errorf("failed to close google source: %s", err)
			}
		})
		if source.Name() != name {
			t.Errorf("expected source name to be %s, got %s", name, source.Name())
		}
	})
	t.Run("new source without API key fails", func(t *testing.T) {
		source, err := New(http.New(testLogger()), "", testLogger())
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected error to be %s, got %s", ErrNoAPIKey, err)
		}
		if source != nil {
			t.Fatal("expected source to be nil")
		}
	})
	t.Run("the shared client keeps its transport", func(t *testing.T) {
		client := http.New(testLogger())
		transport := client.Transport
		source, err := New(client, testAPIKey, testLogger())
		if err != nil {
			t.Fatalf("failed to create google source: %s", err)
		}
		t.Cleanup(func() { _ = source.Close() })
		if client.Transport != transport {
			t.Error("expected the transport of the shared client to be untouched")
		}
	})
}

func TestSource_CurrentPosition(t *testing.T) {
	t.Run("high accuracy sends the access points", func(t *testing.T) {
		var sent maps.GeolocationRequest
		source := testSource(t, func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
				t.Errorf("failed to decode request: %s", err)
			}
			if req.URL.Query().Get("key") != testAPIKey {
				t.Errorf("expected API key to be sent, got query %q", req.URL.RawQuery)
			}
			return fileResponse(t), nil
		})
		pos, err := source.CurrentPosition(t.Context(), backend.PositionOptions{EnableHighAccuracy: true})
		if err != nil {
			t.Fatalf("failed to locate position: %s", err)
		}
		if pos.Latitude != testLat || pos.Longitude != testLon || pos.Accuracy != testAcc {
			t.Errorf("unexpected position: %+v", pos)
		}
		if !sent.ConsiderIP {
			t.Error("expected IP to be considered")
		}
		if len(sent.WiFiAccessPoints) != len(testAccessPoints) {
			t.Errorf("expected %d access points, got %d", len(testAccessPoints), len(sent.WiFiAccessPoints))
		}
	})
	t.Run("low accuracy only considers the IP address", func(t *testing.T) {
		var sent maps.GeolocationRequest
		source := testSource(t, func(req *stdhttp.Request) (*stdhttp.Response, error) {
			_ = json.NewDecoder(req.Body).Decode(&sent)
			return fileResponse(t), nil
		})
		source.scanFn = func() ([]maps.WiFiAccessPoint, error) {
			t.Error("expected no wifi scan for low accuracy")
			return nil, nil
		}
		if _, err := source.CurrentPosition(t.Context(), backend.PositionOptions{}); err != nil {
			t.Fatalf("failed to locate position: %s", err)
		}
		if len(sent.WiFiAccessPoints) != 0 {
			t.Errorf("expected no access points, got %d", len(sent.WiFiAccessPoints))
		}
	})
	t.Run("a rejected API key denies the permission", func(t *testing.T) {
		source := testSource(t, func(*stdhttp.Request) (*stdhttp.Response, error) {
			return errorResponse(stdhttp.StatusForbidden, "API key not valid"), nil
		})
		_, err := source.CurrentPosition(t.Context(), backend.PositionOptions{})
		if !errors.Is(err, backend.ErrPermissionDenied) {
			t.Errorf("expected error to be %s, got %s", backend.ErrPermissionDenied, err)
		}
	})
	t.Run("an unknown location is unavailable", func(t *testing.T) {
		source := testSource(t, func(*stdhttp.Request) (*stdhttp.Response, error) {
			return errorResponse(stdhttp.StatusNotFound, "Not Found"), nil
		})
		_, err := source.CurrentPosition(t.Context(), backend.PositionOptions{})
		if !errors.Is(err, backend.ErrPositionUnavailable) {
			t.Errorf("expected error to be %s, got %s", backend.ErrPositionUnavailable, err)
		}
	})
	t.Run("transport failure is unavailable", func(t *testing.T) {
		source := testSource(t, func(*stdhttp.Request) (*stdhttp.Response, error) {
			return nil, errors.New("intentionally failing")
		})
		_, err := source.CurrentPosition(t.Context(), backend.PositionOptions{})
		if !errors.Is(err, backend.ErrPositionUnavailable) {
			t.Errorf("expected error to be %s, got %s", backend.ErrPositionUnavailable, err)
		}
	})
	t.Run("a canceled context is returned as is", func(t *testing.T) {
		source := testSource(t, func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return nil, req.Context().Err()
		})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := source.CurrentPosition(ctx, backend.PositionOptions{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected error to be %s, got %s", context.Canceled, err)
		}
	})
}

func TestSource_WatchPosition(t *testing.T) {
	t.Run("unchanged positions are only reported once", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			var mu sync.Mutex
			calls := 0
			source := testSource(t, func(*stdhttp.Request) (*stdhttp.Response, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				return fileResponse(t), nil
			})
			source.period = time.Minute

			var positions []backend.Position
			go source.WatchPosition(ctx, backend.PositionOptions{}, func(pos backend.Position, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					t.Errorf("unexpected watch error: %s", err)
					return
				}
				positions = append(positions, pos)
			})

			time.Sleep(time.Minute*2 + time.Second)
			synctest.Wait()
			cancel()
			synctest.Wait()

			mu.Lock()
			defer mu.Unlock()
			if calls != 3 {
				t.Errorf("expected 3 API calls, got %d", calls)
			}
			if len(positions) != 1 {
				t.Errorf("expected 1 position, got %d", len(positions))
			}
		})
	})
}

func testSource(t *testing.T, fn func(*stdhttp.Request) (*stdhttp.Response, error)) *Source {
	t.Helper()
	client := http.New(testLogger())
	client.Transport = testhelper.MockRoundTripper{Fn: fn}
	source, err := New(client, testAPIKey, testLogger())
	if err != nil {
		t.Fatalf("failed to create google source: %s", err)
	}
	t.Cleanup(func() { _ = source.Close() })
	source.scanFn = func() ([]maps.WiFiAccessPoint, error) {
		return testAccessPoints, nil
	}
	return source
}

func fileResponse(t *testing.T) *stdhttp.Response {
	t.Helper()
	data, err := os.Open(testFile)
	if err != nil {
		t.Fatalf("failed to open JSON response file: %s", err)
	}
	return &stdhttp.Response{
		StatusCode: stdhttp.StatusOK,
		Body:       data,
		Header:     make(stdhttp.Header),
	}
}

func errorResponse(status int, message string) *stdhttp.Response {
	body := `{"error":{"code":` + strconv.Itoa(status) + `,"message":"` + message + `"}}`
	return &stdhttp.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(stdhttp.Header),
	}
}

func testLogger() *logger.Logger {
	return logger.New(slog.LevelError)
}
