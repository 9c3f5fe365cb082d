// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package google implements a backend.Geolocation on top of the Google Maps Geolocation API.
// Like the Ichnaea source it sends nearby Wi-Fi access points for high accuracy requests and
// falls back to the public IP address otherwise. An API key is required.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"time"

	"googlemaps.github.io/maps"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/wifiscan"
)

const (
	lookupTimeout = time.Second * 10
	name          = "google"
)

var (
	// ErrNoAPIKey is returned by New without an API key.
	ErrNoAPIKey = errors.New("google geolocation API key is required")

	// errRejected is returned by the transport when the API refuses the key.
	errRejected = errors.New("geolocation API rejected the request")
)

// Source locates the device through the Google Maps Geolocation API.
type Source struct {
	client *maps.Client
	logger *logger.Logger
	wlan   *wifiscan.Scanner
	period time.Duration
	scanFn func() ([]maps.WiFiAccessPoint, error)
}

// New returns a Source that authenticates with apiKey. Requests are sent through a copy of
// client so the Maps transport does not leak into other users of it.
func New(client *http.Client, apiKey string, log *logger.Logger) (*Source, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	httpClient := *client.Client
	httpClient.Transport = rejectTransport{base: httpClient.Transport}
	mapsClient, err := maps.NewClient(maps.WithAPIKey(apiKey), maps.WithHTTPClient(&httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	source := &Source{
		client: mapsClient,
		logger: log,
		period: time.Minute * 5,
	}
	wlan, err := wifiscan.New(log)
	if err != nil {
		log.Debug("wifi scanning not available, using IP based location only", logger.Err(err))
		source.scanFn = func() ([]maps.WiFiAccessPoint, error) { return nil, nil }
		return source, nil
	}
	source.wlan = wlan
	source.scanFn = source.wifiAccessPoints
	return source, nil
}

func (s *Source) Name() string {
	return name
}

// Close releases the Wi-Fi scanner.
func (s *Source) Close() error {
	if s.wlan == nil {
		return nil
	}
	return s.wlan.Close()
}

// CurrentPosition asks the API for the current position. A rejected API key denies access,
// every other failure makes the position unavailable.
func (s *Source) CurrentPosition(ctx context.Context, opts backend.PositionOptions) (backend.Position, error) {
	req := &maps.GeolocationRequest{ConsiderIP: true}
	if opts.EnableHighAccuracy {
		aps, err := s.scanFn()
		if err != nil {
			s.logger.Debug("failed to scan wifi access points", logger.Err(err))
		}
		req.WiFiAccessPoints = aps
	}

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	result, err := s.client.Geolocate(lookupCtx, req)
	switch {
	case ctx.Err() != nil:
		return backend.Position{}, ctx.Err()
	case errors.Is(err, errRejected):
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPermissionDenied, err)
	case err != nil:
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
	s.logger.Debug("geolocation API answered", slog.Int("access_points", len(req.WiFiAccessPoints)),
		slog.Float64("accuracy", result.Accuracy))

	return backend.Position{
		Latitude:  result.Location.Lat,
		Longitude: result.Location.Lng,
		Accuracy:  result.Accuracy,
	}, nil
}

// WatchPosition queries the API periodically until ctx is done. Positions are only passed to
// handler if they differ from the previous one, errors always are.
func (s *Source) WatchPosition(ctx context.Context, opts backend.PositionOptions, handler backend.WatchHandler) {
	var last backend.Position
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.period):
			}
		}

		pos, err := s.CurrentPosition(ctx, opts)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			handler(backend.Position{}, err)
		case firstRun || pos.Latitude != last.Latitude || pos.Longitude != last.Longitude ||
			pos.Accuracy != last.Accuracy:
			last = pos
			handler(pos, nil)
		}
		firstRun = false
	}
}

func (s *Source) wifiAccessPoints() ([]maps.WiFiAccessPoint, error) {
	aps, err := s.wlan.AccessPoints()
	if err != nil {
		return nil, err
	}
	list := make([]maps.WiFiAccessPoint, 0, len(aps))
	for _, ap := range aps {
		list = append(list, maps.WiFiAccessPoint{
			MACAddress:     ap.BSSID,
			SignalStrength: float64(ap.Signal),
			Age:            uint64(ap.LastSeen.Milliseconds()),
		})
	}
	return list, nil
}

// rejectTransport turns the status codes of a refused API key into errRejected, since the
// Maps client only passes on the error message of the response.
type rejectTransport struct {
	base stdhttp.RoundTripper
}

func (t rejectTransport) RoundTrip(req *stdhttp.Request) (*stdhttp.Response, error) {
	base := t.base
	if base == nil {
		base = stdhttp.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == stdhttp.StatusUnauthorized || resp.StatusCode == stdhttp.StatusForbidden {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}
	return resp, nil
}
