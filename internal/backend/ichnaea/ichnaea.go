// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea implements a backend.Geolocation on top of an Ichnaea compatible network
// location API such as BeaconDB. Nearby Wi-Fi access points are sent along with the request
// when high accuracy is requested, otherwise the API locates the public IP address.
package ichnaea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"time"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/wifiscan"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout   = time.Second * 5
	name            = "ichnaea"
)

// ErrNoHTTPClient is returned by New without an HTTP client.
var ErrNoHTTPClient = errors.New("http client is required")

// Source locates the device through an Ichnaea compatible API.
type Source struct {
	endpoint string
	http     *http.Client
	logger   *logger.Logger
	wlan     *wifiscan.Scanner
	period   time.Duration
	scanFn   func() ([]WirelessNetwork, error)
}

// APIResult is the response of the geolocate endpoint.
type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// WirelessNetwork is a Wi-Fi access point as sent to the geolocate endpoint.
type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

type request struct {
	ConsiderIP   bool              `json:"considerIp"`
	Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

// New returns a Source for the given endpoint, DefaultEndpoint if empty. Without Wi-Fi support
// on the system the Source only locates the IP address.
func New(client *http.Client, endpoint string, log *logger.Logger) (*Source, error) {
	if client == nil {
		return nil, ErrNoHTTPClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	source := &Source{
		endpoint: endpoint,
		http:     client,
		logger:   log,
		period:   time.Minute * 5,
	}
	wlan, err := wifiscan.New(log)
	if err != nil {
		log.Debug("wifi scanning not available, using IP based location only", logger.Err(err))
		source.scanFn = func() ([]WirelessNetwork, error) { return nil, nil }
		return source, nil
	}
	source.wlan = wlan
	source.scanFn = source.wifiAccessPoints
	return source, nil
}

func (s *Source) Name() string {
	return name
}

// Close releases the Wi-Fi client.
func (s *Source) Close() error {
	if s.wlan == nil {
		return nil
	}
	return s.wlan.Close()
}

// CurrentPosition asks the API for the current position. An answer without a location is
// reported as unavailable, an API that refuses access as denied.
func (s *Source) CurrentPosition(ctx context.Context, opts backend.PositionOptions) (backend.Position, error) {
	req := request{ConsiderIP: true}
	if opts.EnableHighAccuracy {
		aps, err := s.scanFn()
		if err != nil {
			s.logger.Debug("failed to scan wifi access points", logger.Err(err))
		}
		req.Accesspoints = aps
	}

	result := new(APIResult)
	status, err := s.http.PostJSON(ctx, s.endpoint, result, req, lookupTimeout)
	if err != nil && status == 0 {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return backend.Position{}, err
		}
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
	switch status {
	case stdhttp.StatusOK:
	case stdhttp.StatusForbidden, stdhttp.StatusUnauthorized:
		return backend.Position{}, fmt.Errorf("%w: geolocate API returned %d", backend.ErrPermissionDenied, status)
	default:
		return backend.Position{}, fmt.Errorf("%w: geolocate API returned %d", backend.ErrPositionUnavailable, status)
	}
	if err != nil {
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
	s.logger.Debug("geolocate API answered", slog.Int("access_points", len(req.Accesspoints)),
		slog.Float64("accuracy", result.Accuracy))

	return backend.Position{
		Latitude:  result.Location.Latitude,
		Longitude: result.Location.Longitude,
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
		case firstRun || changed(last, pos):
			last = pos
			handler(pos, nil)
		}
		firstRun = false
	}
}

func changed(a, b backend.Position) bool {
	return a.Latitude != b.Latitude || a.Longitude != b.Longitude || a.Accuracy != b.Accuracy
}

func (s *Source) wifiAccessPoints() ([]WirelessNetwork, error) {
	aps, err := s.wlan.AccessPoints()
	if err != nil {
		return nil, err
	}
	list := make([]WirelessNetwork, 0, len(aps))
	for _, ap := range aps {
		list = append(list, WirelessNetwork{
			SignalStrength: ap.Signal,
			MACAddress:     ap.BSSID,
			LastSeen:       ap.LastSeen.Milliseconds(),
		})
	}
	return list, nil
}
