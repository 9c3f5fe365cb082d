// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"os"
	"strings"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/backend/file"
	"github.com/wneessen/waybar-location/internal/backend/google"
	"github.com/wneessen/waybar-location/internal/backend/gpsd"
	"github.com/wneessen/waybar-location/internal/backend/ichnaea"
	"github.com/wneessen/waybar-location/internal/backend/multi"
	"github.com/wneessen/waybar-location/internal/backend/serialgps"
	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/http"
)

// selectSource returns the position source used when no native bridge is available. The
// source "none" returns nil, which makes the direct backend unsupported.
func (s *Service) selectSource(httpClient *http.Client) (backend.Geolocation, error) {
	switch strings.ToLower(s.config.Backend.Source) {
	case config.SourceNone:
		return nil, nil
	case config.SourceFile:
		return file.New(s.config.Backend.File), nil
	case config.SourceGPSD:
		return gpsd.New(s.config.Backend.GPSD.Host, s.config.Backend.GPSD.Port, s.logger), nil
	case config.SourceSerialGPS:
		return serialgps.New(s.config.Backend.SerialGPS.Device, s.config.Backend.SerialGPS.Baud, s.logger), nil
	case config.SourceIchnaea:
		source, err := ichnaea.New(httpClient, s.config.Backend.Ichnaea.Endpoint, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ichnaea source: %w", err)
		}
		s.closers = append(s.closers, source)
		return source, nil
	case config.SourceGoogle:
		source, err := google.New(httpClient, s.config.Backend.Google.APIKey, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create google source: %w", err)
		}
		s.closers = append(s.closers, source)
		return source, nil
	case config.SourceAuto:
		return s.autoSource(httpClient)
	default:
		return nil, fmt.Errorf("unsupported location source: %s", s.config.Backend.Source)
	}
}

// autoSource combines every source that can work on this system. Local sources come first so
// a single position is only looked up over the network if none of them has a fix.
func (s *Service) autoSource(httpClient *http.Client) (backend.Geolocation, error) {
	var sources []backend.Geolocation

	if _, err := os.Stat(s.config.Backend.File); err == nil {
		sources = append(sources, file.New(s.config.Backend.File))
	}
	sources = append(sources, gpsd.New(s.config.Backend.GPSD.Host, s.config.Backend.GPSD.Port, s.logger))
	if _, err := os.Stat(s.config.Backend.SerialGPS.Device); err == nil {
		sources = append(sources, serialgps.New(s.config.Backend.SerialGPS.Device,
			s.config.Backend.SerialGPS.Baud, s.logger))
	}

	mls, err := ichnaea.New(httpClient, s.config.Backend.Ichnaea.Endpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ichnaea source: %w", err)
	}
	s.closers = append(s.closers, mls)
	sources = append(sources, mls)

	if s.config.Backend.Google.APIKey != "" {
		gmaps, err := google.New(httpClient, s.config.Backend.Google.APIKey, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create google source: %w", err)
		}
		s.closers = append(s.closers, gmaps)
		sources = append(sources, gmaps)
	}

	source, err := multi.New(s.logger, sources...)
	if err != nil {
		return nil, err
	}
	return source, nil
}

// selectPermission returns a fixed permission when one is configured. Otherwise the direct
// backend infers the permission from the outcome of its requests.
func (s *Service) selectPermission() (backend.PermissionQuerier, error) {
	if s.config.Backend.Permission == "" {
		return nil, nil
	}
	state, err := backend.ParsePermissionState(s.config.Backend.Permission)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configured permission: %w", err)
	}
	return backend.NewStaticPermission(state), nil
}
