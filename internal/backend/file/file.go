// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package file implements a backend.Geolocation that reads a fixed position from a file. The
// first line of the form "lat,lon" or "lat,lon,accuracy" is used, lines starting with "#" are
// comments.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/geometry"
)

const (
	// DefaultAccuracy is used for positions without an accuracy column, roughly a postal code.
	DefaultAccuracy = 3000.0

	name = "geolocation_file"
)

// ErrNoCoordinates is returned if the file contains no valid coordinates.
var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// Source reads the position from a file.
type Source struct {
	path   string
	period time.Duration
}

// New returns a Source for the file at path.
func New(path string) *Source {
	return &Source{
		path:   path,
		period: time.Minute * 2,
	}
}

func (s *Source) Name() string {
	return name
}

// CurrentPosition reads the position from the file. A missing or malformed file makes the
// position unavailable, an unreadable one denies access.
func (s *Source) CurrentPosition(ctx context.Context, _ backend.PositionOptions) (backend.Position, error) {
	if err := ctx.Err(); err != nil {
		return backend.Position{}, err
	}
	pos, err := s.readFile()
	switch {
	case err == nil:
		return pos, nil
	case errors.Is(err, os.ErrPermission):
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPermissionDenied, err)
	default:
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
}

// WatchPosition rereads the file periodically until ctx is done and passes the position to
// handler whenever it changed. Read errors are passed on every time.
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

// readFile parses the first valid coordinate line of the file.
func (s *Source) readFile() (backend.Position, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return backend.Position{}, fmt.Errorf("failed to read geolocation file %q: %w", s.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if pos, ok := parseLine(line); ok {
			return pos, nil
		}
	}
	return backend.Position{}, ErrNoCoordinates
}

func parseLine(line string) (backend.Position, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return backend.Position{}, false
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return backend.Position{}, false
		}
		values[i] = v
	}
	pos := backend.Position{Latitude: values[0], Longitude: values[1], Accuracy: DefaultAccuracy}
	if len(values) == 3 && values[2] > 0 {
		pos.Accuracy = values[2]
	}
	if !(geometry.Coordinate{Lat: pos.Latitude, Lon: pos.Longitude}).Valid() {
		return backend.Position{}, false
	}
	return pos, true
}
