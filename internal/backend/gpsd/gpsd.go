// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd implements a backend.Geolocation on top of a local gpsd daemon. Single
// positions are polled through a short-lived connection, watches keep a gpsd session open
// and reconnect when it ends.
package gpsd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/gpspoll"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "2947"

	name = "gpsd"
)

// Source reads positions from gpsd.
type Source struct {
	addr   string
	period time.Duration
	logger *logger.Logger
	pollFn func(ctx context.Context) (gpspoll.Fix, error)
}

// New returns a Source for the gpsd daemon listening on host and port.
func New(host, port string, log *logger.Logger) *Source {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	client := gpspoll.New(host, port)
	return &Source{
		addr:   client.Addr,
		period: time.Second * 30,
		logger: log,
		pollFn: client.Poll,
	}
}

func (s *Source) Name() string {
	return name
}

// CurrentPosition polls gpsd for a single report. A daemon that cannot be reached or a
// receiver without at least a 2D fix make the position unavailable.
func (s *Source) CurrentPosition(ctx context.Context, _ backend.PositionOptions) (backend.Position, error) {
	fix, err := s.pollFn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return backend.Position{}, ctx.Err()
		}
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
	if !fix.Has2DFix() {
		return backend.Position{}, fmt.Errorf("%w: gpsd has no 2D fix", backend.ErrPositionUnavailable)
	}
	return positionFromFix(fix), nil
}

// WatchPosition streams TPV reports with at least a 2D fix to handler until ctx is done. If
// gpsd is not reachable or the session ends, handler receives an error and the connection is
// retried after a delay.
func (s *Source) WatchPosition(ctx context.Context, _ backend.PositionOptions, handler backend.WatchHandler) {
	for {
		session, err := gpsd.Dial(s.addr)
		if err != nil {
			s.logger.Debug("failed to connect to gpsd", logger.Err(err), slog.String("addr", s.addr))
			handler(backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err))
		} else {
			session.AddFilter("TPV", func(r interface{}) {
				tpv, ok := r.(*gpsd.TPVReport)
				if !ok {
					return
				}
				if pos, ok := positionFromTPV(tpv); ok && ctx.Err() == nil {
					handler(pos, nil)
				}
			})

			done := session.Watch()
			select {
			case <-ctx.Done():
				// go-gpsd has no Close(), the session goroutine ends with the connection.
				return
			case <-done:
				s.logger.Debug("gpsd session ended, reconnecting", slog.String("addr", s.addr))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.period):
		}
	}
}

func positionFromFix(fix gpspoll.Fix) backend.Position {
	pos := backend.Position{
		Latitude:  fix.Lat,
		Longitude: fix.Lon,
		Accuracy:  fix.Acc,
		Timestamp: fix.Time,
	}
	if fix.Mode >= 3 {
		pos.Altitude = present(fix.Alt)
		pos.AltitudeAccuracy = present(fix.Epv)
	}
	pos.Speed = present(fix.Speed)
	if pos.Speed != nil && *pos.Speed > 0 {
		pos.Heading = present(fix.Track)
	}
	return pos
}

func positionFromTPV(tpv *gpsd.TPVReport) (backend.Position, bool) {
	if tpv == nil || tpv.Mode < gpsd.Mode2D {
		return backend.Position{}, false
	}
	acc := math.Hypot(tpv.Epx, tpv.Epy)
	if acc == 0 {
		acc = fallbackAccuracy(int(tpv.Mode))
	}
	return positionFromFix(gpspoll.Fix{
		Lat:   tpv.Lat,
		Lon:   tpv.Lon,
		Alt:   tpv.Alt,
		Acc:   acc,
		Epv:   tpv.Epv,
		Speed: tpv.Speed,
		Track: tpv.Track,
		Time:  tpv.Time,
		Mode:  int(tpv.Mode),
	}), true
}

func fallbackAccuracy(mode int) float64 {
	if mode >= 3 {
		return 10
	}
	return 25
}

// present returns nil for NaN so that values gpsd did not report stay absent.
func present(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return backend.Float(v)
}

// Addr returns the address of the gpsd daemon.
func (s *Source) Addr() string {
	return s.addr
}
