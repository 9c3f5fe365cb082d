// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package serialgps implements a backend.Geolocation that reads NMEA 0183 sentences from a GPS
// receiver attached to a serial port, for setups where no gpsd daemon is running.
package serialgps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	DefaultDevice = "/dev/ttyACM0"
	DefaultBaud   = 9600

	// uere is the user equivalent range error in meters that HDOP is multiplied with.
	uere = 5.0
	// rmcOnlyAccuracy is used when the receiver sends no GGA sentences.
	rmcOnlyAccuracy = 25.0
	// maxSentences limits how many sentences are read while waiting for a GGA to complete a fix.
	maxSentences = 32

	knotsToMPS = 0.514444
	name       = "serialgps"
)

// ErrNoFix is returned when the receiver delivered no valid fix.
var ErrNoFix = errors.New("receiver has no valid fix")

// Source reads positions from a serial GPS receiver.
type Source struct {
	device string
	baud   int
	period time.Duration
	logger *logger.Logger
	openFn func() (io.ReadCloser, error)
}

// New returns a Source for the receiver at device, talking with baud bits per second.
func New(device string, baud int, log *logger.Logger) *Source {
	if device == "" {
		device = DefaultDevice
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	source := &Source{
		device: device,
		baud:   baud,
		period: time.Second * 30,
		logger: log,
	}
	source.openFn = source.openPort
	return source
}

func (s *Source) Name() string {
	return name
}

// CurrentPosition opens the port and reads sentences until a complete fix arrived. A device
// that cannot be opened for lack of privileges denies access, every other failure makes the
// position unavailable.
func (s *Source) CurrentPosition(ctx context.Context, _ backend.PositionOptions) (backend.Position, error) {
	port, err := s.open(ctx)
	if err != nil {
		return backend.Position{}, err
	}
	defer s.closePort(port)
	stop := context.AfterFunc(ctx, func() { s.closePort(port) })
	defer stop()

	pos, err := newFixReader(port, s.logger).next()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return backend.Position{}, ctxErr
	}
	if err != nil {
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
	return pos, nil
}

// WatchPosition keeps the port open and passes every complete fix to handler until ctx is
// done. When the port fails, the error is passed on and the port is reopened after a pause.
func (s *Source) WatchPosition(ctx context.Context, _ backend.PositionOptions, handler backend.WatchHandler) {
	for {
		err := s.watch(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			handler(backend.Position{}, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.period):
		}
	}
}

func (s *Source) watch(ctx context.Context, handler backend.WatchHandler) error {
	port, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer s.closePort(port)
	stop := context.AfterFunc(ctx, func() { s.closePort(port) })
	defer stop()

	reader := newFixReader(port, s.logger)
	for {
		pos, err := reader.next()
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, ErrNoFix):
			handler(backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err))
		case err != nil:
			return fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
		default:
			handler(pos, nil)
		}
	}
}

func (s *Source) open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := s.openFn()
	switch {
	case err == nil:
		return port, nil
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %w", backend.ErrPermissionDenied, err)
	default:
		return nil, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
}

func (s *Source) openPort() (io.ReadCloser, error) {
	port, err := serial.OpenPort(&serial.Config{Name: s.device, Baud: s.baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %q: %w", s.device, err)
	}
	return port, nil
}

func (s *Source) closePort(port io.Closer) {
	if err := port.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("failed to close serial port", logger.Err(err), slog.String("device", s.device))
	}
}

// fixReader assembles positions from the sentence stream. A fix is complete once a valid RMC
// and a GGA of the same epoch were read. Receivers that only send RMC are served after
// maxSentences with a coarse accuracy.
type fixReader struct {
	scanner *bufio.Scanner
	logger  *logger.Logger
}

func newFixReader(r io.Reader, log *logger.Logger) *fixReader {
	return &fixReader{scanner: bufio.NewScanner(r), logger: log}
}

// next returns the next complete fix. ErrNoFix is returned if the receiver reports an invalid
// fix, the scanner's error or io.EOF if the stream ended.
func (f *fixReader) next() (backend.Position, error) {
	var rmc *nmea.RMC
	var gga *nmea.GGA
	count := 0

	for f.scanner.Scan() {
		sentence, err := nmea.Parse(f.scanner.Text())
		if err != nil {
			f.logger.Debug("skipping unparsable NMEA sentence", logger.Err(err))
			continue
		}
		switch value := sentence.(type) {
		case nmea.RMC:
			if value.Validity != nmea.ValidRMC {
				return backend.Position{}, ErrNoFix
			}
			rmc, count = &value, 0
			if gga != nil && sameEpoch(gga.Time, rmc.Time) {
				return positionFromSentences(rmc, gga), nil
			}
		case nmea.GGA:
			if value.FixQuality == nmea.Invalid || value.FixQuality == "" {
				return backend.Position{}, ErrNoFix
			}
			gga = &value
			if rmc != nil && sameEpoch(gga.Time, rmc.Time) {
				return positionFromSentences(rmc, gga), nil
			}
		}
		if rmc != nil {
			if count++; count >= maxSentences {
				return positionFromSentences(rmc, nil), nil
			}
		}
	}
	if err := f.scanner.Err(); err != nil {
		return backend.Position{}, err
	}
	if rmc != nil {
		return positionFromSentences(rmc, nil), nil
	}
	return backend.Position{}, io.EOF
}

func sameEpoch(a, b nmea.Time) bool {
	return a.Valid && b.Valid && a.Hour == b.Hour && a.Minute == b.Minute && a.Second == b.Second
}

// positionFromSentences builds a position from a valid RMC and, if present, the matching GGA
// which adds the altitude and an accuracy derived from the HDOP.
func positionFromSentences(rmc *nmea.RMC, gga *nmea.GGA) backend.Position {
	pos := backend.Position{
		Latitude:  rmc.Latitude,
		Longitude: rmc.Longitude,
		Accuracy:  rmcOnlyAccuracy,
		Speed:     backend.Float(rmc.Speed * knotsToMPS),
		Timestamp: timestamp(rmc.Date, rmc.Time),
	}
	if rmc.Speed > 0 {
		pos.Heading = backend.Float(rmc.Course)
	}
	if gga != nil {
		if gga.HDOP > 0 {
			pos.Accuracy = gga.HDOP * uere
		}
		pos.Altitude = backend.Float(gga.Altitude)
	}
	return pos
}

// timestamp combines the RMC date and time into a UTC time, zero if either is missing.
func timestamp(date nmea.Date, t nmea.Time) time.Time {
	if !date.Valid || !t.Valid {
		return time.Time{}
	}
	return time.Date(2000+date.YY, time.Month(date.MM), date.DD, t.Hour, t.Minute, t.Second,
		t.Millisecond*int(time.Millisecond), time.UTC)
}
