// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a minimal one-shot gpsd client. It enables a watch, waits for the
// first TPV report and disconnects again.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	watchTimeout          = time.Second * 2
)

// ErrNoReport is returned if gpsd closed the connection before sending a TPV report.
var ErrNoReport = errors.New("no TPV report received from gpsd")

// Client is a minimal gpsd client
type Client struct {
	Addr string
}

// Fix represents a single TPV report from gpsd. Altitude, Epv, Speed and Track are NaN if
// gpsd did not report them, Time is zero if the receiver has no time yet.
type Fix struct {
	Lat   float64
	Lon   float64
	Alt   float64
	Acc   float64
	Epv   float64
	Speed float64
	Track float64
	Time  time.Time
	Mode  int
}

// tpvReport matches the subset of gpsd's TPV report we care about. Pointers distinguish
// values gpsd omitted from reported zeros.
type tpvReport struct {
	Class  string    `json:"class"`
	Mode   int       `json:"mode"`
	Time   time.Time `json:"time"`
	Lat    float64   `json:"lat"`
	Lon    float64   `json:"lon"`
	Alt    *float64  `json:"alt"`
	AltMSL *float64  `json:"altMSL"`
	Speed  *float64  `json:"speed"`
	Track  *float64  `json:"track"`
	Epx    float64   `json:"epx"`
	Epy    float64   `json:"epy"`
	Eph    float64   `json:"eph"`
	Epv    *float64  `json:"epv"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables a watch and returns the first TPV report. The connection
// is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return zero, fmt.Errorf("failed to dial gpsd: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Respect context deadline if present, otherwise we add a safety net so we don't hang
	// forever if ctx has no deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		return zero, fmt.Errorf("failed to write WATCH command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if err = ctx.Err(); err != nil {
			return zero, err
		}

		var report tpvReport
		if err = json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" {
			continue
		}
		return report.fix(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	if err = scanner.Err(); err != nil {
		return zero, fmt.Errorf("failed to scan gpsd response: %w", err)
	}
	return zero, ErrNoReport
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

func (r tpvReport) fix() Fix {
	alt := r.Alt
	if alt == nil {
		alt = r.AltMSL
	}
	return Fix{
		Lat:   r.Lat,
		Lon:   r.Lon,
		Alt:   valueOrNaN(alt),
		Acc:   horizontalAccuracyMeters(r),
		Epv:   valueOrNaN(r.Epv),
		Speed: valueOrNaN(r.Speed),
		Track: valueOrNaN(r.Track),
		Time:  r.Time,
		Mode:  r.Mode,
	}
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func horizontalAccuracyMeters(tpv tpvReport) float64 {
	switch {
	case tpv.Eph > 0:
		return tpv.Eph
	case tpv.Epx > 0 && tpv.Epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(tpv.Epx, tpv.Epy)
	default:
		return horizontalAccuracyFallback(tpv.Mode)
	}
}

func horizontalAccuracyFallback(mode int) float64 {
	switch mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
