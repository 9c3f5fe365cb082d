// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package backend abstracts the platform capability that produces positions. Two kinds of
// backends exist: a native one that talks to a position broker with an explicit permission
// primitive (GeoClue2), and a direct one that reads a position source which has no such
// primitive (gpsd, a network locator or a file) and therefore can only infer permission from
// the outcome of a fetch.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// MaximumAgeInfinite accepts any previously obtained position regardless of its age.
const MaximumAgeInfinite = time.Duration(math.MaxInt64)

var (
	// ErrUnsupported is returned when no geolocation capability is available at all.
	ErrUnsupported = errors.New("geolocation is not supported")

	// ErrPermissionDenied is returned when the user or a policy refused location access.
	ErrPermissionDenied = errors.New("location access denied")

	// ErrPositionUnavailable is returned on a transient failure to obtain a fix.
	ErrPositionUnavailable = errors.New("location unavailable")

	// ErrTimeout is returned when the platform did not deliver a position in time.
	ErrTimeout = errors.New("location request timed out")
)

// Kind identifies the type of backend selected by Detect.
type Kind string

const (
	KindNative Kind = "native"
	KindDirect Kind = "direct"
)

// PermissionState is the location permission as reported by a backend.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// PositionOptions are passed to the platform with every position request.
type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	// MaximumAge is the age up to which a previously obtained position may be returned
	// instead of requesting a new one. Zero always requests a new position.
	MaximumAge time.Duration
}

// Position is a raw position as reported by the platform. Optional values are nil if the
// platform did not report them, Timestamp is zero if the platform did not supply one.
type Position struct {
	Latitude         float64
	Longitude        float64
	Accuracy         float64
	Altitude         *float64
	AltitudeAccuracy *float64
	Heading          *float64
	Speed            *float64
	Timestamp        time.Time
}

// WatchID identifies a registered position watch.
type WatchID string

// WatchHandler is called for every update of a watch. Exactly one of the arguments is
// meaningful: err is nil for a position update.
type WatchHandler func(pos Position, err error)

// Backend is the capability used to satisfy location requests.
type Backend interface {
	Kind() Kind
	// Name returns the name of the API that serves the requests.
	Name() string
	Supported() bool
	CheckPermission(ctx context.Context) (PermissionState, error)
	RequestPermission(ctx context.Context) (PermissionState, error)
	FetchOnce(ctx context.Context, opts PositionOptions) (Position, error)
	Watch(ctx context.Context, opts PositionOptions, handler WatchHandler) (WatchID, error)
	Unwatch(ctx context.Context, id WatchID) error
	// OnPermissionChange registers the function that is called whenever the backend learns
	// about a new permission state outside of CheckPermission and RequestPermission. A later
	// call replaces the earlier function.
	OnPermissionChange(fn func(PermissionState))
}

// Float returns a pointer to v. It is a helper for filling the optional Position values.
func Float(v float64) *float64 {
	return &v
}

// withTimeout derives a context bound by the platform timeout of opts.
func withTimeout(ctx context.Context, opts PositionOptions) (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.Timeout)
}

// classify maps context errors to ErrTimeout and leaves everything else untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
