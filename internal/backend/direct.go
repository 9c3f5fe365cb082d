// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wneessen/waybar-location/internal/logger"
)

// RequestTimeout is the platform timeout used when permission is requested through a fetch.
const RequestTimeout = time.Second * 5

// Geolocation is a position source without an explicit permission primitive.
type Geolocation interface {
	Name() string
	// CurrentPosition returns a single position.
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
	// WatchPosition delivers positions and errors to handler until ctx is done.
	WatchPosition(ctx context.Context, opts PositionOptions, handler WatchHandler)
}

// PermissionQuerier is an optional permission query API for a Geolocation.
type PermissionQuerier interface {
	Query(ctx context.Context) (PermissionStatus, error)
}

// PermissionStatus is the result of a permission query. The function passed to OnChange is
// called whenever the state changes; a later call replaces the earlier function.
type PermissionStatus interface {
	State() PermissionState
	OnChange(fn func(PermissionState))
}

// Direct is the Backend for a Geolocation source. A nil source means that no geolocation
// capability is available at all.
type Direct struct {
	geo     Geolocation
	perms   PermissionQuerier
	logger  *logger.Logger
	lastFix LastFix

	mu       sync.Mutex
	watches  map[WatchID]context.CancelFunc
	listener func(PermissionState)
}

// NewDirect returns a Direct backend. Both geo and perms may be nil.
func NewDirect(geo Geolocation, perms PermissionQuerier, log *logger.Logger) *Direct {
	return &Direct{
		geo:     geo,
		perms:   perms,
		logger:  log,
		watches: make(map[WatchID]context.CancelFunc),
	}
}

func (d *Direct) Kind() Kind {
	return KindDirect
}

func (d *Direct) Name() string {
	if d.geo == nil {
		return "none"
	}
	return d.geo.Name()
}

func (d *Direct) Supported() bool {
	return d.geo != nil
}

// CheckPermission reports denied without a source. With a permission query API the state is
// queried and future changes are forwarded to the permission listener, otherwise the state
// cannot be determined without asking and prompt is returned.
func (d *Direct) CheckPermission(ctx context.Context) (PermissionState, error) {
	if d.geo == nil {
		return PermissionDenied, nil
	}
	if d.perms == nil {
		return PermissionPrompt, nil
	}
	status, err := d.perms.Query(ctx)
	if err != nil {
		d.logger.Debug("permission query failed, falling back to prompt", logger.Err(err))
		return PermissionPrompt, nil
	}
	status.OnChange(d.notify)
	return status.State(), nil
}

// RequestPermission elicits permission by fetching a low accuracy position that may be
// arbitrarily old. A denial fails with denied. A timeout or an unavailable position still
// counts as granted, since the user did not block access, but the call fails anyway.
func (d *Direct) RequestPermission(ctx context.Context) (PermissionState, error) {
	if d.geo == nil {
		return "", ErrUnsupported
	}
	_, err := d.FetchOnce(ctx, PositionOptions{
		EnableHighAccuracy: false,
		Timeout:            RequestTimeout,
		MaximumAge:         MaximumAgeInfinite,
	})
	switch {
	case err == nil:
		return PermissionGranted, nil
	case errors.Is(err, ErrPermissionDenied):
		return PermissionDenied, fmt.Errorf("%w by user", ErrPermissionDenied)
	case errors.Is(err, ErrPositionUnavailable), errors.Is(err, ErrTimeout):
		return PermissionGranted, err
	default:
		return "", err
	}
}

// FetchOnce returns a single position. A position that was obtained within opts.MaximumAge is
// returned without contacting the source.
func (d *Direct) FetchOnce(ctx context.Context, opts PositionOptions) (Position, error) {
	if d.geo == nil {
		return Position{}, ErrUnsupported
	}
	if pos, ok := d.lastFix.Get(opts.MaximumAge); ok {
		return pos, nil
	}

	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	pos, err := d.geo.CurrentPosition(ctx, opts)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrPermissionDenied) {
			d.notify(PermissionDenied)
		}
		return Position{}, err
	}
	d.lastFix.Put(pos)
	d.notify(PermissionGranted)
	return pos, nil
}

// Watch starts a watch on the source. The watch lives until Unwatch is called with the
// returned ID; ctx only contributes its values.
func (d *Direct) Watch(ctx context.Context, opts PositionOptions, handler WatchHandler) (WatchID, error) {
	if d.geo == nil {
		return "", ErrUnsupported
	}
	id := WatchID(uuid.NewString())
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	d.mu.Lock()
	d.watches[id] = cancel
	d.mu.Unlock()

	go func() {
		defer cancel()
		d.geo.WatchPosition(watchCtx, opts, func(pos Position, err error) {
			if watchCtx.Err() != nil {
				return
			}
			if err != nil {
				if errors.Is(err, ErrPermissionDenied) {
					d.notify(PermissionDenied)
				}
				handler(Position{}, err)
				return
			}
			d.lastFix.Put(pos)
			d.notify(PermissionGranted)
			handler(pos, nil)
		})
	}()
	d.logger.Debug("position watch started", slog.String("id", string(id)), slog.String("source", d.Name()))

	return id, nil
}

// Unwatch stops the watch with the given ID. It does not wait for the source to wind down, so
// it may be called from within the watch handler. No update is passed on once it returned,
// except for one that was already being delivered. Unknown IDs are ignored.
func (d *Direct) Unwatch(_ context.Context, id WatchID) error {
	d.mu.Lock()
	cancel, ok := d.watches[id]
	delete(d.watches, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	cancel()
	d.logger.Debug("position watch stopped", slog.String("id", string(id)))
	return nil
}

func (d *Direct) OnPermissionChange(fn func(PermissionState)) {
	d.mu.Lock()
	d.listener = fn
	d.mu.Unlock()
}

func (d *Direct) notify(state PermissionState) {
	d.mu.Lock()
	fn := d.listener
	d.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}
