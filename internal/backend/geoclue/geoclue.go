// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoclue implements a backend.Bridge on top of the GeoClue2 D-Bus service. GeoClue
// decides about location access through its agent, so permission is requested by starting a
// client and observing whether the agent allowed it.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	DefaultDesktopID = "waybar-location"

	busName         = "org.freedesktop.GeoClue2"
	managerPath     = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface    = "org.freedesktop.GeoClue2.Manager"
	clientIface     = "org.freedesktop.GeoClue2.Client"
	locationIface   = "org.freedesktop.GeoClue2.Location"
	locationUpdated = "LocationUpdated"
	accessDenied    = "org.freedesktop.DBus.Error.AccessDenied"
	noLocation      = dbus.ObjectPath("/")

	name = "geoclue2"
)

// AccuracyLevel is the GClueAccuracyLevel enumeration.
type AccuracyLevel uint32

const (
	AccuracyNone         AccuracyLevel = 0
	AccuracyCountry      AccuracyLevel = 1
	AccuracyCity         AccuracyLevel = 4
	AccuracyNeighborhood AccuracyLevel = 5
	AccuracyStreet       AccuracyLevel = 6
	AccuracyExact        AccuracyLevel = 8
)

// bus is the subset of *dbus.Conn used by the Bridge.
type bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// Bridge talks to GeoClue2 on the system bus. A Bridge is safe for concurrent use.
type Bridge struct {
	conn      bus
	desktopID string
	logger    *logger.Logger
	lastFix   backend.LastFix

	mu         sync.Mutex
	client     dbus.BusObject
	level      AccuracyLevel
	started    bool
	denied     bool
	signals    chan *dbus.Signal
	stopSignal chan struct{}
	watches    map[backend.WatchID]backend.WatchHandler
}

// Connect connects to the system bus and returns a Bridge for the given desktop ID, which
// GeoClue uses to identify the application towards its agent.
func Connect(ctx context.Context, desktopID string, log *logger.Logger) (*Bridge, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return newBridge(conn, desktopID, log), nil
}

func newBridge(conn bus, desktopID string, log *logger.Logger) *Bridge {
	if desktopID == "" {
		desktopID = DefaultDesktopID
	}
	return &Bridge{
		conn:      conn,
		desktopID: desktopID,
		logger:    log,
		watches:   make(map[backend.WatchID]backend.WatchHandler),
	}
}

func (b *Bridge) Name() string {
	return name
}

// CheckPermissions reports denied if GeoClue offers no accuracy at all or the agent refused an
// earlier start, granted if the client is running and prompt otherwise. An error means that
// GeoClue is not reachable.
func (b *Bridge) CheckPermissions(ctx context.Context) (backend.PermissionState, error) {
	manager := b.conn.Object(busName, managerPath)
	variant, err := getProperty(ctx, manager, managerIface, "AvailableAccuracyLevel")
	if err != nil {
		return "", fmt.Errorf("failed to query available accuracy level: %w", err)
	}
	level, ok := variant.Value().(uint32)
	if !ok {
		return "", fmt.Errorf("unexpected type %T for available accuracy level", variant.Value())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case AccuracyLevel(level) == AccuracyNone, b.denied:
		return backend.PermissionDenied, nil
	case b.started:
		return backend.PermissionGranted, nil
	default:
		return backend.PermissionPrompt, nil
	}
}

// RequestPermissions starts the client, which makes GeoClue ask its agent. A refusal by the
// agent yields denied without an error.
func (b *Bridge) RequestPermissions(ctx context.Context) (backend.PermissionState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.start(ctx, AccuracyCity)
	switch {
	case err == nil:
		return backend.PermissionGranted, nil
	case errors.Is(err, backend.ErrPermissionDenied):
		return backend.PermissionDenied, nil
	default:
		return "", err
	}
}

// CurrentPosition returns the last location GeoClue reported if it satisfies opts.MaximumAge,
// otherwise it waits for the next LocationUpdated signal.
func (b *Bridge) CurrentPosition(ctx context.Context, opts backend.PositionOptions) (backend.Position, error) {
	requested := time.Now()
	if pos, ok := b.lastFix.Get(opts.MaximumAge); ok {
		return pos, nil
	}

	updates := make(chan *dbus.Signal, 1)
	b.mu.Lock()
	if err := b.start(ctx, requestedLevel(opts)); err != nil {
		b.mu.Unlock()
		return backend.Position{}, err
	}
	b.conn.Signal(updates)
	client := b.client
	b.mu.Unlock()
	defer b.conn.RemoveSignal(updates)

	// A running client already holds the latest location GeoClue determined. It is only
	// returned if it is recent enough, otherwise the next update is awaited.
	if path, err := currentLocation(ctx, client); err == nil && path != noLocation {
		pos, err := b.readLocation(ctx, path)
		if err != nil || withinMaximumAge(pos, requested, opts.MaximumAge) {
			return pos, err
		}
		b.logger.Debug("known geoclue location is too old, awaiting update",
			slog.Time("timestamp", pos.Timestamp))
	}

	for {
		select {
		case <-ctx.Done():
			return backend.Position{}, ctx.Err()
		case sig := <-updates:
			path, ok := locationFromSignal(sig, client.Path())
			if !ok {
				continue
			}
			return b.readLocation(ctx, path)
		}
	}
}

// WatchPosition registers handler for every LocationUpdated signal of the client.
func (b *Bridge) WatchPosition(ctx context.Context, opts backend.PositionOptions, handler backend.WatchHandler) (backend.WatchID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.start(ctx, requestedLevel(opts)); err != nil {
		return "", err
	}

	id := backend.WatchID(uuid.NewString())
	b.watches[id] = handler
	if b.signals == nil {
		b.signals = make(chan *dbus.Signal, 10)
		b.stopSignal = make(chan struct{})
		b.conn.Signal(b.signals)
		go b.dispatch(b.client, b.signals, b.stopSignal)
	}
	return id, nil
}

// ClearWatch removes the watch. Its handler is not called anymore once ClearWatch returned,
// except for an update that was already being delivered. ClearWatch does not wait for the
// dispatcher, so it may be called from within a handler. The dispatcher stops with the last
// watch.
func (b *Bridge) ClearWatch(_ context.Context, id backend.WatchID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watches[id]; !ok {
		return nil
	}
	delete(b.watches, id)
	if len(b.watches) == 0 && b.signals != nil {
		b.conn.RemoveSignal(b.signals)
		close(b.stopSignal)
		b.signals, b.stopSignal = nil, nil
	}
	return nil
}

// Close stops the client and closes the bus connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.signals != nil {
		b.conn.RemoveSignal(b.signals)
		close(b.stopSignal)
		b.signals, b.stopSignal = nil, nil
	}
	if b.started {
		if call := b.client.Call(clientIface+".Stop", 0); call.Err != nil {
			err = fmt.Errorf("failed to stop geoclue client: %w", call.Err)
		}
		b.started = false
	}
	if closeErr := b.conn.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close system bus: %w", closeErr))
	}
	return err
}

// dispatch reads the location of every LocationUpdated signal and passes it to all watches.
func (b *Bridge) dispatch(client dbus.BusObject, signals <-chan *dbus.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case sig := <-signals:
			path, ok := locationFromSignal(sig, client.Path())
			if !ok {
				continue
			}
			pos, err := b.readLocation(context.Background(), path)

			b.mu.Lock()
			ids := make([]backend.WatchID, 0, len(b.watches))
			for id := range b.watches {
				ids = append(ids, id)
			}
			b.mu.Unlock()
			for _, id := range ids {
				if h, ok := b.watchHandler(id); ok {
					h(pos, err)
				}
			}
		}
	}
}

// watchHandler returns the handler of the watch with the given ID if it was not cleared yet.
func (b *Bridge) watchHandler(id backend.WatchID) (backend.WatchHandler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.watches[id]
	return h, ok
}

// start creates the client if necessary and starts it. It must be called with b.mu held. A
// client that is already running is upgraded to a higher accuracy level by restarting it.
func (b *Bridge) start(ctx context.Context, level AccuracyLevel) error {
	if b.client == nil {
		client, err := b.newClient(ctx)
		if err != nil {
			return err
		}
		b.client = client
	}
	if b.started && level <= b.level {
		return nil
	}
	if b.started {
		if call := b.client.CallWithContext(ctx, clientIface+".Stop", 0); call.Err != nil {
			return fmt.Errorf("failed to stop geoclue client: %w", call.Err)
		}
		b.started = false
	}
	if err := b.client.SetProperty(clientIface+".RequestedAccuracyLevel", dbus.MakeVariant(uint32(level))); err != nil {
		return fmt.Errorf("failed to set requested accuracy level: %w", err)
	}
	b.level = level

	if call := b.client.CallWithContext(ctx, clientIface+".Start", 0); call.Err != nil {
		if isAccessDenied(call.Err) {
			b.denied = true
			return fmt.Errorf("%w: %w", backend.ErrPermissionDenied, call.Err)
		}
		return fmt.Errorf("failed to start geoclue client: %w", call.Err)
	}
	b.started, b.denied = true, false
	b.logger.Debug("geoclue client started", slog.String("client", string(b.client.Path())),
		slog.Uint64("accuracy_level", uint64(level)))
	return nil
}

func (b *Bridge) newClient(ctx context.Context) (dbus.BusObject, error) {
	var path dbus.ObjectPath
	manager := b.conn.Object(busName, managerPath)
	if err := manager.CallWithContext(ctx, managerIface+".GetClient", 0).Store(&path); err != nil {
		return nil, fmt.Errorf("failed to get geoclue client: %w", err)
	}
	client := b.conn.Object(busName, path)
	if err := client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(b.desktopID)); err != nil {
		return nil, fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember(locationUpdated),
	); err != nil {
		return nil, fmt.Errorf("failed to subscribe to location updates: %w", err)
	}
	return client, nil
}

// readLocation reads the properties of the location object at path.
func (b *Bridge) readLocation(ctx context.Context, path dbus.ObjectPath) (backend.Position, error) {
	location := b.conn.Object(busName, path)
	props := make(map[string]dbus.Variant)
	if err := location.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0,
		locationIface).Store(&props); err != nil {
		return backend.Position{}, fmt.Errorf("%w: failed to read location: %w", backend.ErrPositionUnavailable, err)
	}
	pos, err := positionFromProperties(props)
	if err != nil {
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, err)
	}
	b.lastFix.Put(pos)
	return pos, nil
}

// withinMaximumAge reports whether pos was determined no earlier than maxAge before requested.
// A position without timestamp only satisfies an infinite maximum age.
func withinMaximumAge(pos backend.Position, requested time.Time, maxAge time.Duration) bool {
	if maxAge == backend.MaximumAgeInfinite {
		return true
	}
	if pos.Timestamp.IsZero() {
		return false
	}
	return !pos.Timestamp.Before(requested.Add(-max(maxAge, 0)))
}

func getProperty(ctx context.Context, obj dbus.BusObject, iface, property string) (dbus.Variant, error) {
	var variant dbus.Variant
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, property).Store(&variant)
	return variant, err
}

func currentLocation(ctx context.Context, client dbus.BusObject) (dbus.ObjectPath, error) {
	variant, err := getProperty(ctx, client, clientIface, "Location")
	if err != nil {
		return noLocation, err
	}
	path, ok := variant.Value().(dbus.ObjectPath)
	if !ok {
		return noLocation, fmt.Errorf("unexpected type %T for client location", variant.Value())
	}
	return path, nil
}
