// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package location implements location acquisition on top of a backend.Backend: positions
// are cached for a configurable lifetime, permission is managed through the backend and
// every change is published to subscribers.
//
// Public operations never return errors. Failures are recorded in State.LastError and the
// operation returns false or an unset value.
package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/geometry"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/vartype"
)

const (
	// DefaultFreshness is the age up to which a reading counts as fresh.
	DefaultFreshness = time.Minute
	// DefaultAccuracyThreshold is the accuracy in meters up to which a reading counts as accurate.
	DefaultAccuracyThreshold = 50.0
)

// Service acquires positions from a backend. It is safe for concurrent use; concurrent
// acquisitions are not coordinated and the last one to finish wins.
type Service struct {
	backend backend.Backend
	cache   *Cache
	clock   clockwork.Clock
	logger  *logger.Logger

	mu      sync.RWMutex
	options Options
	state   State
	current *Reading

	// watchMu serializes starting and stopping watches. watchGen identifies the active watch
	// so that updates of a stopped one are dropped.
	watchMu  sync.Mutex
	watchID  backend.WatchID
	watchGen uint64

	subMu       sync.RWMutex
	subscribers map[chan Snapshot]struct{}
}

// New returns a Service for the given backend. Options are applied over DefaultOptions.
func New(b backend.Backend, log *logger.Logger, opts ...Option) *Service {
	return newService(b, log, clockwork.NewRealClock(), opts...)
}

func newService(b backend.Backend, log *logger.Logger, clock clockwork.Clock, opts ...Option) *Service {
	options := DefaultOptions().apply(opts...)
	s := &Service{
		backend: b,
		cache:   NewCache(clock, options.CacheLifetime),
		clock:   clock,
		logger:  log,
		options: options,
		state: State{
			PermissionStatus: backend.PermissionPrompt,
			IsSupported:      true,
			Platform:         string(b.Kind()),
		},
		subscribers: make(map[chan Snapshot]struct{}),
	}
	b.OnPermissionChange(s.setPermission)
	return s
}

// Initialize determines whether the backend is supported and, if so, checks the permission.
func (s *Service) Initialize(ctx context.Context) {
	supported := s.backend.Supported()
	s.update(func(state *State, _ **Reading) {
		state.IsSupported = supported
	})
	if supported {
		s.CheckPermission(ctx)
	}
}

// CheckPermission queries the current permission state from the backend and reports whether
// it is granted.
func (s *Service) CheckPermission(ctx context.Context) bool {
	s.setLoading(true)
	defer s.setLoading(false)

	state, err := s.backend.CheckPermission(ctx)
	if err != nil {
		s.handleError("failed to check permissions", err)
		return false
	}
	s.setPermission(state)
	return state == backend.PermissionGranted
}

// RequestPermission asks the backend for location access. The permission state is adopted
// even if the request fails, since a failed request does not necessarily mean that access
// was denied.
func (s *Service) RequestPermission(ctx context.Context) bool {
	s.setLoading(true)
	defer s.setLoading(false)

	state, err := s.backend.RequestPermission(ctx)
	if state != "" {
		s.setPermission(state)
	}
	if err != nil {
		s.handleError("failed to request permissions", err)
		return false
	}
	return state == backend.PermissionGranted
}

// GetCurrentPosition returns the cached reading if it is still valid, unless forceRefresh is
// set. Otherwise a new position is fetched from the backend, cached and published.
func (s *Service) GetCurrentPosition(ctx context.Context, forceRefresh bool) (Reading, bool) {
	s.update(func(state *State, _ **Reading) {
		state.IsLoading = true
		state.LastError = ""
	})
	defer s.setLoading(false)

	if !forceRefresh && s.cache.IsValid() {
		if r, ok := s.cache.Read(); ok {
			s.setCurrent(r)
			return r, true
		}
	}

	pos, err := s.backend.FetchOnce(ctx, s.positionOptions(forceRefresh))
	if err != nil {
		s.handleError("failed to get current position", err)
		return Reading{}, false
	}
	r := normalize(pos, s.clock.Now())
	s.cache.Store(r)
	s.setCurrent(r)
	s.logger.Debug("current position updated", logger.Position(r.Latitude, r.Longitude, r.Accuracy),
		slog.String("source", s.backend.Name()))

	return r, true
}

// RefreshLocation fetches a new position ignoring the cache.
func (s *Service) RefreshLocation(ctx context.Context) (Reading, bool) {
	return s.GetCurrentPosition(ctx, true)
}

// StartWatching registers a watch on the backend. A previous watch is stopped first. Every
// update is cached, published and passed to callback if it is not nil. Watch errors are
// recorded but do not stop the watch. The callback may start or stop watches itself.
func (s *Service) StartWatching(ctx context.Context, callback func(Reading)) bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatching(ctx)

	if !s.backend.Supported() {
		s.handleError("failed to start watching position", backend.ErrUnsupported)
		return false
	}

	gen := s.watchGen
	id, err := s.backend.Watch(ctx, s.positionOptions(false), func(pos backend.Position, err error) {
		r, ok := s.storeWatchUpdate(gen, pos, err)
		if ok && callback != nil {
			callback(r)
		}
	})
	if err != nil {
		s.handleError("failed to start watching position", err)
		return false
	}
	s.watchID = id
	return true
}

// storeWatchUpdate records an update of the watch with generation gen. It reports false if
// the update carried an error or the watch was stopped in the meantime.
func (s *Service) storeWatchUpdate(gen uint64, pos backend.Position, err error) (Reading, bool) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if gen != s.watchGen {
		return Reading{}, false
	}
	if err != nil {
		s.handleError("watch position error", err)
		return Reading{}, false
	}
	r := normalize(pos, s.clock.Now())
	s.cache.Store(r)
	s.setCurrent(r)
	return r, true
}

// StopWatching stops the active watch. It does nothing if no watch is active.
func (s *Service) StopWatching(ctx context.Context) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatching(ctx)
}

// stopWatching must be called with s.watchMu held.
func (s *Service) stopWatching(ctx context.Context) {
	s.watchGen++
	id := s.watchID
	s.watchID = ""
	if id == "" {
		return
	}
	if err := s.backend.Unwatch(ctx, id); err != nil {
		s.logger.Error("failed to stop watching position", logger.Err(err), slog.String("id", string(id)))
	}
}

// IsWatching reports whether a watch is active.
func (s *Service) IsWatching() bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.watchID != ""
}

// DistanceToPoint returns the distance in kilometers between the current position and the
// given point. The current position is acquired through the cache.
func (s *Service) DistanceToPoint(ctx context.Context, lat, lon float64) vartype.VarFloat64 {
	r, ok := s.GetCurrentPosition(ctx, false)
	if !ok {
		return vartype.VarFloat64{}
	}
	return vartype.NewVariable(geometry.Distance(r.Latitude, r.Longitude, lat, lon))
}

// IsWithinRadius reports whether the current position is within radiusKm of the given point.
func (s *Service) IsWithinRadius(ctx context.Context, lat, lon, radiusKm float64) vartype.VarBool {
	distance, ok := s.DistanceToPoint(ctx, lat, lon).Get()
	if !ok {
		return vartype.VarBool{}
	}
	return vartype.NewVariable(distance <= radiusKm)
}

// CachedLocation returns the cached reading if it is still valid.
func (s *Service) CachedLocation() (Reading, bool) {
	if !s.cache.IsValid() {
		return Reading{}, false
	}
	return s.cache.Read()
}

func (s *Service) ClearCache() {
	s.cache.Clear()
}

// Options returns a copy of the current options.
func (s *Service) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options
}

// UpdateOptions applies opts over the current options.
func (s *Service) UpdateOptions(opts ...Option) {
	s.mu.Lock()
	s.options = s.options.apply(opts...)
	lifetime := s.options.CacheLifetime
	s.mu.Unlock()
	s.cache.SetLifetime(lifetime)
}

// State returns a copy of the observable state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Current returns the current reading, if any.
func (s *Service) Current() (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Reading{}, false
	}
	return *s.current, true
}

func (s *Service) PlatformInfo() PlatformInfo {
	state := s.State()
	return PlatformInfo{
		Platform:    state.Platform,
		IsNative:    s.backend.Kind() == backend.KindNative,
		IsSupported: state.IsSupported,
		API:         s.backend.Name(),
	}
}

// CurrentAccuracy returns the accuracy of the current reading in meters.
func (s *Service) CurrentAccuracy() vartype.VarFloat64 {
	r, ok := s.Current()
	if !ok {
		return vartype.VarFloat64{}
	}
	return vartype.NewVariable(r.Accuracy)
}

// HasHighAccuracy reports whether the current reading is accurate to threshold meters.
func (s *Service) HasHighAccuracy(threshold float64) vartype.VarBool {
	accuracy, ok := s.CurrentAccuracy().Get()
	if !ok {
		return vartype.VarBool{}
	}
	return vartype.NewVariable(accuracy <= threshold)
}

// LocationAge returns the time since the current reading was taken.
func (s *Service) LocationAge() vartype.VarDuration {
	r, ok := s.Current()
	if !ok {
		return vartype.VarDuration{}
	}
	return vartype.NewVariable(s.clock.Since(r.Timestamp))
}

// IsLocationFresh reports whether the current reading is at most maxAge old.
func (s *Service) IsLocationFresh(maxAge time.Duration) vartype.VarBool {
	age, ok := s.LocationAge().Get()
	if !ok {
		return vartype.VarBool{}
	}
	return vartype.NewVariable(age <= maxAge)
}

// FormattedLocation renders the current reading with the given number of decimal places.
func (s *Service) FormattedLocation(precision int) (string, bool) {
	r, ok := s.Current()
	if !ok {
		return "", false
	}
	return r.Format(precision), true
}

// Dispose stops the watch, clears the cache and resets the current reading and the state.
func (s *Service) Dispose(ctx context.Context) {
	s.StopWatching(ctx)
	s.cache.Clear()
	s.update(func(state *State, current **Reading) {
		*current = nil
		state.IsLoading = false
		state.LastError = ""
		state.HasPermission = false
		state.PermissionStatus = backend.PermissionPrompt
	})
}

func (s *Service) positionOptions(forceRefresh bool) backend.PositionOptions {
	opts := s.Options()
	maxAge := opts.MaximumAge
	if forceRefresh {
		maxAge = 0
	}
	return backend.PositionOptions{
		EnableHighAccuracy: opts.EnableHighAccuracy,
		Timeout:            opts.Timeout,
		MaximumAge:         maxAge,
	}
}

func (s *Service) handleError(msg string, err error) {
	s.update(func(state *State, _ **Reading) {
		state.LastError = err.Error()
	})
	s.logger.Error(msg, logger.Err(err), slog.String("source", s.backend.Name()))
}
