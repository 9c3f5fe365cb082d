// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package multi combines several backend.Geolocation sources into one. Single positions are
// taken from the first source that delivers one, watches run all sources concurrently and
// pass on the most accurate position.
package multi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/logger"
)

const (
	accuracyEpsilon = 1e-6

	// DefaultTTL is the time after which the best position of a watch can be replaced by a
	// less accurate one.
	DefaultTTL = time.Minute * 10
)

// ErrNoSources is returned by New if no source was given.
var ErrNoSources = errors.New("no location sources configured")

// Source asks multiple sources for a position.
type Source struct {
	sources []backend.Geolocation
	logger  *logger.Logger
	ttl     time.Duration
}

// result is a position together with the source that produced it.
type result struct {
	pos    backend.Position
	source string
	at     time.Time
}

// New returns a Source for sources, in order of preference.
func New(log *logger.Logger, sources ...backend.Geolocation) (*Source, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	return &Source{
		sources: sources,
		logger:  log,
		ttl:     DefaultTTL,
	}, nil
}

// Name returns the names of all sources joined by "+".
func (s *Source) Name() string {
	names := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		names = append(names, src.Name())
	}
	return strings.Join(names, "+")
}

// CurrentPosition asks the sources in order and returns the first position. If every source
// fails, access is denied only when every source denied it.
func (s *Source) CurrentPosition(ctx context.Context, opts backend.PositionOptions) (backend.Position, error) {
	errs := make([]error, 0, len(s.sources))
	denied := 0
	for _, src := range s.sources {
		pos, err := src.CurrentPosition(ctx, opts)
		if err == nil {
			return pos, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.Position{}, ctxErr
		}
		s.logger.Debug("location source failed", slog.String("source", src.Name()), logger.Err(err))
		if errors.Is(err, backend.ErrPermissionDenied) {
			denied++
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	joined := errors.Join(errs...)
	if denied == len(s.sources) {
		return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPermissionDenied, joined)
	}
	return backend.Position{}, fmt.Errorf("%w: %w", backend.ErrPositionUnavailable, joined)
}

// WatchPosition watches all sources until ctx is done. A position is passed to handler when it
// is more accurate than the current best one, comes from the same source as the best one or
// the best one has expired. Errors are only passed on as long as no source delivered a
// position within the TTL.
func (s *Source) WatchPosition(ctx context.Context, opts backend.PositionOptions, handler backend.WatchHandler) {
	var (
		mu   sync.Mutex
		best result
		wg   sync.WaitGroup
	)

	for _, src := range s.sources {
		wg.Add(1)
		go func(src backend.Geolocation) {
			defer wg.Done()
			s.safeWatch(ctx, src, opts, func(pos backend.Position, err error) {
				mu.Lock()
				defer mu.Unlock()
				now := time.Now()
				if err != nil {
					s.logger.Debug("location source failed", slog.String("source", src.Name()), logger.Err(err))
					if best.source == "" || best.expired(now, s.ttl) {
						handler(backend.Position{}, fmt.Errorf("%s: %w", src.Name(), err))
					}
					return
				}

				candidate := result{pos: pos, source: src.Name(), at: now}
				if !candidate.replaces(best, now, s.ttl) {
					return
				}
				changed := best.source == "" || !samePosition(best.pos, candidate.pos)
				best = candidate
				if changed {
					handler(pos, nil)
				}
			})
		}(src)
	}
	wg.Wait()
}

// safeWatch runs the watch of src and recovers from panics so a broken source does not take
// the others down.
func (s *Source) safeWatch(ctx context.Context, src backend.Geolocation, opts backend.PositionOptions,
	handler backend.WatchHandler,
) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("location source panicked", slog.String("source", src.Name()),
				slog.Any("panic", r))
		}
	}()
	src.WatchPosition(ctx, opts, handler)
}

// replaces reports whether r should replace the current best result prev.
func (r result) replaces(prev result, now time.Time, ttl time.Duration) bool {
	switch {
	case prev.source == "":
		return true
	case prev.source == r.source:
		return true
	case prev.expired(now, ttl):
		return true
	default:
		return r.pos.Accuracy < prev.pos.Accuracy-accuracyEpsilon
	}
}

func (r result) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(r.at) > ttl
}

func samePosition(a, b backend.Position) bool {
	return a.Latitude == b.Latitude && a.Longitude == b.Longitude && a.Accuracy == b.Accuracy &&
		a.Timestamp.Equal(b.Timestamp)
}
