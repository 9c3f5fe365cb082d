// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"time"
)

const (
	DefaultTimeout    = time.Second * 15
	DefaultMaximumAge = time.Minute
)

// Options configure how positions are requested and for how long they are cached.
type Options struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
	CacheLifetime      time.Duration
}

// Option changes a single field of Options. Options are applied in order, so a later Option
// for the same field wins.
type Option func(*Options)

// DefaultOptions returns the options every Service starts with.
func DefaultOptions() Options {
	return Options{
		EnableHighAccuracy: true,
		Timeout:            DefaultTimeout,
		MaximumAge:         DefaultMaximumAge,
		CacheLifetime:      DefaultCacheLifetime,
	}
}

func WithHighAccuracy(enable bool) Option {
	return func(o *Options) {
		o.EnableHighAccuracy = enable
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithMaximumAge(maxAge time.Duration) Option {
	return func(o *Options) {
		o.MaximumAge = maxAge
	}
}

func WithCacheLifetime(lifetime time.Duration) Option {
	return func(o *Options) {
		o.CacheLifetime = lifetime
	}
}

// WithOptions replaces all fields with the values of opts.
func WithOptions(opts Options) Option {
	return func(o *Options) {
		*o = opts
	}
}

func (o Options) apply(opts ...Option) Options {
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
