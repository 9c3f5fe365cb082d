// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger so it can be passed around the service components.
type Logger struct {
	*slog.Logger
}

// New returns a Logger that writes text output with the given level to stderr.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger that writes text output with the given level to w.
func NewLogger(level slog.Level, w io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// Err returns a slog attribute for the given error.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Position returns a slog attribute group for a geographic position. Accuracy is in meters.
func Position(latitude, longitude, accuracy float64) slog.Attr {
	return slog.Group("position",
		slog.Float64("latitude", latitude),
		slog.Float64("longitude", longitude),
		slog.Float64("accuracy", accuracy),
	)
}
