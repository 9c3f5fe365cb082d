// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"fmt"
	"math"
	"time"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/geometry"
	"github.com/wneessen/waybar-location/internal/vartype"
)

// DefaultPrecision is the number of decimal places used when formatting coordinates.
const DefaultPrecision = 6

// Reading is a normalized position. Optional values are unset when the platform did not
// report them.
type Reading struct {
	Latitude         float64            `json:"latitude"`
	Longitude        float64            `json:"longitude"`
	Accuracy         float64            `json:"accuracy"`
	Altitude         vartype.VarFloat64 `json:"altitude"`
	AltitudeAccuracy vartype.VarFloat64 `json:"altitude_accuracy"`
	Heading          vartype.VarFloat64 `json:"heading"`
	Speed            vartype.VarFloat64 `json:"speed"`
	Timestamp        time.Time          `json:"timestamp"`
}

// Coordinate returns the latitude and longitude of the reading.
func (r Reading) Coordinate() geometry.Coordinate {
	return geometry.Coordinate{Lat: r.Latitude, Lon: r.Longitude}
}

// Format renders latitude and longitude with the given number of decimal places.
func (r Reading) Format(precision int) string {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return fmt.Sprintf("%.*f, %.*f", precision, r.Latitude, precision, r.Longitude)
}

// normalize converts a platform position into a Reading. now is used if the platform did not
// supply a timestamp.
func normalize(pos backend.Position, now time.Time) Reading {
	r := Reading{
		Latitude:         pos.Latitude,
		Longitude:        pos.Longitude,
		Accuracy:         pos.Accuracy,
		Altitude:         optional(pos.Altitude),
		AltitudeAccuracy: optional(pos.AltitudeAccuracy),
		Heading:          optional(pos.Heading),
		Speed:            optional(pos.Speed),
		Timestamp:        pos.Timestamp,
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	return r
}

func optional(v *float64) vartype.VarFloat64 {
	if v == nil || math.IsNaN(*v) {
		return vartype.VarFloat64{}
	}
	return vartype.NewVariable(*v)
}
