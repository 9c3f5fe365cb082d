// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoclue

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-location/internal/backend"
)

// unknownAltitude is reported by GeoClue if the altitude is not known (-DBL_MAX).
const unknownAltitude = -math.MaxFloat64

// requestedLevel maps the accuracy hint of opts to a GeoClue accuracy level.
func requestedLevel(opts backend.PositionOptions) AccuracyLevel {
	if opts.EnableHighAccuracy {
		return AccuracyExact
	}
	return AccuracyCity
}

func isAccessDenied(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == accessDenied
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name == accessDenied
	}
	return false
}

// locationFromSignal returns the new location path of a LocationUpdated signal for client.
func locationFromSignal(sig *dbus.Signal, client dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig == nil || sig.Path != client || sig.Name != clientIface+"."+locationUpdated {
		return noLocation, false
	}
	if len(sig.Body) != 2 {
		return noLocation, false
	}
	path, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok || path == noLocation {
		return noLocation, false
	}
	return path, true
}

// positionFromProperties converts the properties of a GeoClue location object. Speed and
// heading are reported as -1 and the altitude as -DBL_MAX if unknown.
func positionFromProperties(props map[string]dbus.Variant) (backend.Position, error) {
	lat, err := floatProperty(props, "Latitude")
	if err != nil {
		return backend.Position{}, err
	}
	lon, err := floatProperty(props, "Longitude")
	if err != nil {
		return backend.Position{}, err
	}
	acc, err := floatProperty(props, "Accuracy")
	if err != nil {
		return backend.Position{}, err
	}

	pos := backend.Position{Latitude: lat, Longitude: lon, Accuracy: acc}
	if alt, err := floatProperty(props, "Altitude"); err == nil && alt != unknownAltitude {
		pos.Altitude = backend.Float(alt)
	}
	if speed, err := floatProperty(props, "Speed"); err == nil && speed >= 0 {
		pos.Speed = backend.Float(speed)
	}
	if heading, err := floatProperty(props, "Heading"); err == nil && heading >= 0 {
		pos.Heading = backend.Float(heading)
	}
	if v, ok := props["Timestamp"]; ok {
		pos.Timestamp = timestamp(v.Value())
	}
	return pos, nil
}

func floatProperty(props map[string]dbus.Variant, key string) (float64, error) {
	v, ok := props[key]
	if !ok {
		return 0, fmt.Errorf("location property %s is missing", key)
	}
	f, ok := v.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T for location property %s", v.Value(), key)
	}
	return f, nil
}

// timestamp converts the (tt) timestamp of seconds and microseconds since the epoch.
func timestamp(value any) time.Time {
	fields, ok := value.([]interface{})
	if !ok || len(fields) != 2 {
		return time.Time{}
	}
	sec, ok := fields[0].(uint64)
	if !ok {
		return time.Time{}
	}
	usec, ok := fields[1].(uint64)
	if !ok {
		return time.Time{}
	}
	if sec == 0 && usec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC()
}
