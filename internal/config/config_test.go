// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	const (
		expectLogLevel        = slog.LevelInfo
		expectTimeout         = time.Second * 15
		expectMaximumAge      = time.Minute
		expectCacheLifetime   = time.Minute * 5
		expectPrecision       = 6
		expectIntervalRefresh = time.Minute * 5
		expectIntervalOutput  = time.Second * 30
	)
	t.Run("new config with all defaults set", func(t *testing.T) {
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.LogLevel != expectLogLevel {
			t.Errorf("expected log level to be: %s, got %s", expectLogLevel, conf.LogLevel)
		}
		if conf.Location.LowAccuracy {
			t.Error("expected high accuracy to be requested by default")
		}
		if conf.Location.Timeout != expectTimeout {
			t.Errorf("expected timeout to be: %s, got %s", expectTimeout, conf.Location.Timeout)
		}
		if conf.Location.MaximumAge != expectMaximumAge {
			t.Errorf("expected maximum age to be: %s, got %s", expectMaximumAge, conf.Location.MaximumAge)
		}
		if conf.Location.CacheLifetime != expectCacheLifetime {
			t.Errorf("expected cache lifetime to be: %s, got %s", expectCacheLifetime, conf.Location.CacheLifetime)
		}
		if conf.Location.Precision != expectPrecision {
			t.Errorf("expected precision to be: %d, got %d", expectPrecision, conf.Location.Precision)
		}
		if conf.Backend.Source != SourceAuto {
			t.Errorf("expected source to be: %s, got %s", SourceAuto, conf.Backend.Source)
		}
		if conf.Backend.DesktopID != "waybar-location" {
			t.Errorf("expected desktop id to be: waybar-location, got %s", conf.Backend.DesktopID)
		}
		if conf.Intervals.Refresh != expectIntervalRefresh {
			t.Errorf("expected refresh interval to be: %s, got %s", expectIntervalRefresh, conf.Intervals.Refresh)
		}
		if conf.Intervals.Output != expectIntervalOutput {
			t.Errorf("expected output interval to be: %s, got %s", expectIntervalOutput, conf.Intervals.Output)
		}
		if conf.Templates.Text != DefaultTextTpl {
			t.Errorf("expected text template to be: %q, got %q", DefaultTextTpl, conf.Templates.Text)
		}
		if conf.Templates.Tooltip != DefaultTooltipTpl {
			t.Errorf("expected tooltip template to be: %q, got %q", DefaultTooltipTpl, conf.Templates.Tooltip)
		}
		if !strings.HasSuffix(conf.Backend.File, "waybar-location/geolocation") {
			t.Errorf("expected geolocation file in the config dir, got %s", conf.Backend.File)
		}
		if conf.HasTarget() {
			t.Error("expected no target to be configured")
		}
	})
	t.Run("locale is taken from the environment", func(t *testing.T) {
		t.Setenv("LC_MESSAGES", "de_DE.UTF-8")
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Locale != "de-DE" {
			t.Errorf("expected locale to be de-DE, got %s", conf.Locale)
		}
	})
	t.Run("new config with values from env", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_BACKEND_SOURCE", "gpsd")
		t.Setenv("WAYBARLOCATION_BACKEND_GPSD_HOST", "gps.local")
		t.Setenv("WAYBARLOCATION_LOCATION_TIMEOUT", "3s")
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Backend.Source != SourceGPSD {
			t.Errorf("expected source to be %s, got %s", SourceGPSD, conf.Backend.Source)
		}
		if conf.Backend.GPSD.Host != "gps.local" {
			t.Errorf("expected gpsd host to be gps.local, got %s", conf.Backend.GPSD.Host)
		}
		if conf.Location.Timeout != time.Second*3 {
			t.Errorf("expected timeout to be 3s, got %s", conf.Location.Timeout)
		}
	})
	t.Run("new config with invalid values from env", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_LOGLEVEL", "invalid")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validation rejects invalid values", func(t *testing.T) {
		tests := []struct {
			name  string
			key   string
			value string
		}{
			{"unknown source", "WAYBARLOCATION_BACKEND_SOURCE", "carrier-pigeon"},
			{"unknown permission", "WAYBARLOCATION_BACKEND_PERMISSION", "maybe"},
			{"zero timeout", "WAYBARLOCATION_LOCATION_TIMEOUT", "0s"},
			{"negative maximum age", "WAYBARLOCATION_LOCATION_MAXIMUM_AGE", "-1s"},
			{"negative precision", "WAYBARLOCATION_LOCATION_PRECISION", "-1"},
			{"excessive precision", "WAYBARLOCATION_LOCATION_PRECISION", "16"},
			{"zero accuracy threshold", "WAYBARLOCATION_LOCATION_ACCURACY_THRESHOLD", "0"},
			{"sub-second refresh", "WAYBARLOCATION_INTERVALS_REFRESH", "10ms"},
			{"target latitude out of range", "WAYBARLOCATION_TARGET_LATITUDE", "91"},
			{"target longitude out of range", "WAYBARLOCATION_TARGET_LONGITUDE", "-181"},
			{"negative target radius", "WAYBARLOCATION_TARGET_RADIUS_KM", "-2"},
			{"google without API key", "WAYBARLOCATION_BACKEND_SOURCE", "google"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Setenv(tc.key, tc.value)
				if _, err := New(); err == nil {
					t.Error("expected config to fail, but didn't")
				}
			})
		}
	})
	t.Run("google with API key is valid", func(t *testing.T) {
		t.Setenv("WAYBARLOCATION_BACKEND_SOURCE", "google")
		t.Setenv("WAYBARLOCATION_BACKEND_GOOGLE_API_KEY", "AIzaTestKey")
		if _, err := New(); err != nil {
			t.Errorf("failed to load config: %s", err)
		}
	})
}

func TestNewFromFile(t *testing.T) {
	t.Run("reading config from valid file succeeds", func(t *testing.T) {
		conf, err := NewFromFile("../../etc", "config.toml")
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.LogLevel != slog.LevelInfo {
			t.Errorf("expected log level to be: %s, got %s", slog.LevelInfo, conf.LogLevel)
		}
		if conf.Backend.SerialGPS.Baud != 9600 {
			t.Errorf("expected baud rate to be 9600, got %d", conf.Backend.SerialGPS.Baud)
		}
		if conf.Intervals.Output != time.Second*30 {
			t.Errorf("expected output interval to be: 30s, got %s", conf.Intervals.Output)
		}
	})
	t.Run("reading config with a target succeeds", func(t *testing.T) {
		conf, err := NewFromFile("../../testdata", "target.toml")
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if !conf.HasTarget() {
			t.Fatal("expected target to be configured")
		}
		if conf.Target.Name != "Brandenburg Gate" || conf.Target.RadiusKm != 0.5 {
			t.Errorf("unexpected target: %+v", conf.Target)
		}
		if conf.Backend.Source != SourceFile || conf.Backend.Permission != "granted" {
			t.Errorf("unexpected backend settings: %s/%s", conf.Backend.Source, conf.Backend.Permission)
		}
	})
	t.Run("reading config from non-existent file fails", func(t *testing.T) {
		_, err := NewFromFile("../../etc", "non-existent.toml")
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("reading invalid config file fails", func(t *testing.T) {
		_, err := NewFromFile("../../testdata", "invalid.toml")
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
}
