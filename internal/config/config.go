// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/waybar-location/internal/geometry"
)

const (
	configEnv         = "WAYBARLOCATION"
	DefaultTextTpl    = "{{.IconWithSpace}}{{if .HasReading}}{{coord .Reading.Latitude 4}}, {{coord .Reading.Longitude 4}}{{else}}{{loc .Status}}{{end}}"
	DefaultTooltipTpl = "{{if .HasReading}}{{loc \"position\"}}: {{.Formatted}}\n" +
		"{{loc \"accuracy\"}}: {{floatFormat .Reading.Accuracy 0}} m\n" +
		"{{loc \"altitude\"}}: {{opt .Reading.Altitude 0}} m\n" +
		"{{loc \"updated\"}}: {{naturalTime .Reading.Timestamp}}\n" +
		"{{if not .SunriseTime.IsZero}}🌅 {{localizedTime .SunriseTime}} • 🌇 {{localizedTime .SunsetTime}}\n{{end}}" +
		"{{if .Target.Configured}}{{.Target.Name}}: {{distance .Target.Distance}}\n{{end}}" +
		"{{else}}{{loc .Status}}\n{{end}}" +
		"{{loc \"source\"}}: {{.API}} ({{loc .Platform}}){{if .Error}}\n{{.Error}}{{end}}"

	SourceAuto      = "auto"
	SourceGPSD      = "gpsd"
	SourceSerialGPS = "serialgps"
	SourceIchnaea   = "ichnaea"
	SourceGoogle    = "google"
	SourceFile      = "file"
	SourceNone      = "none"
)

var sources = []string{SourceAuto, SourceGPSD, SourceSerialGPS, SourceIchnaea, SourceGoogle, SourceFile, SourceNone}

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Location struct {
		// High accuracy is requested unless LowAccuracy is set.
		LowAccuracy       bool          `fig:"low_accuracy"`
		Timeout           time.Duration `fig:"timeout" default:"15s"`
		MaximumAge        time.Duration `fig:"maximum_age" default:"1m"`
		CacheLifetime     time.Duration `fig:"cache_lifetime" default:"5m"`
		Watch             bool          `fig:"watch"`
		Precision         int           `fig:"precision" default:"6"`
		AccuracyThreshold float64       `fig:"accuracy_threshold" default:"50"`
		Freshness         time.Duration `fig:"freshness" default:"1m"`
	} `fig:"location"`

	Backend struct {
		DesktopID      string `fig:"desktop_id" default:"waybar-location"`
		DisableGeoClue bool   `fig:"disable_geoclue"`
		// Allowed values: auto, gpsd, serialgps, ichnaea, google, file, none
		Source string `fig:"source" default:"auto"`
		// Allowed values: prompt, granted, denied. Empty leaves the permission to be inferred.
		Permission string `fig:"permission"`

		GPSD struct {
			Host string `fig:"host" default:"localhost"`
			Port string `fig:"port" default:"2947"`
		} `fig:"gpsd"`
		SerialGPS struct {
			Device string `fig:"device" default:"/dev/ttyACM0"`
			Baud   int    `fig:"baud" default:"9600"`
		} `fig:"serialgps"`
		Ichnaea struct {
			Endpoint string `fig:"endpoint" default:"https://api.beacondb.net/v1/geolocate"`
		} `fig:"ichnaea"`
		Google struct {
			APIKey string `fig:"api_key"`
		} `fig:"google"`
		File string `fig:"file"`
	} `fig:"backend"`

	Intervals struct {
		Refresh time.Duration `fig:"refresh" default:"5m"`
		Output  time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Target struct {
		Name      string  `fig:"name"`
		Latitude  float64 `fig:"latitude"`
		Longitude float64 `fig:"longitude"`
		RadiusKm  float64 `fig:"radius_km" default:"1"`
	} `fig:"target"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Location.Timeout <= 0 {
		return fmt.Errorf("invalid location timeout: %s", c.Location.Timeout)
	}
	if c.Location.MaximumAge < 0 {
		return fmt.Errorf("invalid maximum age: %s", c.Location.MaximumAge)
	}
	if c.Location.CacheLifetime < 0 {
		return fmt.Errorf("invalid cache lifetime: %s", c.Location.CacheLifetime)
	}
	if c.Location.Precision < 0 || c.Location.Precision > 15 {
		return fmt.Errorf("invalid coordinate precision: %d", c.Location.Precision)
	}
	if c.Location.AccuracyThreshold <= 0 {
		return fmt.Errorf("invalid accuracy threshold: %f", c.Location.AccuracyThreshold)
	}
	if !slices.Contains(sources, c.Backend.Source) {
		return fmt.Errorf("invalid location source: %s", c.Backend.Source)
	}
	if c.Backend.Source == SourceGoogle && c.Backend.Google.APIKey == "" {
		return fmt.Errorf("location source %s requires an API key", SourceGoogle)
	}
	switch c.Backend.Permission {
	case "", "prompt", "granted", "denied":
	default:
		return fmt.Errorf("invalid permission state: %s", c.Backend.Permission)
	}
	if c.Intervals.Refresh < time.Second || c.Intervals.Output < time.Second {
		return fmt.Errorf("intervals must be at least one second")
	}
	if !(geometry.Coordinate{Lat: c.Target.Latitude, Lon: c.Target.Longitude}).Valid() {
		return fmt.Errorf("invalid target coordinate: %f, %f", c.Target.Latitude, c.Target.Longitude)
	}
	if c.Target.RadiusKm <= 0 {
		return fmt.Errorf("invalid target radius: %f", c.Target.RadiusKm)
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.Backend.File == "" {
		home, _ := os.UserHomeDir()
		c.Backend.File = filepath.Join(home, ".config", "waybar-location", "geolocation")
	}

	return nil
}

// HasTarget reports whether a target point was configured.
func (c *Config) HasTarget() bool {
	return c.Target.Name != "" || c.Target.Latitude != 0 || c.Target.Longitude != 0
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
