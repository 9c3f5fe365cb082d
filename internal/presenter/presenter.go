// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presenter turns the state of the location service into the text and tooltip shown
// by waybar.
package presenter

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/vartype"
)

// Status classes, also used as waybar CSS class and alt value.
const (
	StatusUnsupported = "unsupported"
	StatusDenied      = "denied"
	StatusUnavailable = "unavailable"
	StatusWaiting     = "waiting"
	StatusStale       = "stale"
	StatusPrecise     = "precise"
	StatusCoarse      = "coarse"
)

// Status is what the presenter needs to know about the location service.
type Status struct {
	State        location.State
	Reading      *location.Reading
	Formatted    string
	Age          vartype.VarDuration
	Fresh        vartype.VarBool
	HighAccuracy vartype.VarBool
	Distance     vartype.VarFloat64
	WithinTarget vartype.VarBool
	API          string
}

// TargetView describes the configured target point relative to the current position.
type TargetView struct {
	Configured bool
	Name       string
	Latitude   float64
	Longitude  float64
	RadiusKm   float64
	Distance   vartype.VarFloat64
	Within     vartype.VarBool
}

type TemplateContext struct {
	Reading    location.Reading
	HasReading bool
	Formatted  string

	Status        string
	Icon          string
	IconWithSpace string
	Platform      string
	API           string
	Permission    string
	Loading       bool
	Error         string

	UpdateTime   time.Time
	Age          vartype.VarDuration
	Fresh        vartype.VarBool
	HighAccuracy vartype.VarBool
	SunriseTime  time.Time
	SunsetTime   time.Time

	Target TargetView
}

type Presenter struct {
	TextTemplate    *template.Template
	TooltipTemplate *template.Template

	conf      *config.Config
	humanizer *humanize.Humanizer
	localizer *spreak.Localizer
}

// New parses the configured templates and renders them once with sample data so broken
// templates are reported at startup.
func New(conf *config.Config, lang *spreak.Localizer) (*Presenter, error) {
	collection, err := humanize.New(humanize.WithLocale(de.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}
	tag := language.English
	if conf.Locale != "" {
		tag = language.Make(conf.Locale)
	}
	pres := &Presenter{
		conf:      conf,
		humanizer: collection.CreateHumanizer(tag),
		localizer: lang,
	}

	pres.TextTemplate, err = template.New("text").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	pres.TooltipTemplate, err = template.New("tooltip").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tooltip template: %w", err)
	}

	if _, err = pres.Render(pres.sampleContext()); err != nil {
		return nil, fmt.Errorf("failed to render templates: %w", err)
	}
	return pres, nil
}

// BuildContext prepares the template context for status at time now.
func (p *Presenter) BuildContext(status Status, now time.Time) TemplateContext {
	class := statusClass(status)
	tplCtx := TemplateContext{
		Formatted:     status.Formatted,
		Status:        class,
		Icon:          StatusIcons[class],
		IconWithSpace: EmojiWithSpace(StatusIcons[class]),
		Platform:      status.State.Platform,
		API:           status.API,
		Permission:    string(status.State.PermissionStatus),
		Loading:       status.State.IsLoading,
		Error:         status.State.LastError,
		UpdateTime:    now,
		Age:           status.Age,
		Fresh:         status.Fresh,
		HighAccuracy:  status.HighAccuracy,
		Target: TargetView{
			Configured: p.conf.HasTarget(),
			Name:       p.conf.Target.Name,
			Latitude:   p.conf.Target.Latitude,
			Longitude:  p.conf.Target.Longitude,
			RadiusKm:   p.conf.Target.RadiusKm,
			Distance:   status.Distance,
			Within:     status.WithinTarget,
		},
	}
	if status.Reading == nil {
		return tplCtx
	}

	tplCtx.Reading = *status.Reading
	tplCtx.HasReading = true
	tplCtx.SunriseTime, tplCtx.SunsetTime = SunTimes(status.Reading.Latitude, status.Reading.Longitude, now)
	return tplCtx
}

// Render executes the text and tooltip templates.
func (p *Presenter) Render(tplCtx TemplateContext) (map[string]string, error) {
	output := make(map[string]string)
	buf := bytes.NewBuffer(nil)

	if err := p.TextTemplate.Execute(buf, tplCtx); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	output["text"] = buf.String()

	buf.Reset()
	if err := p.TooltipTemplate.Execute(buf, tplCtx); err != nil {
		return nil, fmt.Errorf("failed to render tooltip template: %w", err)
	}
	output["tooltip"] = buf.String()

	return output, nil
}

// SunTimes returns sunrise and sunset at the given coordinates on the day of now, in the
// location of now. Both are zero during polar day and night.
func SunTimes(lat, lon float64, now time.Time) (time.Time, time.Time) {
	rise, set := sunrise.SunriseSunset(lat, lon, now.Year(), now.Month(), now.Day())
	if rise.IsZero() || set.IsZero() {
		return time.Time{}, time.Time{}
	}
	return rise.In(now.Location()), set.In(now.Location())
}

func statusClass(status Status) string {
	switch {
	case !status.State.IsSupported:
		return StatusUnsupported
	case status.Reading == nil && status.State.PermissionStatus == backend.PermissionDenied:
		return StatusDenied
	case status.Reading == nil && status.State.LastError != "":
		return StatusUnavailable
	case status.Reading == nil:
		return StatusWaiting
	case status.Fresh.IsSet() && !status.Fresh.Value():
		return StatusStale
	case status.HighAccuracy.Value():
		return StatusPrecise
	default:
		return StatusCoarse
	}
}

func (p *Presenter) sampleContext() TemplateContext {
	now := time.Now()
	reading := location.Reading{
		Latitude:  52.5163,
		Longitude: 13.3777,
		Accuracy:  12,
		Altitude:  vartype.NewVariable(34.0),
		Timestamp: now,
	}
	return p.BuildContext(Status{
		State: location.State{
			HasPermission:    true,
			PermissionStatus: backend.PermissionGranted,
			IsSupported:      true,
			Platform:         string(backend.KindDirect),
		},
		Reading:      &reading,
		Formatted:    reading.Format(p.conf.Location.Precision),
		Age:          vartype.NewVariable(time.Duration(0)),
		Fresh:        vartype.NewVariable(true),
		HighAccuracy: vartype.NewVariable(true),
		Distance:     vartype.NewVariable(0.0),
		WithinTarget: vartype.NewVariable(true),
		API:          "sample",
	}, now)
}
