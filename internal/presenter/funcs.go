// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"

	"github.com/wneessen/waybar-location/internal/vartype"
)

func (p *Presenter) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    p.timeFormat,
		"localizedTime": p.localizedTime,
		"naturalTime":   p.naturalTime,
		"floatFormat":   p.floatFormat,
		"coord":         coord,
		"opt":           p.opt,
		"distance":      p.distance,
		"emoji":         EmojiWithSpace,
		"loc":           p.loc,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
	}
}

func (p *Presenter) loc(val string) string {
	val = strings.ToLower(val)
	if raw, ok := i18nVars[val]; ok {
		return p.localizer.Get(raw)
	}
	return val
}

func (p *Presenter) localizedTime(val time.Time) string {
	return p.humanizer.FormatTime(val, humanize.TimeFormat)
}

func (p *Presenter) naturalTime(val time.Time) string {
	return p.humanizer.NaturalTime(val)
}

func (p *Presenter) timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func (p *Presenter) floatFormat(val float64, precision int) string {
	pow := math.Pow(10, float64(precision))
	return fmt.Sprintf("%.*f", precision, math.Trunc(val*pow)/pow)
}

// opt formats an optional value, or the localized "unknown" if it is unset.
func (p *Presenter) opt(val vartype.VarFloat64, precision int) string {
	v, ok := val.Get()
	if !ok {
		return p.loc(vartype.Unknown)
	}
	return p.floatFormat(v, precision)
}

// distance formats a distance in kilometers, switching to meters below one kilometer.
func (p *Presenter) distance(val vartype.VarFloat64) string {
	km, ok := val.Get()
	switch {
	case !ok:
		return p.loc(vartype.Unknown)
	case km < 1:
		return fmt.Sprintf("%.0f m", km*1000)
	default:
		return fmt.Sprintf("%.1f km", km)
	}
}

// coord rounds a coordinate to precision decimals.
func coord(val float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, val)
}

// EmojiWithSpace pads an emoji so that the following text starts at the same column
// regardless of the emoji's display width.
func EmojiWithSpace(emoji string) string {
	width := runewidth.StringWidth(emoji)
	return fmt.Sprintf("%s%s", emoji, strings.Repeat(" ", 3-min(width, 2)))
}
