// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import "github.com/vorlif/spreak/localize"

// StatusIcons maps the status classes to their emoji.
var StatusIcons = map[string]string{
	StatusUnsupported: "🚫",
	StatusDenied:      "🔒",
	StatusUnavailable: "❓",
	StatusWaiting:     "⏳",
	StatusStale:       "🕒",
	StatusPrecise:     "📍",
	StatusCoarse:      "🌐",
}

var i18nVars = map[string]localize.MsgID{
	"position":    "Position",
	"accuracy":    "Accuracy",
	"altitude":    "Altitude",
	"speed":       "Speed",
	"heading":     "Heading",
	"updated":     "Updated",
	"age":         "Age",
	"sunrise":     "Sunrise",
	"sunset":      "Sunset",
	"source":      "Source",
	"status":      "Status",
	"permission":  "Permission",
	"distance":    "Distance",
	"target":      "Target",
	"inside":      "inside",
	"outside":     "outside",
	"unknown":     "unknown",
	"no location": "no location",
	"native":      "native",
	"direct":      "direct",
	"granted":     "granted",
	"prompt":      "not yet requested",
	"unsupported": "location not supported",
	"denied":      "location access denied",
	"unavailable": "location unavailable",
	"waiting":     "waiting for location",
	"stale":       "location outdated",
	"precise":     "precise location",
	"coarse":      "approximate location",
}
