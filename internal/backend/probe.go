// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package backend

import (
	"context"
	"log/slog"

	"github.com/wneessen/waybar-location/internal/logger"
)

// Detect selects the backend once at startup. The bridge is selected if its permission
// check succeeds; otherwise the direct backend around geo is used. geo may be nil, in which
// case the returned backend reports itself as unsupported. Probe failures are logged and
// never returned.
func Detect(ctx context.Context, log *logger.Logger, bridge Bridge, geo Geolocation, perms PermissionQuerier) Backend {
	if bridge != nil {
		_, err := bridge.CheckPermissions(ctx)
		if err == nil {
			log.Debug("native location bridge available", slog.String("bridge", bridge.Name()))
			return NewNative(bridge)
		}
		log.Debug("native location bridge unavailable", slog.String("bridge", bridge.Name()), logger.Err(err))
	}

	direct := NewDirect(geo, perms, log)
	log.Debug("using direct location source", slog.String("source", direct.Name()),
		slog.Bool("supported", direct.Supported()))
	return direct
}
