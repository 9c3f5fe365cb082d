// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package wifiscan lists the Wi-Fi access points around the device for network based
// location lookups.
package wifiscan

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/waybar-location/internal/logger"
)

// AccessPoint is a mappable access point as seen by one of the station interfaces.
type AccessPoint struct {
	BSSID string
	// Signal is the signal strength in dBm.
	Signal   int32
	LastSeen time.Duration
}

// Scanner reads the access points from the nl80211 interfaces.
type Scanner struct {
	client *wifi.Client
	logger *logger.Logger
}

// New returns a Scanner. It fails on systems without nl80211 support.
func New(log *logger.Logger) (*Scanner, error) {
	client, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize wifi client: %w", err)
	}
	return &Scanner{client: client, logger: log}, nil
}

// Close releases the nl80211 connection.
func (s *Scanner) Close() error {
	return s.client.Close()
}

// AccessPoints returns the mappable access points of all station interfaces. Interfaces that
// cannot be queried are skipped.
func (s *Scanner) AccessPoints() ([]AccessPoint, error) {
	ifaces, err := s.client.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var list []AccessPoint
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := s.client.AccessPoints(iface)
		if err != nil {
			s.logger.Debug("failed to list access points", logger.Err(err), slog.String("iface", iface.Name))
			continue
		}
		for _, ap := range aps {
			if !Mappable(ap.SSID) {
				continue
			}
			list = append(list, AccessPoint{
				BSSID:    ap.BSSID.String(),
				Signal:   ap.Signal / 100,
				LastSeen: ap.LastSeen,
			})
		}
	}
	return list, nil
}

// Mappable reports whether an access point may be used for location lookups. Hidden networks
// and networks that opted out with the _nomap suffix are excluded.
func Mappable(ssid string) bool {
	return ssid != "" && ssid[0] != '\x00' && !strings.HasSuffix(ssid, "_nomap")
}
