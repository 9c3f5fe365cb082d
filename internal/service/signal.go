// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wneessen/waybar-location/internal/logger"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals forces a location refresh on SIGUSR1 and logs the current location on SIGUSR2.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.logger.Info(s.t.Get("forced location refresh"))
				s.location.ClearCache()
				s.refreshLocation(ctx)
				s.printLocation(ctx)
			case syscall.SIGUSR2:
				info := s.location.PlatformInfo()
				state := s.location.State()
				reading, ok := s.location.Current()
				s.logger.Info(s.t.Get("current location"), slog.Bool("available", ok),
					logger.Position(reading.Latitude, reading.Longitude, reading.Accuracy),
					slog.String("permission", string(state.PermissionStatus)),
					slog.String("platform", info.Platform), slog.String("api", info.API))
			}
		}
	}
}
