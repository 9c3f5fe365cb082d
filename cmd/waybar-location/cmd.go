// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/i18n"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/service"
)

const appName = "waybar-location"

// app holds what every command needs once the configuration was read.
type app struct {
	confPath string
	conf     *config.Config
	log      *logger.Logger
	t        *spreak.Localizer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "geolocation module for waybar",
		Long: `waybar-location determines the position of this machine through GeoClue2, gpsd,
a serial GPS receiver, a network location service or a geolocation file and prints
it as JSON for a waybar custom module.

Send SIGUSR1 to force a location refresh, SIGUSR2 to log the current location.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.confPath, "config", "c", "", "path to the config file")

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "print the current location once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.once(cmd.Context())
		},
	}

	var request bool
	permissionCmd := &cobra.Command{
		Use:   "permission",
		Short: "show the location permission of the selected backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.permission(cmd, request)
		},
	}
	permissionCmd.Flags().BoolVarP(&request, "request", "r", false, "request the permission instead of only checking it")

	rootCmd.AddCommand(onceCmd, permissionCmd)
	return rootCmd
}

// setup reads the configuration and initializes logger and localizer.
func (a *app) setup() error {
	log := logger.New(slog.LevelError)
	conf, err := loadConfig(a.confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		return err
	}

	a.conf = conf
	a.log = logger.New(conf.LogLevel)
	a.t, err = i18n.New(conf.Locale)
	if err != nil {
		a.log.Error("failed to initialize localizer", logger.Err(err))
		return err
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	serv, err := service.New(a.conf, a.log, a.t)
	if err != nil {
		a.log.Error("failed to initialize waybar-location service", logger.Err(err))
		return err
	}

	a.log.Info(a.t.Get("starting waybar-location service"), slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	if err = serv.Run(ctx); err != nil {
		a.log.Error(a.t.Get("failed to start waybar-location service"), logger.Err(err))
		return err
	}
	a.log.Info(a.t.Get("shutting down waybar-location service"))
	return nil
}

func (a *app) once(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	serv, err := service.New(a.conf, a.log, a.t)
	if err != nil {
		a.log.Error("failed to initialize waybar-location service", logger.Err(err))
		return err
	}
	if err = serv.Once(ctx); err != nil {
		a.log.Error("failed to print location", logger.Err(err))
		return err
	}
	return nil
}

func (a *app) permission(cmd *cobra.Command, request bool) error {
	serv, err := service.New(a.conf, a.log, a.t)
	if err != nil {
		a.log.Error("failed to initialize waybar-location service", logger.Err(err))
		return err
	}

	state, info := serv.Permission(cmd.Context(), request)
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s: %s (%s)\n", a.t.Get("Source"), info.API, a.t.Get(info.Platform))
	_, _ = fmt.Fprintf(out, "%s: %t\n", a.t.Get("Supported"), info.IsSupported)
	_, _ = fmt.Fprintf(out, "%s: %s\n", a.t.Get("Permission"), state.PermissionStatus)
	if state.LastError != "" {
		_, _ = fmt.Fprintf(out, "%s: %s\n", a.t.Get("Error"), state.LastError)
	}
	return nil
}

// loadConfig reads the config file at path. Without a path the default location in the user's
// config directory is used if a file exists there, otherwise defaults and environment apply.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.NewFromFile(filepath.Dir(path), filepath.Base(path))
	}
	if dir, file := findConfigFile(); dir != "" && file != "" {
		return config.NewFromFile(dir, file)
	}
	return config.New()
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", appName, "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
