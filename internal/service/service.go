// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service runs the waybar module: it acquires positions through the location service,
// renders them with the presenter and writes one JSON line per update to the output.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-location/internal/backend"
	"github.com/wneessen/waybar-location/internal/backend/geoclue"
	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/geometry"
	"github.com/wneessen/waybar-location/internal/http"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/presenter"
)

const (
	OutputClass = "waybar-location"

	subscriberBuffer = 32
	shutdownTimeout  = time.Second * 5
)

var ErrNoLogger = errors.New("logger is required")

type outputData struct {
	Text    string   `json:"text"`
	Tooltip string   `json:"tooltip"`
	Alt     string   `json:"alt"`
	Classes []string `json:"class"`
}

type Service struct {
	SignalSrc signalSource

	config    *config.Config
	logger    *logger.Logger
	t         *spreak.Localizer
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	jobs      []gocron.Job
	output    io.Writer
	source    backend.Geolocation
	perms     backend.PermissionQuerier
	closers   []io.Closer
	bridgeFn  func(ctx context.Context) (backend.Bridge, error)
	busFn     func() (sleepBus, error)
	location  *location.Service

	outputLock sync.Mutex
	lastOutput []byte
}

func New(conf *config.Config, log *logger.Logger, lang *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, ErrNoLogger
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	pres, err := presenter.New(conf, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	service := &Service{
		SignalSrc: stdLibSignalSource{},
		config:    conf,
		logger:    log,
		t:         lang,
		presenter: pres,
		scheduler: scheduler,
		output:    os.Stdout,
		busFn:     connectSystemBus,
	}
	service.bridgeFn = service.connectGeoClue

	service.source, err = service.selectSource(http.New(log))
	if err != nil {
		return nil, fmt.Errorf("failed to select location source: %w", err)
	}
	service.perms, err = service.selectPermission()
	if err != nil {
		return nil, err
	}

	return service, nil
}

// Run starts the module and blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.connect(ctx)
	defer s.close()

	sub, unsub := s.location.Subscribe(subscriberBuffer)
	go s.processSnapshots(ctx, sub)

	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printLocation,
		"location_output_job"); err != nil {
		unsub()
		return err
	}
	if err := s.createScheduledJob(ctx, s.config.Intervals.Refresh, s.refreshLocation,
		"location_refresh_job"); err != nil {
		unsub()
		return err
	}
	s.scheduler.Start()

	s.acquire(ctx)
	if s.config.Location.Watch {
		s.location.StartWatching(ctx, nil)
	}

	go s.monitorSleepResume(ctx)

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		defer s.SignalSrc.Stop(sigChan)
		s.HandleSignals(ctx, sigChan)
	}()

	<-ctx.Done()
	unsub()

	disposeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.location.Dispose(disposeCtx)
	return s.scheduler.Shutdown()
}

// Once acquires a single position, prints it and returns.
func (s *Service) Once(ctx context.Context) error {
	s.connect(ctx)
	defer s.close()
	defer func() {
		_ = s.scheduler.Shutdown()
	}()

	s.acquire(ctx)
	data, err := s.render()
	if err != nil {
		return err
	}
	return s.write(data)
}

// Permission reports the location permission of the selected backend. With request set the
// permission is requested instead of only being checked.
func (s *Service) Permission(ctx context.Context, request bool) (location.State, location.PlatformInfo) {
	s.connect(ctx)
	defer s.close()
	defer func() {
		_ = s.scheduler.Shutdown()
	}()

	if request && s.location.State().IsSupported {
		s.location.RequestPermission(ctx)
	}
	return s.location.State(), s.location.PlatformInfo()
}

// connect selects the backend and initializes the location service with it.
func (s *Service) connect(ctx context.Context) {
	var bridge backend.Bridge
	if !s.config.Backend.DisableGeoClue {
		b, err := s.bridgeFn(ctx)
		if err != nil {
			s.logger.Debug("geoclue not available", logger.Err(err))
		} else {
			bridge = b
		}
	}

	b := backend.Detect(ctx, s.logger, bridge, s.source, s.perms)
	s.location = location.New(b, s.logger,
		location.WithHighAccuracy(!s.config.Location.LowAccuracy),
		location.WithTimeout(s.config.Location.Timeout),
		location.WithMaximumAge(s.config.Location.MaximumAge),
		location.WithCacheLifetime(s.config.Location.CacheLifetime),
	)
	s.location.Initialize(ctx)

	info := s.location.PlatformInfo()
	s.logger.Debug("location backend selected", slog.String("platform", info.Platform),
		slog.String("api", info.API), slog.Bool("supported", info.IsSupported))
}

func (s *Service) connectGeoClue(ctx context.Context) (backend.Bridge, error) {
	bridge, err := geoclue.Connect(ctx, s.config.Backend.DesktopID, s.logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, bridge)
	return bridge, nil
}

// close releases the location sources and the bridge.
func (s *Service) close() {
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			s.logger.Error("failed to close location source", logger.Err(err))
		}
	}
	s.closers = nil
}

// acquire requests the permission if it was not decided yet and fetches the first position.
func (s *Service) acquire(ctx context.Context) {
	state := s.location.State()
	if !state.IsSupported {
		s.logger.Warn(s.t.Get("geolocation is not supported on this system"))
		return
	}
	if state.PermissionStatus == backend.PermissionPrompt && !s.location.RequestPermission(ctx) {
		s.logger.Warn(s.t.Get("location permission not granted"))
	}
	if s.location.State().PermissionStatus == backend.PermissionDenied {
		return
	}
	if _, ok := s.location.GetCurrentPosition(ctx, false); !ok {
		s.logger.Warn(s.t.Get("no location available yet"))
	}
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// refreshLocation fetches a new position unless access was denied.
func (s *Service) refreshLocation(ctx context.Context) {
	state := s.location.State()
	if !state.IsSupported || state.PermissionStatus == backend.PermissionDenied {
		return
	}
	if r, ok := s.location.RefreshLocation(ctx); ok {
		s.logger.Debug("location refreshed", logger.Position(r.Latitude, r.Longitude, r.Accuracy))
	}
}

// printLocation renders the current state and writes it to the output.
func (s *Service) printLocation(context.Context) {
	data, err := s.render()
	if err != nil {
		s.logger.Error("failed to render location output", logger.Err(err))
		return
	}
	if err = s.write(data); err != nil {
		s.logger.Error("failed to write location output", logger.Err(err))
	}
}

// processSnapshots writes the output for every state change that alters it.
func (s *Service) processSnapshots(ctx context.Context, sub <-chan location.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub:
			if !ok {
				return
			}
			if snap.Current != nil {
				s.logger.Debug("received location update", logger.Position(snap.Current.Latitude,
					snap.Current.Longitude, snap.Current.Accuracy))
			}
			data, err := s.render()
			if err != nil {
				s.logger.Error("failed to render location output", logger.Err(err))
				continue
			}
			s.outputLock.Lock()
			changed := !bytes.Equal(data, s.lastOutput)
			s.outputLock.Unlock()
			if !changed {
				continue
			}
			if err = s.write(data); err != nil {
				s.logger.Error("failed to write location output", logger.Err(err))
			}
		}
	}
}

// status collects what the presenter needs from the location service.
func (s *Service) status() presenter.Status {
	status := presenter.Status{
		State: s.location.State(),
		API:   s.location.PlatformInfo().API,
	}
	reading, ok := s.location.Current()
	if !ok {
		return status
	}

	status.Reading = &reading
	status.Formatted = reading.Format(s.config.Location.Precision)
	status.Age = s.location.LocationAge()
	status.Fresh = s.location.IsLocationFresh(s.config.Location.Freshness)
	status.HighAccuracy = s.location.HasHighAccuracy(s.config.Location.AccuracyThreshold)
	if s.config.HasTarget() {
		target := geometry.Coordinate{Lat: s.config.Target.Latitude, Lon: s.config.Target.Longitude}
		distance := reading.Coordinate().DistanceTo(target)
		status.Distance.Set(distance)
		status.WithinTarget.Set(distance <= s.config.Target.RadiusKm)
	}
	return status
}

func (s *Service) render() ([]byte, error) {
	tplCtx := s.presenter.BuildContext(s.status(), time.Now())
	rendered, err := s.presenter.Render(tplCtx)
	if err != nil {
		return nil, err
	}

	output := outputData{
		Text:    rendered["text"],
		Tooltip: rendered["tooltip"],
		Alt:     tplCtx.Status,
		Classes: []string{OutputClass, tplCtx.Status},
	}
	return json.Marshal(output)
}

func (s *Service) write(data []byte) error {
	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if _, err := s.output.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	s.lastOutput = data
	return nil
}
