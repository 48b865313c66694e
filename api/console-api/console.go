// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package console_api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voice-console/api/console-api/config"
	internal_audio "github.com/rapidaai/voice-console/api/console-api/internal/audio"
	internal_audio_device "github.com/rapidaai/voice-console/api/console-api/internal/audio/device"
	internal_metrics "github.com/rapidaai/voice-console/api/console-api/internal/metrics"
	internal_session "github.com/rapidaai/voice-console/api/console-api/internal/session"
	internal_sessionstore "github.com/rapidaai/voice-console/api/console-api/internal/sessionstore"
	internal_state "github.com/rapidaai/voice-console/api/console-api/internal/state"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	console_routers "github.com/rapidaai/voice-console/api/console-api/router"
	control_client "github.com/rapidaai/voice-console/pkg/clients/control"
	"github.com/rapidaai/voice-console/pkg/commons"
	"github.com/rapidaai/voice-console/pkg/utils"
)

const shutdownTimeout = 5 * time.Second

// App is one operator console process: a session plus the local HTTP surface
// the operator UI talks to.
type App struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	session *internal_session.Session
	state   *internal_state.Store
	engine  *gin.Engine
	closers []func() error
}

func New(cfg *config.AppConfig, logger commons.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := internal_metrics.NewMetrics(reg)

	tokens := control_client.NewTokenSource(logger, cfg.ControlHost, cfg.Auth.AccessToken, cfg.Auth.RefreshToken, cfg.Auth.RefreshSkew)
	control := control_client.NewControlServiceClient(logger, cfg.ControlHost, cfg.ControlTimeout, tokens)

	registry, closeRegistry, err := internal_sessionstore.New(logger, cfg.Registry.Build())
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeRegistry)

	format, err := internal_audio_device.ParseFormat(cfg.Device.Format)
	if err != nil {
		app.close()
		return nil, err
	}
	output, err := app.openOutput(cfg.Device.Output, format)
	if err != nil {
		app.close()
		return nil, err
	}
	input, err := app.openInput(cfg.Device.Input, format, cfg.Device.Worklet)
	if err != nil {
		app.close()
		return nil, err
	}

	app.state = internal_state.NewStore(logger)
	app.session = internal_session.NewSession(logger, internal_session.Config{
		Transport: cfg.Transport.Build(),
		Playback:  cfg.Playback.Options(),
		Capture:   cfg.Capture.Build(),
		Muted:     cfg.Session.Muted,
	}, internal_session.Dependencies{
		Auth:     tokens,
		Control:  control,
		Registry: registry,
		State:    app.state,
		Metrics:  metrics,
		Output:   output,
		Input:    input,
	})

	if utils.FromEnvironmentStr(cfg.Environment).IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	app.engine = gin.New()
	app.engine.Use(gin.Recovery())
	if len(cfg.CorsOrigins) > 0 {
		app.engine.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET", "POST", "DELETE"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	console_routers.HealthCheckRoutes(cfg, app.engine, logger, app.session, reg)
	console_routers.SessionApiRoute(cfg, app.engine, logger, app.session)
	return app, nil
}

func (a *App) Handler() http.Handler {
	return a.engine
}

// Run serves the HTTP surface and the session until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	server := &http.Server{Addr: a.cfg.Address(), Handler: a.engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.session.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Infof("console listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.start(gctx)
		return nil
	})
	return g.Wait()
}

// start performs the configured startup action. Failures are reported on the
// state store and leave the console up so the operator can retry.
func (a *App) start(ctx context.Context) {
	sc := a.cfg.Session
	var err error
	switch {
	case sc.Endpoint != "":
		id := sc.ID
		if id == "" {
			id = uuid.NewString()
		}
		err = a.session.Attach(ctx, id, sc.Endpoint)
	case sc.ID != "":
		err = a.session.Resume(ctx, sc.ID)
	case sc.Launch:
		_, err = a.session.Launch(ctx, sc.Label)
	default:
		a.logger.Infof("no session configured, waiting for operator")
		return
	}
	if err != nil {
		a.logger.Errorf("startup session action failed: %v", err)
		a.state.SetLastError(err.Error())
		return
	}
	if sc.StartMicrophone {
		if err := a.session.StartMicrophone(ctx); err != nil {
			a.logger.Warnf("microphone not started: %v", err)
		}
	}
}

func (a *App) openOutput(path string, format internal_audio_device.Format) (internal_type.OutputOpener, error) {
	switch path {
	case "":
		return internal_audio_device.PipeOpener(io.Discard, format), nil
	case "-":
		return internal_audio_device.PipeOpener(os.Stdout, format), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open audio output %s: %w", path, err)
	}
	a.closers = append(a.closers, f.Close)
	return internal_audio_device.PipeOpener(f, format), nil
}

func (a *App) openInput(path string, format internal_audio_device.Format, worklet bool) (internal_type.AudioSource, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return internal_audio_device.NewReaderSource(a.logger, os.Stdin, format, internal_audio.SampleRate, worklet), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio input %s: %w", path, err)
	}
	a.closers = append(a.closers, f.Close)
	return internal_audio_device.NewReaderSource(a.logger, f, format, internal_audio.SampleRate, worklet), nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warnf("release failed: %v", err)
		}
	}
	a.closers = nil
}
