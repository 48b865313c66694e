// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	internal_audio_capture "github.com/rapidaai/voice-console/api/console-api/internal/audio/capture"
	internal_audio_playback "github.com/rapidaai/voice-console/api/console-api/internal/audio/playback"
	channel_websocket "github.com/rapidaai/voice-console/api/console-api/internal/channel/websocket"
	internal_control "github.com/rapidaai/voice-console/api/console-api/internal/control"
	internal_metrics "github.com/rapidaai/voice-console/api/console-api/internal/metrics"
	internal_sessionstore "github.com/rapidaai/voice-console/api/console-api/internal/sessionstore"
	internal_state "github.com/rapidaai/voice-console/api/console-api/internal/state"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	control_client "github.com/rapidaai/voice-console/pkg/clients/control"
	"github.com/rapidaai/voice-console/pkg/commons"
)

var (
	ErrNoSession      = errors.New("session: no session is connected")
	ErrNoMicrophone   = errors.New("session: no audio input configured")
	ErrSessionRunning = errors.New("session: a session is already connected")
)

type Config struct {
	Transport channel_websocket.Config
	Playback  []internal_audio_playback.Option
	Capture   internal_audio_capture.Config
	Muted     bool
	// RegistryTimeout bounds registry writes made from the status watcher.
	RegistryTimeout time.Duration
}

type Dependencies struct {
	Auth     internal_type.AuthProvider
	Control  control_client.ControlServiceClient
	Registry internal_sessionstore.Store
	State    *internal_state.Store
	Metrics  *internal_metrics.Metrics
	Output   internal_type.OutputOpener
	// Input may be nil when the console only listens.
	Input internal_type.AudioSource
}

// Session owns every handle of one operator engagement: the socket, the
// playback scheduler, the capture pipeline and the state they feed.
type Session struct {
	logger commons.Logger
	cfg    Config
	deps   Dependencies

	transport *channel_websocket.Transport
	router    *internal_control.Router
	capture   *internal_audio_capture.Pipeline

	// startMu is held from the idle check until the transport leaves idle,
	// and while an ended session is released.
	startMu sync.Mutex

	mu        sync.Mutex
	scheduler *internal_audio_playback.Scheduler
	sessionID string
	muted     bool
}

func NewSession(logger commons.Logger, cfg Config, deps Dependencies) *Session {
	if cfg.RegistryTimeout <= 0 {
		cfg.RegistryTimeout = 5 * time.Second
	}
	s := &Session{
		logger: logger,
		cfg:    cfg,
		deps:   deps,
		router: internal_control.NewRouter(logger, deps.State, deps.Metrics),
		muted:  cfg.Muted,
	}
	s.transport = channel_websocket.NewTransport(logger, cfg.Transport, deps.Auth, s,
		channel_websocket.WithMetrics(deps.Metrics))
	if deps.Input != nil {
		s.capture = internal_audio_capture.NewPipeline(logger, deps.Input, s.transport, cfg.Capture, deps.Metrics,
			internal_audio_capture.WithErrorHandler(s.onCaptureFailed))
	}
	return s
}

// =============================================================================
// Session lifecycle
// =============================================================================

// Launch starts a new worker session and connects to it while it boots.
// A worker session that cannot be connected is stopped again.
func (s *Session) Launch(ctx context.Context, label string) (string, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if err := s.checkIdle(); err != nil {
		return "", err
	}
	endpoint, err := s.deps.Control.Launch(ctx, label)
	if err != nil {
		return "", err
	}
	if err := s.deps.Registry.Save(ctx, &internal_sessionstore.KnownSession{
		SessionID: endpoint.SessionID,
		Endpoint:  endpoint.Endpoint,
		Label:     label,
	}); err != nil {
		s.logger.Warnf("session: unable to remember session %s: %v", endpoint.SessionID, err)
	}
	err = s.connect(ctx, channel_websocket.Target{
		URL:       endpoint.Endpoint,
		SessionID: endpoint.SessionID,
		Lifecycle: channel_websocket.LifecycleLaunching,
	})
	if err != nil {
		s.abandon(endpoint.SessionID)
		return "", err
	}
	return endpoint.SessionID, nil
}

// Resume reconnects to a session that already runs on a worker.
func (s *Session) Resume(ctx context.Context, sessionID string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if err := s.checkIdle(); err != nil {
		return err
	}
	endpoint, err := s.deps.Control.Connect(ctx, sessionID)
	if errors.Is(err, control_client.ErrNotFound) {
		s.forget(sessionID)
		return fmt.Errorf("%w: %v", channel_websocket.ErrSessionExpired, err)
	}
	if err != nil {
		return err
	}
	return s.attach(ctx, sessionID, endpoint.Endpoint)
}

// Attach connects to a known endpoint without asking the control API.
func (s *Session) Attach(ctx context.Context, sessionID, endpoint string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if err := s.checkIdle(); err != nil {
		return err
	}
	return s.attach(ctx, sessionID, endpoint)
}

func (s *Session) attach(ctx context.Context, sessionID, endpoint string) error {
	return s.connect(ctx, channel_websocket.Target{
		URL:       endpoint,
		SessionID: sessionID,
		Lifecycle: channel_websocket.LifecycleSteady,
		Resume:    true,
	})
}

// checkIdle must run under startMu, before anything is replaced.
func (s *Session) checkIdle() error {
	if s.transport.State() != channel_websocket.StateIdle {
		return ErrSessionRunning
	}
	return nil
}

// connect runs under startMu with the transport idle. On failure it
// releases only the scheduler it created.
func (s *Session) connect(ctx context.Context, target channel_websocket.Target) error {
	opts := append([]internal_audio_playback.Option{internal_audio_playback.WithMetrics(s.deps.Metrics)}, s.cfg.Playback...)
	scheduler := internal_audio_playback.NewScheduler(s.logger, s.deps.Output, opts...)

	s.mu.Lock()
	previous := s.scheduler
	scheduler.SetMuted(s.muted)
	s.scheduler = scheduler
	s.sessionID = target.SessionID
	s.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	s.deps.State.Reset()
	err := s.transport.Connect(ctx, target)
	if err == nil {
		return nil
	}
	if errors.Is(err, channel_websocket.ErrAlreadyConnected) {
		return ErrSessionRunning
	}
	s.mu.Lock()
	if s.scheduler == scheduler {
		s.scheduler = nil
		s.sessionID = ""
	}
	s.mu.Unlock()
	if cerr := scheduler.Close(); cerr != nil {
		s.logger.Warnf("session: releasing playback output: %v", cerr)
	}
	return err
}

// abandon stops a launched worker session that never got connected.
func (s *Session) abandon(sessionID string) {
	s.forget(sessionID)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RegistryTimeout)
	defer cancel()
	if err := s.deps.Control.Stop(ctx, sessionID); err != nil {
		s.logger.Warnf("session: unable to stop abandoned session %s: %v", sessionID, err)
	}
}

// Stop ends the engagement: local resources are released and the worker
// session is shut down and forgotten.
func (s *Session) Stop(ctx context.Context) error {
	sessionID := s.SessionID()
	s.teardown()
	if sessionID == "" {
		return ErrNoSession
	}
	s.forget(sessionID)
	return s.deps.Control.Stop(ctx, sessionID)
}

// Close releases local resources and leaves the worker session running so it
// can be resumed later.
func (s *Session) Close() error {
	s.teardown()
	return nil
}

// teardown releases, in order, the audio input device, the playback output
// and the socket with its pending retry timer. It is the only exit path.
func (s *Session) teardown() {
	if s.capture != nil {
		if err := s.capture.Stop(); err != nil {
			s.logger.Warnf("session: releasing microphone: %v", err)
		}
	}
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler != nil {
		if err := scheduler.Close(); err != nil {
			s.logger.Warnf("session: releasing playback output: %v", err)
		}
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Warnf("session: closing transport: %v", err)
	}
}

func (s *Session) forget(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RegistryTimeout)
	defer cancel()
	if err := s.deps.Registry.Remove(ctx, sessionID); err != nil {
		s.logger.Warnf("session: unable to forget session %s: %v", sessionID, err)
	}
}

// =============================================================================
// Operator controls
// =============================================================================

// SetMuted toggles playback. Muted frames are counted and discarded.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if s.scheduler != nil {
		s.scheduler.SetMuted(muted)
	}
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// StartMicrophone begins streaming operator audio. A denied permission is
// recorded on the state store and returned; the session stays connected.
func (s *Session) StartMicrophone(ctx context.Context) error {
	if s.capture == nil {
		return ErrNoMicrophone
	}
	if err := s.capture.Start(ctx); err != nil {
		if errors.Is(err, internal_audio_capture.ErrPermissionDenied) || errors.Is(err, internal_audio_capture.ErrUnsupported) {
			s.deps.State.SetLastError(err.Error())
		}
		return err
	}
	return nil
}

func (s *Session) StopMicrophone() error {
	if s.capture == nil {
		return nil
	}
	return s.capture.Stop()
}

func (s *Session) MicrophoneActive() bool {
	return s.capture != nil && s.capture.Running()
}

// onCaptureFailed runs after the input device failed mid-stream. The
// pipeline has released the device already; the socket stays up.
func (s *Session) onCaptureFailed(err error) {
	s.logger.Errorf("session: %v", err)
	s.deps.State.SetLastError(err.Error())
}

func (s *Session) MicrophoneLevel() float32 {
	if s.capture == nil {
		return 0
	}
	return s.capture.Level()
}

func (s *Session) SetBetSize(dollars float64) error {
	return s.transport.SendCommand(channel_websocket.SetBetSize(dollars))
}

func (s *Session) RequestTradingParams() error {
	return s.transport.SendCommand(channel_websocket.GetTradingParams())
}

// =============================================================================
// Accessors
// =============================================================================

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) State() channel_websocket.State {
	return s.transport.State()
}

func (s *Session) Ready() bool {
	return s.transport.State() == channel_websocket.StateActive
}

func (s *Session) TransportStats() channel_websocket.Stats {
	return s.transport.Stats()
}

func (s *Session) PlaybackStats() internal_audio_playback.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return internal_audio_playback.Stats{}
	}
	return s.scheduler.Stats()
}

func (s *Session) CaptureStats() internal_audio_capture.Stats {
	if s.capture == nil {
		return internal_audio_capture.Stats{}
	}
	return s.capture.Stats()
}

func (s *Session) Snapshot() internal_state.Snapshot {
	return s.deps.State.Snapshot()
}

// =============================================================================
// Inbound traffic
// =============================================================================

func (s *Session) OnAudio(frame []byte) {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler == nil {
		return
	}
	if err := scheduler.Enqueue(frame); err != nil && !errors.Is(err, internal_audio_playback.ErrSchedulerClosed) {
		s.logger.Warnf("session: playback failed: %v", err)
	}
}

func (s *Session) OnControl(kind string, payload []byte) {
	if err := s.router.Route(kind, payload); err != nil {
		s.logger.Warnf("session: dropping control message: %v", err)
	}
}

// Subscribe wakes the caller after every state change.
func (s *Session) Subscribe() <-chan uint64 {
	return s.deps.State.Subscribe()
}

func (s *Session) Unsubscribe(ch <-chan uint64) {
	s.deps.State.Unsubscribe(ch)
}
