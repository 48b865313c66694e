// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	internal_metrics "github.com/rapidaai/voice-console/api/console-api/internal/metrics"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	"github.com/rapidaai/voice-console/pkg/commons"
	"github.com/rapidaai/voice-console/pkg/utils"
)

// retryCounters are reset whenever a session reaches active.
type retryCounters struct {
	wrongEndpoint int
	launch        int
	resume        int
	reconnect     int
	authRefreshed bool
}

// Transport owns the single socket of one voice session. Every connection
// attempt carries a generation; events from an older generation (socket
// reads, dial results, timers, credential refreshes) are discarded. At most
// one retry is pending at any time.
type Transport struct {
	logger  commons.Logger
	cfg     Config
	auth    internal_type.AuthProvider
	handler internal_type.MessageHandler
	metrics *internal_metrics.Metrics
	dialer  *websocket.Dialer

	mu            sync.Mutex
	machine       *fsm.FSM
	target        Target
	credential    string
	generation    uint64
	conn          *websocket.Conn
	dialCancel    context.CancelFunc
	refreshCancel context.CancelFunc
	retryTimer    *time.Timer
	authTimer     *time.Timer
	hint          CloseReason
	hintGen       uint64
	rng           *rand.Rand
	counters      retryCounters
	stats         Stats
	detail        string
	retryIn       time.Duration
	attemptStart  time.Time

	writeMu sync.Mutex

	updates chan Status
}

type Option func(*Transport)

func WithMetrics(m *internal_metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// WithRand replaces the jitter source.
func WithRand(rng *rand.Rand) Option {
	return func(t *Transport) { t.rng = rng }
}

func NewTransport(
	logger commons.Logger,
	cfg Config,
	auth internal_type.AuthProvider,
	handler internal_type.MessageHandler,
	opts ...Option,
) *Transport {
	if cfg.StatusBuffer <= 0 {
		cfg.StatusBuffer = DefaultConfig().StatusBuffer
	}
	t := &Transport{
		logger:  logger,
		cfg:     cfg,
		auth:    auth,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		updates: make(chan Status, cfg.StatusBuffer),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateIdle), string(StateRetrying)}, Dst: string(StateConnecting)},
			{Name: eventOpen, Src: []string{string(StateConnecting)}, Dst: string(StateAuthenticating)},
			{Name: eventAuthenticated, Src: []string{string(StateAuthenticating)}, Dst: string(StateActive)},
			{Name: eventDrop, Src: []string{string(StateConnecting), string(StateAuthenticating), string(StateActive)}, Dst: string(StateRetrying)},
			{Name: eventStop, Src: []string{string(StateConnecting), string(StateAuthenticating), string(StateActive), string(StateRetrying)}, Dst: string(StateClosing)},
			{Name: eventReset, Src: []string{string(StateConnecting), string(StateAuthenticating), string(StateActive), string(StateRetrying), string(StateClosing)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				t.onEnterState(e)
			},
		},
	)
	t.metrics.TransportState(string(StateIdle), allStates)
	return t
}

// =============================================================================
// Public API
// =============================================================================

// Connect starts the session on target. The transport must be idle.
func (t *Transport) Connect(ctx context.Context, target Target) error {
	if target.URL == "" {
		return ErrInvalidTarget
	}
	if target.Lifecycle == "" {
		target.Lifecycle = LifecycleSteady
	}
	if t.State() != StateIdle {
		return ErrAlreadyConnected
	}
	credential, err := t.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("websocket: obtain credential: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.machine.Is(string(StateIdle)) {
		return ErrAlreadyConnected
	}
	t.target = target
	t.credential = credential
	t.counters = retryCounters{}
	t.stats = Stats{}
	t.detail = ""
	t.logger.Infof("websocket: connecting session %s (%s) to %s", target.SessionID, target.Lifecycle, target.URL)
	t.startAttemptLocked(ReasonInitial)
	return nil
}

// Close stops the session from any state: the pending retry is cancelled,
// an in-flight dial is aborted and the socket is closed normally.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.machine.Is(string(StateIdle)) || t.machine.Is(string(StateClosing)) {
		t.mu.Unlock()
		return nil
	}
	t.generation++
	t.stopTimersLocked()
	conn := t.conn
	t.conn = nil
	t.detail = "stopped by operator"
	t.fire(eventStop)
	t.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}

	t.mu.Lock()
	t.fire(eventReset)
	t.mu.Unlock()
	t.logger.Infof("websocket: session closed")
	return nil
}

// SendAudio writes one encoded capture packet.
func (t *Transport) SendAudio(packet []byte) error {
	conn, err := t.activeConn()
	if err != nil {
		return err
	}
	return t.write(conn, websocket.BinaryMessage, packet)
}

// SendCommand writes one JSON command.
func (t *Transport) SendCommand(cmd interface{}) error {
	conn, err := t.activeConn()
	if err != nil {
		return err
	}
	return t.writeJSON(conn, cmd)
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State(t.machine.Current())
}

func (t *Transport) Target() Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.PendingRetry = t.retryTimer != nil
	return s
}

// Updates delivers a Status per transition. Slow consumers lose updates.
func (t *Transport) Updates() <-chan Status {
	return t.updates
}

// =============================================================================
// Attempt lifecycle
// =============================================================================

func (t *Transport) startAttemptLocked(reason CloseReason) {
	t.stopTimersLocked()
	t.generation++
	gen := t.generation
	t.stats.Attempts++
	t.retryIn = 0
	t.attemptStart = time.Now()
	t.metrics.ConnectionAttempt(string(reason))

	ctx, cancel := context.WithCancel(context.Background())
	t.dialCancel = cancel
	target, credential := t.target, t.credential
	t.fire(eventConnect)

	go t.run(ctx, gen, target, credential)
}

func (t *Transport) run(ctx context.Context, gen uint64, target Target, credential string) {
	attemptID := uuid.NewString()
	header := http.Header{}
	header.Set(utils.HEADER_SOURCE_KEY, utils.CONSOLE_SOURCE)
	header.Set(utils.HEADER_REQUEST_ID_KEY, attemptID)
	if target.SessionID != "" {
		header.Set(utils.HEADER_SESSION_KEY, target.SessionID)
	}

	conn, resp, err := t.dialer.DialContext(ctx, target.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.logger.Warnw("websocket: dial failed", "attempt", attemptID, "url", target.URL, "error", err)
		t.handleClosed(gen, classifyHandshake(resp), err)
		return
	}
	conn.SetReadLimit(t.cfg.ReadLimit)

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.dialCancel = nil
	t.conn = conn
	t.fire(eventOpen)
	if t.cfg.AuthTimeout > 0 {
		t.authTimer = time.AfterFunc(t.cfg.AuthTimeout, func() { t.onAuthTimeout(gen) })
	}
	t.mu.Unlock()

	t.logger.Debugf("websocket: attempt %s open, authenticating", attemptID)
	if err := t.writeJSON(conn, AuthMessage{Type: WSTypeAuth, Token: credential, SessionID: target.SessionID}); err != nil {
		t.logger.Errorf("websocket: failed to send auth: %v", err)
		_ = conn.Close()
	}

	done := make(chan struct{})
	if t.cfg.PingInterval > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * t.cfg.PingInterval))
		})
		_ = conn.SetReadDeadline(time.Now().Add(2 * t.cfg.PingInterval))
		go t.keepalive(conn, done)
	}
	t.readLoop(gen, conn)
	close(done)
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			reason, ok := t.takeHint(gen)
			if !ok {
				reason = classifyClose(err)
			}
			t.handleClosed(gen, reason, err)
			return
		}
		t.dispatch(gen, conn, messageType, data)
	}
}

func (t *Transport) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				t.logger.Debugf("websocket: ping failed: %v", err)
				return
			}
		}
	}
}

// =============================================================================
// Inbound
// =============================================================================

func (t *Transport) dispatch(gen uint64, conn *websocket.Conn, messageType int, data []byte) {
	t.mu.Lock()
	current := gen == t.generation
	state := State(t.machine.Current())
	t.mu.Unlock()
	if !current {
		return
	}

	if messageType == websocket.BinaryMessage && !looksLikeJSON(data) {
		if state != StateActive {
			t.logger.Debugf("websocket: dropping %d audio bytes received while %s", len(data), state)
			return
		}
		t.deliverAudio(data)
		return
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.logger.Warnf("websocket: ignoring malformed control frame: %v", err)
		return
	}
	switch env.Type {
	case WSTypeAuthSuccess:
		t.onAuthenticated(gen)
	case WSTypeAuthError:
		t.logger.Warnf("websocket: worker rejected credential")
		t.setHint(gen, ReasonAuthExpired)
		_ = conn.Close()
		return
	}
	t.deliverControl(string(env.Type), data)
}

func (t *Transport) deliverAudio(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("websocket: audio handler panicked", "panic", r)
		}
	}()
	t.handler.OnAudio(frame)
}

func (t *Transport) deliverControl(kind string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("websocket: control handler panicked", "type", kind, "panic", r)
		}
	}()
	t.handler.OnControl(kind, payload)
}

func (t *Transport) onAuthenticated(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation || !t.machine.Is(string(StateAuthenticating)) {
		return
	}
	if t.authTimer != nil {
		t.authTimer.Stop()
		t.authTimer = nil
	}
	t.counters = retryCounters{}
	t.target.Lifecycle = LifecycleSteady
	t.target.Resume = false
	t.detail = ""
	t.logger.Benchmark("Transport.Connect", time.Since(t.attemptStart))
	t.fire(eventAuthenticated)
}

func (t *Transport) onAuthTimeout(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.machine.Is(string(StateAuthenticating)) {
		t.mu.Unlock()
		return
	}
	t.authTimer = nil
	t.hint, t.hintGen = ReasonNetworkError, gen
	t.detail = "authentication timed out"
	conn := t.conn
	t.mu.Unlock()

	t.logger.Warnf("websocket: no auth_success within %s", t.cfg.AuthTimeout)
	if conn != nil {
		_ = conn.Close()
	}
}

func (t *Transport) setHint(gen uint64, reason CloseReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hint, t.hintGen = reason, gen
}

func (t *Transport) takeHint(gen uint64) (CloseReason, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hint == "" || t.hintGen != gen {
		return "", false
	}
	reason := t.hint
	t.hint = ""
	return reason, true
}

// =============================================================================
// Close policy
// =============================================================================

// handleClosed applies the retry policy for the attempt gen. Stale attempts
// are ignored.
func (t *Transport) handleClosed(gen uint64, reason CloseReason, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		t.logger.Debugf("websocket: ignoring close of stale attempt %d (current %d)", gen, t.generation)
		return
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	if t.authTimer != nil {
		t.authTimer.Stop()
		t.authTimer = nil
	}
	t.dialCancel = nil
	t.stats.LastReason = reason
	t.logger.Infow("websocket: attempt ended", "reason", reason, "state", t.machine.Current(), "error", cause)

	switch {
	case reason == ReasonNormal:
		t.detail = "closed by worker"
		t.fire(eventReset)

	case reason == ReasonWrongEndpoint:
		t.counters.wrongEndpoint++
		if t.counters.wrongEndpoint > t.cfg.WrongEndpointMaxRetries {
			t.failLocked(ErrWrongEndpointExhausted)
			return
		}
		t.scheduleRetryLocked(string(reason),
			randomDelay(t.cfg.WrongEndpointMinDelay, t.cfg.WrongEndpointMaxDelay, t.rng),
			"routed to another worker, retrying")

	case reason == ReasonAuthExpired:
		if t.counters.authRefreshed {
			t.failLocked(fmt.Errorf("%w: credential rejected after refresh", ErrAuthFailed))
			return
		}
		t.counters.authRefreshed = true
		t.refreshLocked()

	case reason == ReasonSessionNotFound:
		t.failLocked(fmt.Errorf("%w: worker does not know session %s", ErrSessionExpired, t.target.SessionID))

	case reason == ReasonLaunchInProgress || t.target.Lifecycle == LifecycleLaunching:
		t.counters.launch++
		if t.counters.launch > t.cfg.LaunchMaxRetries {
			t.failLocked(ErrLaunchTimeout)
			return
		}
		t.scheduleRetryLocked("launch", t.cfg.LaunchRetryInterval, "waiting for session to start")

	case t.target.Resume:
		t.counters.resume++
		if t.counters.resume >= t.cfg.ResumeMaxFailures {
			t.failLocked(fmt.Errorf("%w: %d reconnect attempts failed", ErrSessionExpired, t.counters.resume))
			return
		}
		t.scheduleRetryLocked("resume",
			NextBackoffDelay(t.cfg.Backoff, t.counters.resume, t.rng),
			"reconnecting to existing session")

	default:
		t.counters.reconnect++
		if t.counters.reconnect > t.cfg.ReconnectMaxRetries {
			t.failLocked(ErrReconnectExhausted)
			return
		}
		t.scheduleRetryLocked("reconnect",
			NextBackoffDelay(t.cfg.Backoff, t.counters.reconnect, t.rng),
			"connection lost, reconnecting")
	}
}

func (t *Transport) scheduleRetryLocked(policy string, delay time.Duration, detail string) {
	if t.retryTimer != nil {
		t.logger.Warnf("websocket: replacing pending retry timer")
		t.retryTimer.Stop()
	}
	gen := t.generation
	t.detail = detail
	t.retryIn = delay
	t.stats.RetriesScheduled++
	t.metrics.RetryScheduled(policy)
	t.retryTimer = time.AfterFunc(delay, func() { t.onRetryTimer(gen) })
	t.fire(eventDrop)
}

func (t *Transport) onRetryTimer(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation || t.retryTimer == nil {
		return
	}
	t.retryTimer = nil
	t.startAttemptLocked(t.stats.LastReason)
}

// refreshLocked obtains a new credential, then retries once.
func (t *Transport) refreshLocked() {
	gen := t.generation
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
	t.refreshCancel = cancel
	t.detail = "refreshing credential"
	t.fire(eventDrop)

	go func() {
		defer cancel()
		credential, err := t.auth.Refresh(ctx)

		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.generation || !t.machine.Is(string(StateRetrying)) {
			return
		}
		t.refreshCancel = nil
		if err != nil {
			t.failLocked(fmt.Errorf("%w: refresh: %v", ErrAuthFailed, err))
			return
		}
		t.credential = credential
		t.startAttemptLocked(ReasonAuthExpired)
	}()
}

func (t *Transport) failLocked(err error) {
	t.generation++
	t.stopTimersLocked()
	t.stats.LastError = err
	t.detail = err.Error()
	t.metrics.Fatal(string(t.stats.LastReason))
	t.logger.Errorf("websocket: giving up on session %s: %v", t.target.SessionID, err)
	t.fire(eventReset)
}

func (t *Transport) stopTimersLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	if t.authTimer != nil {
		t.authTimer.Stop()
		t.authTimer = nil
	}
	if t.dialCancel != nil {
		t.dialCancel()
		t.dialCancel = nil
	}
	if t.refreshCancel != nil {
		t.refreshCancel()
		t.refreshCancel = nil
	}
}

// =============================================================================
// State machine plumbing
// =============================================================================

// fire must be called with mu held.
func (t *Transport) fire(event string) {
	if err := t.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return
		}
		t.logger.Errorf("websocket: invalid transition %s from %s: %v", event, t.machine.Current(), err)
	}
}

// onEnterState runs inside fire, with mu held.
func (t *Transport) onEnterState(e *fsm.Event) {
	st := Status{
		State:    State(e.Dst),
		Previous: State(e.Src),
		Attempt:  t.stats.Attempts,
		Reason:   t.stats.LastReason,
		Detail:   t.detail,
		At:       time.Now(),
	}
	if st.State == StateRetrying {
		st.RetryIn = t.retryIn
	}
	if st.State == StateIdle {
		st.Err = t.stats.LastError
	}
	t.metrics.TransportState(e.Dst, allStates)

	select {
	case t.updates <- st:
	default:
		t.logger.Warnw("websocket: status channel full, dropping update", "state", st.State)
	}
}

// =============================================================================
// Outbound
// =============================================================================

func (t *Transport) activeConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.machine.Is(string(StateActive)) || t.conn == nil {
		return nil, ErrNotActive
	}
	return t.conn, nil
}

func (t *Transport) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("websocket: marshal message: %w", err)
	}
	return t.write(conn, websocket.TextMessage, data)
}

func (t *Transport) write(conn *websocket.Conn, messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}
	return nil
}
