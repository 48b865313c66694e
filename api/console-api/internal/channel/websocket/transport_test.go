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
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voice-console/pkg/commons"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeAuth struct {
	mu         sync.Mutex
	token      string
	refreshed  int
	refreshErr error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{token: "token-1"}
}

func (a *fakeAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token, nil
}

func (a *fakeAuth) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshed++
	if a.refreshErr != nil {
		return "", a.refreshErr
	}
	a.token = fmt.Sprintf("token-%d", a.refreshed+1)
	return a.token, nil
}

func (a *fakeAuth) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshed
}

type recordingHandler struct {
	mu       sync.Mutex
	audio    [][]byte
	controls []string
	panicOn  string
}

func (h *recordingHandler) OnAudio(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio = append(h.audio, frame)
}

func (h *recordingHandler) OnControl(kind string, payload []byte) {
	if kind == h.panicOn {
		panic("malformed " + kind)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controls = append(h.controls, kind)
}

func (h *recordingHandler) snapshot() ([][]byte, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.audio...), append([]string(nil), h.controls...)
}

type wireMessage struct {
	kind int
	data []byte
}

type fakeWorker struct {
	srv      *httptest.Server
	attempts atomic.Int32
	auths    chan AuthMessage
	received chan wireMessage
}

// newFakeWorker runs script for every accepted socket; attempt is 1-based.
func newFakeWorker(t *testing.T, script func(w *fakeWorker, attempt int, conn *websocket.Conn)) *fakeWorker {
	t.Helper()
	w := &fakeWorker{
		auths:    make(chan AuthMessage, 64),
		received: make(chan wireMessage, 64),
	}
	upgrader := websocket.Upgrader{}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := int(w.attempts.Add(1))
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(w, n, conn)
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *fakeWorker) url() string {
	return "ws" + strings.TrimPrefix(w.srv.URL, "http")
}

func (w *fakeWorker) readAuth(conn *websocket.Conn) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var msg AuthMessage
	if json.Unmarshal(data, &msg) == nil {
		w.auths <- msg
	}
}

func (w *fakeWorker) accept(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth_success","user":{"name":"operator"}}`))
}

func (w *fakeWorker) hold(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case w.received <- wireMessage{kind: kind, data: data}:
		default:
		}
	}
}

func reject(conn *websocket.Conn, code int) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.AuthTimeout = 2 * time.Second
	cfg.PingInterval = 0
	cfg.WrongEndpointMinDelay = time.Millisecond
	cfg.WrongEndpointMaxDelay = 5 * time.Millisecond
	cfg.LaunchRetryInterval = 5 * time.Millisecond
	cfg.Backoff = BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: 20 * time.Millisecond}
	return cfg
}

func newTestTransport(t *testing.T, cfg Config, auth *fakeAuth, handler *recordingHandler) *Transport {
	t.Helper()
	logger, _ := commons.NewApplicationLogger(commons.Name("test-transport"), commons.Level("error"))
	tr := NewTransport(logger, cfg, auth, handler, WithRand(rand.New(rand.NewSource(1))))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func waitState(t *testing.T, tr *Transport, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.State() == state }, 3*time.Second, 5*time.Millisecond,
		"transport never reached %s (now %s)", state, tr.State())
}

func waitFatal(t *testing.T, tr *Transport) error {
	t.Helper()
	require.Eventually(t, func() bool {
		return tr.Stats().LastError != nil && tr.State() == StateIdle
	}, 3*time.Second, 5*time.Millisecond)
	return tr.Stats().LastError
}

// =============================================================================
// Connection and routing
// =============================================================================

func TestTransport_ConnectAuthenticatesAndRoutes(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 160))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"prices","prices":{"YES":0.52}}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"event","event":{"kind":"note"}}`))
		w.hold(conn)
	})
	handler := &recordingHandler{}
	tr := newTestTransport(t, testConfig(), newFakeAuth(), handler)

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url(), SessionID: "sess-1"}))
	waitState(t, tr, StateActive)

	auth := <-worker.auths
	assert.Equal(t, WSTypeAuth, auth.Type)
	assert.Equal(t, "token-1", auth.Token)
	assert.Equal(t, "sess-1", auth.SessionID)

	require.Eventually(t, func() bool {
		audio, controls := handler.snapshot()
		return len(audio) == 1 && len(controls) == 3
	}, 2*time.Second, 5*time.Millisecond)
	audio, controls := handler.snapshot()
	assert.Len(t, audio[0], 160)
	assert.Equal(t, []string{"auth_success", "prices", "event"}, controls)

	require.NoError(t, tr.SendAudio([]byte{1, 2, 3}))
	msg := <-worker.received
	assert.Equal(t, websocket.BinaryMessage, msg.kind)
	assert.Equal(t, []byte{1, 2, 3}, msg.data)

	require.NoError(t, tr.SendCommand(SetBetSize(25)))
	msg = <-worker.received
	assert.Equal(t, websocket.TextMessage, msg.kind)
	assert.JSONEq(t, `{"type":"set_bet_size","dollars":25}`, string(msg.data))

	stats := tr.Stats()
	assert.Equal(t, 1, stats.Attempts)
	assert.False(t, stats.PendingRetry)
}

func TestTransport_UpdatesFollowStateMachine(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		w.hold(conn)
	})
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})
	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))

	var seen []State
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case st := <-tr.Updates():
			seen = append(seen, st.State)
		case <-timeout:
			t.Fatalf("only saw %v", seen)
		}
	}
	assert.Equal(t, []State{StateConnecting, StateAuthenticating, StateActive}, seen)

	require.NoError(t, tr.Close())
	st := <-tr.Updates()
	assert.Equal(t, StateClosing, st.State)
	st = <-tr.Updates()
	assert.Equal(t, StateIdle, st.State)
	assert.NoError(t, st.Err)
}

func TestTransport_ConnectRequiresIdle(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		w.hold(conn)
	})
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})

	assert.ErrorIs(t, tr.Connect(context.Background(), Target{}), ErrInvalidTarget)
	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	waitState(t, tr, StateActive)
	assert.ErrorIs(t, tr.Connect(context.Background(), Target{URL: worker.url()}), ErrAlreadyConnected)
}

func TestTransport_SendRequiresActive(t *testing.T) {
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})
	assert.ErrorIs(t, tr.SendAudio([]byte{0xFF}), ErrNotActive)
	assert.ErrorIs(t, tr.SendCommand(EnableAudioStream()), ErrNotActive)
}

func TestTransport_HandlerPanicDoesNotDropConnection(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"prices","prices":"garbage"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event"}`))
		w.hold(conn)
	})
	handler := &recordingHandler{panicOn: "prices"}
	tr := newTestTransport(t, testConfig(), newFakeAuth(), handler)

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	require.Eventually(t, func() bool {
		_, controls := handler.snapshot()
		return len(controls) == 2
	}, 2*time.Second, 5*time.Millisecond)
	_, controls := handler.snapshot()
	assert.Equal(t, []string{"auth_success", "event"}, controls)
	assert.Equal(t, StateActive, tr.State())
}

// =============================================================================
// Close policies
// =============================================================================

func TestTransport_WrongEndpointRetriesThenSucceeds(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		if attempt <= 3 {
			reject(conn, CloseWrongEndpoint)
			return
		}
		w.accept(conn)
		w.hold(conn)
	})
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url(), SessionID: "sess-1"}))
	waitState(t, tr, StateActive)

	stats := tr.Stats()
	assert.Equal(t, 4, stats.Attempts)
	assert.Equal(t, 3, stats.RetriesScheduled)
	assert.Equal(t, ReasonWrongEndpoint, stats.LastReason)
	assert.Equal(t, int32(4), worker.attempts.Load())
	assert.Equal(t, worker.url(), tr.Target().URL)
}

func TestTransport_WrongEndpointExhausted(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		reject(conn, CloseWrongEndpoint)
	})
	cfg := testConfig()
	cfg.WrongEndpointMaxRetries = 2
	tr := newTestTransport(t, cfg, newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	err := waitFatal(t, tr)
	assert.ErrorIs(t, err, ErrWrongEndpointExhausted)
	assert.Equal(t, 3, tr.Stats().Attempts)
}

func TestTransport_AuthExpiredRefreshesOnce(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		if attempt == 1 {
			reject(conn, CloseAuthExpired)
			return
		}
		w.accept(conn)
		w.hold(conn)
	})
	auth := newFakeAuth()
	tr := newTestTransport(t, testConfig(), auth, &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	waitState(t, tr, StateActive)

	assert.Equal(t, 1, auth.refreshCount())
	assert.Equal(t, 2, tr.Stats().Attempts)
	assert.Equal(t, "token-1", (<-worker.auths).Token)
	assert.Equal(t, "token-2", (<-worker.auths).Token)
}

func TestTransport_AuthExpiredTwiceIsFatal(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		reject(conn, CloseAuthExpired)
	})
	auth := newFakeAuth()
	tr := newTestTransport(t, testConfig(), auth, &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	err := waitFatal(t, tr)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, 1, auth.refreshCount())
	assert.Equal(t, 2, tr.Stats().Attempts)
}

func TestTransport_RefreshFailureIsFatal(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		reject(conn, CloseAuthExpired)
	})
	auth := newFakeAuth()
	auth.refreshErr = errors.New("refresh token revoked")
	tr := newTestTransport(t, testConfig(), auth, &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	err := waitFatal(t, tr)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, 1, tr.Stats().Attempts)
}

func TestTransport_AuthErrorMessageTriggersRefresh(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		if attempt == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth_error","message":"expired"}`))
			w.hold(conn)
			return
		}
		w.accept(conn)
		w.hold(conn)
	})
	auth := newFakeAuth()
	tr := newTestTransport(t, testConfig(), auth, &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	waitState(t, tr, StateActive)
	assert.Equal(t, 1, auth.refreshCount())
	assert.Equal(t, 2, tr.Stats().Attempts)
}

func TestTransport_LaunchInProgressRetriesAtFixedInterval(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		switch attempt {
		case 1:
			reject(conn, CloseLaunchInProgress)
		case 2:
			// an abrupt drop while launching follows the launch policy too
			_ = conn.Close()
		default:
			w.accept(conn)
			w.hold(conn)
		}
	})
	cfg := testConfig()
	cfg.ReconnectMaxRetries = 0
	tr := newTestTransport(t, cfg, newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url(), Lifecycle: LifecycleLaunching}))
	waitState(t, tr, StateActive)

	stats := tr.Stats()
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, 2, stats.RetriesScheduled)
	assert.Equal(t, LifecycleSteady, tr.Target().Lifecycle)
}

func TestTransport_LaunchTimeout(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		reject(conn, CloseLaunchInProgress)
	})
	cfg := testConfig()
	cfg.LaunchMaxRetries = 2
	tr := newTestTransport(t, cfg, newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url(), Lifecycle: LifecycleLaunching}))
	err := waitFatal(t, tr)
	assert.ErrorIs(t, err, ErrLaunchTimeout)
	assert.Equal(t, 3, tr.Stats().Attempts)
}

func TestTransport_ResumeFailuresExpireSession(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(rw, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})
	target := Target{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), SessionID: "old", Resume: true}
	require.NoError(t, tr.Connect(context.Background(), target))

	err := waitFatal(t, tr)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 3, tr.Stats().Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestTransport_SessionNotFoundExpiresImmediately(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		reject(conn, CloseSessionNotFound)
	})
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url(), SessionID: "gone"}))
	err := waitFatal(t, tr)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 1, tr.Stats().Attempts)
}

func TestTransport_NormalCloseDoesNotRetry(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		reject(conn, websocket.CloseNormalClosure)
	})
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	require.Eventually(t, func() bool {
		return tr.Stats().LastReason == ReasonNormal && tr.State() == StateIdle
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	stats := tr.Stats()
	assert.NoError(t, stats.LastError)
	assert.False(t, stats.PendingRetry)
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, int32(1), worker.attempts.Load())
}

func TestTransport_UnexpectedDropReconnects(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		if attempt == 1 {
			time.Sleep(20 * time.Millisecond)
			return
		}
		w.hold(conn)
	})
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	require.Eventually(t, func() bool {
		return tr.Stats().Attempts == 2 && tr.State() == StateActive
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, ReasonNetworkError, tr.Stats().LastReason)
}

func TestTransport_AuthTimeoutClosesSocket(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.hold(conn)
	})
	cfg := testConfig()
	cfg.AuthTimeout = 50 * time.Millisecond
	cfg.ReconnectMaxRetries = 0
	tr := newTestTransport(t, cfg, newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	err := waitFatal(t, tr)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, ReasonNetworkError, tr.Stats().LastReason)
	assert.Equal(t, 1, tr.Stats().Attempts)
}

// =============================================================================
// Timer and generation invariants
// =============================================================================

func TestTransport_StopDuringBackoffCancelsRetry(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		time.Sleep(20 * time.Millisecond)
	})
	cfg := testConfig()
	cfg.Backoff = BackoffConfig{InitialDelay: 300 * time.Millisecond, Multiplier: 2}
	tr := newTestTransport(t, cfg, newFakeAuth(), &recordingHandler{})

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	require.Eventually(t, func() bool {
		return tr.State() == StateRetrying && tr.Stats().PendingRetry
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	assert.Equal(t, StateIdle, tr.State())
	assert.False(t, tr.Stats().PendingRetry)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), worker.attempts.Load(), "no attempt may start after stop")
	assert.Equal(t, 1, tr.Stats().Attempts)
	assert.Equal(t, StateIdle, tr.State())
}

func TestTransport_StaleEventsIgnored(t *testing.T) {
	worker := newFakeWorker(t, func(w *fakeWorker, attempt int, conn *websocket.Conn) {
		w.readAuth(conn)
		w.accept(conn)
		w.hold(conn)
	})
	handler := &recordingHandler{}
	tr := newTestTransport(t, testConfig(), newFakeAuth(), handler)

	require.NoError(t, tr.Connect(context.Background(), Target{URL: worker.url()}))
	waitState(t, tr, StateActive)

	tr.mu.Lock()
	stale := tr.generation - 1
	tr.mu.Unlock()

	tr.handleClosed(stale, ReasonNetworkError, errors.New("late close of previous socket"))
	tr.dispatch(stale, nil, websocket.BinaryMessage, make([]byte, 160))
	tr.onRetryTimer(stale)
	tr.onAuthTimeout(stale)

	assert.Equal(t, StateActive, tr.State())
	stats := tr.Stats()
	assert.False(t, stats.PendingRetry)
	assert.Equal(t, 1, stats.Attempts)
	audio, _ := handler.snapshot()
	assert.Empty(t, audio)
}

func TestTransport_CloseWhenIdleIsNoop(t *testing.T) {
	tr := newTestTransport(t, testConfig(), newFakeAuth(), &recordingHandler{})
	assert.NoError(t, tr.Close())
	assert.Equal(t, StateIdle, tr.State())
}
