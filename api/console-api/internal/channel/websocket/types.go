// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_websocket

import (
	"errors"
	"time"
)

// =============================================================================
// Wire message types
// =============================================================================

// WSMessageType is the "type" tag carried by every JSON frame.
type WSMessageType string

const (
	// client -> worker
	WSTypeAuth              WSMessageType = "auth"
	WSTypeEnableAudioStream WSMessageType = "enable_audio_stream"
	WSTypeGetTradingParams  WSMessageType = "get_trading_params"
	WSTypeSetBetSize        WSMessageType = "set_bet_size"
	WSTypePing              WSMessageType = "ping"

	// worker -> client, handled by the transport itself
	WSTypeAuthSuccess WSMessageType = "auth_success"
	WSTypeAuthError   WSMessageType = "auth_error"
)

type AuthMessage struct {
	Type      WSMessageType `json:"type"`
	Token     string        `json:"token"`
	SessionID string        `json:"session_id,omitempty"`
}

// CommandMessage is a bare command without payload.
type CommandMessage struct {
	Type WSMessageType `json:"type"`
}

type BetSizeMessage struct {
	Type    WSMessageType `json:"type"`
	Dollars float64       `json:"dollars"`
}

func EnableAudioStream() CommandMessage {
	return CommandMessage{Type: WSTypeEnableAudioStream}
}

func GetTradingParams() CommandMessage {
	return CommandMessage{Type: WSTypeGetTradingParams}
}

func SetBetSize(dollars float64) BetSizeMessage {
	return BetSizeMessage{Type: WSTypeSetBetSize, Dollars: dollars}
}

type envelope struct {
	Type WSMessageType `json:"type"`
}

// =============================================================================
// Close codes and reasons
// =============================================================================

// Application close codes sent by the worker.
const (
	CloseAuthExpired      = 4001
	CloseWrongEndpoint    = 4002
	CloseLaunchInProgress = 4003
	CloseSessionNotFound  = 4004
)

// CloseReason classifies why an attempt ended; it selects the retry policy.
type CloseReason string

const (
	ReasonInitial          CloseReason = "initial"
	ReasonNormal           CloseReason = "normal"
	ReasonWrongEndpoint    CloseReason = "wrong_endpoint"
	ReasonAuthExpired      CloseReason = "auth_expired"
	ReasonLaunchInProgress CloseReason = "launch_in_progress"
	ReasonSessionNotFound  CloseReason = "session_not_found"
	ReasonNetworkError     CloseReason = "network_error"
)

// =============================================================================
// States
// =============================================================================

type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateClosing        State = "closing"
	StateRetrying       State = "retrying"
)

var allStates = []string{
	string(StateIdle),
	string(StateConnecting),
	string(StateAuthenticating),
	string(StateActive),
	string(StateClosing),
	string(StateRetrying),
}

const (
	eventConnect       = "connect"
	eventOpen          = "open"
	eventAuthenticated = "authenticated"
	eventDrop          = "drop"
	eventStop          = "stop"
	eventReset         = "reset"
)

// Lifecycle tells the transport whether the remote worker may still be starting.
type Lifecycle string

const (
	LifecycleLaunching Lifecycle = "launching"
	LifecycleSteady    Lifecycle = "steady"
)

// Target is the session a transport connects to.
type Target struct {
	URL       string
	SessionID string
	Lifecycle Lifecycle
	// Resume marks a reconnect to a session that existed before this process
	// connected; repeated failures then mean the session is gone.
	Resume bool
}

// Status is emitted on every state transition.
type Status struct {
	State    State
	Previous State
	Attempt  int
	Reason   CloseReason
	Detail   string
	RetryIn  time.Duration
	Err      error
	At       time.Time
}

type Stats struct {
	Attempts         int
	RetriesScheduled int
	PendingRetry     bool
	LastReason       CloseReason
	LastError        error
}

var (
	ErrAlreadyConnected       = errors.New("websocket: session already owned by this transport")
	ErrInvalidTarget          = errors.New("websocket: target url is required")
	ErrNotActive              = errors.New("websocket: transport is not active")
	ErrWrongEndpointExhausted = errors.New("websocket: wrong endpoint retries exhausted")
	ErrAuthFailed             = errors.New("websocket: authentication failed")
	ErrLaunchTimeout          = errors.New("websocket: session did not finish launching")
	ErrSessionExpired         = errors.New("websocket: session expired")
	ErrReconnectExhausted     = errors.New("websocket: reconnect attempts exhausted")
)
