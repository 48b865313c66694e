// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package console_session_api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	internal_audio_capture "github.com/rapidaai/voice-console/api/console-api/internal/audio/capture"
	internal_audio_playback "github.com/rapidaai/voice-console/api/console-api/internal/audio/playback"
	channel_websocket "github.com/rapidaai/voice-console/api/console-api/internal/channel/websocket"
	internal_session "github.com/rapidaai/voice-console/api/console-api/internal/session"
	internal_state "github.com/rapidaai/voice-console/api/console-api/internal/state"
	control_client "github.com/rapidaai/voice-console/pkg/clients/control"
	"github.com/rapidaai/voice-console/pkg/commons"
)

// Controller is the session surface exposed to the operator UI.
type Controller interface {
	Launch(ctx context.Context, label string) (string, error)
	Resume(ctx context.Context, sessionID string) error
	Stop(ctx context.Context) error
	Sessions(ctx context.Context) ([]internal_session.SessionView, error)

	SetMuted(muted bool)
	Muted() bool
	StartMicrophone(ctx context.Context) error
	StopMicrophone() error
	MicrophoneLevel() float32
	SetBetSize(dollars float64) error
	RequestTradingParams() error

	SessionID() string
	State() channel_websocket.State
	TransportStats() channel_websocket.Stats
	PlaybackStats() internal_audio_playback.Stats
	CaptureStats() internal_audio_capture.Stats
	Snapshot() internal_state.Snapshot
	Subscribe() <-chan uint64
	Unsubscribe(ch <-chan uint64)
}

type SessionApi struct {
	logger     commons.Logger
	controller Controller
}

func New(logger commons.Logger, controller Controller) *SessionApi {
	return &SessionApi{logger: logger, controller: controller}
}

type launchRequest struct {
	Label string `json:"label"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type betSizeRequest struct {
	Dollars *float64 `json:"dollars" binding:"required,gte=0"`
}

// @Router /v1/state [get]
func (a *SessionApi) State(c *gin.Context) {
	c.JSON(http.StatusOK, a.controller.Snapshot())
}

// @Router /v1/stats [get]
func (a *SessionApi) Stats(c *gin.Context) {
	transport := a.controller.TransportStats()
	lastErr := ""
	if transport.LastError != nil {
		lastErr = transport.LastError.Error()
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": a.controller.SessionID(),
		"state":      a.controller.State(),
		"transport": gin.H{
			"attempts":          transport.Attempts,
			"retries_scheduled": transport.RetriesScheduled,
			"pending_retry":     transport.PendingRetry,
			"last_reason":       transport.LastReason,
			"last_error":        lastErr,
		},
		"playback":         a.controller.PlaybackStats(),
		"capture":          a.controller.CaptureStats(),
		"microphone_level": a.controller.MicrophoneLevel(),
		"muted":            a.controller.Muted(),
	})
}

// @Router /v1/sessions [get]
func (a *SessionApi) Sessions(c *gin.Context) {
	views, err := a.controller.Sessions(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// @Router /v1/sessions [post]
func (a *SessionApi) Launch(c *gin.Context) {
	var req launchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	id, err := a.controller.Launch(c.Request.Context(), req.Label)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id})
}

// @Router /v1/sessions/:sessionId/resume [post]
func (a *SessionApi) Resume(c *gin.Context) {
	id := c.Param("sessionId")
	if err := a.controller.Resume(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id})
}

// @Router /v1/session/stop [post]
func (a *SessionApi) Stop(c *gin.Context) {
	if err := a.controller.Stop(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Router /v1/session/mute [post]
func (a *SessionApi) Mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.controller.SetMuted(*req.Muted)
	c.JSON(http.StatusOK, gin.H{"muted": a.controller.Muted()})
}

// @Router /v1/session/microphone [post]
func (a *SessionApi) StartMicrophone(c *gin.Context) {
	if err := a.controller.StartMicrophone(context.Background()); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Router /v1/session/microphone [delete]
func (a *SessionApi) StopMicrophone(c *gin.Context) {
	if err := a.controller.StopMicrophone(); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Router /v1/session/bet-size [post]
func (a *SessionApi) SetBetSize(c *gin.Context) {
	var req betSizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.controller.SetBetSize(*req.Dollars); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// @Router /v1/session/trading-params [post]
func (a *SessionApi) RequestTradingParams(c *gin.Context) {
	if err := a.controller.RequestTradingParams(); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *SessionApi) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Errorf("session api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, internal_session.ErrSessionRunning),
		errors.Is(err, channel_websocket.ErrAlreadyConnected),
		errors.Is(err, channel_websocket.ErrNotActive),
		errors.Is(err, internal_audio_capture.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, internal_session.ErrNoSession),
		errors.Is(err, control_client.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, channel_websocket.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, internal_audio_capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, internal_session.ErrNoMicrophone),
		errors.Is(err, internal_audio_capture.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, control_client.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}
