// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package health_check_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/voice-console/api/console-api/config"
	"github.com/rapidaai/voice-console/pkg/commons"
)

// Probe reports whether the console is serving a live session.
type Probe interface {
	Ready() bool
	SessionID() string
}

type HealthCheckApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	probe  Probe
}

func New(cfg *config.AppConfig, logger commons.Logger, probe Probe) *HealthCheckApi {
	return &HealthCheckApi{cfg: cfg, logger: logger, probe: probe}
}

// @Router /healthz/ [get]
func (h *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"healthy": true,
		"service": h.cfg.Name,
		"version": h.cfg.Version,
	})
}

// Readiness is 200 only while a session socket is active.
//
// @Router /readiness/ [get]
func (h *HealthCheckApi) Readiness(c *gin.Context) {
	if !h.probe.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "session_id": h.probe.SessionID()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "session_id": h.probe.SessionID()})
}
