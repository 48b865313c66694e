// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package console_routers

import (
	"github.com/gin-gonic/gin"

	sessionApi "github.com/rapidaai/voice-console/api/console-api/api/session"
	"github.com/rapidaai/voice-console/api/console-api/config"
	"github.com/rapidaai/voice-console/pkg/commons"
)

func SessionApiRoute(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, controller sessionApi.Controller) {
	logger.Info("SessionApiRoute added to engine.")
	apiv1 := engine.Group("/v1")
	sApi := sessionApi.New(logger, controller)
	{
		apiv1.GET("/state", sApi.State)
		apiv1.GET("/state/stream", sApi.StateStream)
		apiv1.GET("/stats", sApi.Stats)
		apiv1.GET("/sessions", sApi.Sessions)
		apiv1.POST("/sessions", sApi.Launch)
		apiv1.POST("/sessions/:sessionId/resume", sApi.Resume)
		apiv1.POST("/session/stop", sApi.Stop)
		apiv1.POST("/session/mute", sApi.Mute)
		apiv1.POST("/session/microphone", sApi.StartMicrophone)
		apiv1.DELETE("/session/microphone", sApi.StopMicrophone)
		apiv1.POST("/session/bet-size", sApi.SetBetSize)
		apiv1.POST("/session/trading-params", sApi.RequestTradingParams)
	}
}
