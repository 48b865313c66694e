// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	console_api "github.com/rapidaai/voice-console/api/console-api"
	"github.com/rapidaai/voice-console/api/console-api/config"
	"github.com/rapidaai/voice-console/pkg/commons"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Unable to load config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		log.Fatalf("Unable to create logger: %v", err)
	}
	defer logger.Sync()

	app, err := console_api.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Unable to start console: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("Starting %s %s", cfg.Name, cfg.Version)
	if err := app.Run(ctx); err != nil {
		logger.Errorf("console stopped with error: %v", err)
	}
	logger.Infof("Shutting down...")
}
