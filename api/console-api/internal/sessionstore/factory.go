// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_sessionstore

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voice-console/pkg/commons"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	TTL           time.Duration
}

// New builds the configured backend. The returned func releases it.
func New(logger commons.Logger, cfg Config) (Store, func() error, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(logger), func() error { return nil }, nil
	case BackendSQLite:
		return NewSQLiteStore(logger, cfg.SQLitePath)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, logger, cfg.RedisKey, cfg.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
