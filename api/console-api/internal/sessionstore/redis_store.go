// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voice-console/pkg/commons"
)

// DefaultRedisKey is the hash holding one json field per session.
const DefaultRedisKey = "{console}:known_sessions"

type redisStore struct {
	client *redis.Client
	logger commons.Logger
	key    string
	ttl    time.Duration
}

// NewRedisStore shares the registry between consoles on one desk. A positive
// ttl expires the whole hash after the last write.
func NewRedisStore(client *redis.Client, logger commons.Logger, key string, ttl time.Duration) Store {
	if key == "" {
		key = DefaultRedisKey
	}
	return &redisStore{client: client, logger: logger, key: key, ttl: ttl}
}

func (r *redisStore) Save(ctx context.Context, s *KnownSession) error {
	if err := prepare(s); err != nil {
		return err
	}
	return r.write(ctx, s)
}

func (r *redisStore) write(ctx context.Context, s *KnownSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.key, s.SessionID, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to save known session %s: %w", s.SessionID, err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, r.key, r.ttl).Err(); err != nil {
			r.logger.Warnw("sessionstore: failed to refresh registry ttl", "key", r.key, "error", err)
		}
	}
	return nil
}

func (r *redisStore) Get(ctx context.Context, sessionID string) (*KnownSession, error) {
	raw, err := r.client.HGet(ctx, r.key, sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get known session %s: %w", sessionID, err)
	}
	var s KnownSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("corrupt known session %s: %w", sessionID, err)
	}
	return &s, nil
}

func (r *redisStore) List(ctx context.Context) ([]KnownSession, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list known sessions: %w", err)
	}
	out := make([]KnownSession, 0, len(fields))
	for id, raw := range fields {
		var s KnownSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			r.logger.Warnw("sessionstore: skipping corrupt entry", "session_id", id, "error", err)
			continue
		}
		out = append(out, s)
	}
	sortByRecency(out)
	return out, nil
}

func (r *redisStore) Remove(ctx context.Context, sessionID string) error {
	if err := r.client.HDel(ctx, r.key, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to remove known session %s: %w", sessionID, err)
	}
	r.logger.Debugf("removed known session: sessionId=%s", sessionID)
	return nil
}

func (r *redisStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	s, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	s.LastConnected = at
	return r.write(ctx, s)
}
