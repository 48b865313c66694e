// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/voice-console/pkg/commons"
)

type memoryStore struct {
	logger   commons.Logger
	mu       sync.RWMutex
	sessions map[string]KnownSession
}

// NewMemoryStore keeps sessions for the lifetime of the process.
func NewMemoryStore(logger commons.Logger) Store {
	return &memoryStore{logger: logger, sessions: make(map[string]KnownSession)}
}

func (m *memoryStore) Save(ctx context.Context, s *KnownSession) error {
	if err := prepare(s); err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[s.SessionID] = *s
	m.mu.Unlock()
	m.logger.Debugf("saved known session: sessionId=%s, endpoint=%s", s.SessionID, s.Endpoint)
	return nil
}

func (m *memoryStore) Get(ctx context.Context, sessionID string) (*KnownSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *memoryStore) List(ctx context.Context) ([]KnownSession, error) {
	m.mu.RLock()
	out := make([]KnownSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sortByRecency(out)
	return out, nil
}

func (m *memoryStore) Remove(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastConnected = at
	m.sessions[sessionID] = s
	return nil
}
