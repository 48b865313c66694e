// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_sessionstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rapidaai/voice-console/pkg/utils"
)

var (
	ErrSessionNotFound = errors.New("sessionstore: session not found")
	ErrInvalidSession  = errors.New("sessionstore: session id is required")
	ErrUnknownBackend  = errors.New("sessionstore: unknown backend")
)

// KnownSession is a worker session the operator can reconnect to.
//
// Rows are written on launch, touched on every successful connection and
// removed once the worker reports the session gone.
type KnownSession struct {
	SessionID     string    `json:"sessionId" gorm:"column:session_id;type:varchar(64);primaryKey"`
	Endpoint      string    `json:"endpoint" gorm:"column:endpoint;type:text;not null;default:''"`
	Label         string    `json:"label,omitempty" gorm:"column:label;type:varchar(200);not null;default:''"`
	CreatedDate   time.Time `json:"createdDate" gorm:"column:created_date;not null"`
	LastConnected time.Time `json:"lastConnected,omitempty" gorm:"column:last_connected"`
}

func (KnownSession) TableName() string {
	return "known_sessions"
}

// Store keeps the list of known sessions.
type Store interface {
	// Save inserts or replaces a session. CreatedDate defaults to now.
	Save(ctx context.Context, s *KnownSession) error

	Get(ctx context.Context, sessionID string) (*KnownSession, error)

	// List returns sessions most recently connected first.
	List(ctx context.Context) ([]KnownSession, error)

	// Remove deletes a session. Removing an unknown id is not an error.
	Remove(ctx context.Context, sessionID string) error

	// Touch records a successful connection.
	Touch(ctx context.Context, sessionID string, at time.Time) error
}

func sortByRecency(sessions []KnownSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := recency(sessions[i]), recency(sessions[j])
		if a.Equal(b) {
			return sessions[i].SessionID < sessions[j].SessionID
		}
		return a.After(b)
	})
}

func recency(s KnownSession) time.Time {
	if s.LastConnected.After(s.CreatedDate) {
		return s.LastConnected
	}
	return s.CreatedDate
}

func prepare(s *KnownSession) error {
	if s == nil || utils.IsEmpty(s.SessionID) {
		return ErrInvalidSession
	}
	if s.CreatedDate.IsZero() {
		s.CreatedDate = time.Now().UTC()
	}
	return nil
}
