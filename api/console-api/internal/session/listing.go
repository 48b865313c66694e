// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	internal_sessionstore "github.com/rapidaai/voice-console/api/console-api/internal/sessionstore"
	control_client "github.com/rapidaai/voice-console/pkg/clients/control"
)

// SessionView is a session the operator can pick, combining the local
// registry with what the control API reports.
type SessionView struct {
	SessionID     string    `json:"session_id"`
	Endpoint      string    `json:"endpoint"`
	Label         string    `json:"label,omitempty"`
	Status        string    `json:"status"`
	Known         bool      `json:"known"`
	Current       bool      `json:"current"`
	LastConnected time.Time `json:"last_connected,omitempty"`
}

// Sessions lists sessions from the registry and the control API. Known
// sessions the control API no longer reports are dropped from the registry.
func (s *Session) Sessions(ctx context.Context) ([]SessionView, error) {
	var (
		known  []internal_sessionstore.KnownSession
		remote []control_client.SessionSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		known, err = s.deps.Registry.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		remote, err = s.deps.Control.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	current := s.SessionID()
	live := make(map[string]control_client.SessionSummary, len(remote))
	for _, r := range remote {
		live[r.SessionID] = r
	}

	out := make([]SessionView, 0, len(remote))
	seen := make(map[string]bool, len(known))
	for _, k := range known {
		r, ok := live[k.SessionID]
		if !ok {
			if k.SessionID != current {
				s.forget(k.SessionID)
			}
			continue
		}
		seen[k.SessionID] = true
		endpoint := r.Endpoint
		if endpoint == "" {
			endpoint = k.Endpoint
		}
		out = append(out, SessionView{
			SessionID:     k.SessionID,
			Endpoint:      endpoint,
			Label:         k.Label,
			Status:        r.Status,
			Known:         true,
			Current:       k.SessionID == current,
			LastConnected: k.LastConnected,
		})
	}
	for _, r := range remote {
		if seen[r.SessionID] {
			continue
		}
		out = append(out, SessionView{
			SessionID: r.SessionID,
			Endpoint:  r.Endpoint,
			Label:     r.Label,
			Status:    r.Status,
			Current:   r.SessionID == current,
		})
	}
	return out, nil
}
