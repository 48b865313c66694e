// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"context"
	"errors"
	"time"

	channel_websocket "github.com/rapidaai/voice-console/api/console-api/internal/channel/websocket"
	internal_sessionstore "github.com/rapidaai/voice-console/api/console-api/internal/sessionstore"
	internal_state "github.com/rapidaai/voice-console/api/console-api/internal/state"
)

// Run follows transport status until ctx is done, then tears the session down.
func (s *Session) Run(ctx context.Context) error {
	updates := s.transport.Updates()
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return nil
		case st := <-updates:
			s.onStatus(st)
		}
	}
}

func (s *Session) onStatus(st channel_websocket.Status) {
	conn := internal_state.ConnectionState{
		State:     string(st.State),
		SessionID: s.SessionID(),
		Detail:    st.Detail,
		Attempt:   st.Attempt,
		UpdatedAt: st.At,
	}
	if st.Err != nil {
		conn.Error = st.Err.Error()
	}
	s.deps.State.SetConnection(conn)

	switch st.State {
	case channel_websocket.StateActive:
		s.onActive()
	case channel_websocket.StateRetrying:
		s.logger.Infof("session: %s, retrying in %s", st.Detail, st.RetryIn)
	case channel_websocket.StateIdle:
		s.onIdle(st.Err)
	}
}

func (s *Session) onActive() {
	if err := s.transport.SendCommand(channel_websocket.EnableAudioStream()); err != nil {
		s.logger.Warnf("session: enabling audio stream: %v", err)
	}
	if err := s.transport.SendCommand(channel_websocket.GetTradingParams()); err != nil {
		s.logger.Warnf("session: requesting trading params: %v", err)
	}

	target := s.transport.Target()
	now := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RegistryTimeout)
	defer cancel()
	err := s.deps.Registry.Touch(ctx, target.SessionID, now)
	if errors.Is(err, internal_sessionstore.ErrSessionNotFound) {
		err = s.deps.Registry.Save(ctx, &internal_sessionstore.KnownSession{
			SessionID:     target.SessionID,
			Endpoint:      target.URL,
			LastConnected: now,
		})
	}
	if err != nil {
		s.logger.Warnf("session: unable to record connection for %s: %v", target.SessionID, err)
	}
}

// onIdle runs whenever the transport returned to idle, whether the worker
// closed normally or the transport gave up. The ended session releases its
// microphone and playback; an expired session is dropped from the registry.
// An idle status read after a new start already moved the transport on
// belongs to the previous session and is ignored.
func (s *Session) onIdle(err error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.transport.State() != channel_websocket.StateIdle {
		return
	}
	if err != nil {
		s.logger.Errorf("session: %v", err)
	} else {
		s.logger.Infof("session: %s ended", s.SessionID())
	}
	s.teardown()
	if errors.Is(err, channel_websocket.ErrSessionExpired) {
		s.forget(s.SessionID())
	}
}
