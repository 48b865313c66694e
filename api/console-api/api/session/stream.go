// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package console_session_api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var stateUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024 * 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const stateWriteTimeout = 5 * time.Second

// StateStream pushes a state snapshot to the operator UI after every change.
// The first message is the current snapshot.
//
// @Router /v1/state/stream [get]
func (a *SessionApi) StateStream(c *gin.Context) {
	conn, err := stateUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Errorf("state stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	changes := a.controller.Subscribe()
	defer a.controller.Unsubscribe(changes)

	// drain client frames so close and ping are processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !a.push(conn) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case _, ok := <-changes:
			if !ok || !a.push(conn) {
				return
			}
		}
	}
}

func (a *SessionApi) push(conn *websocket.Conn) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(stateWriteTimeout))
	if err := conn.WriteJSON(a.controller.Snapshot()); err != nil {
		a.logger.Debugf("state stream closed: %v", err)
		return false
	}
	return true
}
