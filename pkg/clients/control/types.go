// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package control_client

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized = errors.New("control: unauthorized")
	ErrNotFound     = errors.New("control: session not found")
	ErrNoCredential = errors.New("control: no refresh token configured")
)

type LaunchRequest struct {
	Label     string `json:"label,omitempty"`
	RequestID string `json:"request_id"`
}

// SessionEndpoint is where the worker of a session accepts sockets.
type SessionEndpoint struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
	Status    string `json:"status,omitempty"`
}

type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Endpoint  string    `json:"endpoint"`
	Status    string    `json:"status"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type listResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// APIError is the error body returned by the control API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("control: %s (status %d)", e.Message, e.Status)
}
