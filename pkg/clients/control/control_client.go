// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package control_client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/rapidaai/voice-console/pkg/commons"
	"github.com/rapidaai/voice-console/pkg/utils"
)

// TokenProvider supplies the bearer credential for control API calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

type ControlServiceClient interface {
	Launch(ctx context.Context, label string) (*SessionEndpoint, error)
	Connect(ctx context.Context, sessionID string) (*SessionEndpoint, error)
	Stop(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]SessionSummary, error)
}

type controlServiceClient struct {
	logger commons.Logger
	client *resty.Client
	tokens TokenProvider
}

func NewControlServiceClient(logger commons.Logger, baseURL string, timeout time.Duration, tokens TokenProvider) ControlServiceClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader(utils.HEADER_SOURCE_KEY, utils.CONSOLE_SOURCE).
		SetTimeout(timeout)
	return &controlServiceClient{logger: logger, client: client, tokens: tokens}
}

// Launch asks the control plane to start a new worker session.
func (c *controlServiceClient) Launch(ctx context.Context, label string) (*SessionEndpoint, error) {
	start := time.Now()
	defer func() { c.logger.Benchmark("ControlServiceClient.Launch", time.Since(start)) }()

	requestID := uuid.NewString()
	var out SessionEndpoint
	_, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetHeader(utils.HEADER_REQUEST_ID_KEY, requestID).
			SetBody(LaunchRequest{Label: label, RequestID: requestID}).
			SetResult(&out).
			Post("/v1/sessions")
	})
	if err != nil {
		return nil, fmt.Errorf("launch session: %w", err)
	}
	c.logger.Infof("session launched: sessionId=%s, endpoint=%s", out.SessionID, out.Endpoint)
	return &out, nil
}

// Connect resolves the socket endpoint of an existing session.
func (c *controlServiceClient) Connect(ctx context.Context, sessionID string) (*SessionEndpoint, error) {
	var out SessionEndpoint
	_, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("sessionId", sessionID).
			SetResult(&out).
			Get("/v1/sessions/{sessionId}/connect")
	})
	if err != nil {
		return nil, fmt.Errorf("connect session %s: %w", sessionID, err)
	}
	if out.SessionID == "" {
		out.SessionID = sessionID
	}
	return &out, nil
}

func (c *controlServiceClient) Stop(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("sessionId", sessionID).Delete("/v1/sessions/{sessionId}")
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("stop session %s: %w", sessionID, err)
	}
	c.logger.Infof("session stopped: sessionId=%s", sessionID)
	return nil
}

func (c *controlServiceClient) List(ctx context.Context) ([]SessionSummary, error) {
	var out listResponse
	_, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/v1/sessions")
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out.Sessions, nil
}

// do runs call with the current bearer token. A 401 triggers one credential
// refresh and a single retry.
func (c *controlServiceClient) do(ctx context.Context, call func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, token, call)
	if !errors.Is(err, ErrUnauthorized) {
		return resp, err
	}

	c.logger.Warnf("control api rejected credential, refreshing")
	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return c.send(ctx, token, call)
}

func (c *controlServiceClient) send(ctx context.Context, token string, call func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	apiErr := &APIError{}
	resp, err := call(c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(apiErr))
	if err != nil {
		return nil, err
	}
	if !resp.IsError() {
		return resp, nil
	}
	apiErr.Status = resp.StatusCode()
	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return resp, fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
	case http.StatusNotFound, http.StatusGone:
		return resp, fmt.Errorf("%w: %v", ErrNotFound, apiErr)
	default:
		return resp, apiErr
	}
}
