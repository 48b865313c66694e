// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package control_client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rapidaai/voice-console/pkg/commons"
	"github.com/rapidaai/voice-console/pkg/utils"
)

const DefaultRefreshSkew = 30 * time.Second

// TokenSource holds the operator credential. It hands out the access token
// and exchanges the refresh token for a new one when asked or when the
// current token is about to expire.
type TokenSource struct {
	logger commons.Logger
	client *resty.Client
	skew   time.Duration
	now    func() time.Time

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func NewTokenSource(logger commons.Logger, baseURL, accessToken, refreshToken string, skew time.Duration) *TokenSource {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader(utils.HEADER_SOURCE_KEY, utils.CONSOLE_SOURCE).
		SetTimeout(10 * time.Second)
	return &TokenSource{
		logger:       logger,
		client:       client,
		skew:         skew,
		now:          time.Now,
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

// Token returns the current access token, refreshing first when its expiry
// is within the configured skew.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()

	if token != "" && !s.expiresSoon(token) {
		return token, nil
	}
	if s.canRefresh() {
		return s.Refresh(ctx)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// Refresh exchanges the refresh token for a new access token.
func (s *TokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshToken == "" {
		return "", ErrNoCredential
	}

	start := time.Now()
	var out tokenResponse
	apiErr := &APIError{}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(refreshRequest{RefreshToken: s.refreshToken}).
		SetResult(&out).
		SetError(apiErr).
		Post("/v1/auth/refresh")
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			return "", fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
		}
		return "", apiErr
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token refresh returned an empty access token")
	}

	s.accessToken = out.AccessToken
	if out.RefreshToken != "" {
		s.refreshToken = out.RefreshToken
	}
	s.logger.Benchmark("TokenSource.Refresh", time.Since(start))
	s.logger.Infof("operator credential refreshed")
	return s.accessToken, nil
}

func (s *TokenSource) canRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken != ""
}

// expiresSoon reports whether token is a JWT whose exp falls within the skew.
// Opaque tokens never expire from the console's point of view.
func (s *TokenSource) expiresSoon(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.now().Add(s.skew).Before(exp.Time)
}
