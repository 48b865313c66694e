// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_websocket

import "time"

type Config struct {
	HandshakeTimeout time.Duration
	// AuthTimeout bounds the wait for auth_success after the socket opens.
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings; zero disables them.
	PingInterval time.Duration
	ReadLimit    int64

	WrongEndpointMaxRetries int
	WrongEndpointMinDelay   time.Duration
	WrongEndpointMaxDelay   time.Duration

	LaunchRetryInterval time.Duration
	LaunchMaxRetries    int

	// ResumeMaxFailures is how many failed reconnects to a pre-existing
	// session mean it has expired.
	ResumeMaxFailures   int
	ReconnectMaxRetries int
	Backoff             BackoffConfig

	StatusBuffer int
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:        30 * time.Second,
		AuthTimeout:             10 * time.Second,
		WriteTimeout:            5 * time.Second,
		PingInterval:            20 * time.Second,
		ReadLimit:               1 << 20,
		WrongEndpointMaxRetries: 10,
		WrongEndpointMinDelay:   100 * time.Millisecond,
		WrongEndpointMaxDelay:   600 * time.Millisecond,
		LaunchRetryInterval:     500 * time.Millisecond,
		LaunchMaxRetries:        30,
		ResumeMaxFailures:       3,
		ReconnectMaxRetries:     5,
		Backoff:                 DefaultBackoffConfig(),
		StatusBuffer:            64,
	}
}
