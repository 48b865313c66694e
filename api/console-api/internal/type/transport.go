// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import "context"

// MessageHandler consumes inbound socket traffic, in arrival order.
type MessageHandler interface {
	OnAudio(frame []byte)
	OnControl(kind string, payload []byte)
}

// AuthProvider supplies credentials to the transport.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
	// Refresh obtains a new credential, discarding the current one.
	Refresh(ctx context.Context) (string, error)
}
