// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_websocket

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// classifyClose maps a read error to the reason that selects the retry policy.
func classifyClose(err error) CloseReason {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return ReasonNetworkError
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return ReasonNormal
	case CloseAuthExpired:
		return ReasonAuthExpired
	case CloseWrongEndpoint:
		return ReasonWrongEndpoint
	case CloseLaunchInProgress:
		return ReasonLaunchInProgress
	case CloseSessionNotFound:
		return ReasonSessionNotFound
	default:
		return ReasonNetworkError
	}
}

// classifyHandshake maps a failed dial to a close reason using the HTTP
// response, when the server sent one.
func classifyHandshake(resp *http.Response) CloseReason {
	if resp == nil {
		return ReasonNetworkError
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonAuthExpired
	case http.StatusNotFound, http.StatusGone:
		return ReasonSessionNotFound
	case http.StatusMisdirectedRequest, http.StatusConflict:
		return ReasonWrongEndpoint
	case http.StatusTooEarly, http.StatusServiceUnavailable:
		return ReasonLaunchInProgress
	default:
		return ReasonNetworkError
	}
}

// looksLikeJSON reports whether a binary frame actually carries a JSON object.
func looksLikeJSON(data []byte) bool {
	return len(data) > 0 && data[0] == '{'
}
