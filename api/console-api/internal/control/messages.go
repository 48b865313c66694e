// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_control

import (
	internal_state "github.com/rapidaai/voice-console/api/console-api/internal/state"
)

// MessageType is the tag of an inbound control message.
type MessageType string

const (
	TypeAuthSuccess     MessageType = "auth_success"
	TypePrices          MessageType = "prices"
	TypeFullState       MessageType = "full_state"
	TypeWordTriggered   MessageType = "word_triggered"
	TypeTradeInProgress MessageType = "trade_in_progress"
	TypeTradeUpdate     MessageType = "trade_update"
	TypeTradeExecuted   MessageType = "trade_executed"
	TypeEvent           MessageType = "event"
	TypeTradingParams   MessageType = "trading_params"
	TypeBetSizeUpdated  MessageType = "bet_size_updated"
	TypeBetSize         MessageType = "bet_size"
	TypeCallStatus      MessageType = "call_status"
	TypeError           MessageType = "error"
	TypePong            MessageType = "pong"
)

type AuthSuccessMessage struct {
	User map[string]interface{} `json:"user"`
}

type PricesMessage struct {
	Prices map[string]float64 `json:"prices"`
}

type FullStateMessage struct {
	State internal_state.FullState `json:"state"`
}

type WordTriggeredMessage struct {
	Word       string  `json:"word"`
	Market     string  `json:"market"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

type TradeMessage struct {
	Trade map[string]interface{} `json:"trade"`
}

type EventMessage struct {
	Event internal_state.Event `json:"event"`
}

type TradingParamsMessage struct {
	Params map[string]interface{} `json:"params"`
}

type BetSizeMessage struct {
	Dollars float64 `json:"dollars"`
}

type CallStatusMessage struct {
	Status string `json:"status"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
