// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_state

import "time"

// ConnectionState is the single field through which transport and device
// failures reach the presentation layer.
type ConnectionState struct {
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type WordTrigger struct {
	Word       string  `json:"word"`
	Market     string  `json:"market,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"`
}

type Event struct {
	Kind      string                 `json:"kind"`
	Message   string                 `json:"message,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// FullState is an authoritative snapshot from the worker. Nil sections are
// left untouched when applied.
type FullState struct {
	Prices          map[string]float64       `json:"prices,omitempty"`
	Words           []WordTrigger            `json:"words,omitempty"`
	TradeInProgress map[string]interface{}   `json:"trade_in_progress,omitempty"`
	Trades          []map[string]interface{} `json:"trades,omitempty"`
	Events          []Event                  `json:"events,omitempty"`
	TradingParams   map[string]interface{}   `json:"trading_params,omitempty"`
	BetSize         *float64                 `json:"bet_size,omitempty"`
	CallStatus      *string                  `json:"call_status,omitempty"`
}

// Snapshot is a deep copy of the console state.
type Snapshot struct {
	Version         uint64                   `json:"version"`
	Connection      ConnectionState          `json:"connection"`
	User            map[string]interface{}   `json:"user,omitempty"`
	Prices          map[string]float64       `json:"prices"`
	Words           []WordTrigger            `json:"words"`
	TradeInProgress map[string]interface{}   `json:"trade_in_progress,omitempty"`
	Trades          []map[string]interface{} `json:"trades"`
	Events          []Event                  `json:"events"`
	TradingParams   map[string]interface{}   `json:"trading_params,omitempty"`
	BetSize         float64                  `json:"bet_size"`
	CallStatus      string                   `json:"call_status,omitempty"`
	LastError       string                   `json:"last_error,omitempty"`
}
