// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_control

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_metrics "github.com/rapidaai/voice-console/api/console-api/internal/metrics"
	internal_state "github.com/rapidaai/voice-console/api/console-api/internal/state"
	"github.com/rapidaai/voice-console/pkg/commons"
)

func newTestRouter() (*Router, *internal_state.Store) {
	logger, _ := commons.NewApplicationLogger(commons.Name("test-control"), commons.Level("error"))
	store := internal_state.NewStore(logger)
	return NewRouter(logger, store, internal_metrics.NewMetrics(prometheus.NewRegistry())), store
}

func TestRouter_AppliesMessages(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		payload string
		check   func(t *testing.T, snap internal_state.Snapshot)
	}{
		{
			name:    "auth success records user",
			kind:    "auth_success",
			payload: `{"type":"auth_success","user":{"name":"operator","desk":"A"}}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, "operator", snap.User["name"])
			},
		},
		{
			name:    "prices accept numeric strings",
			kind:    "prices",
			payload: `{"type":"prices","prices":{"YES":"0.52","NO":0.48}}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, map[string]float64{"YES": 0.52, "NO": 0.48}, snap.Prices)
			},
		},
		{
			name:    "word triggered",
			kind:    "word_triggered",
			payload: `{"type":"word_triggered","word":"tariff","market":"m1","confidence":0.9,"timestamp":1700000000}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				require.Len(t, snap.Words, 1)
				assert.Equal(t, "tariff", snap.Words[0].Word)
				assert.Equal(t, int64(1700000000), snap.Words[0].Timestamp)
			},
		},
		{
			name:    "event",
			kind:    "event",
			payload: `{"type":"event","event":{"kind":"call_started","message":"dialled","data":{"line":2}}}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				require.Len(t, snap.Events, 1)
				assert.Equal(t, "call_started", snap.Events[0].Kind)
				assert.Equal(t, 2.0, snap.Events[0].Data["line"])
			},
		},
		{
			name:    "trading params",
			kind:    "trading_params",
			payload: `{"type":"trading_params","params":{"max_bet":100}}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, 100.0, snap.TradingParams["max_bet"])
			},
		},
		{
			name:    "bet size",
			kind:    "bet_size_updated",
			payload: `{"type":"bet_size_updated","dollars":"25"}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, 25.0, snap.BetSize)
			},
		},
		{
			name:    "bet size short tag",
			kind:    "bet_size",
			payload: `{"type":"bet_size","dollars":12.5}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, 12.5, snap.BetSize)
			},
		},
		{
			name:    "call status",
			kind:    "call_status",
			payload: `{"type":"call_status","status":"connected"}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, "connected", snap.CallStatus)
			},
		},
		{
			name:    "worker error",
			kind:    "error",
			payload: `{"type":"error","code":"E1","message":"market closed"}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, "market closed", snap.LastError)
			},
		},
		{
			name:    "full state",
			kind:    "full_state",
			payload: `{"type":"full_state","state":{"prices":{"YES":0.7},"bet_size":40,"call_status":"on_hold","words":[{"word":"rate"}]}}`,
			check: func(t *testing.T, snap internal_state.Snapshot) {
				assert.Equal(t, map[string]float64{"YES": 0.7}, snap.Prices)
				assert.Equal(t, 40.0, snap.BetSize)
				assert.Equal(t, "on_hold", snap.CallStatus)
				require.Len(t, snap.Words, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, store := newTestRouter()
			require.NoError(t, router.Route(tt.kind, []byte(tt.payload)))
			tt.check(t, store.Snapshot())
		})
	}
}

func TestRouter_TradeLifecycle(t *testing.T) {
	router, store := newTestRouter()

	require.NoError(t, router.Route("trade_in_progress", []byte(`{"type":"trade_in_progress","trade":{"id":"t1","buy":{"price":0.4}}}`)))
	require.NoError(t, router.Route("trade_update", []byte(`{"type":"trade_update","trade":{"id":"t1","sell":{"price":0.6}}}`)))

	snap := store.Snapshot()
	assert.Contains(t, snap.TradeInProgress, "buy")
	assert.Contains(t, snap.TradeInProgress, "sell")

	require.NoError(t, router.Route("trade_executed", []byte(`{"type":"trade_executed","trade":{"id":"t1","pnl":2}}`)))
	snap = store.Snapshot()
	assert.Nil(t, snap.TradeInProgress)
	require.Len(t, snap.Trades, 1)
	assert.Contains(t, snap.Trades[0], "buy")
	assert.Equal(t, 2.0, snap.Trades[0]["pnl"])
}

func TestRouter_UnknownTypeIgnored(t *testing.T) {
	router, store := newTestRouter()
	before := store.Snapshot().Version

	assert.NoError(t, router.Route("future_feature", []byte(`{"type":"future_feature","x":1}`)))
	assert.NoError(t, router.Route("pong", []byte(`{"type":"pong"}`)))
	assert.Equal(t, before, store.Snapshot().Version)
}

func TestRouter_MalformedPayload(t *testing.T) {
	router, store := newTestRouter()
	before := store.Snapshot().Version

	assert.ErrorIs(t, router.Route("prices", []byte(`not json`)), ErrMalformedMessage)
	assert.ErrorIs(t, router.Route("prices", []byte(`{"type":"prices","prices":"garbage"}`)), ErrMalformedMessage)
	assert.ErrorIs(t, router.Route("bet_size_updated", []byte(`{"dollars":{"nested":true}}`)), ErrMalformedMessage)
	assert.Equal(t, before, store.Snapshot().Version)
}
