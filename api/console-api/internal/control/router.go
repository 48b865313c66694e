// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	internal_metrics "github.com/rapidaai/voice-console/api/console-api/internal/metrics"
	internal_state "github.com/rapidaai/voice-console/api/console-api/internal/state"
	"github.com/rapidaai/voice-console/pkg/commons"
)

var ErrMalformedMessage = errors.New("control: malformed message")

// Router decodes control frames and applies them to the state store.
// A bad frame is reported and skipped; it never reaches the caller as a panic.
type Router struct {
	logger  commons.Logger
	store   *internal_state.Store
	metrics *internal_metrics.Metrics
}

func NewRouter(logger commons.Logger, store *internal_state.Store, metrics *internal_metrics.Metrics) *Router {
	return &Router{logger: logger, store: store, metrics: metrics}
}

// Route handles one message. Unknown tags are logged and ignored.
func (r *Router) Route(kind string, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s handler panicked: %v", ErrMalformedMessage, kind, rec)
		}
	}()
	r.metrics.ControlMessage(kind)

	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch MessageType(kind) {
	case TypeAuthSuccess:
		var msg AuthSuccessMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.SetUser(msg.User)

	case TypePrices:
		var msg PricesMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.MergePrices(msg.Prices)

	case TypeFullState:
		var msg FullStateMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.ApplyFullState(msg.State)

	case TypeWordTriggered:
		var msg WordTriggeredMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.AppendWord(internal_state.WordTrigger{
			Word:       msg.Word,
			Market:     msg.Market,
			Confidence: msg.Confidence,
			Timestamp:  msg.Timestamp,
		})

	case TypeTradeInProgress, TypeTradeUpdate:
		var msg TradeMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.MergeTrade(msg.Trade)

	case TypeTradeExecuted:
		var msg TradeMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.ExecuteTrade(msg.Trade)
		r.logger.Infow("control: trade executed", "trade", msg.Trade["id"])

	case TypeEvent:
		var msg EventMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.AppendEvent(msg.Event)

	case TypeTradingParams:
		var msg TradingParamsMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.SetTradingParams(msg.Params)

	case TypeBetSizeUpdated, TypeBetSize:
		var msg BetSizeMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.SetBetSize(msg.Dollars)

	case TypeCallStatus:
		var msg CallStatusMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.store.SetCallStatus(msg.Status)

	case TypeError:
		var msg ErrorMessage
		if err := decode(raw, &msg); err != nil {
			return err
		}
		r.logger.Warnw("control: worker reported error", "code", msg.Code, "message", msg.Message)
		r.store.SetLastError(msg.Message)

	case TypePong:

	default:
		r.logger.Warnf("control: ignoring unknown message type %q", kind)
	}
	return nil
}

// decode maps a generic JSON object onto a typed message, accepting numbers
// and booleans delivered as strings.
func decode(raw map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}
