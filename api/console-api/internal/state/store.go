// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_state

import (
	"sync"
	"time"

	"github.com/rapidaai/voice-console/pkg/commons"
)

const (
	defaultMaxWords  = 100
	defaultMaxEvents = 200
	defaultMaxTrades = 100
)

// Store holds what the presentation layer renders. Every mutation bumps the
// version and wakes subscribers; readers take deep-copied snapshots.
type Store struct {
	logger commons.Logger

	mu          sync.RWMutex
	snap        Snapshot
	maxWords    int
	maxEvents   int
	maxTrades   int
	subscribers map[chan uint64]struct{}
}

type Option func(*Store)

func WithLimits(words, events, trades int) Option {
	return func(s *Store) {
		s.maxWords, s.maxEvents, s.maxTrades = words, events, trades
	}
}

func NewStore(logger commons.Logger, opts ...Option) *Store {
	s := &Store{
		logger:      logger,
		maxWords:    defaultMaxWords,
		maxEvents:   defaultMaxEvents,
		maxTrades:   defaultMaxTrades,
		subscribers: make(map[chan uint64]struct{}),
		snap: Snapshot{
			Connection: ConnectionState{State: "idle"},
			Prices:     map[string]float64{},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// Mutations
// =============================================================================

func (s *Store) SetConnection(c ConnectionState) {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	s.update(func(snap *Snapshot) { snap.Connection = c })
}

func (s *Store) SetUser(user map[string]interface{}) {
	s.update(func(snap *Snapshot) { snap.User = CopyMap(user) })
}

// MergePrices updates the given symbols and keeps the rest.
func (s *Store) MergePrices(prices map[string]float64) {
	s.update(func(snap *Snapshot) {
		for symbol, price := range prices {
			snap.Prices[symbol] = price
		}
	})
}

// ApplyFullState replaces each section present in full. An in-progress
// trade is merged when it continues the current one.
func (s *Store) ApplyFullState(full FullState) {
	s.update(func(snap *Snapshot) {
		if full.Prices != nil {
			snap.Prices = make(map[string]float64, len(full.Prices))
			for k, v := range full.Prices {
				snap.Prices[k] = v
			}
		}
		if full.Words != nil {
			snap.Words = tail(append([]WordTrigger(nil), full.Words...), s.maxWords)
		}
		if full.TradeInProgress != nil {
			snap.TradeInProgress = mergeTrade(snap.TradeInProgress, full.TradeInProgress)
		}
		if full.Trades != nil {
			trades := make([]map[string]interface{}, len(full.Trades))
			for i, t := range full.Trades {
				trades[i] = CopyMap(t)
			}
			snap.Trades = tail(trades, s.maxTrades)
		}
		if full.Events != nil {
			snap.Events = tail(append([]Event(nil), full.Events...), s.maxEvents)
		}
		if full.TradingParams != nil {
			snap.TradingParams = CopyMap(full.TradingParams)
		}
		if full.BetSize != nil {
			snap.BetSize = *full.BetSize
		}
		if full.CallStatus != nil {
			snap.CallStatus = *full.CallStatus
		}
	})
}

func (s *Store) AppendWord(w WordTrigger) {
	s.update(func(snap *Snapshot) {
		snap.Words = tail(append(snap.Words, w), s.maxWords)
	})
}

// MergeTrade lays a partial trade update over the trade in progress.
func (s *Store) MergeTrade(partial map[string]interface{}) {
	s.update(func(snap *Snapshot) {
		snap.TradeInProgress = mergeTrade(snap.TradeInProgress, partial)
	})
}

// ExecuteTrade completes the trade in progress with final and records it.
func (s *Store) ExecuteTrade(final map[string]interface{}) {
	s.update(func(snap *Snapshot) {
		executed := mergeTrade(snap.TradeInProgress, final)
		snap.Trades = tail(append(snap.Trades, executed), s.maxTrades)
		snap.TradeInProgress = nil
	})
}

func (s *Store) AppendEvent(e Event) {
	s.update(func(snap *Snapshot) {
		e.Data = CopyMap(e.Data)
		snap.Events = tail(append(snap.Events, e), s.maxEvents)
	})
}

func (s *Store) SetTradingParams(params map[string]interface{}) {
	s.update(func(snap *Snapshot) { snap.TradingParams = CopyMap(params) })
}

func (s *Store) SetBetSize(dollars float64) {
	s.update(func(snap *Snapshot) { snap.BetSize = dollars })
}

func (s *Store) SetCallStatus(status string) {
	s.update(func(snap *Snapshot) { snap.CallStatus = status })
}

func (s *Store) SetLastError(message string) {
	s.update(func(snap *Snapshot) { snap.LastError = message })
}

// Reset clears session data but keeps the connection field.
func (s *Store) Reset() {
	s.update(func(snap *Snapshot) {
		conn := snap.Connection
		*snap = Snapshot{Version: snap.Version, Connection: conn, Prices: map[string]float64{}}
	})
}

// =============================================================================
// Reads
// =============================================================================

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.User = CopyMap(s.snap.User)
	out.Prices = make(map[string]float64, len(s.snap.Prices))
	for k, v := range s.snap.Prices {
		out.Prices[k] = v
	}
	out.Words = append([]WordTrigger(nil), s.snap.Words...)
	out.TradeInProgress = CopyMap(s.snap.TradeInProgress)
	out.Trades = make([]map[string]interface{}, len(s.snap.Trades))
	for i, t := range s.snap.Trades {
		out.Trades[i] = CopyMap(t)
	}
	out.Events = make([]Event, len(s.snap.Events))
	for i, e := range s.snap.Events {
		e.Data = CopyMap(e.Data)
		out.Events[i] = e
	}
	out.TradingParams = CopyMap(s.snap.TradingParams)
	return out
}

// Subscribe returns a channel that receives the latest version after each
// change. Notifications coalesce when the reader is slow.
func (s *Store) Subscribe() <-chan uint64 {
	ch := make(chan uint64, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[ch] = struct{}{}
	return ch
}

func (s *Store) Unsubscribe(ch <-chan uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		if sub == ch {
			delete(s.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.Version++
	for sub := range s.subscribers {
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- s.snap.Version:
		default:
		}
	}
}

func mergeTrade(current, partial map[string]interface{}) map[string]interface{} {
	newID, hasNew := tradeID(partial)
	oldID, hasOld := tradeID(current)
	if hasNew && hasOld && newID != oldID {
		return CopyMap(partial)
	}
	return DeepMerge(current, partial)
}

func tail[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	return append([]T(nil), items[len(items)-max:]...)
}
