// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_metrics exports prometheus metrics for the voice session.
// A nil *Metrics is valid and records nothing.
package internal_metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "voice_console"
)

type Metrics struct {
	connectionAttempts *prometheus.CounterVec
	retriesScheduled   *prometheus.CounterVec
	fatalErrors        *prometheus.CounterVec
	transportState     *prometheus.GaugeVec

	framesReceived prometheus.Counter
	framesPlayed   prometheus.Counter
	framesDropped  prometheus.Counter
	framesMuted    prometheus.Counter
	underruns      prometheus.Counter

	packetsSent prometheus.Counter
	sendErrors  prometheus.Counter

	controlMessages *prometheus.CounterVec
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_attempts_total",
			Help:      "Socket connection attempts, labelled by the close reason that caused them",
		}, []string{"reason"}),
		retriesScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "retries_scheduled_total",
			Help:      "Retry timers scheduled, labelled by retry policy",
		}, []string{"policy"}),
		fatalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "fatal_errors_total",
			Help:      "Sessions that gave up reconnecting",
		}, []string{"reason"}),
		transportState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "state",
			Help:      "1 for the current transport state, 0 otherwise",
		}, []string{"state"}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "frames_received_total",
			Help:      "Inbound audio frames",
		}),
		framesPlayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "frames_played_total",
			Help:      "Inbound audio frames scheduled on the output device",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "frames_dropped_total",
			Help:      "Inbound audio frames discarded as corrupt",
		}),
		framesMuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "frames_muted_total",
			Help:      "Inbound audio frames counted while muted",
		}),
		underruns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "underruns_total",
			Help:      "Times the playback cursor fell behind the device clock",
		}),
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "packets_sent_total",
			Help:      "Encoded microphone packets handed to the transport",
		}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "send_errors_total",
			Help:      "Microphone packets the transport refused",
		}),
		controlMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "messages_total",
			Help:      "Inbound control messages by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) ConnectionAttempt(reason string) {
	if m == nil {
		return
	}
	m.connectionAttempts.WithLabelValues(reason).Inc()
}

func (m *Metrics) RetryScheduled(policy string) {
	if m == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(policy).Inc()
}

func (m *Metrics) Fatal(reason string) {
	if m == nil {
		return
	}
	m.fatalErrors.WithLabelValues(reason).Inc()
}

// TransportState marks current as the only active state among all.
func (m *Metrics) TransportState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.transportState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) FramePlayed() {
	if m == nil {
		return
	}
	m.framesPlayed.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) FrameMuted() {
	if m == nil {
		return
	}
	m.framesMuted.Inc()
}

func (m *Metrics) Underrun() {
	if m == nil {
		return
	}
	m.underruns.Inc()
}

func (m *Metrics) PacketSent() {
	if m == nil {
		return
	}
	m.packetsSent.Inc()
}

func (m *Metrics) SendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *Metrics) ControlMessage(kind string) {
	if m == nil {
		return
	}
	m.controlMessages.WithLabelValues(kind).Inc()
}
