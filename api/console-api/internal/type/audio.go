// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import (
	"context"
	"time"
)

// =============================================================================
// Playback
// =============================================================================

// AudioOutput is a playback context with its own monotonic clock.
type AudioOutput interface {
	// CurrentTime reports the device clock, measured from when the output opened.
	CurrentTime() time.Duration
	// Schedule queues samples (mono, [-1, 1]) to start at the given device time.
	Schedule(samples []float32, at time.Duration) error
	// Close releases the output context. Scheduled audio is discarded.
	Close() error
}

// OutputOpener lazily opens the playback context at the given sample rate.
type OutputOpener func(sampleRate int) (AudioOutput, error)

// =============================================================================
// Capture
// =============================================================================

// InputConstraints are the acquisition hints passed to the input device.
type InputConstraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// AudioSource hands out processing contexts for microphone capture.
type AudioSource interface {
	NewContext(sampleRate int) (AudioContext, error)
}

// AudioContext is a capture processing context.
type AudioContext interface {
	SampleRate() int
	// SupportsWorklet reports whether a dedicated processing thread is available.
	SupportsWorklet() bool
	// OpenInput acquires the input device. Denial returns an error wrapping
	// the capture package's permission error.
	OpenInput(ctx context.Context, constraints InputConstraints) (InputStream, error)
	Close() error
}

// InputStream is an acquired input device.
type InputStream interface {
	// Read blocks until samples are available and fills buf.
	Read(buf []float32) (int, error)
	Close() error
}

// PacketSink receives encoded capture packets.
type PacketSink interface {
	SendAudio(packet []byte) error
}
