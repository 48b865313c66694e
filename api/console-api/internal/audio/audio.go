// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import "time"

const (
	// SampleRate is the only rate carried on the wire.
	SampleRate = 8000

	// SilenceByte is mu-law zero, used to pad odd-length frames.
	SilenceByte byte = 0xFF

	// DefaultPlaybackLead is the jitter cushion applied after starvation.
	DefaultPlaybackLead = 50 * time.Millisecond

	// DefaultMinFrameBytes discards frames too short to be real audio.
	DefaultMinFrameBytes = 16

	// DefaultCaptureFrameSamples is 32ms at 8kHz.
	DefaultCaptureFrameSamples = 256

	// DefaultFallbackBlockSamples is used when no dedicated processing thread exists.
	DefaultFallbackBlockSamples = 512
)

// SamplesDuration converts a sample count at rate into wall time.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
