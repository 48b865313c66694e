// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_audio_mulaw converts between linear PCM and G.711 mu-law.
// All functions are pure and never fail.
package internal_audio_mulaw

const (
	bias = 0x84
	clip = 32635
)

// DecodeSample expands one mu-law byte to 16-bit linear PCM.
func DecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)
	magnitude := ((mantissa << 3) + bias) << exponent
	magnitude -= bias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// EncodeSample compresses one 16-bit linear PCM sample.
func EncodeSample(pcm int16) byte {
	s := int32(pcm)
	var sign int32
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := int32(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// Decode expands one mu-law byte to a float sample in [-1, 1].
func Decode(b byte) float32 {
	return float32(DecodeSample(b)) / 32768
}

// Encode compresses a float sample. Values outside [-1, 1] are clamped.
func Encode(s float32) byte {
	switch {
	case s >= 1:
		return EncodeSample(32767)
	case s <= -1:
		return EncodeSample(-32768)
	case s < 0:
		return EncodeSample(int16(s * 32768))
	default:
		return EncodeSample(int16(s * 32767))
	}
}

// PadFrame returns frame with one silence byte appended when its length is odd.
func PadFrame(frame []byte) []byte {
	if len(frame)%2 == 0 {
		return frame
	}
	padded := make([]byte, len(frame)+1)
	copy(padded, frame)
	padded[len(frame)] = 0xFF
	return padded
}

// DecodeFrame decodes a whole frame, padding it to an even sample count.
func DecodeFrame(frame []byte) []float32 {
	frame = PadFrame(frame)
	out := make([]float32, len(frame))
	for i, b := range frame {
		out[i] = Decode(b)
	}
	return out
}

// EncodeFrame encodes samples into a freshly allocated mu-law packet.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = Encode(s)
	}
	return out
}
