// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_audio_device bridges the console to host audio tools
// through byte streams, e.g. `arecord -t raw -f S16_LE -r 8000 -c 1` on stdin
// and `aplay -t raw -f MU_LAW -r 8000 -c 1` on stdout.
package internal_audio_device

import (
	"errors"
	"fmt"
	"strings"
)

var ErrDeviceClosed = errors.New("device: closed")

// Format is the sample encoding on the byte stream.
type Format string

const (
	FormatPCM16 Format = "pcm16"
	FormatMulaw Format = "mulaw"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPCM16, "":
		return FormatPCM16, nil
	case FormatMulaw, "ulaw":
		return FormatMulaw, nil
	default:
		return "", fmt.Errorf("device: unknown format %q", s)
	}
}

func (f Format) bytesPerSample() int {
	if f == FormatMulaw {
		return 1
	}
	return 2
}

func floatToInt16(s float32) int16 {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	case s < 0:
		return int16(s * 32768)
	default:
		return int16(s * 32767)
	}
}
