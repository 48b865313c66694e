// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_device

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zaf/g711"

	internal_audio "github.com/rapidaai/voice-console/api/console-api/internal/audio"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
)

// PipeOutput renders scheduled audio onto a byte stream as soon as it is
// scheduled; the reader paces playback. Gaps between scheduled buffers are
// written as silence so the stream keeps the timeline.
type PipeOutput struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	rate   int
	clock  func() time.Time
	start  time.Time
	// position counts samples written, silence included.
	position int64
	closed   bool
}

func NewPipeOutput(w io.Writer, format Format, rate int) *PipeOutput {
	return newPipeOutput(w, format, rate, time.Now)
}

func newPipeOutput(w io.Writer, format Format, rate int, clock func() time.Time) *PipeOutput {
	return &PipeOutput{w: w, format: format, rate: rate, clock: clock, start: clock()}
}

// PipeOpener opens a fresh PipeOutput on w each time playback starts.
func PipeOpener(w io.Writer, format Format) internal_type.OutputOpener {
	return func(sampleRate int) (internal_type.AudioOutput, error) {
		return NewPipeOutput(w, format, sampleRate), nil
	}
}

func (o *PipeOutput) CurrentTime() time.Duration {
	return o.clock().Sub(o.start)
}

func (o *PipeOutput) Schedule(samples []float32, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrDeviceClosed
	}

	gap := 0
	if target := int64(at) * int64(o.rate) / int64(time.Second); target > o.position {
		gap = int(target - o.position)
	}
	pcm := make([]byte, (gap+len(samples))*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[(gap+i)*2:], uint16(floatToInt16(s)))
	}

	out := pcm
	if o.format == FormatMulaw {
		out = g711.EncodeUlaw(pcm)
	}
	if _, err := o.w.Write(out); err != nil {
		return fmt.Errorf("device: write: %w", err)
	}

	o.position += int64(gap + len(samples))
	return nil
}

// Written is the stream position, in stream time, after the last buffer.
func (o *PipeOutput) Written() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return internal_audio.SamplesDuration(int(o.position), o.rate)
}

func (o *PipeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
