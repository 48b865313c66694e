// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zaf/g711"

	internal_audio_capture "github.com/rapidaai/voice-console/api/console-api/internal/audio/capture"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	"github.com/rapidaai/voice-console/pkg/commons"
)

const readerChunkSamples = 160

// ReaderSource is a microphone backed by a byte stream. The stream is pumped
// continuously; samples arriving while no input is open are discarded.
type ReaderSource struct {
	logger  commons.Logger
	r       io.Reader
	format  Format
	rate    int
	worklet bool

	pumpOnce sync.Once
	mu       sync.Mutex
	current  *readerStream
	eof      bool
}

func NewReaderSource(logger commons.Logger, r io.Reader, format Format, rate int, worklet bool) *ReaderSource {
	return &ReaderSource{logger: logger, r: r, format: format, rate: rate, worklet: worklet}
}

func (s *ReaderSource) NewContext(sampleRate int) (internal_type.AudioContext, error) {
	if s.r == nil {
		return nil, fmt.Errorf("device: no input stream: %w", internal_audio_capture.ErrUnsupported)
	}
	return &readerContext{source: s}, nil
}

func (s *ReaderSource) pump() {
	bps := s.format.bytesPerSample()
	raw := make([]byte, readerChunkSamples*bps)
	for {
		n, err := io.ReadFull(s.r, raw)
		if n >= bps {
			s.deliver(s.decode(raw[:n-n%bps]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Errorf("device: input stream read failed: %v", err)
			}
			s.mu.Lock()
			s.eof = true
			if s.current != nil {
				s.current.finish()
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *ReaderSource) decode(raw []byte) []float32 {
	pcm := raw
	if s.format == FormatMulaw {
		pcm = g711.DecodeUlaw(raw)
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

func (s *ReaderSource) deliver(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	select {
	case s.current.chunks <- samples:
	default:
		s.logger.Warnw("device: input consumer lagging, dropping samples", "samples", len(samples))
	}
}

func (s *ReaderSource) attach(st *readerStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eof {
		return fmt.Errorf("device: input stream ended: %w", internal_audio_capture.ErrUnsupported)
	}
	s.current = st
	s.pumpOnce.Do(func() { go s.pump() })
	return nil
}

func (s *ReaderSource) detach(st *readerStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == st {
		s.current = nil
	}
}

type readerContext struct {
	source *ReaderSource
}

func (c *readerContext) SampleRate() int       { return c.source.rate }
func (c *readerContext) SupportsWorklet() bool { return c.source.worklet }
func (c *readerContext) Close() error          { return nil }

func (c *readerContext) OpenInput(ctx context.Context, constraints internal_type.InputConstraints) (internal_type.InputStream, error) {
	if constraints.Channels > 1 {
		return nil, fmt.Errorf("device: %d channels requested: %w", constraints.Channels, internal_audio_capture.ErrUnsupported)
	}
	st := &readerStream{
		source: c.source,
		chunks: make(chan []float32, 64),
		done:   make(chan struct{}),
	}
	if err := c.source.attach(st); err != nil {
		return nil, err
	}
	return st, nil
}

type readerStream struct {
	source   *ReaderSource
	chunks   chan []float32
	done     chan struct{}
	doneOnce sync.Once
	pending  []float32
}

func (s *readerStream) Read(buf []float32) (int, error) {
	if len(s.pending) == 0 {
		select {
		case chunk := <-s.chunks:
			s.pending = chunk
		case <-s.done:
			return 0, io.EOF
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *readerStream) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *readerStream) Close() error {
	s.source.detach(s)
	s.finish()
	return nil
}
