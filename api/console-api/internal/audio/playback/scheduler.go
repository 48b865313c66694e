// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/voice-console/api/console-api/internal/audio"
	internal_audio_mulaw "github.com/rapidaai/voice-console/api/console-api/internal/audio/mulaw"
	internal_metrics "github.com/rapidaai/voice-console/api/console-api/internal/metrics"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	"github.com/rapidaai/voice-console/pkg/commons"
)

var ErrSchedulerClosed = errors.New("playback: scheduler closed")

// Stats is a snapshot of scheduler counters.
type Stats struct {
	FramesReceived uint64
	FramesPlayed   uint64
	FramesDropped  uint64
	FramesMuted    uint64
	Underruns      uint64
	// Scheduled is the total audio duration handed to the output device.
	Scheduled time.Duration
}

// Scheduler is the jitter buffer between the socket and the output device.
// Frames are laid back to back on a single playback cursor; the cursor is
// pushed to now+lead only after it falls behind the device clock.
type Scheduler struct {
	logger  commons.Logger
	opener  internal_type.OutputOpener
	metrics *internal_metrics.Metrics

	lead          time.Duration
	minFrameBytes int
	sampleRate    int

	mu       sync.Mutex
	output   internal_type.AudioOutput
	cursor   time.Duration
	hasClock bool
	muted    bool
	closed   bool
	stats    Stats
}

type Option func(*Scheduler)

func WithLead(lead time.Duration) Option {
	return func(s *Scheduler) { s.lead = lead }
}

func WithMinFrameBytes(n int) Option {
	return func(s *Scheduler) { s.minFrameBytes = n }
}

func WithSampleRate(rate int) Option {
	return func(s *Scheduler) { s.sampleRate = rate }
}

func WithMetrics(m *internal_metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func NewScheduler(logger commons.Logger, opener internal_type.OutputOpener, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:        logger,
		opener:        opener,
		lead:          internal_audio.DefaultPlaybackLead,
		minFrameBytes: internal_audio.DefaultMinFrameBytes,
		sampleRate:    internal_audio.SampleRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue schedules one inbound mu-law frame for gapless playback.
// Muted and corrupt frames are counted and dropped without touching the cursor.
func (s *Scheduler) Enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	s.stats.FramesReceived++
	s.metrics.FrameReceived()

	if s.muted {
		s.stats.FramesMuted++
		s.metrics.FrameMuted()
		return nil
	}
	if len(frame) < s.minFrameBytes {
		s.stats.FramesDropped++
		s.metrics.FrameDropped()
		s.logger.Debugf("playback: dropping short frame of %d bytes", len(frame))
		return nil
	}

	if err := s.ensureOutput(); err != nil {
		return err
	}

	samples := internal_audio_mulaw.DecodeFrame(frame)
	duration := internal_audio.SamplesDuration(len(samples), s.sampleRate)

	now := s.output.CurrentTime()
	if !s.hasClock || s.cursor < now {
		if s.hasClock {
			s.stats.Underruns++
			s.metrics.Underrun()
			s.logger.Debugf("playback: underrun, cursor %s behind clock %s", s.cursor, now)
		}
		s.cursor = now + s.lead
		s.hasClock = true
	}

	if err := s.output.Schedule(samples, s.cursor); err != nil {
		s.stats.FramesDropped++
		s.metrics.FrameDropped()
		return fmt.Errorf("playback: schedule at %s: %w", s.cursor, err)
	}
	s.cursor += duration
	s.stats.FramesPlayed++
	s.stats.Scheduled += duration
	s.metrics.FramePlayed()
	return nil
}

func (s *Scheduler) ensureOutput() error {
	if s.output != nil {
		return nil
	}
	out, err := s.opener(s.sampleRate)
	if err != nil {
		return fmt.Errorf("playback: open output: %w", err)
	}
	s.output = out
	s.hasClock = false
	s.logger.Infof("playback: output opened at %d Hz with %s lead", s.sampleRate, s.lead)
	return nil
}

// SetMuted toggles playback. Muted frames are still counted.
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Cursor reports the device time at which the next frame would start and
// whether a cursor exists yet.
func (s *Scheduler) Cursor() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasClock
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the output context. It is safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.hasClock = false
	s.cursor = 0
	if s.output == nil {
		return nil
	}
	err := s.output.Close()
	s.output = nil
	if err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}
