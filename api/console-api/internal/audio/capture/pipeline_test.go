// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	"github.com/rapidaai/voice-console/pkg/commons"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeStream struct {
	chunks    chan []float32
	closed    chan struct{}
	closeOnce sync.Once
	failed    chan error
	pending   []float32
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []float32, 64), closed: make(chan struct{}), failed: make(chan error, 1)}
}

func (s *fakeStream) Read(buf []float32) (int, error) {
	if len(s.pending) == 0 {
		select {
		case chunk := <-s.chunks:
			s.pending = chunk
		case <-s.closed:
			return 0, io.EOF
		case err := <-s.failed:
			return 0, err
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeStream) feed(total, chunk int, value float32) {
	for total > 0 {
		n := chunk
		if n > total {
			n = total
		}
		c := make([]float32, n)
		for i := range c {
			c[i] = value
		}
		s.chunks <- c
		total -= n
	}
}

type fakeContext struct {
	rate    int
	worklet bool
	deny    bool
	stream  *fakeStream
	closed  atomic.Bool
	opened  atomic.Int32
}

func (c *fakeContext) SampleRate() int       { return c.rate }
func (c *fakeContext) SupportsWorklet() bool { return c.worklet }
func (c *fakeContext) Close() error          { c.closed.Store(true); return nil }

func (c *fakeContext) OpenInput(ctx context.Context, constraints internal_type.InputConstraints) (internal_type.InputStream, error) {
	if c.deny {
		return nil, fmt.Errorf("device: %w", ErrPermissionDenied)
	}
	if !constraints.EchoCancellation || !constraints.NoiseSuppression || !constraints.AutoGainControl || constraints.Channels != 1 {
		return nil, fmt.Errorf("unexpected constraints %+v", constraints)
	}
	c.opened.Add(1)
	return c.stream, nil
}

type fakeSource struct {
	mu       sync.Mutex
	rate     int
	worklet  bool
	deny     bool
	contexts []*fakeContext
}

func (s *fakeSource) NewContext(sampleRate int) (internal_type.AudioContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &fakeContext{rate: s.rate, worklet: s.worklet, deny: s.deny, stream: newFakeStream()}
	s.contexts = append(s.contexts, c)
	return c, nil
}

func (s *fakeSource) last() *fakeContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts[len(s.contexts)-1]
}

type recordingSink struct {
	mu      sync.Mutex
	packets [][]byte
	fail    bool
}

func (r *recordingSink) SendAudio(packet []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("not active")
	}
	r.packets = append(r.packets, packet)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func newTestPipeline(source *fakeSource, sink *recordingSink, opts ...Option) *Pipeline {
	logger, _ := commons.NewApplicationLogger(commons.Name("test-capture"), commons.Level("error"))
	return NewPipeline(logger, source, sink, DefaultConfig(), nil, opts...)
}

// =============================================================================
// Tests
// =============================================================================

func TestPipeline_WorkletModeFramesFixedPackets(t *testing.T) {
	source := &fakeSource{rate: 8000, worklet: true}
	sink := &recordingSink{}
	p := newTestPipeline(source, sink)

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, ModeWorklet, p.Mode())

	source.last().stream.feed(1024, 100, 0.5)
	require.Eventually(t, func() bool { return sink.count() == 4 }, time.Second, 5*time.Millisecond)

	for _, packet := range sink.packets {
		assert.Len(t, packet, 256)
	}
	assert.Greater(t, p.Level(), float32(0.2))

	require.NoError(t, p.Stop())
	assert.True(t, source.last().stream.isClosed())
	assert.True(t, source.last().closed.Load())
	assert.False(t, p.Running())
	assert.Equal(t, uint64(4), p.Stats().PacketsSent)
	assert.Equal(t, uint64(1024), p.Stats().Samples)
}

func TestPipeline_BlockModeFallback(t *testing.T) {
	source := &fakeSource{rate: 8000, worklet: false}
	sink := &recordingSink{}
	p := newTestPipeline(source, sink)

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, ModeBlock, p.Mode())

	source.last().stream.feed(1100, 100, -0.25)
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	for _, packet := range sink.packets {
		assert.Len(t, packet, 512)
	}

	require.NoError(t, p.Stop())
	assert.True(t, source.last().closed.Load())
}

func TestPipeline_PermissionDeniedIsRecoverable(t *testing.T) {
	source := &fakeSource{rate: 8000, worklet: true, deny: true}
	p := newTestPipeline(source, &recordingSink{})

	err := p.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, p.Running())
	assert.True(t, source.last().closed.Load(), "processing context must be released")

	source.deny = false
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Running())
	require.NoError(t, p.Stop())
}

func TestPipeline_UnsupportedSampleRate(t *testing.T) {
	source := &fakeSource{rate: 48000, worklet: true}
	p := newTestPipeline(source, &recordingSink{})

	err := p.Start(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, p.Running())
	assert.True(t, source.last().closed.Load())
	assert.Zero(t, source.last().opened.Load())
}

func TestPipeline_StartTwice(t *testing.T) {
	source := &fakeSource{rate: 8000, worklet: true}
	p := newTestPipeline(source, &recordingSink{})

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, p.Stop())
}

func TestPipeline_ToggleReleasesEveryTime(t *testing.T) {
	source := &fakeSource{rate: 8000, worklet: true}
	p := newTestPipeline(source, &recordingSink{})

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Start(context.Background()))
		require.NoError(t, p.Stop())
	}
	require.NoError(t, p.Stop(), "stopping an idle pipeline is a no-op")

	require.Len(t, source.contexts, 5)
	for i, c := range source.contexts {
		assert.True(t, c.closed.Load(), "context %d", i)
		assert.True(t, c.stream.isClosed(), "stream %d", i)
	}
}

func TestPipeline_SendErrorsCounted(t *testing.T) {
	source := &fakeSource{rate: 8000, worklet: true}
	sink := &recordingSink{fail: true}
	p := newTestPipeline(source, sink)

	require.NoError(t, p.Start(context.Background()))
	source.last().stream.feed(512, 256, 0.1)
	require.Eventually(t, func() bool { return p.Stats().SendErrors == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, p.Stats().PacketsSent)
	require.NoError(t, p.Stop())
}

func TestPipeline_DeviceFailureReleasesPipeline(t *testing.T) {
	for _, worklet := range []bool{true, false} {
		source := &fakeSource{rate: 8000, worklet: worklet}
		reported := make(chan error, 1)
		p := newTestPipeline(source, &recordingSink{}, WithErrorHandler(func(err error) { reported <- err }))

		require.NoError(t, p.Start(context.Background()))
		first := source.last()
		deviceErr := errors.New("device unplugged")
		first.stream.failed <- deviceErr

		select {
		case err := <-reported:
			assert.ErrorIs(t, err, deviceErr)
		case <-time.After(time.Second):
			t.Fatalf("worklet=%v: failure was not reported", worklet)
		}
		assert.False(t, p.Running())
		assert.Equal(t, ModeNone, p.Mode())
		assert.True(t, first.stream.isClosed())
		assert.True(t, first.closed.Load())
		assert.ErrorIs(t, p.Err(), deviceErr)

		require.NoError(t, p.Start(context.Background()))
		assert.True(t, p.Running())
		assert.NoError(t, p.Err())
		require.NoError(t, p.Stop())
	}
}

func TestPipeline_StreamEndReleasesWithoutError(t *testing.T) {
	source := &fakeSource{rate: 8000, worklet: true}
	called := false
	p := newTestPipeline(source, &recordingSink{}, WithErrorHandler(func(error) { called = true }))

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, source.last().stream.Close())

	require.Eventually(t, func() bool { return source.last().closed.Load() }, time.Second, 5*time.Millisecond)
	assert.False(t, p.Running())
	assert.NoError(t, p.Err())
	assert.False(t, called)
}
