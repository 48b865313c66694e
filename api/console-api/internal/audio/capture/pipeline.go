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
	"math"
	"sync"
	"sync/atomic"

	internal_audio "github.com/rapidaai/voice-console/api/console-api/internal/audio"
	internal_metrics "github.com/rapidaai/voice-console/api/console-api/internal/metrics"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	"github.com/rapidaai/voice-console/pkg/commons"
)

var (
	// ErrPermissionDenied is recoverable: the operator may grant access and retry.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrUnsupported is terminal for this environment.
	ErrUnsupported    = errors.New("capture: audio input not supported")
	ErrAlreadyRunning = errors.New("capture: already running")
)

type Mode string

const (
	ModeNone Mode = ""
	// ModeWorklet frames on a dedicated goroutine and hands packets over by channel.
	ModeWorklet Mode = "worklet"
	// ModeBlock reads larger blocks inline, at roughly double the latency.
	ModeBlock Mode = "block"
)

type Config struct {
	SampleRate   int
	FrameSamples int
	BlockSamples int
	// PacketQueue bounds packets waiting for the sender in worklet mode.
	PacketQueue int
}

func DefaultConfig() Config {
	return Config{
		SampleRate:   internal_audio.SampleRate,
		FrameSamples: internal_audio.DefaultCaptureFrameSamples,
		BlockSamples: internal_audio.DefaultFallbackBlockSamples,
		PacketQueue:  16,
	}
}

type Stats struct {
	PacketsSent    uint64
	PacketsDropped uint64
	SendErrors     uint64
	Samples        uint64
}

// Pipeline turns microphone samples into mu-law packets for the transport.
// It may be started and stopped any number of times; each Stop releases the
// input device, the processing goroutines and the processing context.
type Pipeline struct {
	logger  commons.Logger
	source  internal_type.AudioSource
	sink    internal_type.PacketSink
	cfg     Config
	metrics *internal_metrics.Metrics

	onError func(error)

	mu       sync.Mutex
	running  bool
	mode     Mode
	audioCtx internal_type.AudioContext
	stream   internal_type.InputStream
	cancel   context.CancelFunc
	lastErr  error
	wg       sync.WaitGroup

	packetsSent    atomic.Uint64
	packetsDropped atomic.Uint64
	sendErrors     atomic.Uint64
	samples        atomic.Uint64
	level          atomic.Uint32
}

type Option func(*Pipeline)

// WithErrorHandler is called when the input device fails while streaming.
// The pipeline has already released itself when fn runs.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pipeline) { p.onError = fn }
}

func NewPipeline(logger commons.Logger, source internal_type.AudioSource, sink internal_type.PacketSink, cfg Config, metrics *internal_metrics.Metrics, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = def.FrameSamples
	}
	if cfg.BlockSamples <= 0 {
		cfg.BlockSamples = def.BlockSamples
	}
	if cfg.PacketQueue <= 0 {
		cfg.PacketQueue = def.PacketQueue
	}
	p := &Pipeline{
		logger:  logger,
		source:  source,
		sink:    sink,
		cfg:     cfg,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start acquires the microphone and begins streaming packets to the sink.
// On failure nothing stays acquired.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	audioCtx, err := p.source.NewContext(p.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("capture: create processing context: %w", err)
	}
	if rate := audioCtx.SampleRate(); rate != p.cfg.SampleRate {
		p.closeContext(audioCtx)
		return fmt.Errorf("%w: context runs at %d Hz, need %d Hz", ErrUnsupported, rate, p.cfg.SampleRate)
	}

	stream, err := audioCtx.OpenInput(ctx, internal_type.InputConstraints{
		SampleRate:       p.cfg.SampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		p.closeContext(audioCtx)
		return fmt.Errorf("capture: open input: %w", err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	p.audioCtx = audioCtx
	p.stream = stream
	p.cancel = cancel
	p.running = true
	p.lastErr = nil

	if audioCtx.SupportsWorklet() {
		p.mode = ModeWorklet
		packets := make(chan []byte, p.cfg.PacketQueue)
		p.wg.Add(2)
		go p.runWorklet(procCtx, stream, packets)
		go p.runSender(packets)
	} else {
		p.mode = ModeBlock
		p.logger.Warnf("capture: no dedicated processing thread, falling back to %d sample blocks", p.cfg.BlockSamples)
		p.wg.Add(1)
		go p.runBlocks(procCtx, stream)
	}
	p.logger.Infof("capture: started in %s mode at %d Hz", p.mode, p.cfg.SampleRate)
	return nil
}

// Stop releases, in order, the input device, the processing goroutines and
// the processing context. Stopping an idle pipeline is a no-op.
func (p *Pipeline) Stop() error {
	return p.release(nil)
}

// release stops the pipeline. A non-nil owner limits it to the run that
// opened that stream, so a failing reader never stops a later Start.
func (p *Pipeline) release(owner internal_type.InputStream) error {
	p.mu.Lock()
	if !p.running || (owner != nil && p.stream != owner) {
		p.mu.Unlock()
		return nil
	}
	stream, audioCtx, cancel := p.stream, p.audioCtx, p.cancel
	p.stream, p.audioCtx, p.cancel = nil, nil, nil
	p.running = false
	p.mode = ModeNone
	p.mu.Unlock()

	var errs []error
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("capture: close input: %w", err))
	}
	cancel()
	p.wg.Wait()
	if err := audioCtx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("capture: close context: %w", err))
	}
	p.level.Store(0)
	p.logger.Infof("capture: stopped")
	return errors.Join(errs...)
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Err is the input failure that ended the last run, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Pipeline) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		PacketsSent:    p.packetsSent.Load(),
		PacketsDropped: p.packetsDropped.Load(),
		SendErrors:     p.sendErrors.Load(),
		Samples:        p.samples.Load(),
	}
}

// Level is the mean energy of the most recent packet, in [0, 1].
func (p *Pipeline) Level() float32 {
	return math.Float32frombits(p.level.Load())
}

func (p *Pipeline) closeContext(audioCtx internal_type.AudioContext) {
	if err := audioCtx.Close(); err != nil {
		p.logger.Warnf("capture: close context: %v", err)
	}
}

func (p *Pipeline) send(packet []byte) {
	if err := p.sink.SendAudio(packet); err != nil {
		p.sendErrors.Add(1)
		p.metrics.SendError()
		p.logger.Debugf("capture: packet not sent: %v", err)
		return
	}
	p.packetsSent.Add(1)
	p.metrics.PacketSent()
}
