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
	"math"

	internal_audio_mulaw "github.com/rapidaai/voice-console/api/console-api/internal/audio/mulaw"
	internal_type "github.com/rapidaai/voice-console/api/console-api/internal/type"
	"github.com/rapidaai/voice-console/pkg/utils"
)

// =============================================================================
// Worklet mode
// =============================================================================

// runWorklet frames samples into fixed packets and transfers each packet to
// the sender. It owns its buffers; nothing else touches them.
func (p *Pipeline) runWorklet(ctx context.Context, stream internal_type.InputStream, out chan<- []byte) {
	defer p.wg.Done()
	defer close(out)

	size := p.cfg.FrameSamples
	buf := make([]float32, size)
	acc := make([]float32, 0, size*2)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			for len(acc) >= size {
				packet := p.encode(acc[:size])
				select {
				case out <- packet:
				case <-ctx.Done():
					return
				default:
					p.packetsDropped.Add(1)
					p.logger.Warnw("capture: packet queue full, dropping packet", "samples", size)
				}
				acc = append(acc[:0], acc[size:]...)
			}
		}
		if err != nil {
			p.readFailed(ctx, stream, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) runSender(in <-chan []byte) {
	defer p.wg.Done()
	for packet := range in {
		p.send(packet)
	}
}

// =============================================================================
// Block mode
// =============================================================================

func (p *Pipeline) runBlocks(ctx context.Context, stream internal_type.InputStream) {
	defer p.wg.Done()
	buf := make([]float32, p.cfg.BlockSamples)
	for {
		n, err := readFull(stream, buf)
		if n == len(buf) {
			p.send(p.encode(buf))
		}
		if err != nil {
			p.readFailed(ctx, stream, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// =============================================================================
// helpers
// =============================================================================

func (p *Pipeline) encode(samples []float32) []byte {
	p.samples.Add(uint64(len(samples)))
	p.level.Store(math.Float32bits(utils.ClampFloat32(utils.MeanSquareFloat32(samples), 0, 1)))
	return internal_audio_mulaw.EncodeFrame(samples)
}

// readFailed runs on a worker goroutine when the input stream ends on its
// own. The release happens on a new goroutine since Stop waits for workers.
func (p *Pipeline) readFailed(ctx context.Context, stream internal_type.InputStream, err error) {
	if ctx.Err() != nil {
		return
	}
	eof := errors.Is(err, io.EOF)
	p.mu.Lock()
	if p.stream != stream {
		p.mu.Unlock()
		return
	}
	if !eof {
		p.lastErr = err
	}
	p.mu.Unlock()

	if eof {
		p.logger.Infof("capture: input stream ended")
	} else {
		p.logger.Errorf("capture: input read failed: %v", err)
	}
	go func() {
		if rerr := p.release(stream); rerr != nil {
			p.logger.Warnf("capture: releasing failed input: %v", rerr)
		}
		if !eof && p.onError != nil {
			p.onError(fmt.Errorf("capture: input failed: %w", err))
		}
	}()
}

func readFull(stream internal_type.InputStream, buf []float32) (int, error) {
	filled := 0
	for filled < len(buf) {
		n, err := stream.Read(buf[filled:])
		filled += n
		if err != nil {
			return filled, err
		}
	}
	return filled, nil
}
