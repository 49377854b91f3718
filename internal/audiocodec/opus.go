// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiocodec

import (
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

// opusFrameSamples is the decode scratch buffer size: 120ms at 48kHz
// mono, the largest frame Opus can produce, wide enough for any
// negotiated clock rate this transcoder is built with.
const opusFrameSamples = 5760

// opusTranscoder wraps one *opus.Encoder and one *opus.Decoder for a
// single direction of a single call; unlike the G.711 transcoders it is
// stateful and must not be shared across calls.
type opusTranscoder struct {
	mu      sync.Mutex
	enc     *opus.Encoder
	dec     *opus.Decoder
	rate    int
	scratch []int16
}

func newOpusTranscoder(rate, channels int) (*opusTranscoder, error) {
	if rate <= 0 {
		rate = 48000
	}
	enc, err := opus.NewEncoder(rate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: opus encoder: %w", err)
	}
	// Voice-tuned encoder settings, matching the retrieval pack's
	// CreateOpusEncoder pattern for real-time speech.
	_ = enc.SetBitrate(32000)
	_ = enc.SetComplexity(5)
	_ = enc.SetDTX(false)
	_ = enc.SetInBandFEC(true)

	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: opus decoder: %w", err)
	}

	return &opusTranscoder{
		enc:     enc,
		dec:     dec,
		rate:    rate,
		scratch: make([]int16, opusFrameSamples),
	}, nil
}

func (t *opusTranscoder) ClockRate() int { return t.rate }

func (t *opusTranscoder) Decode(payload []byte) ([]int16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.dec.Decode(payload, t.scratch)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: opus decode: %w", err)
	}
	out := make([]int16, n)
	copy(out, t.scratch[:n])
	return out, nil
}

func (t *opusTranscoder) Encode(pcm []int16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := make([]byte, 4000)
	n, err := t.enc.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: opus encode: %w", err)
	}
	return data[:n], nil
}
