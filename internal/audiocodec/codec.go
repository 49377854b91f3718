// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audiocodec is the Audio Transcoder (§4.1): it converts between
// the wire formats the SIP/RTP endpoint (internal/sip) negotiates —
// PCMU, PCMA, and Opus — and the linear PCM16 the AI realtime session
// (internal/realtime) speaks, at whatever sample rate each side uses.
//
// Every codec is keyed by the same Name used in internal/sip's SDP
// negotiation (api/assistant-api/sip/infra/sdp.go's Codec table), so a
// negotiated RTP payload type maps directly onto a Transcoder here.
package audiocodec

import "fmt"

// Name identifies a codec the same way internal/sip's SDP negotiation does.
type Name string

const (
	NamePCMU Name = "PCMU"
	NamePCMA Name = "PCMA"
	NameL16  Name = "L16"
	NameOpus Name = "OPUS"
)

// Transcoder converts one codec's wire payload to/from linear PCM16
// samples at the codec's native clock rate. Opus transcoders are
// stateful (one per direction per call); G.711 transcoders are pure
// functions and safe to share.
type Transcoder interface {
	// Decode turns one RTP payload's worth of wire bytes into PCM16 samples.
	Decode(payload []byte) ([]int16, error)
	// Encode turns PCM16 samples into one RTP payload's worth of wire bytes.
	Encode(pcm []int16) ([]byte, error)
	// ClockRate is the codec's native sample rate in Hz.
	ClockRate() int
}

// NewTranscoder builds the Transcoder for name at the given clock rate.
// clockRate is ignored for PCMU/PCMA, which are fixed at 8kHz per RFC
// 3551; it selects the Opus encoder/decoder's internal rate.
func NewTranscoder(name Name, clockRate int) (Transcoder, error) {
	switch name {
	case NamePCMU:
		return ulawTranscoder{}, nil
	case NamePCMA:
		return alawTranscoder{}, nil
	case NameL16:
		return linear16Transcoder{rate: clockRate}, nil
	case NameOpus:
		return newOpusTranscoder(clockRate, 1)
	default:
		return nil, fmt.Errorf("audiocodec: unsupported codec %q", name)
	}
}

type linear16Transcoder struct{ rate int }

func (t linear16Transcoder) ClockRate() int { return t.rate }

func (t linear16Transcoder) Decode(payload []byte) ([]int16, error) {
	return BytesToPCM16(payload), nil
}

func (t linear16Transcoder) Encode(pcm []int16) ([]byte, error) {
	return PCM16ToBytes(pcm), nil
}

// BytesToPCM16 reinterprets little-endian 16-bit PCM bytes as samples.
// Exported for internal/realtime, which speaks raw little-endian PCM16
// over base64 rather than through a Transcoder (§4.4).
func BytesToPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

// PCM16ToBytes packs samples into little-endian 16-bit PCM bytes.
func PCM16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// U8ToS16 converts 8-bit unsigned PCM (center 128) to 16-bit signed (§4.1).
func U8ToS16(u8 []byte) []int16 {
	out := make([]int16, len(u8))
	for i, b := range u8 {
		out[i] = (int16(b) - 128) * 256
	}
	return out
}

// S16ToU8 converts 16-bit signed PCM to 8-bit unsigned (center 128).
func S16ToU8(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = byte(int16(s)/256 + 128)
	}
	return out
}
