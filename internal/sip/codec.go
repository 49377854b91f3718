// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import "strings"

// Codec describes an audio codec's RTP wire configuration. Ported
// directly from api/assistant-api/sip/infra/sdp.go's Codec table.
type Codec struct {
	Name        string
	PayloadType uint8
	ClockRate   uint32
	Channels    int
}

var (
	CodecOpus = Codec{Name: "OPUS", PayloadType: 111, ClockRate: 48000, Channels: 1}
	CodecPCMU = Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000, Channels: 1}
	CodecPCMA = Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000, Channels: 1}

	// CodecG722 is defined for completeness with the preference list in
	// §4.2, but — same as the teacher's sdp.go, which defines it without
	// adding it to SupportedCodecs — it is never offered or negotiated:
	// no G.722 transcoder exists (see audiocodec.NewTranscoder).
	CodecG722 = Codec{Name: "G722", PayloadType: 9, ClockRate: 8000, Channels: 1}

	// CodecTelephoneEvent is RFC 4733 DTMF telephone-event. Required in
	// the SDP offer/answer by nearly every SIP endpoint (Asterisk,
	// FreeSWITCH, Twilio, Zoiper, sipgate) or they refuse to bridge media.
	CodecTelephoneEvent = Codec{Name: "telephone-event", PayloadType: 101, ClockRate: 8000, Channels: 1}
)

// PreferredCodecs is the negotiation preference order from §4.2:
// Opus/48000, then PCMA/8000, then PCMU/8000 (G722 is listed in the spec
// but never actually offered, see CodecG722).
var PreferredCodecs = []Codec{CodecOpus, CodecPCMA, CodecPCMU}

// NegotiateCodec picks the first entry of PreferredCodecs whose payload
// type the remote side also offered, defaulting to PCMU — the
// compatibility baseline (§4.8).
func NegotiateCodec(remotePayloadTypes []uint8) Codec {
	for _, preferred := range PreferredCodecs {
		for _, remotePT := range remotePayloadTypes {
			if preferred.PayloadType == remotePT {
				return preferred
			}
		}
	}
	return CodecPCMU
}

// CodecByPayloadType looks up a negotiable codec by RTP payload type.
func CodecByPayloadType(pt uint8) (Codec, bool) {
	for _, c := range PreferredCodecs {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// CodecByName looks up a negotiable codec by name, case-insensitive.
func CodecByName(name string) (Codec, bool) {
	name = strings.ToUpper(name)
	for _, c := range PreferredCodecs {
		if c.Name == name {
			return c, true
		}
	}
	return Codec{}, false
}
