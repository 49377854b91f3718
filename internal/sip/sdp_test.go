// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateCodecPrefersOpus(t *testing.T) {
	codec := NegotiateCodec([]uint8{0, 8, 111})
	assert.Equal(t, CodecOpus.Name, codec.Name)
}

func TestNegotiateCodecFallsBackToPCMU(t *testing.T) {
	codec := NegotiateCodec([]uint8{101})
	assert.Equal(t, CodecPCMU.Name, codec.Name)
}

func TestGenerateAndParseSDPRoundTrip(t *testing.T) {
	cfg := OfferSDPConfig("192.168.1.10", 10000)
	body := GenerateSDP(cfg)

	info, err := ParseSDP([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", info.ConnectionIP)
	assert.Equal(t, 10000, info.AudioPort)
	assert.Contains(t, info.PayloadTypes, CodecTelephoneEvent.PayloadType)
}

func TestParseSDPDetectsHold(t *testing.T) {
	body := "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nc=IN IP4 0.0.0.0\r\nt=0 0\r\nm=audio 10000 RTP/AVP 0\r\na=sendonly\r\n"
	info, err := ParseSDP([]byte(body))
	require.NoError(t, err)
	assert.True(t, info.IsHold())
}

func TestParseSDPEmptyBodyErrors(t *testing.T) {
	_, err := ParseSDP(nil)
	assert.Error(t, err)
}

func TestPortAllocatorExhaustion(t *testing.T) {
	alloc, err := NewPortAllocator(10000, 10004)
	require.NoError(t, err)

	p1, err := alloc.Allocate()
	require.NoError(t, err)
	p2, err := alloc.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, 2, alloc.InUse())

	_, err = alloc.Allocate()
	assert.Error(t, err)

	alloc.Release(p1)
	assert.Equal(t, 1, alloc.InUse())
	p3, err := alloc.Allocate()
	require.NoError(t, err)
	assert.Equal(t, p1, p3)
}

func TestDigestResponseDeterministic(t *testing.T) {
	r1 := digestResponse("alice", "sip.example.com", "secret", "REGISTER", "sip:sip.example.com", "abc123")
	r2 := digestResponse("alice", "sip.example.com", "secret", "REGISTER", "sip:sip.example.com", "abc123")
	assert.Equal(t, r1, r2)
	assert.Len(t, r1, 32)
}
