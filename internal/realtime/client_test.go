// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package realtime

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/calld/internal/audiocodec"
	"github.com/rapidaai/calld/internal/log"
)

func newTestClient(h Handlers) *Client {
	return &Client{
		cfg:      Config{}.withDefaults(),
		callID:   "test-call",
		logger:   log.Nop(),
		handlers: h,
		done:     make(chan struct{}),
	}
}

func TestDispatchAudioDelta(t *testing.T) {
	var got []int16
	c := newTestClient(Handlers{OnAudio: func(pcm []int16) { got = pcm }})

	pcm := []int16{100, -200, 300}
	encoded := base64.StdEncoding.EncodeToString(audiocodec.PCM16ToBytes(pcm))
	c.dispatch([]byte(`{"type":"response.audio.delta","delta":"` + encoded + `"}`))

	assert.Equal(t, pcm, got)
}

func TestDispatchTranscriptDelta(t *testing.T) {
	var role, text string
	var final bool
	c := newTestClient(Handlers{OnTranscript: func(r, txt string, f bool) { role, text, final = r, txt, f }})

	c.dispatch([]byte(`{"type":"response.audio_transcript.delta","delta":"hel"}`))
	assert.Equal(t, "assistant", role)
	assert.Equal(t, "hel", text)
	assert.False(t, final)
}

func TestDispatchTranscriptDone(t *testing.T) {
	var final bool
	c := newTestClient(Handlers{OnTranscript: func(_, _ string, f bool) { final = f }})
	c.dispatch([]byte(`{"type":"response.audio_transcript.done","transcript":"hello there"}`))
	assert.True(t, final)
}

func TestDispatchInputTranscriptionCompletedIsCallerRole(t *testing.T) {
	var role, text string
	var final bool
	c := newTestClient(Handlers{OnTranscript: func(r, txt string, f bool) { role, text, final = r, txt, f }})

	c.dispatch([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"zehn Stueck Profipress Bogen 22"}`))
	assert.Equal(t, "caller", role)
	assert.Equal(t, "zehn Stueck Profipress Bogen 22", text)
	assert.True(t, final)
}

func TestDispatchSpeechStartedFiresInterruption(t *testing.T) {
	fired := false
	c := newTestClient(Handlers{OnInterruption: func() { fired = true }})
	c.dispatch([]byte(`{"type":"input_audio_buffer.speech_started"}`))
	assert.True(t, fired)
}

func TestDispatchToolCall(t *testing.T) {
	var id, name, args string
	c := newTestClient(Handlers{OnToolCall: func(i, n, a string) { id, name, args = i, n, a }})
	c.dispatch([]byte(`{"type":"response.function_call_arguments.done","call_id":"call_1","name":"show_order","arguments":"{}"}`))
	assert.Equal(t, "call_1", id)
	assert.Equal(t, "show_order", name)
	assert.Equal(t, "{}", args)
}

func TestDispatchErrorInvokesOnError(t *testing.T) {
	var msg string
	c := newTestClient(Handlers{OnError: func(m string) { msg = m }})
	c.dispatch([]byte(`{"type":"error","error":{"message":"boom"}}`))
	assert.Equal(t, "boom", msg)
}

func TestDispatchUnknownEventDoesNotPanic(t *testing.T) {
	c := newTestClient(Handlers{})
	assert.NotPanics(t, func() {
		c.dispatch([]byte(`{"type":"response.done"}`))
	})
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, defaultVoice, cfg.Voice)
	assert.Equal(t, float64(defaultVADThreshold), cfg.VADThreshold)
	assert.Equal(t, defaultVADPrefixPaddingMs, cfg.VADPrefixPaddingMs)
	assert.Equal(t, defaultVADSilenceDurationMs, cfg.VADSilenceDurationMs)
}
