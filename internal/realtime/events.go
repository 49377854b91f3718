// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package realtime

// serverEventType names the inbound event types this client recognizes.
// The realtime API emits many more event types than these; everything
// not named here is logged and dropped (§4.4).
type serverEventType string

const (
	eventSessionUpdated      serverEventType = "session.updated"
	eventAudioDelta          serverEventType = "response.audio.delta"
	eventTranscriptDelta     serverEventType = "response.audio_transcript.delta"
	eventTranscriptDone      serverEventType = "response.audio_transcript.done"
	eventInputTranscriptDone serverEventType = "conversation.item.input_audio_transcription.completed"
	eventSpeechStarted       serverEventType = "input_audio_buffer.speech_started"
	eventFunctionCallDone    serverEventType = "response.function_call_arguments.done"
	eventError               serverEventType = "error"
)

// serverEvent is the envelope every inbound message is decoded into: the
// type plus the type-specific fields this client reads, all in one flat
// struct, mirroring the teacher websocket executor's WSResponse envelope but
// flattened to the realtime API's own schema instead of re-wrapping it.
type serverEvent struct {
	Type        serverEventType `json:"type"`
	ResponseID  string          `json:"response_id,omitempty"`
	ItemID      string          `json:"item_id,omitempty"`
	CallID      string          `json:"call_id,omitempty"`
	Delta       string          `json:"delta,omitempty"`
	Transcript  string          `json:"transcript,omitempty"`
	Name        string          `json:"name,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`
	Error       *realtimeError  `json:"error,omitempty"`
}

type realtimeError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Handlers are the tagged-variant callbacks a call orchestrator supplies
// (§9's "weakly-typed event dispatch → tagged variants" redesign note).
// At most one fires per inbound event, always on the Client's own read
// goroutine — callers that do non-trivial work should hand off to their
// own worker rather than block the read loop.
type Handlers struct {
	OnConnected    func()
	OnAudio        func(pcm24k []int16)
	OnTranscript   func(role, text string, final bool)
	OnInterruption func()
	// OnToolCall must eventually result in a PostToolResult call for the
	// same id. The client invokes it directly on the WebSocket read
	// goroutine, so it is the handler's job to hop to a worker goroutine
	// before doing anything that can block (§4.4, §4.7).
	OnToolCall func(id, name, argsJSON string)
	OnError    func(message string)
}
