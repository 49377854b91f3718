// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callstate holds the data model shared across the call
// mediation engine: the Call itself, its audio framing primitives, its
// transcript, and the order being built during the call. The Call
// Orchestrator (internal/orchestrator) is the sole owner; every other
// component holds at most a call-id.
package callstate

import (
	"sync"
	"time"
)

// State is the call lifecycle state machine (§4.7). ended is terminal;
// a call-id is never reused once a Call reaches it.
type State string

const (
	StateRinging State = "ringing"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// Speaker identifies who produced a TranscriptSegment.
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// TranscriptSegment is appended to Call.Transcript only when Final is
// true; a non-final update overwrites the last non-final segment for
// that speaker (§3).
type TranscriptSegment struct {
	Speaker   Speaker
	Text      string
	Final     bool
	Timestamp time.Time
}

// Call is created on inbound INVITE and destroyed on hangup. At most one
// Call may be in state {ringing, active} per process (§3, §5) — that
// invariant is enforced by the orchestrator, not by this type.
type Call struct {
	mu sync.RWMutex

	ID        string // opaque SIP call-id
	RemoteURI string
	RemoteIP  string
	StartTime time.Time

	state State

	NegotiatedCodec string
	NegotiatedRate  int

	// onHold is a slot for the SDP hold state (teacher's sip/infra/sdp.go
	// SDPMediaInfo.IsHold()). No code calls SetOnHold, so it stays false;
	// it is never acted on either — hold/resume behavior is not part of
	// the §4.7 state machine (see SPEC_FULL.md §4 supplemented features).
	onHold bool

	transcript []TranscriptSegment

	OrderRef string
}

// NewCall constructs a Call in the ringing state.
func NewCall(id, remoteURI, remoteIP string) *Call {
	return &Call{
		ID:        id,
		RemoteURI: remoteURI,
		RemoteIP:  remoteIP,
		StartTime: time.Now(),
		state:     StateRinging,
	}
}

func (c *Call) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Call) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Call) SetCodec(name string, rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NegotiatedCodec = name
	c.NegotiatedRate = rate
}

func (c *Call) SetOnHold(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHold = hold
}

func (c *Call) OnHold() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onHold
}

// AppendFinalTranscript appends a final segment. Finals must arrive in
// monotonic timestamp order per speaker (§5); the caller (orchestrator)
// is responsible for that ordering since it is the single consumer of
// C4's transcript events.
func (c *Call) AppendFinalTranscript(seg TranscriptSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, seg)
}

// UpdatePartialTranscript overwrites the last non-final segment for the
// given speaker, or appends one if none exists yet (§3).
func (c *Call) UpdatePartialTranscript(speaker Speaker, text string, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.transcript) - 1; i >= 0; i-- {
		if c.transcript[i].Speaker == speaker {
			if !c.transcript[i].Final {
				c.transcript[i] = TranscriptSegment{Speaker: speaker, Text: text, Final: false, Timestamp: ts}
				return
			}
			break
		}
	}
	c.transcript = append(c.transcript, TranscriptSegment{Speaker: speaker, Text: text, Final: false, Timestamp: ts})
}

// Transcript returns a copy of the accumulated segments.
func (c *Call) Transcript() []TranscriptSegment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TranscriptSegment, len(c.transcript))
	copy(out, c.transcript)
	return out
}
