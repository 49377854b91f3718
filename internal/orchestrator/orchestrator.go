// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package orchestrator is the Call Orchestrator (C7, §4.7): it owns the
// per-call state machine (idle → ringing → active → ended) and wires C2
// (internal/sip), C1 (internal/audiocodec) and C4 (internal/realtime)
// together. It is a process singleton — at most one Call and one Order
// exist at a time (§5).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/calld/internal/admission"
	"github.com/rapidaai/calld/internal/audiocodec"
	"github.com/rapidaai/calld/internal/callstate"
	"github.com/rapidaai/calld/internal/config"
	"github.com/rapidaai/calld/internal/expert"
	"github.com/rapidaai/calld/internal/log"
	"github.com/rapidaai/calld/internal/realtime"
	"github.com/rapidaai/calld/internal/sip"
	"github.com/rapidaai/calld/internal/tooldispatch"
)

const (
	greetingDelay        = time.Second
	outboundCadence      = 20 * time.Millisecond
	outboundFrameSamples = 480 // 20ms @ 24kHz, the realtime API's output rate
	realtimeNativeRate   = 16000
	realtimeOutputRate   = 24000
)

// Broadcaster is the subset of the Event Hub (C8, §4.8) the orchestrator
// pushes lifecycle and transcript events to. Defined here rather than
// imported from internal/hub so the two packages can wire together in
// either direction without an import cycle — internal/hub implements
// this interface, and internal/orchestrator implements hub.Controller.
type Broadcaster interface {
	BroadcastCallIncoming(callID, remoteURI string)
	BroadcastCallActive(callID string)
	BroadcastCallEnded(callID string)
	BroadcastCallRejected(callID, reason string)
	BroadcastTranscript(role, text string, final bool)
	BroadcastOrderUpdate(snapshot callstate.OrderSnapshot)
	BroadcastDebugEvent(kind, detail string)
	BroadcastExpertQueryStart(question string)
	BroadcastExpertQueryDone(question, answer string, confidence float64, success bool)
	BroadcastFirewallStatus(enabled bool)
}

// RealtimeTemplate holds the per-deployment realtime connection settings
// that are the same for every call; only Instructions and Tools vary
// call-to-call.
type RealtimeTemplate struct {
	URL                  string
	Model                string
	APIKey               string
	Voice                string
	VADThreshold         float64
	VADPrefixPaddingMs   int
	VADSilenceDurationMs int
}

// Deps bundles everything the orchestrator needs but does not own.
type Deps struct {
	SIP         *sip.Server
	Admission   *admission.Filter
	Catalogs    *tooldispatch.CatalogStore
	Domains     *tooldispatch.DomainRegistry
	Expert      *expert.Client
	ConfigStore *config.Store
	Broadcaster Broadcaster
	Realtime    RealtimeTemplate
	Logger      log.Logger
}

// Status is a snapshot for GET / and GET /status (§6).
type Status struct {
	SIPRegistered   bool
	CallActive      bool
	CallID          string
	AIMuted         bool
	FirewallEnabled bool
	OrderItemCount  int
}

// Orchestrator is the process singleton driving the call state machine.
type Orchestrator struct {
	deps Deps

	mu           sync.Mutex
	call         *callstate.Call
	order        *callstate.Order
	rt           *realtime.Client
	dispatcher   *tooldispatch.Dispatcher
	inQueue      *callstate.BoundedFrameQueue
	outQueue     *callstate.BoundedFrameQueue
	muted        bool
	instructions string
	outboundBuf  []int16
	stopOutbound context.CancelFunc
}

// New builds an idle Orchestrator and registers it as the SIP server's
// call-lifecycle handler.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{deps: deps, instructions: defaultInstructions}
	deps.SIP.SetHandlers(sip.Handlers{
		OnIncoming:        o.onIncoming,
		OnCodecNegotiated: o.onCodecNegotiated,
		OnAudio:           o.onAudio,
		OnHangup:          o.onHangup,
	})
	return o
}

const defaultInstructions = "You are a helpful voice assistant for a phone-based product ordering line."

// onIncoming runs on C2's SIP goroutine before any 180/200 is sent
// (§4.2). It enforces the single-concurrent-call invariant and the
// admission filter (§4.3, §5), then lets C2 answer asynchronously.
func (o *Orchestrator) onIncoming(callID, remoteURI, remoteIP string) (bool, int) {
	decision := o.deps.Admission.Evaluate(remoteIP, remoteURI)
	if !decision.Allow {
		o.deps.Logger.Warnf("orchestrator: rejecting %s from %s: %s", callID, remoteIP, decision.Reason)
		o.deps.Broadcaster.BroadcastCallRejected(callID, decision.Reason)
		return false, 403
	}

	o.mu.Lock()
	if o.call != nil {
		o.mu.Unlock()
		o.deps.Broadcaster.BroadcastCallRejected(callID, "a call is already active")
		return false, 486
	}
	call := callstate.NewCall(callID, remoteURI, remoteIP)
	order := callstate.NewOrder(remoteURI)
	order.OnUpdate(o.deps.Broadcaster.BroadcastOrderUpdate)
	o.call = call
	o.order = order
	o.mu.Unlock()

	o.deps.Broadcaster.BroadcastCallIncoming(callID, remoteURI)

	go func() {
		if err := o.deps.SIP.Accept(callID); err != nil {
			o.deps.Logger.Errorf("orchestrator: accept %s failed: %v", callID, err)
			o.mu.Lock()
			if o.call != nil && o.call.ID == callID {
				o.call = nil
				o.order = nil
			}
			o.mu.Unlock()
		}
	}()
	return true, 0
}

// onCodecNegotiated runs once C2.Accept has answered with SDP (§4.7
// "ringing → active on C2.accept completion"). It opens the audio
// queues, dials C4, and schedules the greeting.
func (o *Orchestrator) onCodecNegotiated(callID string, codec sip.Codec) {
	o.mu.Lock()
	if o.call == nil || o.call.ID != callID {
		o.mu.Unlock()
		return
	}
	o.call.SetCodec(codec.Name, int(codec.ClockRate))
	order := o.order
	instructions := o.instructions
	o.mu.Unlock()

	rtCfg := realtime.Config{
		URL:                  o.deps.Realtime.URL,
		Model:                o.deps.Realtime.Model,
		APIKey:               o.deps.Realtime.APIKey,
		Voice:                o.deps.Realtime.Voice,
		Instructions:         instructions,
		Tools:                tooldispatch.Tools(),
		VADThreshold:         o.deps.Realtime.VADThreshold,
		VADPrefixPaddingMs:   o.deps.Realtime.VADPrefixPaddingMs,
		VADSilenceDurationMs: o.deps.Realtime.VADSilenceDurationMs,
	}

	rt, err := realtime.New(context.Background(), callID, rtCfg, o.deps.Logger, realtime.Handlers{
		OnAudio:        o.onAIAudio,
		OnTranscript:   o.onAITranscript,
		OnInterruption: o.onInterruption,
		OnToolCall:     o.onToolCall,
		OnError:        o.onAIError,
	})
	if err != nil {
		o.deps.Logger.Errorf("orchestrator: realtime connect for %s failed: %v", callID, err)
		o.deps.SIP.Hangup(callID)
		o.endCall(callID, "realtime connect failed")
		return
	}

	// The dispatcher is built only once C4 exists, so
	// find_product_catalog/switch_product_domain can push new
	// instructions mid-call via rt.UpdateInstructions.
	dispatcher := tooldispatch.New(o.deps.Catalogs, o.deps.Domains, order, o.deps.Expert, rt, o.deps.Logger)

	outboundCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.rt = rt
	o.dispatcher = dispatcher
	o.inQueue = callstate.NewBoundedFrameQueue(callstate.DefaultQueueCapacity)
	o.outQueue = callstate.NewBoundedFrameQueue(callstate.DefaultQueueCapacity)
	o.stopOutbound = cancel
	o.call.SetState(callstate.StateActive)
	o.mu.Unlock()

	go o.runOutboundWorker(outboundCtx, callID)

	time.AfterFunc(greetingDelay, func() {
		if err := rt.TriggerGreeting(); err != nil {
			o.deps.Logger.Warnf("orchestrator: trigger greeting for %s failed: %v", callID, err)
		}
	})

	o.deps.Broadcaster.BroadcastCallActive(callID)
}

// onAudio is C2's inbound audio callback: resample native→16kHz and
// hand straight to C4, with no buffering in between (§4.7).
func (o *Orchestrator) onAudio(callID string, pcmNative []int16) {
	o.mu.Lock()
	rt := o.rt
	muted := o.muted
	rate := 0
	if o.call != nil && o.call.ID == callID {
		rate = o.call.NegotiatedRate
	}
	o.mu.Unlock()
	if rt == nil || muted || rate == 0 {
		return
	}
	pcm16k := audiocodec.Resample(pcmNative, rate, realtimeNativeRate)
	rt.SendAudio(pcm16k)
}

// onAIAudio is C4's outbound audio callback: frame into fixed 20ms
// chunks at the realtime API's 24kHz output rate and enqueue.
func (o *Orchestrator) onAIAudio(pcm24k []int16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outQueue == nil {
		return
	}
	o.outboundBuf = append(o.outboundBuf, pcm24k...)
	for len(o.outboundBuf) >= outboundFrameSamples {
		frame := append([]int16(nil), o.outboundBuf[:outboundFrameSamples]...)
		o.outboundBuf = o.outboundBuf[outboundFrameSamples:]
		o.outQueue.Push(callstate.AudioFrame{
			Payload:     audiocodec.PCM16ToBytes(frame),
			SourceRate:  realtimeOutputRate,
			BitDepth:    16,
			TimestampMs: time.Now().UnixMilli(),
		})
	}
}

// runOutboundWorker dequeues at a fixed wall-clock cadence, resamples
// 24k→native, and forwards to C2 (§4.7: "cadence must be driven by
// wall-clock, not by queue depth").
func (o *Orchestrator) runOutboundWorker(ctx context.Context, callID string) {
	ticker := time.NewTicker(outboundCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			queue := o.outQueue
			nativeRate := 0
			if o.call != nil && o.call.ID == callID {
				nativeRate = o.call.NegotiatedRate
			}
			o.mu.Unlock()
			if queue == nil || nativeRate == 0 {
				continue
			}
			frame, ok := queue.Pop()
			if !ok {
				continue
			}
			pcm24k := audiocodec.BytesToPCM16(frame.Payload)
			pcmNative := audiocodec.Resample(pcm24k, realtimeOutputRate, nativeRate)
			if err := o.deps.SIP.SendAudio(callID, pcmNative); err != nil {
				o.deps.Logger.Warnf("orchestrator: send audio for %s failed: %v", callID, err)
			}
		}
	}
}

// onInterruption is C4's barge-in signal (§4.7): flush the outbound
// queue atomically, then cancel the in-flight response. Inbound audio
// and the microphone are left untouched.
func (o *Orchestrator) onInterruption() {
	o.mu.Lock()
	queue := o.outQueue
	o.outboundBuf = nil
	rt := o.rt
	o.mu.Unlock()
	if queue != nil {
		if n := queue.Flush(); n > 0 {
			o.deps.Logger.Debugf("orchestrator: barge-in flushed %d outbound frames", n)
		}
	}
	if rt != nil {
		if err := rt.CancelResponse(); err != nil {
			o.deps.Logger.Warnf("orchestrator: cancel_response on barge-in failed: %v", err)
		}
	}
	o.deps.Broadcaster.BroadcastDebugEvent("barge_in", "")
}

// onAITranscript records and broadcasts one transcript update (§4.7,
// §5: finals are appended in the order C4 emits them, which is already
// monotonic per speaker since C4 is single-threaded for one call).
func (o *Orchestrator) onAITranscript(role, text string, final bool) {
	o.mu.Lock()
	call := o.call
	o.mu.Unlock()
	if call == nil {
		return
	}
	speaker := callstate.SpeakerAssistant
	if role == "caller" || role == "user" {
		speaker = callstate.SpeakerCaller
	}
	if final {
		call.AppendFinalTranscript(callstate.TranscriptSegment{Speaker: speaker, Text: text, Final: true, Timestamp: time.Now()})
	} else {
		call.UpdatePartialTranscript(speaker, text, time.Now())
	}
	o.deps.Broadcaster.BroadcastTranscript(string(speaker), text, final)
}

// onToolCall hops to a worker goroutine per §4.7 ("never on the
// WebSocket read path") and posts the result back to C4.
func (o *Orchestrator) onToolCall(id, name, argsJSON string) {
	o.mu.Lock()
	dispatcher := o.dispatcher
	rt := o.rt
	o.mu.Unlock()
	if dispatcher == nil || rt == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var result string
		if name == "ask_expert" {
			o.deps.Broadcaster.BroadcastExpertQueryStart(argsJSON)
			outcome := dispatcher.AskExpert(ctx, argsJSON)
			o.deps.Broadcaster.BroadcastExpertQueryDone(argsJSON, outcome.Answer, outcome.Confidence, outcome.Success)
			result = outcome.Answer
		} else {
			result = dispatcher.Dispatch(ctx, name, argsJSON)
		}

		if err := rt.PostToolResult(id, result); err != nil {
			o.deps.Logger.Warnf("orchestrator: post tool result for %s failed: %v", name, err)
		}
	}()
}

// onAIError ends the call on any reported C4 error. The realtime
// client does not currently distinguish a recoverable server-sent
// `error` event from a terminal reconnect-exhausted failure (both reach
// Handlers.OnError identically); treating every report
// as terminal is the conservative reading of §4.7's "C4 WebSocket
// terminal failure" trigger.
func (o *Orchestrator) onAIError(message string) {
	o.mu.Lock()
	callID := ""
	if o.call != nil {
		callID = o.call.ID
	}
	o.mu.Unlock()
	if callID == "" {
		return
	}
	o.deps.Broadcaster.BroadcastDebugEvent("ai_error", message)
	o.deps.SIP.Hangup(callID)
	o.endCall(callID, message)
}

// onHangup is C2's teardown callback: a BYE from the far end, or the RTP
// silence timeout (§4.2). Hangups started here call endCall directly.
func (o *Orchestrator) onHangup(callID string) {
	o.endCall(callID, "call ended")
}

// endCall performs the active → ended transition exactly once per call
// (§4.7): close C4, stop the outbound worker, clear the active-catalog
// set, broadcast call_ended, destroy the Order.
func (o *Orchestrator) endCall(callID, reason string) {
	o.mu.Lock()
	if o.call == nil || o.call.ID != callID {
		o.mu.Unlock()
		return
	}
	o.call.SetState(callstate.StateEnded)
	rt := o.rt
	dispatcher := o.dispatcher
	stopOutbound := o.stopOutbound
	o.rt = nil
	o.dispatcher = nil
	o.inQueue = nil
	o.outQueue = nil
	o.outboundBuf = nil
	o.stopOutbound = nil
	o.call = nil
	o.order = nil
	o.mu.Unlock()

	if stopOutbound != nil {
		stopOutbound()
	}
	if dispatcher != nil {
		dispatcher.Reset()
	}
	if rt != nil {
		if err := rt.Close(); err != nil {
			o.deps.Logger.Warnf("orchestrator: close realtime for %s: %v", callID, err)
		}
	}
	o.deps.Logger.Infof("orchestrator: call %s ended: %s", callID, reason)
	o.deps.Broadcaster.BroadcastCallEnded(callID)
}

// --- hub.Controller surface (§6 REST control plane) ---

// Hangup implements an operator-initiated hangup (§4.7 "operator hangup
// command from C8").
func (o *Orchestrator) Hangup() error {
	o.mu.Lock()
	call := o.call
	o.mu.Unlock()
	if call == nil {
		return fmt.Errorf("orchestrator: no active call")
	}
	o.deps.SIP.Hangup(call.ID)
	o.endCall(call.ID, "operator hangup")
	return nil
}

// MuteAI stops forwarding caller audio into C4 without touching the RTP
// session itself.
func (o *Orchestrator) MuteAI() {
	o.mu.Lock()
	o.muted = true
	o.mu.Unlock()
}

// UnmuteAI resumes forwarding caller audio into C4.
func (o *Orchestrator) UnmuteAI() {
	o.mu.Lock()
	o.muted = false
	o.mu.Unlock()
}

// Instructions returns the current base AI instructions string.
func (o *Orchestrator) Instructions() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instructions
}

// SetInstructions replaces the live instructions atomically (§3
// "read-mostly; updates replace the whole value atomically") and, if a
// call is active, pushes them to C4 immediately. Deliberately
// non-persisted (§6 "GET|POST /instructions — non-persisted").
func (o *Orchestrator) SetInstructions(instructions string) error {
	o.mu.Lock()
	o.instructions = instructions
	rt := o.rt
	o.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.UpdateInstructions(instructions)
}

// Order returns the active order's snapshot, or a zero-value snapshot
// if no call is active.
func (o *Orchestrator) Order() callstate.OrderSnapshot {
	o.mu.Lock()
	order := o.order
	o.mu.Unlock()
	if order == nil {
		return callstate.OrderSnapshot{}
	}
	return callstate.OrderSnapshot{CallerID: order.CallerID, StartedAt: order.StartedAt, Items: order.Items()}
}

// ClearOrder removes every line from the active order (DELETE /order).
func (o *Orchestrator) ClearOrder() {
	o.mu.Lock()
	order := o.order
	o.mu.Unlock()
	if order == nil {
		return
	}
	for _, item := range order.Items() {
		order.RemoveItem(item.ArticleNr)
	}
}

// Status reports the process's current state for GET / and GET /status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		SIPRegistered:   o.deps.SIP.IsRegistered(),
		AIMuted:         o.muted,
		FirewallEnabled: o.deps.Admission.Enabled(),
	}
	if o.call != nil {
		st.CallActive = true
		st.CallID = o.call.ID
	}
	if o.order != nil {
		st.OrderItemCount = len(o.order.Items())
	}
	return st
}
