// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package hub is the Event Hub + Control API (C8, §4.8): a REST control
// plane plus a best-effort WebSocket fan-out to every connected
// operator console. Grounded on the teacher's
// api/assistant-api/api/talk/webrtc.go websocket.Upgrader usage and its
// gin route-group wiring in router/assistant.go.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/calld/internal/callstate"
	"github.com/rapidaai/calld/internal/log"
)

// observerQueueCapacity bounds each observer's send buffer (§4.8:
// "drop-on-slow policy per observer is required").
const observerQueueCapacity = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the WebSocket envelope every broadcast message shares. It
// encodes as {"type": string, "fields": ...}: the event-specific fields
// are nested under "fields", not placed beside "type".
type Event struct {
	Type   string      `json:"type"`
	Fields interface{} `json:"fields,omitempty"`
}

// observer is one connected operator console.
type observer struct {
	conn    *websocket.Conn
	send    chan Event
	closeCh chan struct{}
	once    sync.Once
}

func (o *observer) close() {
	o.once.Do(func() {
		close(o.closeCh)
		if o.conn != nil {
			o.conn.Close()
		}
	})
}

// Hub fans Event broadcasts out to every connected observer and
// satisfies orchestrator.Broadcaster.
type Hub struct {
	logger log.Logger

	mu        sync.RWMutex
	observers map[*observer]struct{}
}

// New builds an empty Hub.
func New(logger log.Logger) *Hub {
	return &Hub{logger: logger, observers: make(map[*observer]struct{})}
}

// Serve upgrades one HTTP connection to a WebSocket observer and blocks
// until it disconnects. initialStatus is sent as the `status` message
// on connect (§4.8).
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initialStatus interface{}) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("hub: websocket upgrade failed: %v", err)
		return
	}

	obs := &observer{conn: conn, send: make(chan Event, observerQueueCapacity), closeCh: make(chan struct{})}
	h.mu.Lock()
	h.observers[obs] = struct{}{}
	h.mu.Unlock()

	obs.send <- Event{Type: "status", Fields: initialStatus}

	go h.writePump(obs)
	h.readPump(obs)
}

// writePump drains one observer's queue to its WebSocket connection.
func (h *Hub) writePump(obs *observer) {
	defer h.remove(obs)
	for {
		select {
		case ev, ok := <-obs.send:
			if !ok {
				return
			}
			obs.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := obs.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-obs.closeCh:
			return
		}
	}
}

// readPump discards observer input (the WS is broadcast-only) and
// keeps the connection alive until it errors or closes.
func (h *Hub) readPump(obs *observer) {
	defer obs.close()
	for {
		if _, _, err := obs.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(obs *observer) {
	h.mu.Lock()
	delete(h.observers, obs)
	h.mu.Unlock()
	obs.close()
}

// broadcast sends ev to every observer's queue without blocking;
// a full queue is dropped and logged rather than back-pressuring the
// producer (§4.8).
func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	snapshot := make([]*observer, 0, len(h.observers))
	for obs := range h.observers {
		snapshot = append(snapshot, obs)
	}
	h.mu.RUnlock()

	for _, obs := range snapshot {
		select {
		case obs.send <- ev:
		default:
			h.logger.Warnf("hub: dropping event %q for slow observer", ev.Type)
		}
	}
}

// --- orchestrator.Broadcaster ---

func (h *Hub) BroadcastCallIncoming(callID, remoteURI string) {
	h.broadcast(Event{Type: "call_incoming", Fields: map[string]string{"call_id": callID, "remote_uri": remoteURI}})
}

func (h *Hub) BroadcastCallActive(callID string) {
	h.broadcast(Event{Type: "call_active", Fields: map[string]string{"call_id": callID}})
}

func (h *Hub) BroadcastCallEnded(callID string) {
	h.broadcast(Event{Type: "call_ended", Fields: map[string]string{"call_id": callID}})
}

func (h *Hub) BroadcastCallRejected(callID, reason string) {
	h.broadcast(Event{Type: "call_rejected", Fields: map[string]string{"call_id": callID, "reason": reason}})
}

func (h *Hub) BroadcastTranscript(role, text string, final bool) {
	h.broadcast(Event{Type: "transcript", Fields: map[string]interface{}{"role": role, "text": text, "final": final}})
}

func (h *Hub) BroadcastOrderUpdate(snapshot callstate.OrderSnapshot) {
	h.broadcast(Event{Type: "order_update", Fields: snapshot})
}

func (h *Hub) BroadcastDebugEvent(kind, detail string) {
	h.broadcast(Event{Type: "debug_event", Fields: map[string]string{"kind": kind, "detail": detail}})
}

func (h *Hub) BroadcastExpertQueryStart(question string) {
	h.broadcast(Event{Type: "expert_query_start", Fields: map[string]string{"question": question}})
}

func (h *Hub) BroadcastExpertQueryDone(question, answer string, confidence float64, success bool) {
	h.broadcast(Event{Type: "expert_query_done", Fields: map[string]interface{}{
		"question":   question,
		"answer":     answer,
		"confidence": confidence,
		"success":    success,
	}})
}

func (h *Hub) BroadcastFirewallStatus(enabled bool) {
	h.broadcast(Event{Type: "firewall_status", Fields: map[string]bool{"enabled": enabled}})
}

// Shutdown drains observers best-effort before the process exits (§5
// "drain C8 observers (best-effort 2s)").
func (h *Hub) Shutdown(timeout time.Duration) {
	h.mu.Lock()
	snapshot := make([]*observer, 0, len(h.observers))
	for obs := range h.observers {
		snapshot = append(snapshot, obs)
	}
	h.observers = make(map[*observer]struct{})
	h.mu.Unlock()

	deadline := time.After(timeout)
	for _, obs := range snapshot {
		select {
		case <-deadline:
			obs.close()
		default:
			time.Sleep(10 * time.Millisecond)
			obs.close()
		}
	}
}
