// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package realtime is the AI Stream Client (§4.4): one WebSocket session
// per call to a realtime speech service, carrying session config,
// appended audio, tool-result items and cancellation outbound, and
// audio/transcript/tool-call/error events inbound. Grounded on the
// teacher's internal_websocket.websocketExecutor (same gorilla/websocket
// dial-then-listen-loop shape, the same write-mutex-guarded sendMessage,
// the same envelope-then-dispatch processResponse pattern) generalized
// from the teacher's own app-level WSMessageType envelope to the
// realtime speech API's event schema.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/calld/internal/audiocodec"
	"github.com/rapidaai/calld/internal/log"
)

// Tool describes one function the model may call, in the realtime API's
// session.update tool schema shape.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

// Config configures a single call's realtime session.
type Config struct {
	URL          string // base wss://<host>/v1/realtime
	Model        string
	APIKey       string
	Voice        string // default "alloy" if empty
	Instructions string
	Tools        []Tool

	// VAD parameters (§4.4); zero values fall back to the spec defaults.
	VADThreshold        float64
	VADPrefixPaddingMs  int
	VADSilenceDurationMs int

	DialTimeout time.Duration
}

const (
	defaultVoice                = "alloy"
	defaultVADThreshold          = 0.4
	defaultVADPrefixPaddingMs    = 200
	defaultVADSilenceDurationMs  = 400
	defaultDialTimeout           = 10 * time.Second
	maxReconnectAttempts         = 5
	reconnectInitialBackoff      = time.Second
	reconnectMaxBackoff          = 30 * time.Second
	sendAudioDropLogEvery        = 100
)

func (c Config) withDefaults() Config {
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	if c.VADThreshold == 0 {
		c.VADThreshold = defaultVADThreshold
	}
	if c.VADPrefixPaddingMs == 0 {
		c.VADPrefixPaddingMs = defaultVADPrefixPaddingMs
	}
	if c.VADSilenceDurationMs == 0 {
		c.VADSilenceDurationMs = defaultVADSilenceDurationMs
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

// Client is one call's AI Stream Client connection.
type Client struct {
	cfg      Config
	callID   string
	logger   log.Logger
	handlers Handlers

	writeMu    sync.Mutex
	conn       *websocket.Conn
	connMu     sync.RWMutex

	done     chan struct{}
	closeOnce sync.Once

	audioDropCount atomic.Int64
	connectedOnce  sync.Once
}

// New dials the realtime service and starts its response listener.
// connect(call-id, model, instructions, tools) from §4.4: model,
// instructions and tools travel in cfg.
func New(ctx context.Context, callID string, cfg Config, logger log.Logger, handlers Handlers) (*Client, error) {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		callID:   callID,
		logger:   logger.With("call_id", callID, "component", "realtime"),
		handlers: handlers,
		done:     make(chan struct{}),
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	go c.responseListener(ctx)
	if err := c.sendSessionUpdate(); err != nil {
		return nil, fmt.Errorf("realtime: send session.update: %w", err)
	}
	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("realtime: parse url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}
	conn.SetReadLimit(16 * 1024 * 1024)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *Client) sessionUpdatePayload() map[string]interface{} {
	return map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"modalities":          []string{"text", "audio"},
			"voice":               c.cfg.Voice,
			"instructions":        c.cfg.Instructions,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]interface{}{
				"model": "whisper-1",
			},
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           c.cfg.VADThreshold,
				"prefix_padding_ms":   c.cfg.VADPrefixPaddingMs,
				"silence_duration_ms": c.cfg.VADSilenceDurationMs,
				"create_response":     true,
			},
			"tools":       c.cfg.Tools,
			"tool_choice": "auto",
		},
	}
}

func (c *Client) sendSessionUpdate() error {
	return c.sendJSON(c.sessionUpdatePayload())
}

// UpdateSession re-issues session.update with new instructions/tools —
// used when the full tool schema changes.
func (c *Client) UpdateSession(instructions string, tools []Tool) error {
	c.cfg.Instructions = instructions
	c.cfg.Tools = tools
	return c.sendSessionUpdate()
}

// UpdateInstructions re-issues session.update with new instructions only,
// keeping the current tool schema — used by switch_product_domain and
// find_product_catalog (§4.5) to change a domain's instructions mid-call
// without touching the fixed tool list.
func (c *Client) UpdateInstructions(instructions string) error {
	return c.UpdateSession(instructions, c.cfg.Tools)
}

// SendAudio base64-encodes pcm16khz and emits input_audio_buffer.append.
// Bounded: if the write lock is not free within 20ms the frame is
// dropped rather than stalling the RTP receive path feeding it (§4.4).
func (c *Client) SendAudio(pcm16khz []int16) {
	payload := map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audiocodec.PCM16ToBytes(pcm16khz)),
	}
	if err := c.trySendJSON(payload); err != nil {
		n := c.audioDropCount.Add(1)
		if n%sendAudioDropLogEvery == 0 {
			c.logger.Warnf("realtime: dropped %d audio frames so far: %v", n, err)
		}
	}
}

// TriggerGreeting sends a bare response.create so the assistant speaks
// first, scheduled by the orchestrator ~1s after a call goes active.
func (c *Client) TriggerGreeting() error {
	return c.sendJSON(map[string]interface{}{"type": "response.create"})
}

// CancelResponse sends response.cancel for barge-in handling (§4.7).
func (c *Client) CancelResponse() error {
	return c.sendJSON(map[string]interface{}{"type": "response.cancel"})
}

// PostToolResult replies to a tool call. The function_call_output item
// must be followed immediately by a response.create or the assistant
// stalls (§4.4) — both sends happen under the same write lock so nothing
// else can interleave between them.
func (c *Client) PostToolResult(id, resultText string) error {
	item := map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type":    "function_call_output",
			"call_id": id,
			"output":  resultText,
		},
	}
	create := map[string]interface{}{"type": "response.create"}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writeLocked(item); err != nil {
		return fmt.Errorf("realtime: post tool result item: %w", err)
	}
	if err := c.writeLocked(create); err != nil {
		return fmt.Errorf("realtime: post tool result response.create: %w", err)
	}
	return nil
}

// Close terminates the session cleanly.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (c *Client) sendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(v)
}

// trySendJSON is sendJSON with a bounded wait, used on the audio path so
// a stalled connection cannot back up the RTP receive loop behind it.
func (c *Client) trySendJSON(v interface{}) error {
	acquired := make(chan struct{})
	go func() {
		c.writeMu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		defer c.writeMu.Unlock()
		return c.writeLocked(v)
	case <-time.After(20 * time.Millisecond):
		// The helper goroutine still takes the lock eventually; release
		// it then so later sends are not blocked forever.
		go func() {
			<-acquired
			c.writeMu.Unlock()
		}()
		return fmt.Errorf("realtime: write lock busy")
	}
}

func (c *Client) writeLocked(v interface{}) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) responseListener(ctx context.Context) {
	attempts := 0
	backoff := reconnectInitialBackoff

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.logger.Warnf("realtime: read error: %v", err)

			// Per §4.4, per-call reconnect is discouraged — a dropped WS
			// mid-call should end the call. Attempts are retained so a
			// transient drop before any real usage doesn't immediately
			// kill a call, capped at maxReconnectAttempts.
			attempts++
			if attempts > maxReconnectAttempts {
				c.reportError(fmt.Sprintf("realtime: giving up after %d reconnect attempts", maxReconnectAttempts))
				return
			}
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > reconnectMaxBackoff {
				backoff = reconnectMaxBackoff
			}
			if err := c.dial(ctx); err != nil {
				c.logger.Warnf("realtime: reconnect dial failed: %v", err)
				continue
			}
			if err := c.sendSessionUpdate(); err != nil {
				c.logger.Warnf("realtime: reconnect session.update failed: %v", err)
			}
			continue
		}

		attempts = 0
		backoff = reconnectInitialBackoff
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	var ev serverEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		c.logger.Warnf("realtime: unmarshal event: %v", err)
		return
	}

	switch ev.Type {
	case eventSessionUpdated:
		c.connectedOnce.Do(func() {
			if c.handlers.OnConnected != nil {
				c.handlers.OnConnected()
			}
		})

	case eventAudioDelta:
		if c.handlers.OnAudio == nil || ev.Delta == "" {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.logger.Warnf("realtime: decode audio delta: %v", err)
			return
		}
		c.handlers.OnAudio(audiocodec.BytesToPCM16(raw))

	case eventTranscriptDelta:
		if c.handlers.OnTranscript != nil {
			c.handlers.OnTranscript("assistant", ev.Delta, false)
		}

	case eventTranscriptDone:
		if c.handlers.OnTranscript != nil {
			c.handlers.OnTranscript("assistant", ev.Transcript, true)
		}

	case eventInputTranscriptDone:
		if c.handlers.OnTranscript != nil {
			c.handlers.OnTranscript("caller", ev.Transcript, true)
		}

	case eventSpeechStarted:
		if c.handlers.OnInterruption != nil {
			c.handlers.OnInterruption()
		}

	case eventFunctionCallDone:
		if c.handlers.OnToolCall != nil {
			id := ev.CallID
			if id == "" {
				id = ev.ItemID
			}
			c.handlers.OnToolCall(id, ev.Name, ev.Arguments)
		}

	case eventError:
		msg := "unknown realtime error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		c.reportError(msg)

	default:
		c.logger.Debugf("realtime: unhandled event type: %s", ev.Type)
	}
}

func (c *Client) reportError(message string) {
	c.logger.Errorf("realtime: %s", message)
	if c.handlers.OnError != nil {
		c.handlers.OnError(message)
	}
}
