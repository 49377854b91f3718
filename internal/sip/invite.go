// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
)

// byeResponseTimeout bounds how long Hangup waits for the far end's 200
// OK to the BYE before giving up and tearing down media anyway.
const byeResponseTimeout = 5 * time.Second

func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	remoteURI := req.From().Address.String()
	remoteIP := remoteIPOf(req)

	remote, err := ParseSDP(req.Body())
	if err != nil {
		s.logger.Warnf("sip: invite %s: bad SDP: %v", callID, err)
		s.respond(req, tx, 400, "Bad Request")
		return
	}

	s.mu.Lock()
	s.pending[callID] = &pendingCall{req: req, tx: tx, remoteURI: remoteURI, remoteIP: remoteIP, remote: remote}
	s.mu.Unlock()

	accept, rejectStatus := true, 486
	if s.handlers.OnIncoming != nil {
		accept, rejectStatus = s.handlers.OnIncoming(callID, remoteURI, remoteIP)
	}
	if !accept {
		s.Reject(callID, rejectStatus)
	}
	// On accept, the orchestrator calls Server.Accept(callID) itself once
	// it has created the Call and opened its audio queues (§4.7) — neither
	// the 180 Ringing nor the 200 OK is sent from here.
}

func (s *Server) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	// ACK needs no response; RTP is already flowing once Accept() returns.
}

func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	s.respond(req, tx, 200, "OK")

	s.mu.Lock()
	sess, ok := s.sessions[callID]
	delete(s.sessions, callID)
	delete(s.dialogs, callID)
	s.mu.Unlock()
	if ok {
		sess.close()
	}

	if s.handlers.OnHangup != nil {
		s.handlers.OnHangup(callID)
	}
}

// Accept answers a pending INVITE with 180 Ringing and then a 200 OK, and
// starts its RTP session. The local RTP port is allocated here from the
// pool.
func (s *Server) Accept(callID string) error {
	s.mu.Lock()
	pc, ok := s.pending[callID]
	delete(s.pending, callID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sip: accept: no pending call %s", callID)
	}
	s.respond(pc.req, pc.tx, 180, "Ringing")

	codec := pc.remote.Preferred
	localPort, err := s.portAlloc.Allocate()
	if err != nil {
		s.respond(pc.req, pc.tx, 486, "Busy Here")
		return err
	}

	sess, err := newRTPSession(localPort, pc.remote.ConnectionIP, pc.remote.AudioPort, codec, s.logger)
	if err != nil {
		s.portAlloc.Release(localPort)
		s.respond(pc.req, pc.tx, 500, "Server Error")
		return err
	}
	sess.onAudio = func(pcm []int16) {
		if s.handlers.OnAudio != nil {
			s.handlers.OnAudio(callID, pcm)
		}
	}
	sess.onRelease = func() {
		s.portAlloc.Release(localPort)
		// BYE and Hangup remove the session before closing it; a session
		// still registered here was closed by the RTP-silence timeout or
		// by Stop, so the call ends through OnHangup.
		s.mu.Lock()
		_, stillActive := s.sessions[callID]
		delete(s.sessions, callID)
		delete(s.dialogs, callID)
		s.mu.Unlock()
		if stillActive && s.handlers.OnHangup != nil {
			s.handlers.OnHangup(callID)
		}
	}

	sdpCfg := AnsweredSDPConfig(s.cfg.PublicIP, localPort, codec)
	body := []byte(GenerateSDP(sdpCfg))
	resp := sip.NewResponseFromRequest(pc.req, 200, "OK", body)
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)
	if err := pc.tx.Respond(resp); err != nil {
		sess.close()
		return fmt.Errorf("sip: accept: respond 200: %w", err)
	}

	s.mu.Lock()
	s.sessions[callID] = sess
	s.dialogs[callID] = pc.req
	s.mu.Unlock()

	sess.start()

	if s.handlers.OnCodecNegotiated != nil {
		s.handlers.OnCodecNegotiated(callID, codec)
	}
	return nil
}

// Reject answers a pending INVITE with the given status (403 admission
// denial, 486 busy — §4.3, §4.2).
func (s *Server) Reject(callID string, status int) error {
	s.mu.Lock()
	pc, ok := s.pending[callID]
	delete(s.pending, callID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sip: reject: no pending call %s", callID)
	}
	reason := "Forbidden"
	if status == 486 {
		reason = "Busy Here"
	}
	return s.respond(pc.req, pc.tx, status, reason)
}

// Hangup sends a BYE for an active call, then tears down its RTP
// session (§4.2 "hangup(call-id): send BYE"). The far end's 200 OK is
// awaited best-effort — media is released either way once it arrives or
// byeResponseTimeout elapses, since the call is ending regardless.
func (s *Server) Hangup(callID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[callID]
	delete(s.sessions, callID)
	dialogReq, hasDialog := s.dialogs[callID]
	delete(s.dialogs, callID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sip: hangup: no active session %s", callID)
	}

	if hasDialog {
		s.sendBye(dialogReq)
	} else {
		s.logger.Warnf("sip: hangup: no dialog recorded for %s, closing media only", callID)
	}
	sess.close()
	return nil
}

// sendBye builds and transmits a BYE toward the original caller. Grounded
// on flowpbx's buildReverseDialogBYE/sendBYEToCaller: this engine is the
// UAS for the inbound INVITE, so the BYE's From/To are the INVITE's
// To/From swapped, and the Request-URI targets the caller's Contact.
func (s *Server) sendBye(inviteReq *sip.Request) {
	byeReq := buildReverseDialogBYE(inviteReq)

	ctx, cancel := context.WithTimeout(context.Background(), byeResponseTimeout)
	defer cancel()
	tx, err := s.client.TransactionRequest(ctx, byeReq)
	if err != nil {
		s.logger.Warnf("sip: hangup: send BYE failed: %v", err)
		return
	}
	defer tx.Terminate()
	select {
	case resp, ok := <-tx.Responses():
		if ok && resp.StatusCode >= 300 {
			s.logger.Warnf("sip: hangup: BYE rejected with %d %s", resp.StatusCode, resp.Reason)
		}
	case <-ctx.Done():
		s.logger.Warnf("sip: hangup: no response to BYE within %s", byeResponseTimeout)
	}
}

// buildReverseDialogBYE constructs the BYE request this engine, acting
// as UAS for the original INVITE, sends back toward the caller: the
// Request-URI is the caller's Contact (falling back to the original
// From URI), and From/To are the INVITE's To/From swapped since we are
// now the BYE's initiator.
func buildReverseDialogBYE(inviteReq *sip.Request) *sip.Request {
	recipient := &inviteReq.Recipient
	if contact := inviteReq.Contact(); contact != nil {
		recipient = &contact.Address
	}

	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SipVersion = inviteReq.SipVersion

	if h := inviteReq.To(); h != nil {
		fromHeader := h.AsFrom()
		bye.AppendHeader(&fromHeader)
	}
	if h := inviteReq.From(); h != nil {
		toHeader := h.AsTo()
		bye.AppendHeader(&toHeader)
	}
	if h := inviteReq.CallID(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}

	cseq := sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE}
	bye.AppendHeader(&cseq)

	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	bye.SetTransport(inviteReq.Transport())
	bye.SetSource(inviteReq.Source())

	return bye
}

// SendAudio enqueues PCM at the negotiated rate/depth for RTP transmission.
func (s *Server) SendAudio(callID string, pcm []int16) error {
	s.mu.Lock()
	sess, ok := s.sessions[callID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sip: send_audio: no active session %s", callID)
	}
	sess.send(pcm)
	return nil
}

func (s *Server) respond(req *sip.Request, tx sip.ServerTransaction, status int, reason string) error {
	resp := sip.NewResponseFromRequest(req, status, reason, nil)
	return tx.Respond(resp)
}

func callIDOf(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

func remoteIPOf(req *sip.Request) string {
	if src := req.Source(); src != "" {
		for i := len(src) - 1; i >= 0; i-- {
			if src[i] == ':' {
				return src[:i]
			}
		}
		return src
	}
	return ""
}
