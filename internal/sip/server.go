// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sip is the SIP/RTP Endpoint (§4.2): it registers with a SIP
// provider, answers or rejects inbound INVITEs, and runs one RTP session
// per active call. Built directly on github.com/emiago/sipgo and
// github.com/pion/rtp, the same stack the teacher's
// examples/sip-test/main.go and api/assistant-api/sip/infra package use.
package sip

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/rapidaai/calld/internal/log"
)

// Config holds the registrar connection and RTP media settings. Allowed
// networks live in internal/admission, not here — C2 only asks the
// admission filter for a decision, it doesn't own the policy (§4.3).
type Config struct {
	Registrar      string // SIP registrar host
	RegistrarPort  int
	Username       string
	Password       string
	Realm          string
	Transport      string // "udp", "tcp", or "tls"
	ListenPort     int
	PublicIP       string
	RTPPortStart   int
	RTPPortEnd     int
	RegisterExpiry int // seconds; 0 defaults to 3600
}

// Handlers are the callbacks the Call Orchestrator (internal/orchestrator)
// registers to drive call lifecycle decisions and receive media (§4.2).
type Handlers struct {
	// OnIncoming is invoked synchronously before any 180/200 response.
	// The handler returns whether to accept, and if not, the reject status.
	OnIncoming func(callID, remoteURI, remoteIP string) (accept bool, rejectStatus int)
	// OnCodecNegotiated fires once accept() has parsed the SDP answer.
	OnCodecNegotiated func(callID string, codec Codec)
	// OnAudio fires per received RTP frame, decoded to linear PCM16 at
	// the codec's negotiated clock rate.
	OnAudio func(callID string, pcm []int16)
	// OnHangup fires when a call ends without Server.Hangup: a BYE from
	// the far end, the >30s RTP-silence timeout in §4.2, or Stop. A call
	// ended through Server.Hangup does not fire it.
	OnHangup func(callID string)
}

// Server is the process's single SIP user agent and RTP endpoint.
type Server struct {
	cfg      Config
	handlers Handlers
	logger   log.Logger

	ua     *sipgo.UA
	srv    *sipgo.Server
	client *sipgo.Client

	portAlloc *PortAllocator

	mu       sync.Mutex
	pending  map[string]*pendingCall
	sessions map[string]*rtpSession
	dialogs  map[string]*sip.Request // the accepted INVITE, kept for Hangup's reverse-direction BYE

	registered atomic.Bool
	stopRegister chan struct{}
}

// pendingCall tracks an INVITE between on_incoming and accept()/reject().
type pendingCall struct {
	req       *sip.Request
	tx        sip.ServerTransaction
	remoteURI string
	remoteIP  string
	remote    MediaInfo
}

// New builds a Server; call Start to begin registration and listening.
func New(cfg Config, handlers Handlers, logger log.Logger) (*Server, error) {
	if cfg.RegisterExpiry <= 0 {
		cfg.RegisterExpiry = 3600
	}
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}

	portAlloc, err := NewPortAllocator(cfg.RTPPortStart, cfg.RTPPortEnd)
	if err != nil {
		return nil, err
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("calld/1.0"))
	if err != nil {
		return nil, fmt.Errorf("sip: new UA: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("sip: new server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientPort(cfg.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("sip: new client: %w", err)
	}

	s := &Server{
		cfg:          cfg,
		handlers:     handlers,
		logger:       logger,
		ua:           ua,
		srv:          srv,
		client:       client,
		portAlloc:    portAlloc,
		pending:      make(map[string]*pendingCall),
		sessions:     make(map[string]*rtpSession),
		dialogs:      make(map[string]*sip.Request),
		stopRegister: make(chan struct{}),
	}

	srv.OnInvite(s.handleInvite)
	srv.OnAck(s.handleAck)
	srv.OnBye(s.handleBye)

	return s, nil
}

// Start begins listening for SIP traffic and registering with the
// provider. REGISTER retries with exponential backoff (1s, ×2, cap 30s,
// unbounded attempts) for as long as the server runs (§4.2).
func (s *Server) Start(ctx context.Context) error {
	listenAddr := fmt.Sprintf("0.0.0.0:%d", s.cfg.ListenPort)
	go func() {
		if err := s.srv.ListenAndServe(ctx, s.cfg.Transport, listenAddr); err != nil {
			s.logger.Errorf("sip: listener stopped: %v", err)
		}
	}()

	go s.registerLoop(ctx)
	return nil
}

// Stop unregisters and tears down every active RTP session.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopRegister)
	s.unregister(ctx)

	s.mu.Lock()
	sessions := make([]*rtpSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
	return nil
}

// IsRegistered reports whether the last REGISTER attempt succeeded.
func (s *Server) IsRegistered() bool { return s.registered.Load() }

// SetHandlers wires the call-lifecycle callbacks. Separate from New so
// the orchestrator, which the handlers close over, can be constructed
// after the Server it depends on.
func (s *Server) SetHandlers(handlers Handlers) {
	s.mu.Lock()
	s.handlers = handlers
	s.mu.Unlock()
}

func (s *Server) registerLoop(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopRegister:
			return
		default:
		}

		if err := s.register(ctx); err != nil {
			s.registered.Store(false)
			s.logger.Warnf("sip: register failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-s.stopRegister:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		s.registered.Store(true)
		backoff = time.Second
		select {
		case <-time.After(time.Duration(s.cfg.RegisterExpiry) * time.Second * 9 / 10):
		case <-ctx.Done():
			return
		case <-s.stopRegister:
			return
		}
	}
}

func (s *Server) registrarURI() sip.Uri {
	return sip.Uri{Host: s.cfg.Registrar, Port: s.cfg.RegistrarPort}
}

func (s *Server) contactURI() sip.Uri {
	return sip.Uri{User: s.cfg.Username, Host: s.cfg.PublicIP, Port: s.cfg.ListenPort}
}

func (s *Server) register(ctx context.Context) error {
	req := s.newRegisterRequest(0)
	tx, err := s.client.TransactionRequest(ctx, req)
	if err != nil {
		return err
	}
	resp, ok := <-tx.Responses()
	if !ok {
		return fmt.Errorf("sip: register transaction closed without response")
	}

	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		challenge := resp.GetHeader("WWW-Authenticate")
		if challenge == nil {
			challenge = resp.GetHeader("Proxy-Authenticate")
		}
		if challenge == nil {
			return fmt.Errorf("sip: %d response missing auth challenge", resp.StatusCode)
		}
		realm, nonce := parseDigestChallenge(challenge.Value())
		authReq := s.newRegisterRequest(1)
		authReq.AppendHeader(s.authorizationHeader(realm, nonce, authReq.Recipient.String()))
		tx2, err := s.client.TransactionRequest(ctx, authReq)
		if err != nil {
			return err
		}
		resp, ok = <-tx2.Responses()
		if !ok {
			return fmt.Errorf("sip: authenticated register transaction closed without response")
		}
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("sip: register rejected: %d %s", resp.StatusCode, resp.Reason)
	}
	return nil
}

func (s *Server) unregister(ctx context.Context) {
	req := s.newRegisterRequest(0)
	expires := sip.ExpiresHeader(0)
	req.AppendHeader(&expires)
	tx, err := s.client.TransactionRequest(ctx, req)
	if err != nil {
		s.logger.Warnf("sip: unregister failed: %v", err)
		return
	}
	<-tx.Responses()
}

func (s *Server) newRegisterRequest(cseq uint32) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, s.registrarURI())
	from := sip.FromHeader{Address: sip.Address{Uri: s.contactURI()}, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(8))
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: sip.Address{Uri: s.contactURI()}}
	req.AppendHeader(&to)

	contact := sip.ContactHeader{Address: sip.Address{Uri: s.contactURI()}}
	req.AppendHeader(&contact)

	callID := sip.CallIDHeader(sip.GenerateTagN(16))
	req.AppendHeader(&callID)

	seqNo := cseq
	if seqNo == 0 {
		seqNo = 1
	}
	cseqHeader := sip.CSeqHeader{SeqNo: seqNo, MethodName: sip.REGISTER}
	req.AppendHeader(&cseqHeader)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	expires := sip.ExpiresHeader(uint32(s.cfg.RegisterExpiry))
	req.AppendHeader(&expires)

	return req
}

func (s *Server) authorizationHeader(realm, nonce, uri string) sip.Header {
	response := digestResponse(s.cfg.Username, realm, s.cfg.Password, "REGISTER", uri, nonce)
	value := fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		s.cfg.Username, realm, nonce, uri, response,
	)
	return &sip.GenericHeader{HeaderName: "Authorization", Contents: value}
}

// parseDigestChallenge extracts realm and nonce from a WWW-Authenticate
// header value of the form: Digest realm="x", nonce="y", ... The first
// comma-separated token carries the leading "Digest " auth-scheme name
// ahead of realm=, so each token is scanned for the realm=/nonce=
// substring rather than required to start with it.
func parseDigestChallenge(header string) (realm, nonce string) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if idx := strings.Index(part, "realm="); idx >= 0 {
			realm = strings.Trim(part[idx+len("realm="):], `"`)
		}
		if idx := strings.Index(part, "nonce="); idx >= 0 {
			nonce = strings.Trim(part[idx+len("nonce="):], `"`)
		}
	}
	return realm, nonce
}
