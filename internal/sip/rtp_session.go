// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/rapidaai/calld/internal/audiocodec"
	"github.com/rapidaai/calld/internal/log"
)

// rtpSilenceTimeout is the §4.2 failure threshold: no inbound RTP for
// this long ends the call.
const rtpSilenceTimeout = 30 * time.Second

// samplesPerFrame20ms returns how many samples a 20ms frame holds at rate.
func samplesPerFrame20ms(rate int) int {
	return rate / 50
}

// rtpSession owns one call's media socket: a UDP connection, the
// negotiated codec's transcoder, and the send/receive goroutines.
// Grounded on the Marshal/WriteToUDP and Unmarshal/ReadFromUDP pattern
// used throughout the retrieval pack's pion/rtp call sites (e.g.
// sebacius-switchboard's media service, madpsy-ka9q's audio receiver).
type rtpSession struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	codec      Codec
	transcoder audiocodec.Transcoder
	logger     log.Logger

	onAudio   func(pcm []int16)
	onRelease func()

	seq       uint16
	timestamp uint32
	ssrc      uint32

	sendCh chan []int16
	done   chan struct{}
	once   sync.Once

	lastRecv atomic.Int64 // unix nanos
}

func newRTPSession(localPort int, remoteIP string, remotePort int, codec Codec, logger log.Logger) (*rtpSession, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, err
	}
	transcoder, err := audiocodec.NewTranscoder(audiocodec.Name(codec.Name), int(codec.ClockRate))
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &rtpSession{
		conn:       conn,
		remoteAddr: &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: remotePort},
		codec:      codec,
		transcoder: transcoder,
		logger:     logger,
		ssrc:       uint32(time.Now().UnixNano()),
		sendCh:     make(chan []int16, 64),
		done:       make(chan struct{}),
	}, nil
}

func (s *rtpSession) start() {
	s.lastRecv.Store(time.Now().UnixNano())
	go s.recvLoop()
	go s.sendLoop()
	go s.silenceWatch()
}

func (s *rtpSession) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
		if s.onRelease != nil {
			s.onRelease()
		}
	})
}

// send enqueues PCM for transmission; frames are packetized to 20ms in
// sendLoop. A full channel drops the oldest pending send rather than
// blocking the audio-producing side.
func (s *rtpSession) send(pcm []int16) {
	select {
	case s.sendCh <- pcm:
	default:
		select {
		case <-s.sendCh:
		default:
		}
		select {
		case s.sendCh <- pcm:
		default:
		}
	}
}

func (s *rtpSession) sendLoop() {
	frameSamples := samplesPerFrame20ms(int(s.codec.ClockRate))
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var pending []int16
	for {
		select {
		case <-s.done:
			return
		case pcm := <-s.sendCh:
			pending = append(pending, pcm...)
		case <-ticker.C:
			var frame []int16
			if len(pending) >= frameSamples {
				frame = pending[:frameSamples]
				pending = pending[frameSamples:]
			} else {
				// Partial frames are padded with silence (§4.2).
				frame = make([]int16, frameSamples)
				copy(frame, pending)
				pending = nil
			}
			s.writeFrame(frame)
		}
	}
}

func (s *rtpSession) writeFrame(pcm []int16) {
	payload, err := s.transcoder.Encode(pcm)
	if err != nil {
		s.logger.Warnf("sip: rtp encode: %v", err)
		return
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.codec.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	s.timestamp += uint32(len(pcm))

	data, err := packet.Marshal()
	if err != nil {
		s.logger.Warnf("sip: rtp marshal: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, s.remoteAddr); err != nil {
		s.logger.Warnf("sip: rtp write: %v", err)
	}
}

func (s *rtpSession) recvLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			continue
		}
		s.lastRecv.Store(time.Now().UnixNano())

		pcm, err := s.transcoder.Decode(packet.Payload)
		if err != nil {
			continue
		}
		if s.onAudio != nil {
			s.onAudio(pcm)
		}
	}
}

func (s *rtpSession) silenceWatch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastRecv.Load())
			if time.Since(last) > rtpSilenceTimeout {
				s.logger.Warnf("sip: rtp silence timeout exceeded, closing session")
				s.close()
				return
			}
		}
	}
}
