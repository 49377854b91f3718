// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction is the SDP media direction attribute (RFC 3264).
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

// MediaInfo is the parsed result of an inbound SDP offer/answer.
type MediaInfo struct {
	ConnectionIP string
	AudioPort    int
	PayloadTypes []uint8
	Preferred    Codec
	Direction    Direction
}

// IsHold reports whether this SDP signals a hold condition: direction
// sendonly/inactive, or a null connection address (RFC 3264). Nothing
// outside its test calls it, so Call.OnHold (internal/callstate) is
// never set from it.
func (m MediaInfo) IsHold() bool {
	if m.Direction == DirectionSendOnly || m.Direction == DirectionInactive {
		return true
	}
	return m.ConnectionIP == "0.0.0.0"
}

// SDPConfig parameterizes GenerateSDP.
type SDPConfig struct {
	LocalIP string
	RTPPort int
	Codecs  []Codec
	PTime   int
}

// OfferSDPConfig advertises every negotiable codec. Server.Accept does
// not use it; its 200 OK carries AnsweredSDPConfig.
func OfferSDPConfig(localIP string, rtpPort int) SDPConfig {
	return SDPConfig{LocalIP: localIP, RTPPort: rtpPort, Codecs: PreferredCodecs, PTime: 20}
}

// AnsweredSDPConfig advertises only the codec already agreed upon.
// Server.Accept uses it for the 200 OK to the INVITE — offering multiple
// codecs in an answer reads as a fresh offer to some PBXes (Asterisk, FreeSWITCH) instead of
// a confirmation of what was already negotiated.
func AnsweredSDPConfig(localIP string, rtpPort int, codec Codec) SDPConfig {
	return SDPConfig{LocalIP: localIP, RTPPort: rtpPort, Codecs: []Codec{codec}, PTime: 20}
}

// GenerateSDP renders cfg as an SDP body. telephone-event (PT 101, RFC
// 4733) is always included in the m= line: most SIP endpoints refuse to
// bridge media without it even when the audio codec already matches.
func GenerateSDP(cfg SDPConfig) string {
	var sb strings.Builder

	sb.WriteString("v=0\r\n")
	sb.WriteString(fmt.Sprintf("o=calld 0 0 IN IP4 %s\r\n", cfg.LocalIP))
	sb.WriteString("s=calld\r\n")
	sb.WriteString(fmt.Sprintf("c=IN IP4 %s\r\n", cfg.LocalIP))
	sb.WriteString("t=0 0\r\n")

	payloadTypes := make([]string, 0, len(cfg.Codecs)+1)
	hasTelEvent := false
	for _, c := range cfg.Codecs {
		payloadTypes = append(payloadTypes, strconv.Itoa(int(c.PayloadType)))
		if c.PayloadType == CodecTelephoneEvent.PayloadType {
			hasTelEvent = true
		}
	}
	if !hasTelEvent {
		payloadTypes = append(payloadTypes, strconv.Itoa(int(CodecTelephoneEvent.PayloadType)))
	}
	sb.WriteString(fmt.Sprintf("m=audio %d RTP/AVP %s\r\n", cfg.RTPPort, strings.Join(payloadTypes, " ")))

	for _, c := range cfg.Codecs {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n", c.PayloadType, c.Name, c.ClockRate))
	}
	if !hasTelEvent {
		sb.WriteString(fmt.Sprintf("a=rtpmap:%d %s/%d\r\n",
			CodecTelephoneEvent.PayloadType, CodecTelephoneEvent.Name, CodecTelephoneEvent.ClockRate))
		sb.WriteString(fmt.Sprintf("a=fmtp:%d 0-16\r\n", CodecTelephoneEvent.PayloadType))
	}

	sb.WriteString(fmt.Sprintf("a=ptime:%d\r\n", cfg.PTime))
	sb.WriteString("a=sendrecv\r\n")
	return sb.String()
}

// ParseSDP extracts connection, payload-type, and direction information
// from an inbound SDP body.
func ParseSDP(body []byte) (MediaInfo, error) {
	if len(body) == 0 {
		return MediaInfo{}, fmt.Errorf("sip: empty SDP body")
	}

	info := MediaInfo{Direction: DirectionSendRecv}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")

		switch {
		case strings.HasPrefix(line, "c=IN IP4 "):
			info.ConnectionIP = strings.TrimSpace(strings.TrimPrefix(line, "c=IN IP4 "))

		case strings.HasPrefix(line, "m=audio "):
			parts := strings.Fields(line)
			if len(parts) < 4 {
				continue
			}
			if port, err := strconv.Atoi(parts[1]); err == nil {
				info.AudioPort = port
			}
			for _, field := range parts[3:] {
				if pt, err := strconv.Atoi(field); err == nil && pt >= 0 && pt <= 127 {
					info.PayloadTypes = append(info.PayloadTypes, uint8(pt))
				}
			}

		case line == "a=sendrecv":
			info.Direction = DirectionSendRecv
		case line == "a=sendonly":
			info.Direction = DirectionSendOnly
		case line == "a=recvonly":
			info.Direction = DirectionRecvOnly
		case line == "a=inactive":
			info.Direction = DirectionInactive
		}
	}

	info.Preferred = NegotiateCodec(info.PayloadTypes)
	return info, nil
}
