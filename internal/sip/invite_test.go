// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInviteRequest builds a minimal INVITE request with the headers
// buildReverseDialogBYE reads, mirroring the shape a real inbound
// INVITE carries.
func fakeInviteRequest() *sip.Request {
	callerURI := sip.Uri{User: "caller", Host: "203.0.113.9"}
	serverURI := sip.Uri{User: "calld", Host: "198.51.100.1", Port: 5060}
	contactURI := sip.Uri{User: "caller", Host: "203.0.113.9", Port: 5070}

	req := sip.NewRequest(sip.INVITE, serverURI)

	from := sip.FromHeader{Address: sip.Address{Uri: callerURI}, Params: sip.NewParams()}
	from.Params.Add("tag", "caller-tag")
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: sip.Address{Uri: serverURI}}
	req.AppendHeader(&to)

	contact := sip.ContactHeader{Address: sip.Address{Uri: contactURI}}
	req.AppendHeader(&contact)

	callID := sip.CallIDHeader("call-abc-123")
	req.AppendHeader(&callID)

	req.SetTransport("udp")
	req.SetSource("203.0.113.9:5070")
	return req
}

func TestBuildReverseDialogBYETargetsCallerContact(t *testing.T) {
	invite := fakeInviteRequest()
	bye := buildReverseDialogBYE(invite)

	assert.Equal(t, sip.BYE, bye.Method)
	assert.Equal(t, "caller", bye.Recipient.User)
	assert.Equal(t, "203.0.113.9", bye.Recipient.Host)
	assert.Equal(t, 5070, bye.Recipient.Port)
}

func TestBuildReverseDialogBYESwapsFromAndTo(t *testing.T) {
	invite := fakeInviteRequest()
	bye := buildReverseDialogBYE(invite)

	fromHeader := bye.From()
	require.NotNil(t, fromHeader)
	assert.Equal(t, "calld", fromHeader.Address.Uri.User)

	toHeader := bye.To()
	require.NotNil(t, toHeader)
	assert.Equal(t, "caller", toHeader.Address.Uri.User)
}

func TestBuildReverseDialogBYEKeepsCallID(t *testing.T) {
	invite := fakeInviteRequest()
	bye := buildReverseDialogBYE(invite)

	callIDHeader := bye.CallID()
	require.NotNil(t, callIDHeader)
	assert.Equal(t, "call-abc-123", callIDHeader.Value())
}
