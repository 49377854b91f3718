// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDigestChallengeStripsAuthScheme(t *testing.T) {
	realm, nonce := parseDigestChallenge(`Digest realm="sipgate.de", nonce="abc123", algorithm=MD5, qop="auth"`)
	assert.Equal(t, "sipgate.de", realm)
	assert.Equal(t, "abc123", nonce)
}

func TestParseDigestChallengeHandlesExtraWhitespaceAroundCommas(t *testing.T) {
	realm, nonce := parseDigestChallenge(`Digest realm="sipgate.de",   nonce="n-1"  , qop="auth"`)
	assert.Equal(t, "sipgate.de", realm)
	assert.Equal(t, "n-1", nonce)
}

func TestDigestResponseUsesParsedRealm(t *testing.T) {
	realm, nonce := parseDigestChallenge(`Digest realm="sipgate.de", nonce="abc123"`)
	resp := digestResponse("alice", realm, "secret", "REGISTER", "sip:sipgate.de", nonce)
	assert.NotEqual(t, digestResponse("alice", "", "secret", "REGISTER", "sip:sipgate.de", nonce), resp)
}
