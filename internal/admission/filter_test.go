// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateDisabledAcceptsAnyIP(t *testing.T) {
	f := New(Config{Enabled: false})
	d := f.Evaluate("203.0.113.5", "sip:spam@attacker")
	assert.True(t, d.Allow)
}

// S2 — admission denial.
func TestEvaluateRejectsUnlistedIP(t *testing.T) {
	f := New(Config{
		Enabled:            true,
		AllowedNetworksCSV: "217.10.79.0/24",
	})
	d := f.Evaluate("203.0.113.5", "sip:spam@attacker")
	assert.False(t, d.Allow)
}

// S1 — happy path.
func TestEvaluateAllowsConfiguredNetwork(t *testing.T) {
	f := New(Config{
		Enabled:            true,
		AllowedNetworksCSV: "217.10.79.0/24",
	})
	d := f.Evaluate("217.10.79.9", "sip:+4930123@sipgate.de")
	assert.True(t, d.Allow)
}

// S3 — NAT exception.
func TestEvaluateNATExceptionByPublicServerIP(t *testing.T) {
	f := New(Config{
		Enabled:            true,
		AllowedNetworksCSV: "217.10.79.0/24",
		PublicServerIP:     "142.132.212.248",
	})
	d := f.Evaluate("10.80.4.7", "sip:+4930123@142.132.212.248")
	assert.True(t, d.Allow)
}

func TestEvaluateNATExceptionByProviderHostname(t *testing.T) {
	f := New(Config{
		Enabled:            true,
		ProviderHostname:   "sipgate.de",
	})
	d := f.Evaluate("192.168.1.50", "sip:+4930123@sipgate.de")
	assert.True(t, d.Allow)
}

func TestEvaluatePrivateIPWithoutServerIdentityRejected(t *testing.T) {
	f := New(Config{Enabled: true})
	d := f.Evaluate("10.0.0.5", "sip:+4930123@unknown-host")
	assert.False(t, d.Allow)
}

func TestEvaluateUnparseableIPRejected(t *testing.T) {
	f := New(Config{Enabled: true})
	d := f.Evaluate("not-an-ip", "sip:foo@bar")
	assert.False(t, d.Allow)
}
