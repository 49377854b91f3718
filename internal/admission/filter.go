// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package admission is the IP Admission Filter (§4.3): it decides, for
// every inbound INVITE, whether the remote IP is allowed onto the
// single process-wide Call slot before internal/sip accepts it.
//
// There is no original_source/ or teacher file for this rule — the
// retrieval pack carries no firewall/allowlist logic anywhere — so this
// is implemented directly from the decision table, in the same
// small-stateless-checker style as internal/sip's own codec negotiation
// helpers (api/assistant-api/sip/infra/sdp.go).
package admission

import (
	"net"
	"strings"
	"sync/atomic"
)

// Decision is the outcome of evaluating one remote IP/URI pair.
type Decision struct {
	Allow  bool
	Reason string
}

// Filter evaluates inbound calls against a CIDR allowlist, with a
// NAT-traversal exception for private source addresses that carry the
// expected public server identity in their URI (§4.3 rule 3).
type Filter struct {
	enabled          atomic.Bool
	allowedNetworks  []*net.IPNet
	publicServerIP   string
	providerHostname string
}

// Config holds the Filter's runtime-configurable inputs. Allowed networks
// and the provider hostname are configuration, not code (§4.3).
type Config struct {
	Enabled            bool
	AllowedNetworksCSV string
	PublicServerIP     string
	ProviderHostname   string
}

// New builds a Filter from Config, silently skipping any CIDR in
// AllowedNetworksCSV that fails to parse (a malformed entry should not
// disable admission control entirely).
func New(cfg Config) *Filter {
	f := &Filter{
		publicServerIP:   cfg.PublicServerIP,
		providerHostname: cfg.ProviderHostname,
	}
	f.enabled.Store(cfg.Enabled)
	for _, raw := range strings.Split(cfg.AllowedNetworksCSV, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			raw += "/32"
		}
		if _, ipnet, err := net.ParseCIDR(raw); err == nil {
			f.allowedNetworks = append(f.allowedNetworks, ipnet)
		}
	}
	return f
}

// Evaluate applies the §4.3 decision rules in order against one inbound
// INVITE. remoteIP is the SIP transport source address; callerURI is the
// INVITE's request-URI or From header, inspected for the NAT exception.
func (f *Filter) Evaluate(remoteIP, callerURI string) Decision {
	if !f.enabled.Load() {
		return Decision{Allow: true, Reason: "admission filter disabled"}
	}

	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return Decision{Allow: false, Reason: "unparseable remote ip"}
	}

	for _, network := range f.allowedNetworks {
		if network.Contains(ip) {
			return Decision{Allow: true, Reason: "remote ip in allowed network"}
		}
	}

	if isPrivate(ip) && f.carriesServerIdentity(callerURI) {
		return Decision{Allow: true, Reason: "NAT-traversal exception"}
	}

	return Decision{Allow: false, Reason: "remote ip not on allowlist"}
}

func (f *Filter) carriesServerIdentity(callerURI string) bool {
	if f.publicServerIP != "" && strings.Contains(callerURI, f.publicServerIP) {
		return true
	}
	if f.providerHostname != "" && strings.Contains(callerURI, f.providerHostname) {
		return true
	}
	return false
}

// Enabled reports whether admission control is currently active.
func (f *Filter) Enabled() bool { return f.enabled.Load() }

// SetEnabled toggles admission control at runtime (§6 "POST /firewall
// {enabled}").
func (f *Filter) SetEnabled(enabled bool) { f.enabled.Store(enabled) }

// rfc1918 lists the private IPv4 ranges the NAT exception applies to.
var rfc1918 = []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

func isPrivate(ip net.IP) bool {
	for _, cidr := range rfc1918 {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
