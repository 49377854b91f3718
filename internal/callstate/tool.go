// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callstate

import "sync"

// ToolInvocation tracks one AI-initiated tool call from creation
// (function_call_arguments.done) to the posting of its result (§3).
// Every invocation eventually gets a result, success or error.
type ToolInvocation struct {
	CallID        string // the tool-call id issued by the AI, not the SIP call-id
	Name          string
	ArgumentsJSON string
	Pending       bool
}

// ToolInvocationRegistry tracks in-flight invocations per AI conversation
// turn so a result can be correlated back, and so the ordering guarantee
// in §5 ("for a given tool-call id, the result reaches C4 before any
// subsequent tool-call for the same turn") has somewhere to be enforced.
type ToolInvocationRegistry struct {
	mu      sync.Mutex
	pending map[string]*ToolInvocation
}

// NewToolInvocationRegistry constructs an empty registry.
func NewToolInvocationRegistry() *ToolInvocationRegistry {
	return &ToolInvocationRegistry{pending: make(map[string]*ToolInvocation)}
}

// Start records a new pending invocation.
func (r *ToolInvocationRegistry) Start(callID, name, argumentsJSON string) *ToolInvocation {
	inv := &ToolInvocation{CallID: callID, Name: name, ArgumentsJSON: argumentsJSON, Pending: true}
	r.mu.Lock()
	r.pending[callID] = inv
	r.mu.Unlock()
	return inv
}

// Resolve marks an invocation as no longer pending and removes it from
// the registry. Returns false if callID was unknown (already resolved,
// or never started).
func (r *ToolInvocationRegistry) Resolve(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.pending[callID]
	if !ok {
		return false
	}
	inv.Pending = false
	delete(r.pending, callID)
	return true
}

// PendingCount reports the number of unresolved invocations, useful for
// graceful-shutdown draining and tests.
func (r *ToolInvocationRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
