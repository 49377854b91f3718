// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sip

import (
	"fmt"
	"sync"
)

// PortAllocator hands out even-numbered RTP ports from [start, end) per
// RFC 3550 (the following odd port is reserved for RTCP).
//
// The teacher's api/assistant-api/sip/infra/rtp_port_allocator.go
// coordinates this allocation across many server replicas via Redis,
// because that codebase serves many concurrent tenant calls. This engine
// enforces at most one active Call per process (§3, §5), so the same
// Allocate/Release/InUse shape is kept but backed by an in-memory
// mutex-guarded free list instead — see DESIGN.md for why go-redis was
// dropped rather than wired here.
type PortAllocator struct {
	mu        sync.Mutex
	free      []int
	allocated map[int]struct{}
}

// NewPortAllocator builds a free list of every even port in [start, end).
func NewPortAllocator(start, end int) (*PortAllocator, error) {
	if start%2 != 0 {
		start++
	}
	if start >= end {
		return nil, fmt.Errorf("sip: invalid RTP port range [%d, %d)", start, end)
	}
	free := make([]int, 0, (end-start)/2)
	for p := start; p < end; p += 2 {
		free = append(free, p)
	}
	return &PortAllocator{free: free, allocated: make(map[int]struct{})}, nil
}

// Allocate pops the next available port.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return 0, fmt.Errorf("sip: no RTP ports available (%d in use)", len(a.allocated))
	}
	port := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.allocated[port] = struct{}{}
	return port, nil
}

// Release returns a port to the free list.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.allocated[port]; !ok {
		return
	}
	delete(a.allocated, port)
	a.free = append(a.free, port)
}

// InUse reports the number of currently allocated ports.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}
