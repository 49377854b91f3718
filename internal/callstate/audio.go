// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callstate

import "sync"

// AudioFrame is transient: produced by one source component, consumed by
// exactly one downstream, never shared mutably (§3).
type AudioFrame struct {
	Payload    []byte
	TimestampMs int64
	SourceRate  int
	BitDepth    int
}

// BoundedFrameQueue is a fixed-capacity FIFO with drop-newest-on-full
// semantics (§3). One instance exists per direction per call. Overflow
// increments Dropped rather than blocking the producer — a slow
// consumer must never stall the audio-producing side.
type BoundedFrameQueue struct {
	mu       sync.Mutex
	frames   []AudioFrame
	capacity int
	dropped  uint64
}

// DefaultQueueCapacity is 15 frames, about 300ms at 20ms framing (§3).
const DefaultQueueCapacity = 15

// NewBoundedFrameQueue constructs a queue with the given capacity.
func NewBoundedFrameQueue(capacity int) *BoundedFrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &BoundedFrameQueue{capacity: capacity}
}

// Push enqueues a frame, dropping it (and counting the drop) if the
// queue is already at capacity.
func (q *BoundedFrameQueue) Push(f AudioFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) >= q.capacity {
		q.dropped++
		return
	}
	q.frames = append(q.frames, f)
}

// Pop dequeues the oldest frame, or returns ok=false if the queue is empty.
func (q *BoundedFrameQueue) Pop() (AudioFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return AudioFrame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

// Flush drops every buffered frame atomically, returning how many were
// discarded. Used for barge-in (§4.7, §8 S4): the flush must be atomic
// with respect to Push/Pop so no buffered frame survives it.
func (q *BoundedFrameQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	return n
}

// Len reports the number of frames currently buffered.
func (q *BoundedFrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped reports the cumulative drop-on-full counter.
func (q *BoundedFrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
