// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/calld/internal/log"
)

func newTestObserver() *observer {
	return &observer{send: make(chan Event, observerQueueCapacity), closeCh: make(chan struct{})}
}

func TestBroadcastDeliversToAllObservers(t *testing.T) {
	h := New(log.Nop())
	obs1, obs2 := newTestObserver(), newTestObserver()
	h.observers[obs1] = struct{}{}
	h.observers[obs2] = struct{}{}

	h.BroadcastCallActive("call-1")

	for _, obs := range []*observer{obs1, obs2} {
		select {
		case ev := <-obs.send:
			assert.Equal(t, "call_active", ev.Type)
		default:
			t.Fatal("expected event on observer queue")
		}
	}
}

func TestBroadcastDropsOnFullQueueWithoutBlocking(t *testing.T) {
	h := New(log.Nop())
	obs := newTestObserver()
	h.observers[obs] = struct{}{}

	for i := 0; i < observerQueueCapacity+10; i++ {
		h.BroadcastDebugEvent("tick", "")
	}

	assert.Len(t, obs.send, observerQueueCapacity)
}

func TestRemoveDeletesObserverAndClosesChannel(t *testing.T) {
	h := New(log.Nop())
	obs := newTestObserver()
	h.observers[obs] = struct{}{}

	h.remove(obs)

	_, present := h.observers[obs]
	assert.False(t, present)
	select {
	case <-obs.closeCh:
	default:
		t.Fatal("expected closeCh to be closed")
	}
}

func TestShutdownClosesEveryObserver(t *testing.T) {
	h := New(log.Nop())
	obs1, obs2 := newTestObserver(), newTestObserver()
	h.observers[obs1] = struct{}{}
	h.observers[obs2] = struct{}{}

	h.Shutdown(50 * time.Millisecond)

	require.Empty(t, h.observers)
	for _, obs := range []*observer{obs1, obs2} {
		select {
		case <-obs.closeCh:
		default:
			t.Fatal("expected closeCh to be closed")
		}
	}
}
