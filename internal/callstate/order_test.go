// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderAddItemConsolidates(t *testing.T) {
	o := NewOrder("caller-1")

	qty := o.AddItem("294540", 10, "Profipress Bogen 90 22mm")
	assert.Equal(t, 10, qty)

	qty = o.AddItem("294540", 5, "Profipress Bogen 90 22mm")
	assert.Equal(t, 15, qty)

	items := o.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 15, items[0].Quantity)
}

func TestOrderAddItemDistinctArticles(t *testing.T) {
	o := NewOrder("caller-1")
	o.AddItem("111", 1, "A")
	o.AddItem("222", 2, "B")

	items := o.Items()
	require.Len(t, items, 2)
}

func TestOrderSummaryIsPure(t *testing.T) {
	o := NewOrder("caller-1")
	o.AddItem("111", 3, "Widget")

	first := o.Summary()
	second := o.Summary()
	assert.Equal(t, first, second)
	assert.Len(t, o.Items(), 1)
}

func TestOrderRemoveItem(t *testing.T) {
	o := NewOrder("caller-1")
	o.AddItem("111", 1, "A")

	assert.True(t, o.RemoveItem("111"))
	assert.False(t, o.RemoveItem("111"))
	assert.Empty(t, o.Items())
}

func TestBoundedFrameQueueDropsNewestOnFull(t *testing.T) {
	q := NewBoundedFrameQueue(2)
	q.Push(AudioFrame{Payload: []byte{1}})
	q.Push(AudioFrame{Payload: []byte{2}})
	q.Push(AudioFrame{Payload: []byte{3}}) // dropped

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())

	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, f.Payload)
}

func TestBoundedFrameQueueFlushIsAtomic(t *testing.T) {
	q := NewBoundedFrameQueue(5)
	q.Push(AudioFrame{Payload: []byte{1}})
	q.Push(AudioFrame{Payload: []byte{2}})

	n := q.Flush()
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, q.Len())
}

func TestToolInvocationRegistryResolve(t *testing.T) {
	r := NewToolInvocationRegistry()
	r.Start("call-1", "find_product_catalog", `{"query":"foo"}`)
	assert.Equal(t, 1, r.PendingCount())

	assert.True(t, r.Resolve("call-1"))
	assert.Equal(t, 0, r.PendingCount())
	assert.False(t, r.Resolve("call-1"))
}
