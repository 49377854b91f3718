// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callstate

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// OrderItem is one line of an Order (§3).
type OrderItem struct {
	ArticleNr   string
	Quantity    int
	ProductName string
	AddedAt     time.Time
}

// Order is created on call accept and cleared on call end; one active
// Order exists per process, mirroring Call (§3). Quantities for the same
// article-nr are consolidated, never duplicated as separate lines.
type Order struct {
	mu        sync.Mutex
	CallerID  string
	StartedAt time.Time
	items     []OrderItem

	onUpdate func(OrderSnapshot)
}

// NewOrder starts a fresh order for callerID.
func NewOrder(callerID string) *Order {
	return &Order{CallerID: callerID, StartedAt: time.Now()}
}

// OrderSnapshot is an immutable, copyable view of an Order at a point in
// time, handed to observers so they never touch the live mutex.
type OrderSnapshot struct {
	CallerID  string
	StartedAt time.Time
	Items     []OrderItem
}

// OnUpdate registers a callback invoked (outside the lock) after any
// mutation, mirroring original_source/server/app/order_manager.py's
// on_order_update notification hook. Only one observer is supported here
// because C8 itself fans out to many operator consoles; the orchestrator
// is the sole subscriber.
func (o *Order) OnUpdate(fn func(OrderSnapshot)) {
	o.mu.Lock()
	o.onUpdate = fn
	o.mu.Unlock()
}

// AddItem appends qty units of article to the order, or increments the
// existing line if that article is already present (§3, §8 idempotence
// property). Returns the resulting quantity for that article.
func (o *Order) AddItem(articleNr string, qty int, productName string) int {
	o.mu.Lock()
	var resultQty int
	for i := range o.items {
		if o.items[i].ArticleNr == articleNr {
			o.items[i].Quantity += qty
			resultQty = o.items[i].Quantity
			o.notifyLocked()
			o.mu.Unlock()
			return resultQty
		}
	}
	o.items = append(o.items, OrderItem{
		ArticleNr:   articleNr,
		Quantity:    qty,
		ProductName: productName,
		AddedAt:     time.Now(),
	})
	resultQty = qty
	o.notifyLocked()
	o.mu.Unlock()
	return resultQty
}

// RemoveItem removes the line for articleNr, reporting whether one was found.
func (o *Order) RemoveItem(articleNr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, item := range o.items {
		if item.ArticleNr == articleNr {
			o.items = append(o.items[:i], o.items[i+1:]...)
			o.notifyLocked()
			return true
		}
	}
	return false
}

// Items returns a copy of the current order lines. Pure; no side effects
// (§8 "show_order is pure and free of side effects").
func (o *Order) Items() []OrderItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OrderItem, len(o.items))
	copy(out, o.items)
	return out
}

// Summary renders the order as human-readable text for the assistant to
// read back, matching original_source/server/app/order_manager.py's
// get_order_summary shape.
func (o *Order) Summary() string {
	items := o.Items()
	if len(items) == 0 {
		return "The order is currently empty."
	}
	var sb strings.Builder
	sb.WriteString("Current order:\n")
	total := 0
	for _, item := range items {
		fmt.Fprintf(&sb, "- %dx %s (Art: %s)\n", item.Quantity, item.ProductName, item.ArticleNr)
		total += item.Quantity
	}
	fmt.Fprintf(&sb, "\nTotal: %d positions, %d pieces", len(items), total)
	return sb.String()
}

func (o *Order) notifyLocked() {
	if o.onUpdate == nil {
		return
	}
	snapshot := OrderSnapshot{
		CallerID:  o.CallerID,
		StartedAt: o.StartedAt,
		Items:     append([]OrderItem(nil), o.items...),
	}
	fn := o.onUpdate
	go fn(snapshot)
}
