// Package bus implements the in-process message bus that connects the
// pipeline phases and subsystems. Delivery is synchronous and runs on the
// publishing goroutine, in subscriber-registration order. There is no
// persistence, no backpressure and no cross-process delivery.
package bus

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler receives a delivered message. A panicking handler is recovered at
// the bus boundary and never interrupts delivery to remaining subscribers.
type Handler func(Message)

type subscription struct {
	id        string
	recipient string
	msgType   MessageType
	handler   Handler
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published  int64            `json:"published"`
	Delivered  int64            `json:"delivered"`
	Broadcasts int64            `json:"broadcasts"`
	Direct     int64            `json:"direct"`
	ByType     map[string]int64 `json:"by_type"`
}

// Bus is a synchronous publish/subscribe fan-out.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
	log    *zap.Logger

	published  atomic.Int64
	delivered  atomic.Int64
	broadcasts atomic.Int64
	direct     atomic.Int64

	statsMu sync.Mutex
	byType  map[MessageType]int64
}

// New creates an empty bus. A nil logger falls back to zap.NewNop.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:    log,
		byType: make(map[MessageType]int64),
	}
}

// Subscribe registers a handler for messages of the given type addressed to
// recipient (or broadcast). It returns a subscription ID for Unsubscribe.
func (b *Bus) Subscribe(recipient string, t MessageType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subs = append(b.subs, subscription{
		id:        id,
		recipient: recipient,
		msgType:   t,
		handler:   handler,
	})
	return id
}

// Unsubscribe removes a subscription by ID. It reports whether the
// subscription existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers the message synchronously to every matching subscriber in
// registration order. A broadcast message reaches all subscribers of its
// type; a direct message reaches only subscribers registered under the
// recipient name.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.msgType != msg.Type {
			continue
		}
		if msg.IsBroadcast() || sub.recipient == msg.Recipient {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)
	if msg.IsBroadcast() {
		b.broadcasts.Add(1)
	} else {
		b.direct.Add(1)
	}
	b.statsMu.Lock()
	b.byType[msg.Type]++
	b.statsMu.Unlock()

	for _, sub := range matched {
		b.safeCall(sub, msg)
		b.delivered.Add(1)
	}
}

// safeCall invokes a handler and recovers panics so one misbehaving
// subscriber cannot block delivery or propagate to the publisher.
func (b *Bus) safeCall(sub subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("message handler panicked",
				zap.String("subscription", sub.id),
				zap.String("recipient", sub.recipient),
				zap.String("message_type", string(msg.Type)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	sub.handler(msg)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Statistics returns a snapshot of the bus counters.
func (b *Bus) Statistics() Stats {
	b.statsMu.Lock()
	byType := make(map[string]int64, len(b.byType))
	for t, n := range b.byType {
		byType[string(t)] = n
	}
	b.statsMu.Unlock()

	return Stats{
		Published:  b.published.Load(),
		Delivered:  b.delivered.Load(),
		Broadcasts: b.broadcasts.Load(),
		Direct:     b.direct.Load(),
		ByType:     byType,
	}
}
