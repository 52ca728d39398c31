// Package broker implements the in-memory publish/subscribe fanout that
// feeds live location streams. Delivery is per-channel and lossy: each
// subscriber owns a bounded buffer, and when a slow consumer falls behind,
// its oldest pending update is evicted to make room for the newest.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultCapacity is the per-subscriber buffer size used when the
// configured capacity is not positive.
const DefaultCapacity = 1000

// Channel identifies one independent poll and broadcast unit.
type Channel struct {
	DeviceID string
	Stream   string
}

func (c Channel) String() string {
	return c.DeviceID + ":" + c.Stream
}

// Update is one location datapoint fanned out to subscribers.
type Update struct {
	DeviceID string  `json:"device_id"`
	Ts       string  `json:"ts"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// Subscriber is one consumer's bounded buffer of pending updates. The
// channel returned by Updates is never closed; consumers stop reading when
// their own connection ends.
type Subscriber struct {
	id uuid.UUID
	ch chan Update
}

// Updates returns the subscriber's receive channel.
func (s *Subscriber) Updates() <-chan Update {
	return s.ch
}

// Broker maps channels to their current subscribers.
type Broker struct {
	capacity int

	mu          sync.RWMutex
	subscribers map[Channel]map[uuid.UUID]*Subscriber

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBroker creates a Broker whose subscribers each buffer up to capacity
// pending updates.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broker{
		capacity:    capacity,
		subscribers: make(map[Channel]map[uuid.UUID]*Subscriber),
	}
}

// Subscribe registers a new subscriber on the channel and returns it.
func (b *Broker) Subscribe(ch Channel) *Subscriber {
	sub := &Subscriber{
		id: uuid.New(),
		ch: make(chan Update, b.capacity),
	}

	b.mu.Lock()
	m := b.subscribers[ch]
	if m == nil {
		m = make(map[uuid.UUID]*Subscriber)
		b.subscribers[ch] = m
	}
	m[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscriber from the channel. Pending updates are
// discarded with it. Unsubscribing twice, or a subscriber the broker does
// not know, is a no-op.
func (b *Broker) Unsubscribe(ch Channel, sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if m, ok := b.subscribers[ch]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(b.subscribers, ch)
		}
	}
	b.mu.Unlock()
}

// Publish fans the update out to every current subscriber of the channel.
// The subscriber set is snapshotted up front, so registrations racing with a
// publish may or may not see it. A full subscriber buffer has its oldest
// pending update evicted to make room; other subscribers are unaffected.
// Returns the number of subscribers the update was handed to and the number
// of evictions performed.
func (b *Broker) Publish(ch Channel, u Update) (delivered, dropped int) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers[ch]))
	for _, sub := range b.subscribers[ch] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- u:
			delivered++
			continue
		default:
		}

		// Buffer full: evict the oldest pending update, then retry once.
		// The second send can still lose a race with a concurrent publisher;
		// the newest update is the one sacrificed then.
		select {
		case <-sub.ch:
			dropped++
		default:
		}
		select {
		case sub.ch <- u:
			delivered++
		default:
			dropped++
		}
	}

	b.published.Add(1)
	b.dropped.Add(int64(dropped))
	return delivered, dropped
}

// Stats is a point-in-time view of broker load.
type Stats struct {
	Channels    int   `json:"channels"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published_total"`
	Dropped     int64 `json:"dropped_total"`
}

// Stats reports channel and subscriber counts plus lifetime publish and
// drop totals.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	channels := len(b.subscribers)
	total := 0
	for _, m := range b.subscribers {
		total += len(m)
	}
	b.mu.RUnlock()

	return Stats{
		Channels:    channels,
		Subscribers: total,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
