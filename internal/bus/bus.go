// Package bus provides the in-process correlated event channel used to fan
// inbound host-process events out to subscribers keyed by channel name.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one raw JSON payload delivered on a named channel.
type Event struct {
	Channel string
	Payload json.RawMessage
}

// Bus is a channel-name keyed publish/subscribe hub. Publishing to a channel
// with no subscribers drops the event; the agent host retries nothing, so
// subscribers must be attached before the stream is started.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[int64]*Subscription
	nextID  int64
	bufSize int
}

// New creates a bus whose subscriptions buffer up to bufSize events each.
func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subs:    make(map[string]map[int64]*Subscription),
		bufSize: bufSize,
	}
}

// Subscription is an explicit handle for one channel subscription. Close is
// one-shot: the first call unsubscribes and closes the event stream, every
// later call is a no-op. This makes exactly-once teardown structural rather
// than a caller convention.
type Subscription struct {
	bus     *Bus
	channel string
	id      int64
	events  chan Event
	once    sync.Once

	mu     sync.Mutex
	closed bool
}

// Events returns the receive side of the subscription. The channel is closed
// by Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes exactly once. Safe to call concurrently and repeatedly.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.drop(s)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// deliver hands an event to the subscription unless it has been closed. The
// mutex orders deliveries against Close so a publisher can never write to a
// closed channel.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("bus subscriber buffer full, dropping event", "channel", s.channel)
	}
}

// Subscribe registers a new subscription on the named channel.
func (b *Bus) Subscribe(channel string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		bus:     b,
		channel: channel,
		id:      b.nextID,
		events:  make(chan Event, b.bufSize),
	}
	if _, ok := b.subs[channel]; !ok {
		b.subs[channel] = make(map[int64]*Subscription)
	}
	b.subs[channel][sub.id] = sub
	return sub
}

func (b *Bus) drop(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if chanSubs, ok := b.subs[s.channel]; ok {
		delete(chanSubs, s.id)
		if len(chanSubs) == 0 {
			delete(b.subs, s.channel)
		}
	}
}

// Publish delivers payload to every live subscriber of the channel. A
// subscriber whose buffer is full loses the event; that is logged rather
// than blocking the delivery path.
func (b *Bus) Publish(channel string, payload json.RawMessage) {
	b.mu.RLock()
	chanSubs, ok := b.subs[channel]
	if !ok {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(chanSubs))
	for _, s := range chanSubs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(Event{Channel: channel, Payload: payload})
	}
}
