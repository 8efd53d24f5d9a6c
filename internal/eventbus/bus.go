// Package eventbus implements the synchronous, topic-addressed pub/sub
// point every other component talks through.
package eventbus

import (
	"log/slog"
	"sync"
)

// Closed set of topics components are allowed to publish/subscribe on.
// Keeping this as a const block (rather than accepting arbitrary strings)
// catches a typo'd topic name at compile time in every caller.
const (
	TopicStreamData          = "stream.data"
	TopicEventsParsed        = "events.parsed"
	TopicPriceUpdated        = "price.updated"
	TopicTokenDiscovered     = "token.discovered"
	TopicTokenGraduated      = "token.graduated"
	TopicThresholdCrossed    = "token.threshold_crossed"
	TopicBondingCurveProgress = "bonding_curve.progress"
	TopicBCTrade             = "bc.trade"
	TopicAMMTrade            = "amm.trade"
	TopicStreamConnected     = "stream.connected"
	TopicStreamDisconnected  = "stream.disconnected"
)

type subscriber struct {
	id      uint64
	handler func(payload any)
}

// Bus is the concrete, in-process EventBus. Publish dispatches to every
// current subscriber of a topic, in registration order, on the publisher's
// own goroutine. A panicking handler is recovered and logged so it can't
// take down the publisher or starve sibling subscribers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
	nextID uint64
	log    *slog.Logger
}

func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		topics: make(map[string][]subscriber),
		log:    log.With("component", "eventbus"),
	}
}

// Subscribe registers handler for topic and returns a func that removes it.
// Calling the returned func twice is a no-op.
func (b *Bus) Subscribe(topic string, handler func(payload any)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.topics[topic]
			for i, s := range subs {
				if s.id == id {
					b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish dispatches payload to every subscriber of topic. It copies the
// subscriber slice under the lock and runs handlers outside it, so a slow
// or reentrant handler never blocks Subscribe/Unsubscribe on other topics.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(topic, s, payload)
	}
}

func (b *Bus) dispatch(topic string, s subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", "topic", topic, "subscriber_id", s.id, "panic", r)
		}
	}()
	s.handler(payload)
}
