// Package broker fans frames out to the connections subscribed to a topic.
package broker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Publisher sends an encoded frame to every subscriber of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, frame []byte) error
}

// Subscriber is one connection. Deliver must not block; it reports false when
// the frame could not be queued.
type Subscriber interface {
	ID() string
	Deliver(frame []byte) bool
}

// Hub is the in-process topic registry. Delivery is best effort and at most
// once per subscriber and topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber
	onDrop func()
	log    zerolog.Logger
}

// NewHub creates an empty hub. onDrop, if set, is called for every frame a
// subscriber could not accept.
func NewHub(log zerolog.Logger, onDrop func()) *Hub {
	return &Hub{
		topics: make(map[string]map[string]Subscriber),
		onDrop: onDrop,
		log:    log.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers sub on topic. It returns false if sub was already
// subscribed.
func (h *Hub) Subscribe(topic string, sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]Subscriber)
		h.topics[topic] = subs
	}
	if _, exists := subs[sub.ID()]; exists {
		return false
	}
	subs[sub.ID()] = sub
	return true
}

func (h *Hub) Unsubscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(topic, sub.ID())
}

// UnsubscribeAll drops sub from every topic.
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.topics {
		h.remove(topic, sub.ID())
	}
}

func (h *Hub) remove(topic, id string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Publish delivers frame to the local subscribers of topic. It never fails;
// slow subscribers lose the frame.
func (h *Hub) Publish(_ context.Context, topic string, frame []byte) error {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.topics[topic]))
	for _, sub := range h.topics[topic] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if !sub.Deliver(frame) {
			h.log.Debug().Str("topic", topic).Str("subscriber", sub.ID()).Msg("delivery dropped")
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return nil
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
