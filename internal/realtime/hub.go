package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

const subscriberBuffer = 64

// Hub shares one upstream broker listener per topic between all local
// subscribers. The first Subscribe opens it and the last Dispose closes it.
type Hub struct {
	broker Broker

	mu     sync.Mutex
	topics map[string]*topicState
}

type topicState struct {
	// ready is closed once the upstream listener is open or has failed with err.
	ready  chan struct{}
	err    error
	cancel context.CancelFunc
	subs   map[*Subscription]struct{}
}

// Subscription receives every payload published to its topic after Subscribe
// returned. C is closed by Dispose.
type Subscription struct {
	Topic string
	C     <-chan []byte

	ch       chan []byte
	hub      *Hub
	state    *topicState
	disposed bool
}

func NewHub(broker Broker) *Hub {
	return &Hub{
		broker: broker,
		topics: make(map[string]*topicState),
	}
}

// Subscribe attaches to topic, opening the upstream listener on first use. The
// broker round trip runs outside the hub lock. Concurrent callers for the same
// topic wait for the opener.
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	h.mu.Lock()
	state, ok := h.topics[topic]
	if !ok {
		return h.open(topic)
	}
	h.mu.Unlock()

	<-state.ready
	if state.err != nil {
		return nil, state.err
	}

	h.mu.Lock()
	if h.topics[topic] != state {
		// the upstream was torn down while we waited
		h.mu.Unlock()
		return h.Subscribe(topic)
	}
	defer h.mu.Unlock()
	return h.attach(topic, state), nil
}

// open is entered with h.mu held and returns with it released.
func (h *Hub) open(topic string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	state := &topicState{
		ready:  make(chan struct{}),
		cancel: cancel,
		subs:   make(map[*Subscription]struct{}),
	}
	h.topics[topic] = state
	h.mu.Unlock()

	upstream, err := h.broker.Listen(ctx, topic)

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(state.ready)
	if err != nil {
		cancel()
		state.err = fmt.Errorf("listen %s: %w", topic, err)
		delete(h.topics, topic)
		return nil, state.err
	}
	go h.pump(topic, state, upstream)
	log.Printf("[Hub] opened upstream: topic=%s", topic)
	return h.attach(topic, state), nil
}

// attach requires h.mu.
func (h *Hub) attach(topic string, state *topicState) *Subscription {
	ch := make(chan []byte, subscriberBuffer)
	sub := &Subscription{Topic: topic, C: ch, ch: ch, hub: h, state: state}
	state.subs[sub] = struct{}{}
	return sub
}

// pump copies upstream payloads to every subscriber without blocking on a slow one.
func (h *Hub) pump(topic string, state *topicState, upstream <-chan []byte) {
	for payload := range upstream {
		h.mu.Lock()
		for sub := range state.subs {
			select {
			case sub.ch <- payload:
			default:
				log.Printf("[Hub] subscriber buffer full, dropping: topic=%s", topic)
			}
		}
		h.mu.Unlock()
	}
}

// Dispose is idempotent.
func (s *Subscription) Dispose() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.disposed {
		return
	}
	s.disposed = true
	close(s.ch)

	state := s.state
	delete(state.subs, s)
	if len(state.subs) == 0 && h.topics[s.Topic] == state {
		state.cancel()
		delete(h.topics, s.Topic)
		log.Printf("[Hub] closed upstream: topic=%s", s.Topic)
	}
}

// Subscribers reports the local subscriber count for a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.topics[topic]; ok {
		return len(state.subs)
	}
	return 0
}

// Publish JSON-encodes v and hands it to the broker. Failures are logged; realtime
// delivery never fails the write that triggered it.
func (h *Hub) Publish(ctx context.Context, topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Hub] marshal failed: topic=%s err=%v", topic, err)
		return
	}
	if err := h.broker.Publish(ctx, topic, payload); err != nil {
		log.Printf("[Hub] publish failed: topic=%s err=%v", topic, err)
	}
}
