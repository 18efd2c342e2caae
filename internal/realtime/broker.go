package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broker moves payloads between processes. Listen's channel is closed when ctx
// is cancelled.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Listen(ctx context.Context, topic string) (<-chan []byte, error)
}

const (
	channelPrefix    = "realtime:"
	subscribeTimeout = 5 * time.Second
)

// RedisBroker fans out over Redis pub/sub so every API instance sees every event.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Listen(ctx context.Context, topic string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, channelPrefix+topic)

	// wait for the subscription to be confirmed so no publish is missed after return
	confirmCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemoryBroker delivers within one process. It backs the hub when Redis is not
// configured.
type MemoryBroker struct {
	mu        sync.Mutex
	listeners map[string]map[chan []byte]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{listeners: make(map[string]map[chan []byte]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.listeners[topic] {
		select {
		case ch <- payload:
		default:
			log.Printf("[MemoryBroker] dropping message for slow listener: topic=%s", topic)
		}
	}
	return nil
}

func (b *MemoryBroker) Listen(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	if b.listeners[topic] == nil {
		b.listeners[topic] = make(map[chan []byte]struct{})
	}
	b.listeners[topic][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.listeners[topic], ch)
		if len(b.listeners[topic]) == 0 {
			delete(b.listeners, topic)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
