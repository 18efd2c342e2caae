package queue

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps the stream. Trimming is approximate and only drops entries far
// older than anything a live consumer group still needs.
const streamMaxLen = 100_000

// Publisher appends events to a stream and returns the Redis message id.
type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) (messageID string, err error)
}

type RedisPublisher struct {
	client *redis.Client
	maxLen int64
}

func NewPublisher(client *redis.Client) Publisher {
	return &RedisPublisher{client: client, maxLen: streamMaxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, stream string, event Event) (string, error) {
	values, err := event.ToMap()
	if err != nil {
		return "", err
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		log.Printf("[Publisher] XADD %s %s failed: %v", stream, event.Type, err)
		return "", fmt.Errorf("append %s to %s: %w", event.Type, stream, err)
	}
	return id, nil
}

// NoopPublisher drops events. It stands in when Redis is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, stream string, event Event) (string, error) {
	return "", nil
}
