package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one stream entry with its decoded event.
type Message struct {
	ID    string // e.g. "1702000000000-0"
	Event Event
}

type Consumer interface {
	// EnsureGroup creates the stream and consumer group if missing.
	EnsureGroup(ctx context.Context, stream, group string) error

	// Read blocks up to block for messages never delivered to the group.
	Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)

	// ReadPending returns messages delivered to consumer but never acked.
	ReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]Message, error)

	// Claim takes over entries another consumer has held unacked for at least
	// minIdle, e.g. after the pool shrank and a worker name went away.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error)

	Ack(ctx context.Context, stream, group string, messageIDs ...string) error
}

type RedisConsumer struct {
	client *redis.Client
}

func NewConsumer(client *redis.Client) Consumer {
	return &RedisConsumer{client: client}
}

// EnsureGroup starts a new group at "0" so events published before the first
// worker came up are still processed.
func (c *RedisConsumer) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	return c.readGroup(ctx, stream, group, consumer, ">", count, block)
}

func (c *RedisConsumer) ReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]Message, error) {
	// a negative block omits BLOCK so the pending read returns immediately
	return c.readGroup(ctx, stream, group, consumer, "0", count, -1)
}

func (c *RedisConsumer) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	entries, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim %s/%s: %w", stream, group, err)
	}
	return c.decode(ctx, stream, group, entries), nil
}

func (c *RedisConsumer) readGroup(ctx context.Context, stream, group, consumer, id string, count int64, block time.Duration) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s as %s from %s: %w", stream, group, consumer, id, err)
	}

	var messages []Message
	for _, s := range streams {
		messages = append(messages, c.decode(ctx, stream, group, s.Messages)...)
	}
	return messages, nil
}

// decode parses entries into events. Malformed entries are acked on the spot so they
// do not come back as pending forever.
func (c *RedisConsumer) decode(ctx context.Context, stream, group string, entries []redis.XMessage) []Message {
	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		event, err := ParseEvent(entry.Values)
		if err != nil {
			log.Printf("[Consumer] Discarding malformed entry %s: %v", entry.ID, err)
			_ = c.Ack(ctx, stream, group, entry.ID)
			continue
		}
		messages = append(messages, Message{ID: entry.ID, Event: event})
	}
	return messages
}

func (c *RedisConsumer) Ack(ctx context.Context, stream, group string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("xack %v: %w", messageIDs, err)
	}
	return nil
}
