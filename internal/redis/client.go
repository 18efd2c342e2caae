package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	clientName  = "projectzero-api"
	pingTimeout = 3 * time.Second
)

// Client is the process-wide Redis connection. The feed cache, the event stream
// and the realtime broker all share it through the embedded client.
type Client struct {
	*goredis.Client
}

// NewClient parses a redis:// or rediss:// URL, e.g. redis://:password@localhost:6379/0.
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.ClientName = clientName
	// worker reads block on XREADGROUP and every realtime topic holds a pub/sub
	// connection, so reads must outlast the block timeout
	opts.ReadTimeout = 10 * time.Second
	opts.MinIdleConns = 2

	log.Printf("[Redis] Using %s db=%d", opts.Addr, opts.DB)
	return &Client{Client: goredis.NewClient(opts)}, nil
}

// Ping fails fast when Redis is unreachable at startup.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}
