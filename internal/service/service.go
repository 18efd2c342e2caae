package service

import (
	"context"

	"projectzero/internal/model"
)

// Broadcaster pushes a JSON payload to live subscribers of a topic. Delivery is
// best effort. *realtime.Hub implements it.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, v interface{})
}

// Notifier appends a notification for the recipient. It returns nil, nil when the
// notification was suppressed.
type Notifier interface {
	Notify(ctx context.Context, in model.NotifyInput) (*model.Notification, error)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(ctx context.Context, topic string, v interface{}) {}

func broadcasterOrNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
