package service

import (
	"context"
	"fmt"
	"log"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/codeGROOVE-dev/retry"
)

const (
	// fcmMaxTokens is the multicast limit of one FCM request.
	fcmMaxTokens = 500
	fcmAttempts  = 3
)

// FCMClient sends push notifications through Firebase Cloud Messaging.
type FCMClient struct {
	client *messaging.Client
}

func NewFCMClient(ctx context.Context, app *firebase.App) (*FCMClient, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMClient{client: client}, nil
}

// SendToTokens pushes one notification to every device and returns the tokens FCM
// no longer recognises so the caller can forget them. Other per-device failures
// are only logged.
func (c *FCMClient) SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error) {
	var stale []string
	for len(tokens) > 0 {
		n := min(len(tokens), fcmMaxTokens)
		dead, err := c.sendBatch(ctx, tokens[:n], pushMessage(title, body, data))
		if err != nil {
			return stale, err
		}
		stale = append(stale, dead...)
		tokens = tokens[n:]
	}
	return stale, nil
}

// sendBatch retries the request while FCM reports itself unavailable.
func (c *FCMClient) sendBatch(ctx context.Context, tokens []string, msg messaging.MulticastMessage) ([]string, error) {
	msg.Tokens = tokens

	var resp *messaging.BatchResponse
	err := retry.Do(
		func() error {
			var err error
			resp, err = c.client.SendEachForMulticast(ctx, &msg)
			return err
		},
		retry.Attempts(fcmAttempts),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.MaxJitter(100*time.Millisecond),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return messaging.IsUnavailable(err) || messaging.IsInternal(err) || messaging.IsQuotaExceeded(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[FCM] Retrying multicast (attempt %d): %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fcm multicast: %w", err)
	}

	var stale []string
	for i, r := range resp.Responses {
		if r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			stale = append(stale, tokens[i])
			continue
		}
		log.Printf("[FCM] Delivery to device %d failed: %v", i, r.Error)
	}
	log.Printf("[FCM] Pushed to %d devices: ok=%d failed=%d stale=%d",
		len(tokens), resp.SuccessCount, resp.FailureCount, len(stale))
	return stale, nil
}

func pushMessage(title, body string, data map[string]string) messaging.MulticastMessage {
	return messaging.MulticastMessage{
		Data:         data,
		Notification: &messaging.Notification{Title: title, Body: body},
		Android: &messaging.AndroidConfig{
			Priority:     "high",
			Notification: &messaging.AndroidNotification{Sound: "default", ChannelID: "activity"},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	}
}
