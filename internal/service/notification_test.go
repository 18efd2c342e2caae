package service

import (
	"context"
	"errors"
	"testing"

	"projectzero/internal/model"
	"projectzero/internal/queue"
	"projectzero/internal/realtime"
)

func TestNotifySuppressesSelf(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser("u1", "Ada")

	for _, typ := range []string{model.NotificationTypeLike, model.NotificationTypeComment, model.NotificationTypeFollow} {
		n, err := f.notificationSvc.Notify(ctx, model.NotifyInput{RecipientID: "u1", SenderID: "u1", Type: typ})
		if err != nil || n != nil {
			t.Errorf("%s: expected suppression, got n=%v err=%v", typ, n, err)
		}
	}
	if got := f.allNotifications(); len(got) != 0 {
		t.Errorf("expected nothing stored, got %+v", got)
	}
	if len(f.publisher.events) != 0 {
		t.Errorf("expected nothing enqueued, got %+v", f.publisher.events)
	}
}

func TestNotifyFansOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser("u1", "Ada")
	f.store.addUser("u2", "Grace")

	postID := "p1"
	n, err := f.notificationSvc.Notify(ctx, model.NotifyInput{
		RecipientID: "u1",
		SenderID:    "u2",
		Type:        model.NotificationTypeLike,
		PostID:      &postID,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.ID == "" || n.SenderName != "Grace" || n.Read {
		t.Errorf("unexpected notification: %+v", n)
	}

	if f.realtime.count(realtime.NotificationsTopic("u1")) != 1 {
		t.Errorf("expected a realtime push to the recipient")
	}

	events := f.publisher.ofType(queue.EventNotificationCreated)
	if len(events) != 1 {
		t.Fatalf("expected one notification_created event, got %d", len(events))
	}
	e := events[0]
	if e.RecipientID != "u1" || e.NotificationID != n.ID || e.PostID != "p1" {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Title != "New like" || e.Body != "Grace liked your signal" {
		t.Errorf("unexpected push text: %q / %q", e.Title, e.Body)
	}
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser("u1", "Ada")
	f.store.addUser("u2", "Grace")

	first, _ := f.notificationSvc.Notify(ctx, model.NotifyInput{RecipientID: "u1", SenderID: "u2", Type: model.NotificationTypeFollow})
	f.notificationSvc.Notify(ctx, model.NotifyInput{RecipientID: "u1", SenderID: "u2", Type: model.NotificationTypeLike})

	if err := f.notificationSvc.MarkRead(ctx, first.ID, "u2"); !errors.Is(err, model.ErrNotificationNotFound) {
		t.Fatalf("only the recipient may mark read, got %v", err)
	}
	if err := f.notificationSvc.MarkRead(ctx, first.ID, "u1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if count, _ := f.notificationSvc.UnreadCount(ctx, "u1"); count != 1 {
		t.Errorf("expected 1 unread, got %d", count)
	}

	marked, err := f.notificationSvc.MarkAllRead(ctx, "u1")
	if err != nil || marked != 1 {
		t.Fatalf("expected 1 marked, got %d err=%v", marked, err)
	}
	list, _ := f.notificationSvc.List(ctx, "u1", 0)
	if list.UnreadCount != 0 || len(list.Notifications) != 2 {
		t.Errorf("expected 2 read notifications, got %+v", list)
	}
}

func TestDeviceTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if err := f.notificationSvc.RegisterDeviceToken(ctx, "u1", model.RegisterTokenRequest{Token: "tok"}); err != nil {
		t.Fatalf("RegisterDeviceToken: %v", err)
	}
	if got := f.store.deviceTokens["tok"].Platform; got != model.PlatformWeb {
		t.Errorf("expected platform to default to web, got %q", got)
	}

	// The same device signing in as someone else moves the token.
	f.notificationSvc.RegisterDeviceToken(ctx, "u2", model.RegisterTokenRequest{Token: "tok", Platform: model.PlatformIOS})
	if tokens, _ := f.tokens.GetTokens(ctx, "u1"); len(tokens) != 0 {
		t.Errorf("expected u1 to lose the token, got %v", tokens)
	}

	f.notificationSvc.RemoveDeviceToken(ctx, "u2", "tok")
	if tokens, _ := f.tokens.GetTokens(ctx, "u2"); len(tokens) != 0 {
		t.Errorf("expected token removed, got %v", tokens)
	}
}

func TestBuildPushMessage(t *testing.T) {
	long := make([]rune, 150)
	for i := range long {
		long[i] = 'x'
	}
	longText := string(long)

	tests := []struct {
		name  string
		n     model.Notification
		title string
		body  string
	}{
		{"follow", model.Notification{Type: model.NotificationTypeFollow, SenderName: "Ada"}, "New follower", "Ada started following you"},
		{"comment", model.Notification{Type: model.NotificationTypeComment, SenderName: "Ada", Text: strPtr("great")}, "New comment", "Ada: great"},
		{"comment without text", model.Notification{Type: model.NotificationTypeComment, SenderName: "Ada"}, "New comment", "Ada commented on your signal"},
		{"unknown sender", model.Notification{Type: model.NotificationTypeLike}, "New like", "Someone liked your signal"},
		{"long comment", model.Notification{Type: model.NotificationTypeComment, SenderName: "Ada", Text: &longText}, "New comment", "Ada: " + string(long[:99]) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := buildPushMessage(&tt.n)
			if title != tt.title || body != tt.body {
				t.Errorf("expected %q / %q, got %q / %q", tt.title, tt.body, title, body)
			}
		})
	}
}
