package realtime

import (
	"context"
	"sync"
	"testing"
	"time"
)

// countingBroker wraps MemoryBroker and counts upstream listeners.
type countingBroker struct {
	*MemoryBroker
	mu      sync.Mutex
	listens int
	active  int
}

func (b *countingBroker) Listen(ctx context.Context, topic string) (<-chan []byte, error) {
	b.mu.Lock()
	b.listens++
	b.active++
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()
	return b.MemoryBroker.Listen(ctx, topic)
}

func (b *countingBroker) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listens, b.active
}

func receive(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case msg := <-sub.C:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatalf("no message on %s", sub.Topic)
		return ""
	}
}

func TestHubSharesOneUpstreamPerTopic(t *testing.T) {
	broker := &countingBroker{MemoryBroker: NewMemoryBroker()}
	hub := NewHub(broker)

	a, err := hub.Subscribe("post.p1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := hub.Subscribe("post.p1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if listens, _ := broker.counts(); listens != 1 {
		t.Fatalf("upstream listens = %d, want 1", listens)
	}
	if n := hub.Subscribers("post.p1"); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}

	hub.Publish(context.Background(), "post.p1", map[string]int{"likeCount": 3})
	want := `{"likeCount":3}`
	if got := receive(t, a); got != want {
		t.Errorf("a got %s, want %s", got, want)
	}
	if got := receive(t, b); got != want {
		t.Errorf("b got %s, want %s", got, want)
	}
}

func TestHubTearsDownOnLastDispose(t *testing.T) {
	broker := &countingBroker{MemoryBroker: NewMemoryBroker()}
	hub := NewHub(broker)

	a, _ := hub.Subscribe("feed.global")
	b, _ := hub.Subscribe("feed.global")

	a.Dispose()
	a.Dispose()
	if _, active := broker.counts(); active != 1 {
		t.Fatalf("upstream closed while a subscriber remains")
	}
	if _, ok := <-a.C; ok {
		t.Error("disposed subscription channel should be closed")
	}

	b.Dispose()
	deadline := time.Now().Add(time.Second)
	for {
		if _, active := broker.counts(); active == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("upstream still open after last dispose")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.Subscribers("feed.global"); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}

	// a fresh subscriber reopens the topic
	c, _ := hub.Subscribe("feed.global")
	defer c.Dispose()
	if listens, _ := broker.counts(); listens != 2 {
		t.Errorf("listens = %d, want 2", listens)
	}
	hub.Publish(context.Background(), "feed.global", "hello")
	if got := receive(t, c); got != `"hello"` {
		t.Errorf("got %s", got)
	}
}

// gatedBroker holds Listen for gatedTopic until release is closed.
type gatedBroker struct {
	*countingBroker
	gatedTopic string
	entered    chan struct{}
	release    chan struct{}
}

func (b *gatedBroker) Listen(ctx context.Context, topic string) (<-chan []byte, error) {
	if topic == b.gatedTopic {
		close(b.entered)
		<-b.release
	}
	return b.countingBroker.Listen(ctx, topic)
}

func TestHubSlowUpstreamDoesNotBlockOtherTopics(t *testing.T) {
	broker := &gatedBroker{
		countingBroker: &countingBroker{MemoryBroker: NewMemoryBroker()},
		gatedTopic:     "post.slow",
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	hub := NewHub(broker)

	type result struct {
		sub *Subscription
		err error
	}
	slow := make(chan result, 2)
	go func() {
		sub, err := hub.Subscribe("post.slow")
		slow <- result{sub, err}
	}()
	<-broker.entered
	go func() {
		sub, err := hub.Subscribe("post.slow")
		slow <- result{sub, err}
	}()

	fast := make(chan result, 1)
	go func() {
		sub, err := hub.Subscribe("post.fast")
		fast <- result{sub, err}
	}()
	select {
	case r := <-fast:
		if r.err != nil {
			t.Fatalf("Subscribe fast: %v", r.err)
		}
		defer r.sub.Dispose()
	case <-time.After(time.Second):
		t.Fatal("Subscribe on an unrelated topic blocked behind a slow upstream")
	}

	close(broker.release)
	for i := 0; i < 2; i++ {
		select {
		case r := <-slow:
			if r.err != nil {
				t.Fatalf("Subscribe slow: %v", r.err)
			}
			defer r.sub.Dispose()
		case <-time.After(time.Second):
			t.Fatal("slow subscriber never attached")
		}
	}

	if listens, _ := broker.counts(); listens != 2 {
		t.Errorf("listens = %d, want 2 (one per topic)", listens)
	}
	if n := hub.Subscribers("post.slow"); n != 2 {
		t.Errorf("slow subscribers = %d, want 2", n)
	}
}

func TestHubIsolatesTopics(t *testing.T) {
	hub := NewHub(NewMemoryBroker())
	n1, _ := hub.Subscribe(NotificationsTopic("u1"))
	n2, _ := hub.Subscribe(NotificationsTopic("u2"))
	defer n1.Dispose()
	defer n2.Dispose()

	hub.Publish(context.Background(), NotificationsTopic("u2"), "x")
	if got := receive(t, n2); got != `"x"` {
		t.Errorf("got %s", got)
	}
	select {
	case msg := <-n1.C:
		t.Errorf("u1 received %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic    string
		wantKind TopicKind
		wantKey  string
	}{
		{"feed.global", KindGlobalFeed, ""},
		{"notifications.u1", KindNotifications, "u1"},
		{"threads.u1", KindThreads, "u1"},
		{"messages.a_b", KindMessages, "a_b"},
		{"comments.p1", KindComments, "p1"},
		{"post.p1", KindPost, "p1"},
		{"post.", KindUnknown, ""},
		{"users.u1", KindUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, key := ParseTopic(tt.topic)
			if kind != tt.wantKind || key != tt.wantKey {
				t.Errorf("ParseTopic(%q) = (%v, %q), want (%v, %q)", tt.topic, kind, key, tt.wantKind, tt.wantKey)
			}
		})
	}
}
