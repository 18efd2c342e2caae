package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"projectzero/internal/realtime"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsSendBuffer     = 64
	wsMaxTopics      = 32
)

// Client actions and server frame types on the socket.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"

	frameEvent        = "event"
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
	frameError        = "error"
)

// TopicSubscriber is implemented by *realtime.Hub.
type TopicSubscriber interface {
	Subscribe(topic string) (*realtime.Subscription, error)
}

// ThreadAccessChecker is implemented by *service.ChatService.
type ThreadAccessChecker interface {
	CanAccessThread(ctx context.Context, threadID, userID string) (bool, error)
}

type clientFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

type serverFrame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// RealtimeHandler serves GET /ws. A client subscribes to topics over the socket
// and receives every payload published to them until it unsubscribes or leaves.
type RealtimeHandler struct {
	hub      TopicSubscriber
	threads  ThreadAccessChecker
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(hub TopicSubscriber, threads ThreadAccessChecker, allowedOrigins []string) *RealtimeHandler {
	return &RealtimeHandler{
		hub:     hub,
		threads: threads,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// originAllowed applies the same allowlist as CORS. The access_token cookie rides
// along on cross-site upgrades, so a browser origin outside the list is refused.
// Requests without an Origin header come from non-browser clients.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ServeWS upgrades the connection and runs the session until the client leaves.
func (h *RealtimeHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Realtime] Failed to upgrade websocket: user=%s err=%v", userID, err)
		return
	}

	s := &wsSession{
		handler: h,
		conn:    conn,
		userID:  userID,
		send:    make(chan serverFrame, wsSendBuffer),
		done:    make(chan struct{}),
		subs:    make(map[string]*realtime.Subscription),
	}
	log.Printf("[Realtime] Connected: user=%s", userID)

	go s.writePump()
	s.readPump()
	s.close()
	log.Printf("[Realtime] Disconnected: user=%s", userID)
}

// authorize decides whether userID may watch topic. Per-user topics are private
// to their owner and message topics to the thread's participants.
func (h *RealtimeHandler) authorize(ctx context.Context, userID, topic string) (bool, error) {
	kind, key := realtime.ParseTopic(topic)
	switch kind {
	case realtime.KindGlobalFeed, realtime.KindComments, realtime.KindPost:
		return true, nil
	case realtime.KindNotifications, realtime.KindThreads:
		return key == userID, nil
	case realtime.KindMessages:
		return h.threads.CanAccessThread(ctx, key, userID)
	default:
		return false, nil
	}
}

type wsSession struct {
	handler *RealtimeHandler
	conn    *websocket.Conn
	userID  string

	send      chan serverFrame
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]*realtime.Subscription
}

func (s *wsSession) readPump() {
	s.conn.SetReadLimit(wsMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Realtime] Read failed: user=%s err=%v", s.userID, err)
			}
			return
		}

		switch frame.Action {
		case actionSubscribe:
			s.subscribe(frame.Topic)
		case actionUnsubscribe:
			s.unsubscribe(frame.Topic)
		default:
			s.enqueue(serverFrame{Type: frameError, Topic: frame.Topic, Error: "unknown action"})
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				log.Printf("[Realtime] Write failed: user=%s err=%v", s.userID, err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *wsSession) subscribe(topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	allowed, err := s.handler.authorize(ctx, s.userID, topic)
	if err != nil {
		log.Printf("[Realtime] Authorization check failed: user=%s topic=%s err=%v", s.userID, topic, err)
		s.enqueue(serverFrame{Type: frameError, Topic: topic, Error: "subscription failed"})
		return
	}
	if !allowed {
		s.enqueue(serverFrame{Type: frameError, Topic: topic, Error: "forbidden"})
		return
	}

	s.mu.Lock()
	if _, ok := s.subs[topic]; ok {
		s.mu.Unlock()
		s.enqueue(serverFrame{Type: frameSubscribed, Topic: topic})
		return
	}
	if len(s.subs) >= wsMaxTopics {
		s.mu.Unlock()
		s.enqueue(serverFrame{Type: frameError, Topic: topic, Error: "too many subscriptions"})
		return
	}
	sub, err := s.handler.hub.Subscribe(topic)
	if err != nil {
		s.mu.Unlock()
		log.Printf("[Realtime] Subscribe failed: user=%s topic=%s err=%v", s.userID, topic, err)
		s.enqueue(serverFrame{Type: frameError, Topic: topic, Error: "subscription failed"})
		return
	}
	s.subs[topic] = sub
	s.mu.Unlock()

	go s.forward(sub)
	s.enqueue(serverFrame{Type: frameSubscribed, Topic: topic})
}

func (s *wsSession) unsubscribe(topic string) {
	s.mu.Lock()
	sub, ok := s.subs[topic]
	delete(s.subs, topic)
	s.mu.Unlock()

	if ok {
		sub.Dispose()
	}
	s.enqueue(serverFrame{Type: frameUnsubscribed, Topic: topic})
}

// forward relays one subscription until it is disposed.
func (s *wsSession) forward(sub *realtime.Subscription) {
	for payload := range sub.C {
		if !s.enqueue(serverFrame{Type: frameEvent, Topic: sub.Topic, Data: payload}) {
			return
		}
	}
}

// enqueue drops the frame when the session is closing or the client is too slow
// to drain its buffer.
func (s *wsSession) enqueue(frame serverFrame) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		log.Printf("[Realtime] Send buffer full, dropping frame: user=%s topic=%s", s.userID, frame.Topic)
		return true
	}
}

// close disposes every subscription. Safe to call more than once.
func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		subs := s.subs
		s.subs = make(map[string]*realtime.Subscription)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.Dispose()
		}
	})
}
