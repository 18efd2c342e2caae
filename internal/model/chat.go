package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChatThread is a two-party conversation. ParticipantA sorts before ParticipantB.
type ChatThread struct {
	ID              string    `db:"id" json:"id"`
	ParticipantA    string    `db:"participant_a" json:"-"`
	ParticipantB    string    `db:"participant_b" json:"-"`
	LastMessageText string    `db:"last_message_text" json:"last_message_text"`
	LastSenderID    *string   `db:"last_sender_id" json:"last_sender_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	// Joined for the caller's inbox
	OtherUser   *UserSummary `db:"-" json:"other_user,omitempty"`
	UnreadCount int          `db:"unread_count" json:"unread_count"`
}

// ParticipantIDs returns both members in stored order.
func (t *ChatThread) ParticipantIDs() [2]string {
	return [2]string{t.ParticipantA, t.ParticipantB}
}

// HasParticipant reports whether userID is a member of the thread.
func (t *ChatThread) HasParticipant(userID string) bool {
	return t.ParticipantA == userID || t.ParticipantB == userID
}

// OtherParticipant returns the member that is not userID.
func (t *ChatThread) OtherParticipant(userID string) string {
	if t.ParticipantA == userID {
		return t.ParticipantB
	}
	return t.ParticipantA
}

// ThreadParticipants orders a pair so the same two users always map to the same row.
func ThreadParticipants(u1, u2 string) (a, b string) {
	if u1 < u2 {
		return u1, u2
	}
	return u2, u1
}

// threadNamespace scopes the name-based thread ids.
var threadNamespace = uuid.MustParse("6f1d3c2a-8b4e-5a7f-9c0d-2e4b6a8c1f3e")

// ThreadID derives the thread key from an unordered participant pair. The pair is
// joined on a NUL byte, which Postgres text columns cannot hold, so distinct pairs
// never share a name.
func ThreadID(u1, u2 string) string {
	a, b := ThreadParticipants(u1, u2)
	return uuid.NewSHA1(threadNamespace, []byte(a+"\x00"+b)).String()
}

type Message struct {
	ID        string    `db:"id" json:"id"`
	ThreadID  string    `db:"thread_id" json:"thread_id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Text      string    `db:"text" json:"text"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ResolveThreadResponse tells the client whether it joined an existing thread or
// opened a new one.
type ResolveThreadResponse struct {
	Thread  *ChatThread `json:"thread"`
	Created bool        `json:"created"`
}

type ResolveThreadRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

const (
	MessageDefaultLimit = 100
	MessageMaxLimit     = 500
)

var (
	ErrThreadNotFound       = errors.New("chat thread not found")
	ErrNotThreadParticipant = errors.New("you are not part of this conversation")
	ErrCannotChatSelf       = errors.New("cannot open a conversation with yourself")
	ErrMessageRequired      = errors.New("message text is required")
)
