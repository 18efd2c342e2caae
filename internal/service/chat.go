package service

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"projectzero/internal/database"
	"projectzero/internal/model"
	"projectzero/internal/realtime"
	"projectzero/internal/repository"
)

const maxMessageLength = 4000

// ThreadEvent is pushed on each participant's threads topic when a thread moves.
type ThreadEvent struct {
	ThreadID        string    `json:"thread_id"`
	LastMessageText string    `json:"last_message_text"`
	LastSenderID    string    `json:"last_sender_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ChatService struct {
	txr       database.Transactor
	chatRepo  repository.ChatRepository
	userRepo  repository.UserRepository
	realtime  Broadcaster
	sanitizer *Sanitizer
}

func NewChatService(
	txr database.Transactor,
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	realtime Broadcaster,
	sanitizer *Sanitizer,
) *ChatService {
	return &ChatService{
		txr:       txr,
		chatRepo:  chatRepo,
		userRepo:  userRepo,
		realtime:  broadcasterOrNop(realtime),
		sanitizer: sanitizer,
	}
}

// ResolveThread returns the conversation between the two users, opening it if
// needed. The thread id is derived from the sorted pair, so both sides resolving at
// once still land on one row.
func (s *ChatService) ResolveThread(ctx context.Context, selfID, otherID string) (*model.ResolveThreadResponse, error) {
	if selfID == otherID {
		return nil, model.ErrCannotChatSelf
	}

	other, err := s.userRepo.GetByID(ctx, otherID)
	if err != nil {
		return nil, err
	}

	a, b := model.ThreadParticipants(selfID, otherID)
	thread := &model.ChatThread{
		ID:           model.ThreadID(selfID, otherID),
		ParticipantA: a,
		ParticipantB: b,
	}
	created, err := s.chatRepo.EnsureThread(ctx, thread)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(selfID) || !thread.HasParticipant(otherID) {
		log.Printf("[ChatService] Thread %s does not belong to pair %s/%s", thread.ID, selfID, otherID)
		return nil, model.ErrNotThreadParticipant
	}

	summary := other.Summary()
	thread.OtherUser = &summary

	if created {
		log.Printf("[ChatService] Opened thread %s", thread.ID)
	}
	return &model.ResolveThreadResponse{Thread: thread, Created: created}, nil
}

// SendMessage appends a message and moves the thread's preview in one transaction.
func (s *ChatService) SendMessage(ctx context.Context, threadID, senderID, text string) (*model.Message, error) {
	text = s.sanitizer.Text(text)
	if text == "" {
		return nil, model.ErrMessageRequired
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		text = string([]rune(text)[:maxMessageLength])
	}

	msg := &model.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		SenderID: senderID,
		Text:     text,
	}

	var thread *model.ChatThread
	err := s.txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		thread, err = s.chatRepo.LockThread(ctx, tx, threadID)
		if err != nil {
			return err
		}
		if !thread.HasParticipant(senderID) {
			return model.ErrNotThreadParticipant
		}
		if err := s.chatRepo.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}
		return s.chatRepo.TouchThread(ctx, tx, threadID, text, senderID, msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	s.realtime.Publish(ctx, realtime.MessagesTopic(threadID), msg)
	event := ThreadEvent{
		ThreadID:        threadID,
		LastMessageText: text,
		LastSenderID:    senderID,
		UpdatedAt:       msg.CreatedAt,
	}
	for _, uid := range thread.ParticipantIDs() {
		s.realtime.Publish(ctx, realtime.ThreadsTopic(uid), event)
	}

	return msg, nil
}

// ListThreads returns the user's inbox, most recently active first.
func (s *ChatService) ListThreads(ctx context.Context, userID string) ([]model.ChatThread, error) {
	return s.chatRepo.ListThreads(ctx, userID)
}

// ListMessages returns the latest messages of a thread the viewer belongs to, in
// chronological order.
func (s *ChatService) ListMessages(ctx context.Context, threadID, viewerID string, limit int) ([]model.Message, error) {
	if err := s.requireParticipant(ctx, threadID, viewerID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, model.MessageDefaultLimit, model.MessageMaxLimit)
	return s.chatRepo.ListMessages(ctx, threadID, limit)
}

// MarkThreadRead marks the other participant's messages as read by the viewer.
func (s *ChatService) MarkThreadRead(ctx context.Context, threadID, viewerID string) (int64, error) {
	if err := s.requireParticipant(ctx, threadID, viewerID); err != nil {
		return 0, err
	}
	return s.chatRepo.MarkRead(ctx, threadID, viewerID)
}

// CanAccessThread reports whether userID is a participant. A missing thread is
// reported as false.
func (s *ChatService) CanAccessThread(ctx context.Context, threadID, userID string) (bool, error) {
	err := s.requireParticipant(ctx, threadID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrThreadNotFound), errors.Is(err, model.ErrNotThreadParticipant):
		return false, nil
	default:
		return false, err
	}
}

func (s *ChatService) requireParticipant(ctx context.Context, threadID, userID string) error {
	thread, err := s.chatRepo.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !thread.HasParticipant(userID) {
		return model.ErrNotThreadParticipant
	}
	return nil
}
