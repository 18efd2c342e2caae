package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"projectzero/internal/database"
	"projectzero/internal/model"
	"projectzero/internal/queue"
	"projectzero/internal/realtime"
	"projectzero/internal/repository"
)

const (
	PostsDefaultLimit = 20
	PostsMaxLimit     = 50

	entryDateLayout = "2006-01-02"
)

// FeedEvent is pushed on the global feed topic.
type FeedEvent struct {
	Type   string      `json:"type"`
	PostID string      `json:"post_id"`
	Post   *model.Post `json:"post,omitempty"`
}

// LikeEvent is pushed on a post or comment topic after a like toggle.
type LikeEvent struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"like_count"`
}

type PostService struct {
	txr         database.Transactor
	postRepo    repository.PostRepository
	userRepo    repository.UserRepository
	notifier    Notifier
	publisher   queue.Publisher
	realtime    Broadcaster
	sanitizer   *Sanitizer
	globalLimit int
}

func NewPostService(
	txr database.Transactor,
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	notifier Notifier,
	publisher queue.Publisher,
	realtime Broadcaster,
	sanitizer *Sanitizer,
	globalLimit int,
) *PostService {
	if globalLimit <= 0 {
		globalLimit = PostsMaxLimit
	}
	return &PostService{
		txr:         txr,
		postRepo:    postRepo,
		userRepo:    userRepo,
		notifier:    notifier,
		publisher:   publisher,
		realtime:    broadcasterOrNop(realtime),
		sanitizer:   sanitizer,
		globalLimit: globalLimit,
	}
}

// CreatePost stores a new journal entry and announces it to the feed workers and
// the global feed.
func (s *PostService) CreatePost(ctx context.Context, authorID string, req model.CreatePostRequest) (*model.Post, error) {
	text := s.sanitizer.Text(req.Text)
	imageURL := nonEmpty(req.ImageURL)
	if text == "" && imageURL == nil {
		return nil, model.ErrEmptyPost
	}

	entryDate := today()
	if req.EntryDate != nil && *req.EntryDate != "" {
		d, err := time.Parse(entryDateLayout, *req.EntryDate)
		if err != nil {
			return nil, model.ErrInvalidEntryDate
		}
		entryDate = d
	}

	post := &model.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Text:      text,
		Quote:     nonEmpty(s.sanitizer.TextPtr(req.Quote)),
		ImageURL:  imageURL,
		Category:  s.sanitizer.Line(req.Category),
		DayNumber: req.DayNumber,
		EntryDate: entryDate,
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	event := queue.NewPostCreatedEvent(post.ID, authorID, post.CreatedAt)
	msgID, err := s.publisher.Publish(ctx, queue.StreamFeed, event)
	if err != nil {
		log.Printf("[PostService] Failed to publish PostCreated event: post=%s err=%v", post.ID, err)
	} else {
		log.Printf("[PostService] Published PostCreated: post=%s msgID=%s", post.ID, msgID)
	}

	stored, err := s.postRepo.GetByID(ctx, post.ID)
	if err != nil {
		log.Printf("[PostService] Failed to reload post %s: %v", post.ID, err)
		stored = post
	}
	s.realtime.Publish(ctx, realtime.TopicGlobalFeed, FeedEvent{Type: "post_created", PostID: stored.ID, Post: stored})

	return stored, nil
}

// GetPost returns a live post with its like set and whether the viewer is in it.
func (s *PostService) GetPost(ctx context.Context, postID, viewerID string) (*model.Post, error) {
	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	post.IsLiked = viewerID != "" && post.HasLike(viewerID)
	return post, nil
}

// UpdatePost applies the non-nil fields. Only the author may edit.
func (s *PostService) UpdatePost(ctx context.Context, postID, actorID string, req model.UpdatePostRequest) (*model.Post, error) {
	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actorID {
		return nil, model.ErrUnauthorizedPostAction
	}

	var upd model.PostUpdate
	text := post.Text
	if req.Text != nil {
		text = s.sanitizer.Text(*req.Text)
		upd.Text = &text
	}
	image := nonEmpty(post.ImageURL)
	if req.ImageURL != nil {
		trimmed := strings.TrimSpace(*req.ImageURL)
		upd.ImageURL = &trimmed
		image = nonEmpty(&trimmed)
	}
	if text == "" && image == nil {
		return nil, model.ErrEmptyPost
	}

	upd.Quote = s.sanitizer.TextPtr(req.Quote)
	if req.Category != nil {
		category := s.sanitizer.Line(*req.Category)
		upd.Category = &category
	}
	upd.DayNumber = req.DayNumber
	if req.EntryDate != nil {
		d, err := time.Parse(entryDateLayout, *req.EntryDate)
		if err != nil {
			return nil, model.ErrInvalidEntryDate
		}
		upd.EntryDate = &d
	}

	if err := s.postRepo.Update(ctx, postID, upd); err != nil {
		return nil, err
	}

	updated, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	updated.IsLiked = updated.HasLike(actorID)

	s.realtime.Publish(ctx, realtime.PostTopic(postID), updated)
	log.Printf("[PostService] Updated post=%s", postID)
	return updated, nil
}

// DeletePost soft-deletes the post and asks the workers to drop it from feeds.
func (s *PostService) DeletePost(ctx context.Context, postID, actorID string) error {
	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != actorID {
		return model.ErrUnauthorizedPostAction
	}

	if err := s.postRepo.SoftDelete(ctx, postID); err != nil {
		return err
	}

	event := queue.NewPostDeletedEvent(postID, actorID)
	msgID, err := s.publisher.Publish(ctx, queue.StreamFeed, event)
	if err != nil {
		log.Printf("[PostService] Failed to publish PostDeleted event: post=%s err=%v", postID, err)
	} else {
		log.Printf("[PostService] Published PostDeleted: post=%s msgID=%s", postID, msgID)
	}

	s.realtime.Publish(ctx, realtime.TopicGlobalFeed, FeedEvent{Type: "post_deleted", PostID: postID})
	return nil
}

// ListPostsByAuthor pages the author's timeline, newest first.
func (s *PostService) ListPostsByAuthor(ctx context.Context, authorID, viewerID string, cursor *string, limit int) (*model.FeedResponse, error) {
	limit = clampLimit(limit, PostsDefaultLimit, PostsMaxLimit)

	posts, nextCursor, err := s.postRepo.ListByAuthor(ctx, authorID, cursor, limit)
	if err != nil {
		return nil, err
	}
	markLiked(posts, viewerID)

	return &model.FeedResponse{
		Posts:      posts,
		NextCursor: nextCursor,
		HasMore:    nextCursor != nil,
	}, nil
}

// ListGlobalFeed returns the newest posts from everyone, bounded by the configured
// page size.
func (s *PostService) ListGlobalFeed(ctx context.Context, viewerID string, limit int) (*model.FeedResponse, error) {
	limit = clampLimit(limit, s.globalLimit, s.globalLimit)

	posts, err := s.postRepo.ListGlobal(ctx, limit)
	if err != nil {
		return nil, err
	}
	markLiked(posts, viewerID)

	return &model.FeedResponse{Posts: posts}, nil
}

// ToggleLike flips the actor's like on a post. The row lock serializes concurrent
// toggles so each call flips membership exactly once. Only a new like notifies the
// author.
func (s *PostService) ToggleLike(ctx context.Context, postID, actorID string) (*model.LikeResult, error) {
	var result *model.LikeResult
	var authorID string

	err := s.txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		authorID, err = s.postRepo.LockForUpdate(ctx, tx, postID)
		if err != nil {
			return err
		}
		result, err = s.postRepo.ToggleLike(ctx, tx, postID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Liked && authorID != actorID {
		_, err := s.notifier.Notify(ctx, model.NotifyInput{
			RecipientID: authorID,
			SenderID:    actorID,
			Type:        model.NotificationTypeLike,
			PostID:      &postID,
		})
		if err != nil {
			log.Printf("[PostService] Failed to notify like: post=%s actor=%s err=%v", postID, actorID, err)
		}
	}

	s.realtime.Publish(ctx, realtime.PostTopic(postID), LikeEvent{
		PostID:    postID,
		ActorID:   actorID,
		Liked:     result.Liked,
		LikeCount: result.LikeCount,
	})
	return result, nil
}

// GetJourney returns the distinct day numbers the user has logged.
func (s *PostService) GetJourney(ctx context.Context, userID string) (*model.Journey, error) {
	exists, err := s.userRepo.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, model.ErrUserNotFound
	}

	days, err := s.postRepo.GetDayNumbers(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Journey{
		UserID:     userID,
		ActiveDays: days,
		TotalDays:  model.JourneyTotalDays,
	}, nil
}

func markLiked(posts []model.Post, viewerID string) {
	if viewerID == "" {
		return
	}
	for i := range posts {
		posts[i].IsLiked = posts[i].HasLike(viewerID)
	}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
