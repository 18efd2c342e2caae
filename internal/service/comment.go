package service

import (
	"context"
	"log"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"projectzero/internal/database"
	"projectzero/internal/model"
	"projectzero/internal/realtime"
	"projectzero/internal/repository"
)

// CommentEvent is pushed on a post's comments topic.
type CommentEvent struct {
	Type    string         `json:"type"`
	Comment *model.Comment `json:"comment,omitempty"`
	Like    *LikeEvent     `json:"like,omitempty"`
}

type CommentService struct {
	txr         database.Transactor
	commentRepo repository.CommentRepository
	postRepo    repository.PostRepository
	notifier    Notifier
	realtime    Broadcaster
	sanitizer   *Sanitizer
}

func NewCommentService(
	txr database.Transactor,
	commentRepo repository.CommentRepository,
	postRepo repository.PostRepository,
	notifier Notifier,
	realtime Broadcaster,
	sanitizer *Sanitizer,
) *CommentService {
	return &CommentService{
		txr:         txr,
		commentRepo: commentRepo,
		postRepo:    postRepo,
		notifier:    notifier,
		realtime:    broadcasterOrNop(realtime),
		sanitizer:   sanitizer,
	}
}

// AddComment appends a comment, optionally replying to another comment on the same
// post. The insert and the post's comment counter move together.
func (s *CommentService) AddComment(ctx context.Context, postID, authorID string, req model.CreateCommentRequest) (*model.Comment, error) {
	text := s.sanitizer.Text(req.Text)
	if text == "" {
		return nil, model.ErrContentRequired
	}
	if utf8.RuneCountInString(text) > model.MaxCommentLength {
		text = string([]rune(text)[:model.MaxCommentLength])
	}

	if req.ParentCommentID != nil {
		parent, err := s.commentRepo.GetByID(ctx, *req.ParentCommentID)
		if err != nil {
			return nil, err
		}
		if parent.PostID != postID {
			return nil, model.ErrParentCommentMismatch
		}
	}

	comment := &model.Comment{
		ID:              uuid.NewString(),
		PostID:          postID,
		AuthorID:        authorID,
		Text:            text,
		ParentCommentID: req.ParentCommentID,
	}

	var postAuthorID string
	err := s.txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		postAuthorID, err = s.postRepo.LockForUpdate(ctx, tx, postID)
		if err != nil {
			return err
		}
		if err := s.commentRepo.Create(ctx, tx, comment); err != nil {
			return err
		}
		return s.postRepo.IncrementCommentCount(ctx, tx, postID, 1)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CommentService] User %s commented on post %s", authorID, postID)

	if stored, err := s.commentRepo.GetByID(ctx, comment.ID); err == nil {
		comment = stored
	} else {
		log.Printf("[CommentService] Failed to reload comment %s: %v", comment.ID, err)
	}

	if postAuthorID != authorID {
		_, err := s.notifier.Notify(ctx, model.NotifyInput{
			RecipientID: postAuthorID,
			SenderID:    authorID,
			Type:        model.NotificationTypeComment,
			Text:        &comment.Text,
			PostID:      &comment.PostID,
		})
		if err != nil {
			log.Printf("[CommentService] Failed to notify comment: post=%s err=%v", postID, err)
		}
	}

	s.realtime.Publish(ctx, realtime.CommentsTopic(postID), CommentEvent{Type: "comment_added", Comment: comment})
	return comment, nil
}

// ToggleCommentLike flips the actor's like on a comment under the comment's row
// lock. Comment likes do not notify.
func (s *CommentService) ToggleCommentLike(ctx context.Context, commentID, actorID string) (*model.LikeResult, error) {
	var result *model.LikeResult
	var postID string

	err := s.txr.WithinTx(ctx, func(tx *sqlx.Tx) error {
		c, err := s.commentRepo.LockForUpdate(ctx, tx, commentID)
		if err != nil {
			return err
		}
		postID = c.PostID
		result, err = s.commentRepo.ToggleLike(ctx, tx, commentID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.realtime.Publish(ctx, realtime.CommentsTopic(postID), CommentEvent{
		Type: "comment_liked",
		Like: &LikeEvent{
			PostID:    postID,
			CommentID: commentID,
			ActorID:   actorID,
			Liked:     result.Liked,
			LikeCount: result.LikeCount,
		},
	})
	return result, nil
}

// ListComments returns the post's comments oldest first.
func (s *CommentService) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	if _, err := s.postRepo.GetByID(ctx, postID); err != nil {
		return nil, err
	}
	return s.commentRepo.ListByPost(ctx, postID)
}

// BuildCommentThreads groups a creation-ordered flat list into root comments, each
// followed by all of its descendants in creation order. Replies whose root is not
// in the list are dropped.
func BuildCommentThreads(flat []model.Comment) []model.CommentThread {
	parentOf := make(map[string]string, len(flat))
	for _, c := range flat {
		if c.ParentCommentID != nil {
			parentOf[c.ID] = *c.ParentCommentID
		}
	}

	// rootOf memoizes each comment's root so the walk stays linear overall.
	rootOf := make(map[string]string, len(flat))
	var findRoot func(id string, depth int) string
	findRoot = func(id string, depth int) string {
		if r, ok := rootOf[id]; ok {
			return r
		}
		parent, ok := parentOf[id]
		if !ok || depth > len(flat) {
			rootOf[id] = id
			return id
		}
		r := findRoot(parent, depth+1)
		rootOf[id] = r
		return r
	}

	threads := []model.CommentThread{}
	index := make(map[string]int)
	for _, c := range flat {
		if c.ParentCommentID == nil {
			index[c.ID] = len(threads)
			threads = append(threads, model.CommentThread{Root: c, Replies: []model.Comment{}})
		}
	}
	for _, c := range flat {
		if c.ParentCommentID == nil {
			continue
		}
		i, ok := index[findRoot(c.ID, 0)]
		if !ok {
			continue
		}
		threads[i].Replies = append(threads[i].Replies, c)
	}
	return threads
}
