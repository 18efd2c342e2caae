package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"projectzero/internal/database"
	"projectzero/internal/model"
)

// setupTestDB connects to the database named by TEST_DATABASE_URL and applies the
// schema. Tests are skipped when no database is configured or reachable.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skipf("TEST_DATABASE_URL not set, skipping test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("Postgres not available, skipping test: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *sqlx.DB, name string) string {
	t.Helper()
	u := &model.User{
		ID:           uuid.NewString(),
		DisplayName:  name,
		AuthProvider: model.AuthProviderPassword,
	}
	if err := NewUserRepository(db).Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(`DELETE FROM users WHERE id = $1`, u.ID)
	})
	return u.ID
}

func seedPost(t *testing.T, db *sqlx.DB, authorID, text string) string {
	t.Helper()
	p := &model.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Text:      text,
		EntryDate: time.Now().UTC(),
	}
	if err := NewPostRepository(db).Create(context.Background(), p); err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p.ID
}

func TestToggleLikeConcurrentUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	posts := NewPostRepository(db)
	tx := database.NewTransactor(db)

	author := seedUser(t, db, "Author")
	postID := seedPost(t, db, author, "concurrent likes")

	const likers = 12
	userIDs := make([]string, likers)
	for i := range userIDs {
		userIDs[i] = seedUser(t, db, "Liker")
	}

	toggle := func(userID string) (*model.LikeResult, error) {
		var res *model.LikeResult
		err := tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := posts.LockForUpdate(ctx, tx, postID); err != nil {
				return err
			}
			var err error
			res, err = posts.ToggleLike(ctx, tx, postID, userID)
			return err
		})
		return res, err
	}

	var wg sync.WaitGroup
	errs := make(chan error, likers)
	for _, id := range userIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := toggle(id)
			if err != nil {
				errs <- err
				return
			}
			if !res.Liked {
				t.Errorf("first toggle by %s should like the post", id)
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("toggle like: %v", err)
	}

	got, err := posts.GetByID(ctx, postID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LikeCount != likers {
		t.Errorf("like_count = %d, want %d", got.LikeCount, likers)
	}
	if len(got.LikeIDs) != likers {
		t.Errorf("like set size = %d, want %d", len(got.LikeIDs), likers)
	}
}

func TestToggleLikeSameUserEvenTogglesLeaveUnliked(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	posts := NewPostRepository(db)
	tx := database.NewTransactor(db)

	author := seedUser(t, db, "Author")
	liker := seedUser(t, db, "Liker")
	postID := seedPost(t, db, author, "flip flop")

	const toggles = 10
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
				if _, err := posts.LockForUpdate(ctx, tx, postID); err != nil {
					return err
				}
				_, err := posts.ToggleLike(ctx, tx, postID, liker)
				return err
			})
			if err != nil {
				t.Errorf("toggle like: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := posts.GetByID(ctx, postID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LikeCount != 0 || got.HasLike(liker) {
		t.Errorf("after %d toggles: like_count=%d liked=%v, want 0 and false", toggles, got.LikeCount, got.HasLike(liker))
	}
}

func TestEnsureThreadConcurrentCreatesOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	chats := NewChatRepository(db)

	u1 := seedUser(t, db, "Ada")
	u2 := seedUser(t, db, "Grace")
	a, b := model.ThreadParticipants(u1, u2)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			thread := &model.ChatThread{ID: model.ThreadID(u1, u2), ParticipantA: a, ParticipantB: b}
			ok, err := chats.EnsureThread(ctx, thread)
			if err != nil {
				t.Errorf("EnsureThread: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[thread.ID] = true
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created reported %d times, want exactly 1", created)
	}
	if len(ids) != 1 {
		t.Errorf("callers resolved %d distinct threads, want 1", len(ids))
	}
}

func TestCommentParentMustShareThePost(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	comments := NewCommentRepository(db)
	tx := database.NewTransactor(db)

	author := seedUser(t, db, "Author")
	postA := seedPost(t, db, author, "first")
	postB := seedPost(t, db, author, "second")

	create := func(c *model.Comment) error {
		return tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
			return comments.Create(ctx, tx, c)
		})
	}

	parent := &model.Comment{ID: uuid.NewString(), PostID: postA, AuthorID: author, Text: "top level"}
	if err := create(parent); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	reply := &model.Comment{ID: uuid.NewString(), PostID: postA, AuthorID: author, Text: "reply", ParentCommentID: &parent.ID}
	if err := create(reply); err != nil {
		t.Fatalf("reply on the same post: %v", err)
	}

	stray := &model.Comment{ID: uuid.NewString(), PostID: postB, AuthorID: author, Text: "stray", ParentCommentID: &parent.ID}
	if err := create(stray); err == nil {
		t.Fatal("expected a reply whose parent belongs to another post to be rejected")
	}
	if _, err := comments.GetByID(ctx, stray.ID); err == nil {
		t.Error("rejected reply should not be stored")
	}
}
