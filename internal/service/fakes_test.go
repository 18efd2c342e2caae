package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"projectzero/internal/cache"
	"projectzero/internal/model"
	"projectzero/internal/queue"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================
//
// memStore stands in for Postgres. Every repository fake below reads and writes
// it under one mutex, and fakeTx gives WithinTx all-or-nothing semantics by
// serializing transactions and restoring a snapshot when fn fails.

type followKey struct{ follower, followee string }

type memStore struct {
	mu    sync.Mutex
	clock time.Time

	users         map[string]model.User
	follows       map[followKey]time.Time
	posts         map[string]model.Post
	postLikes     map[string][]string
	comments      map[string]model.Comment
	commentLikes  map[string][]string
	notifications []model.Notification
	threads       map[string]model.ChatThread
	messages      []model.Message
	refreshTokens map[string]model.RefreshToken
	deviceTokens  map[string]model.DeviceToken
}

func newMemStore() *memStore {
	return &memStore{
		clock:         time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		users:         map[string]model.User{},
		follows:       map[followKey]time.Time{},
		posts:         map[string]model.Post{},
		postLikes:     map[string][]string{},
		comments:      map[string]model.Comment{},
		commentLikes:  map[string][]string{},
		threads:       map[string]model.ChatThread{},
		refreshTokens: map[string]model.RefreshToken{},
		deviceTokens:  map[string]model.DeviceToken{},
	}
}

// tick must be called with mu held.
func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func copyLikes(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (s *memStore) snapshot() *memStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &memStore{
		clock:         s.clock,
		users:         make(map[string]model.User, len(s.users)),
		follows:       make(map[followKey]time.Time, len(s.follows)),
		posts:         make(map[string]model.Post, len(s.posts)),
		postLikes:     copyLikes(s.postLikes),
		comments:      make(map[string]model.Comment, len(s.comments)),
		commentLikes:  copyLikes(s.commentLikes),
		notifications: append([]model.Notification(nil), s.notifications...),
		threads:       make(map[string]model.ChatThread, len(s.threads)),
		messages:      append([]model.Message(nil), s.messages...),
		refreshTokens: make(map[string]model.RefreshToken, len(s.refreshTokens)),
		deviceTokens:  make(map[string]model.DeviceToken, len(s.deviceTokens)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.follows {
		snap.follows[k] = v
	}
	for k, v := range s.posts {
		snap.posts[k] = v
	}
	for k, v := range s.comments {
		snap.comments[k] = v
	}
	for k, v := range s.threads {
		snap.threads[k] = v
	}
	for k, v := range s.refreshTokens {
		snap.refreshTokens[k] = v
	}
	for k, v := range s.deviceTokens {
		snap.deviceTokens[k] = v
	}
	return snap
}

func (s *memStore) restore(snap *memStore) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = snap.clock
	s.users = snap.users
	s.follows = snap.follows
	s.posts = snap.posts
	s.postLikes = snap.postLikes
	s.comments = snap.comments
	s.commentLikes = snap.commentLikes
	s.notifications = snap.notifications
	s.threads = snap.threads
	s.messages = snap.messages
	s.refreshTokens = snap.refreshTokens
	s.deviceTokens = snap.deviceTokens
}

// addUser seeds a user directly.
func (s *memStore) addUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = model.User{
		ID:               id,
		DisplayName:      name,
		BirthDatePrivacy: model.PrivacyPublic,
		FollowingPrivacy: model.PrivacyPublic,
		Experience:       model.ExperienceList{},
		AuthProvider:     model.AuthProviderPassword,
		CreatedAt:        s.tick(),
	}
}

func (s *memStore) setUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

type fakeTx struct {
	mu    sync.Mutex
	store *memStore
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.store.snapshot()
	if err := fn(nil); err != nil {
		f.store.restore(snap)
		return err
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

type memUserRepo struct {
	s *memStore

	// failFollowingIncrement simulates the second counter write dying.
	failFollowingIncrement error
}

func (r *memUserRepo) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return errors.New("duplicate id")
	}
	if u.Email != nil {
		for _, existing := range r.s.users {
			if existing.Email != nil && strings.EqualFold(*existing.Email, *u.Email) {
				return model.ErrEmailExists
			}
		}
	}
	u.BirthDatePrivacy = model.PrivacyPublic
	u.FollowingPrivacy = model.PrivacyPublic
	u.CreatedAt = r.s.tick()
	u.UpdatedAt = u.CreatedAt
	r.s.users[u.ID] = *u
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return &u, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email != nil && strings.EqualFold(*u.Email, email) {
			return &u, nil
		}
	}
	return nil, model.ErrUserNotFound
}

func (r *memUserRepo) Exists(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.users[id]
	return ok, nil
}

func (r *memUserRepo) UpsertFederated(ctx context.Context, u *model.User) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.users[u.ID]; ok {
		existing.EmailVerified = u.EmailVerified
		if existing.Email == nil {
			existing.Email = u.Email
		}
		r.s.users[u.ID] = existing
		return false, nil
	}
	u.BirthDatePrivacy = model.PrivacyPublic
	u.FollowingPrivacy = model.PrivacyPublic
	u.Experience = model.ExperienceList{}
	u.CreatedAt = r.s.tick()
	r.s.users[u.ID] = *u
	return true, nil
}

func (r *memUserRepo) UpdateProfile(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.users[u.ID]
	if !ok {
		return model.ErrUserNotFound
	}
	existing.DisplayName = u.DisplayName
	existing.Bio = u.Bio
	existing.BirthDate = u.BirthDate
	existing.BirthDatePrivacy = u.BirthDatePrivacy
	existing.FollowingPrivacy = u.FollowingPrivacy
	existing.Experience = u.Experience
	existing.AvatarURL = u.AvatarURL
	r.s.users[u.ID] = existing
	return nil
}

func (r *memUserRepo) SearchByName(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := []model.UserSummary{}
	for _, u := range r.s.users {
		if strings.HasPrefix(strings.ToLower(u.DisplayName), strings.ToLower(prefix)) {
			users = append(users, u.Summary())
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (r *memUserRepo) GetSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := []model.UserSummary{}
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			users = append(users, u.Summary())
		}
	}
	return users, nil
}

func (r *memUserRepo) Suggested(ctx context.Context, viewerID string, limit int) ([]model.UserSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	candidates := []model.User{}
	for _, u := range r.s.users {
		if u.ID == viewerID || u.IsAnonymous {
			continue
		}
		if _, ok := r.s.follows[followKey{viewerID, u.ID}]; ok {
			continue
		}
		candidates = append(candidates, u)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	users := []model.UserSummary{}
	for _, u := range candidates {
		if len(users) == limit {
			break
		}
		users = append(users, u.Summary())
	}
	return users, nil
}

func (r *memUserRepo) IncrementFollowerCount(ctx context.Context, tx *sqlx.Tx, userID string, delta int) error {
	return r.increment(userID, delta, func(u *model.User) *int { return &u.FollowerCount })
}

func (r *memUserRepo) IncrementFollowingCount(ctx context.Context, tx *sqlx.Tx, userID string, delta int) error {
	if r.failFollowingIncrement != nil {
		return r.failFollowingIncrement
	}
	return r.increment(userID, delta, func(u *model.User) *int { return &u.FollowingCount })
}

func (r *memUserRepo) increment(userID string, delta int, field func(*model.User) *int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	p := field(&u)
	*p += delta
	if *p < 0 {
		*p = 0
	}
	r.s.users[userID] = u
	return nil
}

// =============================================================================
// FOLLOWS
// =============================================================================

type memFollowRepo struct{ s *memStore }

func (r *memFollowRepo) Create(ctx context.Context, tx *sqlx.Tx, followerID, followeeID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := followKey{followerID, followeeID}
	if _, ok := r.s.follows[key]; ok {
		return false, nil
	}
	r.s.follows[key] = r.s.tick()
	return true, nil
}

func (r *memFollowRepo) Delete(ctx context.Context, tx *sqlx.Tx, followerID, followeeID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := followKey{followerID, followeeID}
	if _, ok := r.s.follows[key]; !ok {
		return model.ErrNotFollowing
	}
	delete(r.s.follows, key)
	return nil
}

func (r *memFollowRepo) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.follows[followKey{followerID, followeeID}]
	return ok, nil
}

func (r *memFollowRepo) GetFollowers(ctx context.Context, userID string, cursor *time.Time, limit int) ([]model.UserSummary, *time.Time, error) {
	return r.list(userID, cursor, limit, func(k followKey) (string, bool) { return k.follower, k.followee == userID })
}

func (r *memFollowRepo) GetFollowing(ctx context.Context, userID string, cursor *time.Time, limit int) ([]model.UserSummary, *time.Time, error) {
	return r.list(userID, cursor, limit, func(k followKey) (string, bool) { return k.followee, k.follower == userID })
}

func (r *memFollowRepo) list(userID string, cursor *time.Time, limit int, match func(followKey) (string, bool)) ([]model.UserSummary, *time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	type edge struct {
		id string
		at time.Time
	}
	edges := []edge{}
	for k, at := range r.s.follows {
		id, ok := match(k)
		if !ok || (cursor != nil && !at.Before(*cursor)) {
			continue
		}
		edges = append(edges, edge{id, at})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].at.After(edges[j].at) })

	var next *time.Time
	if len(edges) > limit {
		edges = edges[:limit]
		at := edges[len(edges)-1].at
		next = &at
	}
	users := make([]model.UserSummary, 0, len(edges))
	for _, e := range edges {
		u := r.s.users[e.id]
		users = append(users, u.Summary())
	}
	return users, next, nil
}

func (r *memFollowRepo) CheckFollows(ctx context.Context, followerID string, followeeIDs []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[string]bool{}
	for _, id := range followeeIDs {
		if _, ok := r.s.follows[followKey{followerID, id}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *memFollowRepo) GetFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []string{}
	for k := range r.s.follows {
		if k.followee == userID {
			ids = append(ids, k.follower)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memFollowRepo) GetFolloweeIDs(ctx context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []string{}
	for k := range r.s.follows {
		if k.follower == userID {
			ids = append(ids, k.followee)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memFollowRepo) Consistency(ctx context.Context, userID string) (*model.FollowConsistency, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	c := &model.FollowConsistency{
		UserID:         userID,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
	}
	for k := range r.s.follows {
		if k.followee == userID {
			c.FollowerEdgeCount++
		}
		if k.follower == userID {
			c.FollowingEdgeCount++
		}
	}
	c.Evaluate()
	return c, nil
}

// =============================================================================
// POSTS
// =============================================================================

type memPostRepo struct{ s *memStore }

// hydrate must be called with mu held.
func (r *memPostRepo) hydrate(p model.Post) model.Post {
	p.LikeIDs = pq.StringArray(append([]string{}, r.s.postLikes[p.ID]...))
	p.LikeCount = len(p.LikeIDs)
	if u, ok := r.s.users[p.AuthorID]; ok {
		p.AuthorName = u.DisplayName
		p.AuthorAvatar = u.AvatarURL
	}
	return p
}

// live must be called with mu held.
func (r *memPostRepo) live() []model.Post {
	posts := []model.Post{}
	for _, p := range r.s.posts {
		if p.DeletedAt == nil {
			posts = append(posts, r.hydrate(p))
		}
	}
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
	return posts
}

func (r *memPostRepo) Create(ctx context.Context, p *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.CreatedAt = r.s.tick()
	p.UpdatedAt = p.CreatedAt
	r.s.posts[p.ID] = *p
	return nil
}

func (r *memPostRepo) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.DeletedAt != nil {
		return nil, model.ErrPostNotFound
	}
	h := r.hydrate(p)
	return &h, nil
}

func (r *memPostRepo) GetByIDs(ctx context.Context, postIDs []string) ([]model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range postIDs {
		want[id] = true
	}
	posts := []model.Post{}
	for _, p := range r.live() {
		if want[p.ID] {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func (r *memPostRepo) Update(ctx context.Context, postID string, upd model.PostUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.DeletedAt != nil {
		return model.ErrPostNotFound
	}
	if upd.Text != nil {
		p.Text = *upd.Text
	}
	if upd.Quote != nil {
		p.Quote = upd.Quote
	}
	if upd.ImageURL != nil {
		p.ImageURL = nonEmpty(upd.ImageURL)
	}
	if upd.Category != nil {
		p.Category = *upd.Category
	}
	if upd.DayNumber != nil {
		p.DayNumber = upd.DayNumber
	}
	if upd.EntryDate != nil {
		p.EntryDate = *upd.EntryDate
	}
	p.UpdatedAt = r.s.tick()
	r.s.posts[postID] = p
	return nil
}

func (r *memPostRepo) SoftDelete(ctx context.Context, postID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.DeletedAt != nil {
		return model.ErrPostNotFound
	}
	now := r.s.tick()
	p.DeletedAt = &now
	r.s.posts[postID] = p
	return nil
}

// ListByAuthor treats the cursor as the id of the last post already seen.
func (r *memPostRepo) ListByAuthor(ctx context.Context, authorID string, cursor *string, limit int) ([]model.Post, *string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	posts := []model.Post{}
	seen := cursor == nil
	for _, p := range r.live() {
		if p.AuthorID != authorID {
			continue
		}
		if !seen {
			seen = p.ID == *cursor
			continue
		}
		posts = append(posts, p)
	}
	var next *string
	if len(posts) > limit {
		posts = posts[:limit]
		id := posts[len(posts)-1].ID
		next = &id
	}
	return posts, next, nil
}

func (r *memPostRepo) ListGlobal(ctx context.Context, limit int) ([]model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	posts := r.live()
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (r *memPostRepo) GetRecentPostsByUser(ctx context.Context, userID string, limit int) ([]cache.PostScore, error) {
	return r.GetFeedPostIDs(ctx, []string{userID}, limit)
}

func (r *memPostRepo) GetFeedPostIDs(ctx context.Context, authorIDs []string, limit int) ([]cache.PostScore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	authors := map[string]bool{}
	for _, id := range authorIDs {
		authors[id] = true
	}
	out := []cache.PostScore{}
	for _, p := range r.live() {
		if authors[p.AuthorID] && len(out) < limit {
			out = append(out, cache.PostScore{PostID: p.ID, Timestamp: p.CreatedAt.UnixMilli()})
		}
	}
	return out, nil
}

func (r *memPostRepo) GetDayNumbers(ctx context.Context, authorID string) ([]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := map[int]bool{}
	for _, p := range r.live() {
		if p.AuthorID == authorID && p.DayNumber != nil {
			set[*p.DayNumber] = true
		}
	}
	days := []int{}
	for d := range set {
		days = append(days, d)
	}
	sort.Ints(days)
	return days, nil
}

func (r *memPostRepo) LockForUpdate(ctx context.Context, tx *sqlx.Tx, postID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[postID]
	if !ok || p.DeletedAt != nil {
		return "", model.ErrPostNotFound
	}
	return p.AuthorID, nil
}

func (r *memPostRepo) ToggleLike(ctx context.Context, tx *sqlx.Tx, postID, userID string) (*model.LikeResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	likes, liked := toggleMember(r.s.postLikes[postID], userID)
	r.s.postLikes[postID] = likes
	p := r.s.posts[postID]
	p.LikeCount = len(likes)
	r.s.posts[postID] = p
	return &model.LikeResult{Liked: liked, LikeCount: len(likes)}, nil
}

func (r *memPostRepo) IncrementCommentCount(ctx context.Context, tx *sqlx.Tx, postID string, delta int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := r.s.posts[postID]
	p.CommentCount += delta
	r.s.posts[postID] = p
	return nil
}

func toggleMember(set []string, id string) ([]string, bool) {
	for i, v := range set {
		if v == id {
			return append(set[:i:i], set[i+1:]...), false
		}
	}
	return append(set, id), true
}

// =============================================================================
// COMMENTS
// =============================================================================

type memCommentRepo struct{ s *memStore }

// hydrate must be called with mu held.
func (r *memCommentRepo) hydrate(c model.Comment) model.Comment {
	c.LikeIDs = pq.StringArray(append([]string{}, r.s.commentLikes[c.ID]...))
	c.LikeCount = len(c.LikeIDs)
	if u, ok := r.s.users[c.AuthorID]; ok {
		c.AuthorName = u.DisplayName
		c.AuthorAvatar = u.AvatarURL
	}
	return c
}

// Create mirrors the (parent_comment_id, post_id) foreign key.
func (r *memCommentRepo) Create(ctx context.Context, tx *sqlx.Tx, c *model.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ParentCommentID != nil {
		parent, ok := r.s.comments[*c.ParentCommentID]
		if !ok || parent.PostID != c.PostID {
			return errors.New("comments_parent_fk violation")
		}
	}
	c.CreatedAt = r.s.tick()
	r.s.comments[c.ID] = *c
	return nil
}

func (r *memCommentRepo) GetByID(ctx context.Context, commentID string) (*model.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.comments[commentID]
	if !ok {
		return nil, model.ErrCommentNotFound
	}
	h := r.hydrate(c)
	return &h, nil
}

func (r *memCommentRepo) ListByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	comments := []model.Comment{}
	for _, c := range r.s.comments {
		if c.PostID == postID {
			comments = append(comments, r.hydrate(c))
		}
	}
	sort.Slice(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, nil
}

func (r *memCommentRepo) LockForUpdate(ctx context.Context, tx *sqlx.Tx, commentID string) (*model.Comment, error) {
	return r.GetByID(ctx, commentID)
}

func (r *memCommentRepo) ToggleLike(ctx context.Context, tx *sqlx.Tx, commentID, userID string) (*model.LikeResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	likes, liked := toggleMember(r.s.commentLikes[commentID], userID)
	r.s.commentLikes[commentID] = likes
	return &model.LikeResult{Liked: liked, LikeCount: len(likes)}, nil
}

// =============================================================================
// NOTIFICATIONS AND DEVICE TOKENS
// =============================================================================

type memNotificationRepo struct{ s *memStore }

func (r *memNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n.Read = false
	n.CreatedAt = r.s.tick()
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}

func (r *memNotificationRepo) List(ctx context.Context, recipientID string, limit int) ([]model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Notification{}
	for i := len(r.s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := r.s.notifications[i]
		if n.RecipientID != recipientID {
			continue
		}
		if u, ok := r.s.users[n.SenderID]; ok {
			n.SenderName = u.DisplayName
			n.SenderAvatar = u.AvatarURL
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *memNotificationRepo) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r *memNotificationRepo) MarkRead(ctx context.Context, id, recipientID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, n := range r.s.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			r.s.notifications[i].Read = true
			return nil
		}
	}
	return model.ErrNotificationNotFound
}

func (r *memNotificationRepo) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.notifications {
		if r.s.notifications[i].RecipientID == recipientID && !r.s.notifications[i].Read {
			r.s.notifications[i].Read = true
			n++
		}
	}
	return n, nil
}

type memDeviceTokenRepo struct{ s *memStore }

func (r *memDeviceTokenRepo) Upsert(ctx context.Context, userID, token, platform string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deviceTokens[token] = model.DeviceToken{Token: token, UserID: userID, Platform: platform, UpdatedAt: r.s.tick()}
	return nil
}

func (r *memDeviceTokenRepo) GetTokens(ctx context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tokens := []string{}
	for _, t := range r.s.deviceTokens {
		if t.UserID == userID {
			tokens = append(tokens, t.Token)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (r *memDeviceTokenRepo) Delete(ctx context.Context, userID, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.deviceTokens[token]; ok && t.UserID == userID {
		delete(r.s.deviceTokens, token)
	}
	return nil
}

func (r *memDeviceTokenRepo) Purge(ctx context.Context, tokens []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, token := range tokens {
		if _, ok := r.s.deviceTokens[token]; ok {
			delete(r.s.deviceTokens, token)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// CHAT
// =============================================================================

type memChatRepo struct{ s *memStore }

func (r *memChatRepo) EnsureThread(ctx context.Context, t *model.ChatThread) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	created := false
	if _, ok := r.s.threads[t.ID]; !ok {
		t.CreatedAt = r.s.tick()
		t.UpdatedAt = t.CreatedAt
		r.s.threads[t.ID] = *t
		created = true
	}
	*t = r.s.threads[t.ID]
	return created, nil
}

func (r *memChatRepo) GetThread(ctx context.Context, threadID string) (*model.ChatThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.threads[threadID]
	if !ok {
		return nil, model.ErrThreadNotFound
	}
	return &t, nil
}

func (r *memChatRepo) LockThread(ctx context.Context, tx *sqlx.Tx, threadID string) (*model.ChatThread, error) {
	return r.GetThread(ctx, threadID)
}

func (r *memChatRepo) CreateMessage(ctx context.Context, tx *sqlx.Tx, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.CreatedAt = r.s.tick()
	r.s.messages = append(r.s.messages, *m)
	return nil
}

func (r *memChatRepo) TouchThread(ctx context.Context, tx *sqlx.Tx, threadID, lastText, senderID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.threads[threadID]
	t.LastMessageText = lastText
	t.LastSenderID = &senderID
	t.UpdatedAt = at
	r.s.threads[threadID] = t
	return nil
}

func (r *memChatRepo) ListThreads(ctx context.Context, userID string) ([]model.ChatThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	threads := []model.ChatThread{}
	for _, t := range r.s.threads {
		if !t.HasParticipant(userID) {
			continue
		}
		other := r.s.users[t.OtherParticipant(userID)]
		summary := other.Summary()
		t.OtherUser = &summary
		for _, m := range r.s.messages {
			if m.ThreadID == t.ID && m.SenderID != userID && !m.Read {
				t.UnreadCount++
			}
		}
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].UpdatedAt.After(threads[j].UpdatedAt) })
	return threads, nil
}

func (r *memChatRepo) ListMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Message{}
	for _, m := range r.s.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memChatRepo) MarkRead(ctx context.Context, threadID, readerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i, m := range r.s.messages {
		if m.ThreadID == threadID && m.SenderID != readerID && !m.Read {
			r.s.messages[i].Read = true
			n++
		}
	}
	return n, nil
}

// =============================================================================
// REFRESH TOKENS
// =============================================================================

type memRefreshTokenRepo struct{ s *memStore }

func (r *memRefreshTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.CreatedAt = r.s.tick()
	r.s.refreshTokens[t.ID] = *t
	return nil
}

func (r *memRefreshTokenRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.refreshTokens {
		if t.TokenHash == tokenHash {
			return &t, nil
		}
	}
	return nil, model.ErrRefreshTokenNotFound
}

func (r *memRefreshTokenRepo) Rotate(ctx context.Context, oldID string, next *model.RefreshToken) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.refreshTokens[oldID]
	if !ok || old.RevokedAt != nil || !old.ExpiresAt.After(time.Now()) {
		return false, nil
	}
	now := r.s.tick()
	old.RevokedAt = &now
	old.ReplacedBy = &next.ID
	r.s.refreshTokens[oldID] = old
	next.UserID = old.UserID
	next.CreatedAt = now
	r.s.refreshTokens[next.ID] = *next
	return true, nil
}

func (r *memRefreshTokenRepo) Revoke(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refreshTokens[id]
	if !ok || t.RevokedAt != nil {
		return nil
	}
	now := r.s.tick()
	t.RevokedAt = &now
	r.s.refreshTokens[id] = t
	return nil
}

func (r *memRefreshTokenRepo) RevokeFamily(ctx context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.refreshTokens {
		if t.UserID == userID && t.RevokedAt == nil {
			now := r.s.tick()
			t.RevokedAt = &now
			r.s.refreshTokens[id] = t
			n++
		}
	}
	return n, nil
}

// =============================================================================
// EVENT SINKS
// =============================================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, stream string, event queue.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "0-1", nil
}

func (p *recordingPublisher) ofType(t string) []queue.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []queue.Event{}
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBroadcaster) Publish(ctx context.Context, topic string, v interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
}

func (b *recordingBroadcaster) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// =============================================================================
// FIXTURE
// =============================================================================

// fixture wires every service to one memStore.
type fixture struct {
	store     *memStore
	tx        *fakeTx
	users     *memUserRepo
	follows   *memFollowRepo
	posts     *memPostRepo
	comments  *memCommentRepo
	notifs    *memNotificationRepo
	chats     *memChatRepo
	refresh   *memRefreshTokenRepo
	tokens    *memDeviceTokenRepo
	publisher *recordingPublisher
	realtime  *recordingBroadcaster

	notificationSvc *NotificationService
	postSvc         *PostService
	commentSvc      *CommentService
	followSvc       *FollowService
	chatSvc         *ChatService
	userSvc         *UserService
	feedSvc         *FeedService
}

func newFixture() *fixture {
	store := newMemStore()
	f := &fixture{
		store:     store,
		tx:        &fakeTx{store: store},
		users:     &memUserRepo{s: store},
		follows:   &memFollowRepo{s: store},
		posts:     &memPostRepo{s: store},
		comments:  &memCommentRepo{s: store},
		notifs:    &memNotificationRepo{s: store},
		chats:     &memChatRepo{s: store},
		refresh:   &memRefreshTokenRepo{s: store},
		tokens:    &memDeviceTokenRepo{s: store},
		publisher: &recordingPublisher{},
		realtime:  &recordingBroadcaster{},
	}
	sanitizer := NewSanitizer()

	f.notificationSvc = NewNotificationService(f.notifs, f.tokens, f.users, f.publisher, f.realtime)
	f.postSvc = NewPostService(f.tx, f.posts, f.users, f.notificationSvc, f.publisher, f.realtime, sanitizer, 50)
	f.commentSvc = NewCommentService(f.tx, f.comments, f.posts, f.notificationSvc, f.realtime, sanitizer)
	f.followSvc = NewFollowService(f.tx, f.follows, f.users, f.notificationSvc, f.publisher)
	f.chatSvc = NewChatService(f.tx, f.chats, f.users, f.realtime, sanitizer)
	f.userSvc = NewUserService(f.users, f.follows, nil, sanitizer)
	f.feedSvc = NewFeedService(nil, f.posts, f.follows)
	return f
}

func (f *fixture) notificationsFor(recipientID string) []model.Notification {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	out := []model.Notification{}
	for _, n := range f.store.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}

func (f *fixture) allNotifications() []model.Notification {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return append([]model.Notification(nil), f.store.notifications...)
}

func (f *fixture) mustPost(t interface{ Fatalf(string, ...interface{}) }, authorID, text string) *model.Post {
	post, err := f.postSvc.CreatePost(context.Background(), authorID, model.CreatePostRequest{Text: text})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	return post
}

func strPtr(s string) *string { return &s }
