package service

import (
	"context"
	"log"
	"strings"
	"time"

	"projectzero/internal/model"
	"projectzero/internal/repository"
	"projectzero/internal/search"
)

const (
	searchFetchLimit  = 10
	searchResultLimit = 5
	suggestedLimit    = 5
	birthDateLayout   = "2006-01-02"
)

// UserService is the user directory: profiles, privacy, search.
type UserService struct {
	repo       repository.UserRepository
	followRepo repository.FollowRepository
	index      search.UserIndex // nil when search is not configured
	sanitizer  *Sanitizer
}

func NewUserService(
	repo repository.UserRepository,
	followRepo repository.FollowRepository,
	index search.UserIndex,
	sanitizer *Sanitizer,
) *UserService {
	return &UserService{
		repo:       repo,
		followRepo: followRepo,
		index:      index,
		sanitizer:  sanitizer,
	}
}

// GetProfile returns the target as the viewer may see it. Birth date and the
// following list are dropped unless their privacy level admits the viewer, and the
// email is only shown to its owner.
func (s *UserService) GetProfile(ctx context.Context, targetID, viewerID string) (*model.Profile, error) {
	user, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	followerIDs, err := s.followRepo.GetFollowerIDs(ctx, targetID)
	if err != nil {
		return nil, err
	}

	isSelf := viewerID != "" && viewerID == targetID
	isFollower := false
	for _, id := range followerIDs {
		if id == viewerID {
			isFollower = true
			break
		}
	}

	profile := &model.Profile{
		ID:               user.ID,
		DisplayName:      user.DisplayName,
		AvatarURL:        user.AvatarURL,
		Bio:              user.Bio,
		BirthDatePrivacy: user.BirthDatePrivacy,
		FollowingPrivacy: user.FollowingPrivacy,
		Experience:       user.Experience,
		FollowerCount:    user.FollowerCount,
		FollowingCount:   user.FollowingCount,
		FollowerIDs:      followerIDs,
		IsAnonymous:      user.IsAnonymous,
		EmailVerified:    user.EmailVerified,
		IsSelf:           isSelf,
		IsFollowing:      isFollower,
		CreatedAt:        user.CreatedAt,
	}
	if profile.Experience == nil {
		profile.Experience = model.ExperienceList{}
	}

	if isSelf {
		profile.Email = user.Email
	}
	if user.BirthDate != nil && canView(user.BirthDatePrivacy, isSelf, isFollower) {
		d := user.BirthDate.Format(birthDateLayout)
		profile.BirthDate = &d
	}
	if canView(user.FollowingPrivacy, isSelf, isFollower) {
		followingIDs, err := s.followRepo.GetFolloweeIDs(ctx, targetID)
		if err != nil {
			return nil, err
		}
		profile.FollowingIDs = followingIDs
	}

	return profile, nil
}

// UpdateProfile applies the non-nil fields of req and returns the owner's view of
// the result.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req model.UpdateProfileRequest) (*model.Profile, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.DisplayName != nil {
		if name := s.sanitizer.Line(*req.DisplayName); name != "" {
			user.DisplayName = name
		}
	}
	if req.Bio != nil {
		user.Bio = s.sanitizer.Text(*req.Bio)
	}
	if req.ClearBirthDate {
		user.BirthDate = nil
	} else if req.BirthDate != nil {
		d, err := time.Parse(birthDateLayout, strings.TrimSpace(*req.BirthDate))
		if err != nil {
			return nil, model.ErrInvalidBirthDate
		}
		user.BirthDate = &d
	}
	if req.BirthDatePrivacy != nil {
		if !model.ValidPrivacy(*req.BirthDatePrivacy) {
			return nil, model.ErrInvalidPrivacy
		}
		user.BirthDatePrivacy = *req.BirthDatePrivacy
	}
	if req.FollowingPrivacy != nil {
		if !model.ValidPrivacy(*req.FollowingPrivacy) {
			return nil, model.ErrInvalidPrivacy
		}
		user.FollowingPrivacy = *req.FollowingPrivacy
	}
	if req.Experience != nil {
		exp := make(model.ExperienceList, len(*req.Experience))
		for i, e := range *req.Experience {
			exp[i] = model.Experience{
				Title:   s.sanitizer.Line(e.Title),
				Company: s.sanitizer.Line(e.Company),
				Period:  s.sanitizer.Line(e.Period),
			}
		}
		user.Experience = exp.Compact()
	}
	if req.AvatarURL != nil {
		user.AvatarURL = nonEmpty(req.AvatarURL)
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	s.reindex(ctx, user)

	log.Printf("[UserService] Updated profile user=%s", userID)
	return s.GetProfile(ctx, userID, userID)
}

// SetAvatar points the user's avatar at url.
func (s *UserService) SetAvatar(ctx context.Context, userID, url string) (*model.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.AvatarURL = &url
	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	s.reindex(ctx, user)
	return user, nil
}

func (s *UserService) reindex(ctx context.Context, user *model.User) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexUser(ctx, user); err != nil {
		log.Printf("[UserService] Failed to index user=%s: %v", user.ID, err)
	}
}

// SearchUsers finds users by display name. Results come from the search index when
// one is configured and from a SQL prefix match otherwise.
func (s *UserService) SearchUsers(ctx context.Context, query, viewerID string) ([]model.UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.UserSummary{}, nil
	}

	users, err := s.searchCandidates(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(users))
	results := make([]model.UserSummary, 0, searchResultLimit)
	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		results = append(results, u)
		if len(results) == searchResultLimit {
			break
		}
	}

	return s.markFollowing(ctx, viewerID, results), nil
}

func (s *UserService) searchCandidates(ctx context.Context, query string) ([]model.UserSummary, error) {
	if s.index != nil {
		ids, err := s.index.SearchUsers(ctx, query, searchFetchLimit)
		if err == nil {
			return s.summariesInOrder(ctx, ids)
		}
		log.Printf("[UserService] Search index failed, falling back to SQL: %v", err)
	}
	return s.repo.SearchByName(ctx, query, searchFetchLimit)
}

// summariesInOrder loads summaries for ids and keeps the ranking of ids. Ids that
// no longer exist are skipped.
func (s *UserService) summariesInOrder(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	rows, err := s.repo.GetSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.UserSummary, len(rows))
	for _, u := range rows {
		byID[u.ID] = u
	}

	users := make([]model.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// SuggestedUsers returns a few users the viewer does not follow yet.
func (s *UserService) SuggestedUsers(ctx context.Context, viewerID string) ([]model.UserSummary, error) {
	return s.repo.Suggested(ctx, viewerID, suggestedLimit)
}

func (s *UserService) markFollowing(ctx context.Context, viewerID string, users []model.UserSummary) []model.UserSummary {
	if viewerID == "" || len(users) == 0 {
		return users
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	follows, err := s.followRepo.CheckFollows(ctx, viewerID, ids)
	if err != nil {
		log.Printf("[UserService] Failed to check follow status: %v", err)
		return users
	}
	for i := range users {
		users[i].IsFollowing = follows[users[i].ID]
	}
	return users
}
