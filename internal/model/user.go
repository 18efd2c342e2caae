package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Privacy levels for profile fields.
const (
	PrivacyPublic    = "public"
	PrivacyFollowers = "followers"
	PrivacyPrivate   = "private"
)

// Auth providers recorded on the user row.
const (
	AuthProviderPassword  = "password"
	AuthProviderAnonymous = "anonymous"
	AuthProviderFirebase  = "firebase"
)

// User is the directory record. ID equals the identity provider's principal id.
type User struct {
	ID               string         `db:"id" json:"id"`
	Email            *string        `db:"email" json:"email,omitempty"`
	PasswordHash     *string        `db:"password_hash" json:"-"`
	DisplayName      string         `db:"display_name" json:"display_name"`
	AvatarURL        *string        `db:"avatar_url" json:"avatar_url"`
	Bio              string         `db:"bio" json:"bio"`
	BirthDate        *time.Time     `db:"birth_date" json:"birth_date,omitempty"`
	BirthDatePrivacy string         `db:"birth_date_privacy" json:"birth_date_privacy"`
	FollowingPrivacy string         `db:"following_privacy" json:"following_privacy"`
	Experience       ExperienceList `db:"experience" json:"experience"`
	FollowerCount    int            `db:"follower_count" json:"follower_count"`
	FollowingCount   int            `db:"following_count" json:"following_count"`
	EmailVerified    bool           `db:"email_verified" json:"email_verified"`
	IsAnonymous      bool           `db:"is_anonymous" json:"is_anonymous"`
	AuthProvider     string         `db:"auth_provider" json:"auth_provider"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Summary returns the compact form used in lists and joined rows.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

// Experience is one "Mission Log" entry.
type Experience struct {
	Title   string `json:"title" validate:"max=100"`
	Company string `json:"company" validate:"max=100"`
	Period  string `json:"period" validate:"max=50"`
}

// ExperienceList is stored as a JSONB array.
type ExperienceList []Experience

// Compact drops entries that carry neither a title nor a company.
func (l ExperienceList) Compact() ExperienceList {
	out := make(ExperienceList, 0, len(l))
	for _, e := range l {
		e.Title = strings.TrimSpace(e.Title)
		e.Company = strings.TrimSpace(e.Company)
		e.Period = strings.TrimSpace(e.Period)
		if e.Title == "" && e.Company == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (l ExperienceList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *ExperienceList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = ExperienceList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("experience: unsupported scan type %T", src)
	}
	return json.Unmarshal(data, l)
}

// Profile is a User as seen by a particular viewer. Fields the viewer may not see
// are nil.
type Profile struct {
	ID               string         `json:"id"`
	Email            *string        `json:"email,omitempty"`
	DisplayName      string         `json:"display_name"`
	AvatarURL        *string        `json:"avatar_url"`
	Bio              string         `json:"bio"`
	BirthDate        *string        `json:"birth_date,omitempty"`
	BirthDatePrivacy string         `json:"birth_date_privacy"`
	FollowingPrivacy string         `json:"following_privacy"`
	Experience       ExperienceList `json:"experience"`
	FollowerCount    int            `json:"follower_count"`
	FollowingCount   int            `json:"following_count"`
	FollowerIDs      []string       `json:"follower_ids"`
	FollowingIDs     []string       `json:"following_ids,omitempty"`
	IsAnonymous      bool           `json:"is_anonymous"`
	EmailVerified    bool           `json:"email_verified"`
	IsSelf           bool           `json:"is_self"`
	IsFollowing      bool           `json:"is_following"`
	CreatedAt        time.Time      `json:"created_at"`
}

// UpdateProfileRequest is a partial update; nil fields are left untouched.
type UpdateProfileRequest struct {
	DisplayName      *string         `json:"display_name" validate:"omitempty,min=1,max=60"`
	Bio              *string         `json:"bio" validate:"omitempty,max=300"`
	BirthDate        *string         `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	ClearBirthDate   bool            `json:"clear_birth_date"`
	BirthDatePrivacy *string         `json:"birth_date_privacy" validate:"omitempty,oneof=public followers private"`
	FollowingPrivacy *string         `json:"following_privacy" validate:"omitempty,oneof=public followers private"`
	Experience       *ExperienceList `json:"experience" validate:"omitempty,max=20,dive"`
	AvatarURL        *string         `json:"avatar_url" validate:"omitempty,url"`
}

// Journey is the year grid of logged day numbers.
type Journey struct {
	UserID     string `json:"user_id"`
	ActiveDays []int  `json:"active_days"`
	TotalDays  int    `json:"total_days"`
}

const JourneyTotalDays = 365

// ValidPrivacy reports whether p is a known privacy level.
func ValidPrivacy(p string) bool {
	switch p {
	case PrivacyPublic, PrivacyFollowers, PrivacyPrivate:
		return true
	}
	return false
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address has not been verified")
	ErrInvalidPrivacy     = errors.New("privacy must be one of public, followers, private")
	ErrInvalidBirthDate   = errors.New("birth date must be formatted as YYYY-MM-DD")
	ErrPrivacyRestricted  = errors.New("this information is not visible to you")
)
