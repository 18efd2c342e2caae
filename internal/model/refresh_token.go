package model

import (
	"errors"
	"time"
)

type RefreshToken struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedBy *string    `db:"replaced_by" json:"replaced_by,omitempty"`
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
	ErrRefreshTokenReused   = errors.New("refresh token reuse detected")
	ErrInvalidIdentityToken = errors.New("identity token could not be verified")
	ErrIdentityUnavailable  = errors.New("federated sign-in is not configured")
	ErrAccessTokenExpired   = errors.New("access token has expired")
	ErrAccessTokenInvalid   = errors.New("invalid authentication token")
)

// Token error codes sent to clients.
const (
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeTokenReused      = "TOKEN_REUSED"
	CodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
)

// AuthResponse is returned by every sign-in path.
type AuthResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=60"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AnonymousLoginRequest struct {
	DisplayName string `json:"display_name" validate:"omitempty,max=60"`
}

type FirebaseLoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// FederatedIdentity is what an external identity provider vouches for.
type FederatedIdentity struct {
	UID            string
	Email          string
	EmailVerified  bool
	DisplayName    string
	PhotoURL       string
	SignInProvider string
}
