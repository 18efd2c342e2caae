package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"projectzero/internal/config"
	"projectzero/internal/model"
	"projectzero/internal/repository"
	"projectzero/internal/search"
)

const (
	anonymousDisplayName = "Anonymous"
	defaultDisplayName   = "Operator"

	firebaseProviderPassword  = "password"
	firebaseProviderAnonymous = "anonymous"
)

// AuthService signs principals in, whether local, anonymous or federated, and
// issues access tokens with rotating refresh tokens.
type AuthService struct {
	userRepo         repository.UserRepository
	refreshTokenRepo repository.RefreshTokenRepository
	verifier         IdentityVerifier // nil when Firebase is not configured
	index            search.UserIndex
	config           *config.Config
}

func NewAuthService(
	userRepo repository.UserRepository,
	refreshTokenRepo repository.RefreshTokenRepository,
	verifier IdentityVerifier,
	index search.UserIndex,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		verifier:         verifier,
		index:            index,
		config:           cfg,
	}
}

// Register creates a password account. With email verification required the user
// is returned without tokens and must verify before logging in.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return nil, model.ErrEmailExists
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hash := string(hashed)

	displayName := strings.Join(strings.Fields(req.DisplayName), " ")
	if displayName == "" {
		displayName = defaultDisplayName
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        &email,
		PasswordHash: &hash,
		DisplayName:  displayName,
		Experience:   model.ExperienceList{},
		AuthProvider: model.AuthProviderPassword,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	s.indexUser(ctx, user)

	log.Printf("[AuthService] Registered user=%s", user.ID)
	if s.config.RequireEmailVerification {
		return &model.AuthResponse{User: user}, nil
	}
	return s.issue(ctx, user)
}

// Login checks an email and password.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil {
		return nil, model.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}
	if s.config.RequireEmailVerification && !user.EmailVerified {
		return nil, model.ErrEmailNotVerified
	}
	return s.issue(ctx, user)
}

// LoginAnonymous creates a fresh anonymous principal.
func (s *AuthService) LoginAnonymous(ctx context.Context, displayName string) (*model.AuthResponse, error) {
	name := strings.Join(strings.Fields(displayName), " ")
	if name == "" {
		name = anonymousDisplayName
	}

	user := &model.User{
		ID:           uuid.NewString(),
		DisplayName:  name,
		Experience:   model.ExperienceList{},
		IsAnonymous:  true,
		AuthProvider: model.AuthProviderAnonymous,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	log.Printf("[AuthService] Anonymous sign-in user=%s", user.ID)
	return s.issue(ctx, user)
}

// ExchangeFirebaseToken trades a Firebase ID token for a session. The user record
// is created on first sign-in; later sign-ins only refresh the verification flag.
func (s *AuthService) ExchangeFirebaseToken(ctx context.Context, idToken string) (*model.AuthResponse, error) {
	if s.verifier == nil {
		return nil, model.ErrIdentityUnavailable
	}

	ident, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if ident.SignInProvider == firebaseProviderPassword && !ident.EmailVerified {
		return nil, model.ErrEmailNotVerified
	}

	user := &model.User{
		ID:            ident.UID,
		DisplayName:   federatedDisplayName(ident),
		EmailVerified: ident.EmailVerified,
		IsAnonymous:   ident.SignInProvider == firebaseProviderAnonymous,
		AuthProvider:  model.AuthProviderFirebase,
	}
	if ident.Email != "" {
		email := normalizeEmail(ident.Email)
		user.Email = &email
	}
	if ident.PhotoURL != "" {
		user.AvatarURL = &ident.PhotoURL
	}

	created, err := s.userRepo.UpsertFederated(ctx, user)
	if err != nil {
		return nil, err
	}
	stored, err := s.userRepo.GetByID(ctx, ident.UID)
	if err != nil {
		return nil, err
	}
	if created {
		s.indexUser(ctx, stored)
		log.Printf("[AuthService] Created federated user=%s provider=%s", stored.ID, ident.SignInProvider)
	}
	return s.issue(ctx, stored)
}

// Refresh rotates a refresh token. Presenting a token that was already rotated
// revokes every session of its user.
func (s *AuthService) Refresh(ctx context.Context, refreshTokenRaw string) (*model.AuthResponse, error) {
	token, err := s.refreshTokenRepo.FindByTokenHash(ctx, hashToken(refreshTokenRaw))
	if err != nil {
		return nil, err
	}
	if token.IsRevoked() {
		return nil, s.revokeFamily(ctx, token.UserID)
	}
	if token.IsExpired(time.Now()) {
		return nil, model.ErrRefreshTokenExpired
	}

	user, err := s.userRepo.GetByID(ctx, token.UserID)
	if err != nil {
		return nil, err
	}

	raw, next := s.mintRefreshToken(user.ID)
	rotated, err := s.refreshTokenRepo.Rotate(ctx, token.ID, next)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// another request rotated the same token first
		return nil, s.revokeFamily(ctx, token.UserID)
	}
	return s.respond(user, raw)
}

func (s *AuthService) revokeFamily(ctx context.Context, userID string) error {
	n, err := s.refreshTokenRepo.RevokeFamily(ctx, userID)
	if err != nil {
		log.Printf("[AuthService] Failed to revoke sessions of user=%s: %v", userID, err)
	}
	log.Printf("[AuthService] Refresh token reuse detected for user=%s, revoked=%d", userID, n)
	return model.ErrRefreshTokenReused
}

// Logout revokes one refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshTokenRaw string) error {
	token, err := s.refreshTokenRepo.FindByTokenHash(ctx, hashToken(refreshTokenRaw))
	if errors.Is(err, model.ErrRefreshTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.refreshTokenRepo.Revoke(ctx, token.ID)
}

// ValidateAccessToken returns the user id carried by a valid access token.
func (s *AuthService) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", model.ErrAccessTokenExpired
		}
		return "", model.ErrAccessTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", model.ErrAccessTokenInvalid
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", model.ErrAccessTokenInvalid
	}
	return userID, nil
}

// issue starts a new session for user.
func (s *AuthService) issue(ctx context.Context, user *model.User) (*model.AuthResponse, error) {
	raw, token := s.mintRefreshToken(user.ID)
	if err := s.refreshTokenRepo.Create(ctx, token); err != nil {
		return nil, err
	}
	return s.respond(user, raw)
}

// mintRefreshToken returns the opaque value handed to the client and the row that
// stores only its hash.
func (s *AuthService) mintRefreshToken(userID string) (string, *model.RefreshToken) {
	raw := uuid.NewString()
	return raw, &model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hashToken(raw),
		ExpiresAt: time.Now().Add(s.config.RefreshTokenTTL),
	}
}

func (s *AuthService) respond(user *model.User, refreshTokenRaw string) (*model.AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	return &model.AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshTokenRaw,
		ExpiresIn:    int(s.config.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *AuthService) generateAccessToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.config.AccessTokenTTL).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

func (s *AuthService) indexUser(ctx context.Context, user *model.User) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexUser(ctx, user); err != nil {
		log.Printf("[AuthService] Failed to index user=%s: %v", user.ID, err)
	}
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func federatedDisplayName(ident *model.FederatedIdentity) string {
	if name := strings.TrimSpace(ident.DisplayName); name != "" {
		return name
	}
	if at := strings.Index(ident.Email, "@"); at > 0 {
		return ident.Email[:at]
	}
	if ident.SignInProvider == firebaseProviderAnonymous {
		return anonymousDisplayName
	}
	return defaultDisplayName
}
