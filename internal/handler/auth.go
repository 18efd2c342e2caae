package handler

import (
	"errors"
	"net/http"

	"projectzero/internal/httputil"
	"projectzero/internal/model"
	"projectzero/internal/service"
)

// AuthHandler groups the sign-in endpoints.
type AuthHandler struct {
	authService *service.AuthService
	userService *service.UserService
}

func NewAuthHandler(authService *service.AuthService, userService *service.UserService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.authService.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrEmailExists) {
			httputil.WriteConflict(w, "An account with this email already exists")
			return
		}
		internalError(w, "Failed to register", "Register handler: err=%v", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		h.writeSignInError(w, err, "Login")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Anonymous handles POST /auth/anonymous
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	var req model.AnonymousLoginRequest
	if r.ContentLength != 0 && !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.authService.LoginAnonymous(r.Context(), req.DisplayName)
	if err != nil {
		internalError(w, "Failed to sign in", "Anonymous sign-in handler: err=%v", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// Firebase handles POST /auth/firebase
// Exchanges a Firebase ID token for a session.
func (h *AuthHandler) Firebase(w http.ResponseWriter, r *http.Request) {
	var req model.FirebaseLoginRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.authService.ExchangeFirebaseToken(r.Context(), req.IDToken)
	if err != nil {
		h.writeSignInError(w, err, "Firebase")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) writeSignInError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, model.ErrInvalidIdentityToken):
		httputil.WriteUnauthorizedWithCode(w, model.CodeTokenInvalid, "Identity token could not be verified")
	case errors.Is(err, model.ErrEmailNotVerified):
		httputil.WriteForbiddenWithCode(w, model.CodeEmailNotVerified, "Please verify your email address first")
	case errors.Is(err, model.ErrIdentityUnavailable):
		httputil.WriteServiceUnavailable(w, "Federated sign-in is not configured")
	default:
		internalError(w, "Failed to sign in", "%s handler: err=%v", op, err)
	}
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req model.RefreshRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRefreshTokenNotFound):
			httputil.WriteUnauthorizedWithCode(w, model.CodeTokenInvalid, "Invalid refresh token")
		case errors.Is(err, model.ErrRefreshTokenExpired):
			httputil.WriteUnauthorizedWithCode(w, model.CodeTokenExpired, "Refresh token has expired")
		case errors.Is(err, model.ErrRefreshTokenReused):
			httputil.WriteUnauthorizedWithCode(w, model.CodeTokenReused, "Refresh token reuse detected. Please login again.")
		default:
			internalError(w, "Failed to refresh tokens", "Refresh handler: err=%v", err)
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req model.RefreshRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		internalError(w, "Failed to logout", "Logout handler: err=%v", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	profile, err := h.userService.GetProfile(r.Context(), userID, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		internalError(w, "Failed to get user", "Me handler: user=%s err=%v", userID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, profile)
}
