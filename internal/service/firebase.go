package service

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"projectzero/internal/config"
	"projectzero/internal/model"
)

// NewFirebaseApp boots the Admin SDK. Without FIREBASE_CREDENTIALS_FILE the
// application default credentials are used.
func NewFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	fbConfig := &firebase.Config{
		ProjectID:     cfg.FirebaseProjectID,
		StorageBucket: cfg.FirebaseStorageBucket,
	}

	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	log.Printf("[Firebase] Initialized for project: %s", cfg.FirebaseProjectID)
	return app, nil
}

// IdentityVerifier checks a token minted by an external identity provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*model.FederatedIdentity, error)
}

// FirebaseVerifier verifies Firebase Auth ID tokens.
type FirebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("get auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*model.FederatedIdentity, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidIdentityToken, err)
	}

	ident := &model.FederatedIdentity{
		UID:            token.UID,
		SignInProvider: token.Firebase.SignInProvider,
	}
	if v, ok := token.Claims["email"].(string); ok {
		ident.Email = v
	}
	if v, ok := token.Claims["email_verified"].(bool); ok {
		ident.EmailVerified = v
	}
	if v, ok := token.Claims["name"].(string); ok {
		ident.DisplayName = v
	}
	if v, ok := token.Claims["picture"].(string); ok {
		ident.PhotoURL = v
	}
	return ident, nil
}
