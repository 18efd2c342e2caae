package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"projectzero/internal/handler"
	"projectzero/internal/httputil"
	authmw "projectzero/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	AuthHandler         *handler.AuthHandler
	UserHandler         *handler.UserHandler
	FollowHandler       *handler.FollowHandler
	FeedHandler         *handler.FeedHandler
	PostHandler         *handler.PostHandler
	CommentHandler      *handler.CommentHandler
	NotificationHandler *handler.NotificationHandler
	ChatHandler         *handler.ChatHandler
	MediaHandler        *handler.MediaHandler
	RealtimeHandler     *handler.RealtimeHandler

	Tokens         authmw.TokenValidator
	AllowedOrigins []string
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           int((12 * time.Hour).Seconds()),
	}))

	// Health check endpoint (useful for deployment/monitoring)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	requireAuth := authmw.AuthMiddleware(cfg.Tokens)
	optionalAuth := authmw.OptionalAuthMiddleware(cfg.Tokens)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Public routes - no authentication required
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", cfg.AuthHandler.Register)
			r.Post("/login", cfg.AuthHandler.Login)
			r.Post("/anonymous", cfg.AuthHandler.Anonymous)
			r.Post("/firebase", cfg.AuthHandler.Firebase)
			r.Post("/refresh", cfg.AuthHandler.Refresh)
			r.Post("/logout", cfg.AuthHandler.Logout)
			r.With(requireAuth).Get("/me", cfg.AuthHandler.Me)
		})

		// Readable without an account; a token only personalises the response
		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)

			r.Get("/users/search", cfg.UserHandler.Search)
			r.Get("/users/{id}", cfg.UserHandler.GetProfile)
			r.Get("/users/{id}/posts", cfg.PostHandler.GetUserPosts)
			r.Get("/users/{id}/journey", cfg.PostHandler.GetJourney)
			r.Get("/users/{id}/followers", cfg.FollowHandler.GetFollowers)
			r.Get("/users/{id}/following", cfg.FollowHandler.GetFollowing)
			r.Get("/users/{id}/follow-audit", cfg.FollowHandler.Audit)

			r.Get("/posts/{id}", cfg.PostHandler.GetByID)
			r.Get("/posts/{id}/comments", cfg.CommentHandler.List)
			r.Get("/feed/global", cfg.FeedHandler.GetGlobalFeed)
		})

		// Protected routes - require authentication
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/users/me", cfg.UserHandler.GetMe)
			r.Patch("/users/me", cfg.UserHandler.UpdateMe)
			r.Put("/users/me/avatar", cfg.MediaHandler.UploadAvatar)
			r.Get("/users/suggested", cfg.UserHandler.Suggested)

			r.Post("/users/{id}/follow", cfg.FollowHandler.Follow)
			r.Delete("/users/{id}/follow", cfg.FollowHandler.Unfollow)

			r.Get("/feed", cfg.FeedHandler.GetFeed)

			r.Post("/posts", cfg.PostHandler.Create)
			r.Patch("/posts/{id}", cfg.PostHandler.Update)
			r.Delete("/posts/{id}", cfg.PostHandler.Delete)
			r.Post("/posts/{id}/like", cfg.PostHandler.ToggleLike)
			r.Post("/posts/{id}/comments", cfg.CommentHandler.Create)
			r.Post("/comments/{id}/like", cfg.CommentHandler.ToggleLike)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", cfg.NotificationHandler.List)
				r.Get("/unread-count", cfg.NotificationHandler.GetUnreadCount)
				r.Post("/read-all", cfg.NotificationHandler.MarkAllRead)
				r.Post("/{id}/read", cfg.NotificationHandler.MarkRead)
			})
			r.Post("/devices", cfg.NotificationHandler.RegisterToken)
			r.Delete("/devices", cfg.NotificationHandler.RemoveToken)

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", cfg.ChatHandler.ListThreads)
				r.Post("/resolve", cfg.ChatHandler.Resolve)
				r.Get("/{id}/messages", cfg.ChatHandler.ListMessages)
				r.Post("/{id}/messages", cfg.ChatHandler.SendMessage)
				r.Post("/{id}/read", cfg.ChatHandler.MarkRead)
			})

			r.Post("/media/images", cfg.MediaHandler.UploadImage)
			r.Post("/media/presign", cfg.MediaHandler.Presign)

			r.Get("/ws", cfg.RealtimeHandler.ServeWS)
		})
	})

	return r
}
