package http

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"

	"projectzero/internal/cache"
	"projectzero/internal/config"
	"projectzero/internal/database"
	"projectzero/internal/handler"
	"projectzero/internal/queue"
	"projectzero/internal/realtime"
	"projectzero/internal/redis"
	"projectzero/internal/repository"
	"projectzero/internal/search"
	"projectzero/internal/service"
	"projectzero/internal/storage"
	"projectzero/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// Run wires the application from the environment and serves until SIGINT/SIGTERM.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Connect to Database
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	// 3. Optional backends. Each one degrades to a local fallback when missing.
	var (
		publisher queue.Publisher = queue.NoopPublisher{}
		feedCache cache.FeedCache
		broker    realtime.Broker = realtime.NewMemoryBroker()
		consumer  queue.Consumer
	)
	if cfg.RedisURL != "" {
		rc, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			return err
		}
		publisher = queue.NewPublisher(rc.Client)
		feedCache = cache.NewFeedCache(rc.Client)
		broker = realtime.NewRedisBroker(rc.Client)
		consumer = queue.NewConsumer(rc.Client)
		log.Println("[Server] Redis connected: feed cache, event stream and realtime fan-out enabled")
	} else {
		log.Println("[Server] REDIS_URL not set: feed served from SQL, realtime limited to this process")
	}

	var fbApp *firebase.App
	if cfg.FirebaseEnabled() {
		if fbApp, err = service.NewFirebaseApp(ctx, cfg); err != nil {
			return err
		}
	}

	var verifier service.IdentityVerifier
	var push *service.FCMClient
	if fbApp != nil {
		if verifier, err = service.NewFirebaseVerifier(ctx, fbApp); err != nil {
			return err
		}
		if push, err = service.NewFCMClient(ctx, fbApp); err != nil {
			return err
		}
	}

	store, presigner, err := newBlobStore(ctx, cfg, fbApp)
	if err != nil {
		return err
	}

	var index search.UserIndex
	if cfg.MeiliHost != "" {
		index = search.NewMeiliUserIndex(cfg.MeiliHost, cfg.MeiliAPIKey)
	}

	// 4. Repositories and services
	txr := database.NewTransactor(db)
	userRepo := repository.NewUserRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	followRepo := repository.NewFollowRepository(db)
	postRepo := repository.NewPostRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	chatRepo := repository.NewChatRepository(db)
	tokenRepo := repository.NewDeviceTokenRepository(db)

	hub := realtime.NewHub(broker)
	sanitizer := service.NewSanitizer()

	notificationService := service.NewNotificationService(notifRepo, tokenRepo, userRepo, publisher, hub)
	userService := service.NewUserService(userRepo, followRepo, index, sanitizer)
	authService := service.NewAuthService(userRepo, refreshRepo, verifier, index, cfg)
	postService := service.NewPostService(txr, postRepo, userRepo, notificationService, publisher, hub, sanitizer, cfg.GlobalFeedLimit)
	commentService := service.NewCommentService(txr, commentRepo, postRepo, notificationService, hub, sanitizer)
	followService := service.NewFollowService(txr, followRepo, userRepo, notificationService, publisher)
	feedService := service.NewFeedService(feedCache, postRepo, followRepo)
	chatService := service.NewChatService(txr, chatRepo, userRepo, hub, sanitizer)
	mediaService := service.NewMediaService(store, presigner, userService)

	// 5. Background workers
	var manager *worker.Manager
	if consumer != nil {
		eventHandler := worker.NewHandler(feedCache, followRepo, postRepo)
		if push != nil {
			eventHandler.SetPush(tokenRepo, push)
		}
		managerCfg := worker.DefaultManagerConfig()
		managerCfg.WorkerCount = cfg.WorkerCount
		manager = worker.NewManager(consumer, eventHandler, managerCfg)
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
		defer manager.Stop()
	}

	// 6. HTTP
	router := NewRouter(RouterConfig{
		AuthHandler:         handler.NewAuthHandler(authService, userService),
		UserHandler:         handler.NewUserHandler(userService),
		FollowHandler:       handler.NewFollowHandler(followService),
		FeedHandler:         handler.NewFeedHandler(feedService, postService),
		PostHandler:         handler.NewPostHandler(postService),
		CommentHandler:      handler.NewCommentHandler(commentService),
		NotificationHandler: handler.NewNotificationHandler(notificationService),
		ChatHandler:         handler.NewChatHandler(chatService),
		MediaHandler:        handler.NewMediaHandler(mediaService),
		RealtimeHandler:     handler.NewRealtimeHandler(hub, chatService, cfg.AllowedOrigins),
		Tokens:              authService,
		AllowedOrigins:      cfg.AllowedOrigins,
	})

	srv := &stdhttp.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("[Server] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Println("[Server] Stopped")
	return nil
}

// newBlobStore picks the image backend named by STORAGE_DRIVER. Only R2 can
// presign direct uploads.
func newBlobStore(ctx context.Context, cfg *config.Config, fbApp *firebase.App) (storage.BlobStore, storage.Presigner, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverR2:
		r2, err := storage.NewR2Store(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[Server] Storage: R2 bucket=%s", cfg.R2BucketName)
		return r2, r2, nil
	case config.StorageDriverCloudinary:
		cld, err := storage.NewCloudinaryStore(cfg.CloudinaryURL)
		if err != nil {
			return nil, nil, err
		}
		log.Println("[Server] Storage: Cloudinary")
		return cld, nil, nil
	case config.StorageDriverFirebase:
		if fbApp == nil {
			return nil, nil, errors.New("STORAGE_DRIVER=firebase requires FIREBASE_PROJECT_ID")
		}
		fs, err := storage.NewFirebaseStore(ctx, fbApp, cfg.FirebaseStorageBucket)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[Server] Storage: Firebase bucket=%s", cfg.FirebaseStorageBucket)
		return fs, nil, nil
	default:
		log.Println("[Server] STORAGE_DRIVER not set: image uploads disabled")
		return nil, nil, nil
	}
}
