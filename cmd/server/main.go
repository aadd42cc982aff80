// Package main runs the live session API server with WebSocket and graceful
// shutdown. Crash recovery runs to completion before the listener opens.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emberlive/backend/config"
	"github.com/emberlive/backend/internal/attendance"
	"github.com/emberlive/backend/internal/auth"
	"github.com/emberlive/backend/internal/chat"
	"github.com/emberlive/backend/internal/completions"
	"github.com/emberlive/backend/internal/gate"
	"github.com/emberlive/backend/internal/middleware"
	"github.com/emberlive/backend/internal/notify"
	"github.com/emberlive/backend/internal/presence"
	"github.com/emberlive/backend/internal/purge"
	"github.com/emberlive/backend/internal/realtime"
	"github.com/emberlive/backend/internal/recovery"
	"github.com/emberlive/backend/internal/replies"
	"github.com/emberlive/backend/internal/session"
	"github.com/emberlive/backend/pkg/database"
	"github.com/emberlive/backend/pkg/queue"
	"github.com/emberlive/backend/pkg/redis"
	"github.com/emberlive/backend/pkg/response"
	"github.com/emberlive/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ClipsBucket:          cfg.AWS.ClipsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Repositories
	authRepo := auth.NewRepository(pool)
	sessionRepo := session.NewRepository(pool)
	completionRepo := completions.NewRepository(pool)
	attendanceRepo := attendance.NewRepository(pool)
	chatRepo := chat.NewRepository(pool)
	replyRepo := replies.NewRepository(pool)
	followerRepo := notify.NewFollowerRepository(pool)
	presenceStore := presence.NewStore(rdb.Client)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Lifecycle
	gateEngine := gate.NewEngine(gate.Config{
		DailyCap:            cfg.Session.DailyFullCompletionCap,
		Cooldown:            time.Duration(cfg.Session.CooldownSeconds) * time.Second,
		CooldownMinDuration: time.Duration(cfg.Session.CooldownMinDurationSeconds) * time.Second,
	})
	var blobStore purge.BlobStore
	if s3Client != nil {
		blobStore = s3Client
	}
	purger := purge.NewCoordinator(chatRepo, replyRepo, attendanceRepo, sessionRepo, blobStore, cfg.Session.PurgeBatchSize, logger)
	fanout := notify.NewFanout(jobQueue, authRepo, logger)

	manager, err := session.NewManager(session.Deps{
		Store:       sessionRepo,
		Completions: completionRepo,
		Attendance:  attendanceRepo,
		Creators:    authRepo,
		Presence:    presenceStore,
		Gate:        gateEngine,
		Notifier:    fanout,
		Purger:      purger,
		Broadcaster: hub,
		Logger:      logger,
	}, session.Config{
		TickInterval:      time.Duration(cfg.Session.TickIntervalSeconds) * time.Second,
		HeartbeatInterval: time.Duration(cfg.Session.HeartbeatIntervalSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("session manager", zap.Error(err))
	}

	// Recovery must finish before any request can start or end a session.
	recoverer := recovery.NewCoordinator(sessionRepo, manager, presenceStore,
		time.Duration(cfg.Session.StaleHeartbeatSeconds)*time.Second, logger)
	if _, err := recoverer.Run(ctx); err != nil {
		logger.Fatal("recovery", zap.Error(err))
	}

	// Handlers
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	sessionHandler := session.NewHandler(manager, completionRepo, logger)
	chatHandler := chat.NewHandler(chatRepo, hub, logger)
	replyHandler := replies.NewHandler(replyRepo, s3Client, hub, logger)
	followHandler := notify.NewHandler(followerRepo, logger)

	jwtValidate := func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		// Creator lifecycle
		api.POST("/live/start", sessionHandler.Start)
		api.POST("/live/end", sessionHandler.End)
		api.GET("/live/gate/:tier", sessionHandler.CheckGate)
		api.GET("/live/daily-status", sessionHandler.DailyStatus)

		// Viewer session operations
		api.GET("/sessions/:id", sessionHandler.Get)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)
		api.POST("/sessions/:id/hype", sessionHandler.Hype)
		api.POST("/sessions/:id/coins", sessionHandler.Coins)
		api.GET("/sessions/:id/recap", sessionHandler.Recap)

		// Chat and video replies
		api.POST("/sessions/:id/chat", chatHandler.Post)
		api.GET("/sessions/:id/chat", chatHandler.List)
		api.POST("/sessions/:id/replies/upload-url", replyHandler.UploadURL)
		api.POST("/sessions/:id/replies", replyHandler.Create)
		api.GET("/sessions/:id/replies", replyHandler.List)

		// Followers
		api.POST("/creators/:id/follow", followHandler.Follow)
		api.DELETE("/creators/:id/follow", followHandler.Unfollow)
	}

	// WebSocket (token in query; no Authorization header required)
	wsBuffers := realtime.BufferConfig{
		WatchFlushInterval: time.Duration(cfg.Session.WatchFlushIntervalSeconds) * time.Second,
		HypeFlushInterval:  time.Duration(cfg.Session.HypeFlushIntervalSeconds) * time.Second,
		HypeFlushCeiling:   cfg.Session.HypeFlushCeiling,
	}
	router.GET("/ws", realtime.ServeWs(hub, manager, wsBuffers, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
