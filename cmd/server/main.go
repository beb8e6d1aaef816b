// Package main runs the live session HTTP server with WebSocket fanout and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-learning/backend/config"
	"github.com/aura-learning/backend/internal/auth"
	"github.com/aura-learning/backend/internal/fanout"
	"github.com/aura-learning/backend/internal/livesession"
	"github.com/aura-learning/backend/internal/middleware"
	"github.com/aura-learning/backend/internal/platform"
	"github.com/aura-learning/backend/internal/platform/agora"
	"github.com/aura-learning/backend/internal/platform/zego"
	"github.com/aura-learning/backend/internal/platform/zoom"
	"github.com/aura-learning/backend/internal/realtime"
	"github.com/aura-learning/backend/internal/recordings"
	"github.com/aura-learning/backend/internal/store"
	"github.com/aura-learning/backend/internal/store/postgres"
	"github.com/aura-learning/backend/internal/store/sqlite"
	"github.com/aura-learning/backend/internal/worker"
	"github.com/aura-learning/backend/pkg/database"
	"github.com/aura-learning/backend/pkg/queue"
	"github.com/aura-learning/backend/pkg/redis"
	"github.com/aura-learning/backend/pkg/response"
	"github.com/aura-learning/backend/pkg/storage"
	"github.com/aura-learning/backend/pkg/telemetry"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, "live-sessions", cfg.Telemetry.Endpoint, cfg.Telemetry.Enabled)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Session store
	var (
		sessionStore  store.Store
		recordingRepo recordings.Store
	)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
			logger.Fatal("sqlite dir", zap.Error(err))
		}
		sessionStore, err = sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite", zap.Error(err))
		}
		logger.Info("using sqlite session store", zap.String("path", cfg.Database.SQLitePath))
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		sessionStore = postgres.New(pool)
		recordingRepo = recordings.NewRepository(pool)
	}
	defer sessionStore.Close()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Warn("redis unavailable, fanout stays in-process and recordings are disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// Event fanout; the audience hook keeps the session's peak viewers current.
	var svc *livesession.Service
	brokerOpts := []fanout.Option{
		fanout.WithBuffer(cfg.Fanout.Buffer),
		fanout.WithAudienceHook(func(sessionID uuid.UUID, count int) {
			if svc == nil {
				return
			}
			hookCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := svc.RecordAudience(hookCtx, sessionID, count); err != nil {
				logger.Debug("record audience", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}),
	}
	if rdb != nil {
		brokerOpts = append(brokerOpts, fanout.WithRelay(fanout.NewRedisRelay(rdb.Client, logger)))
	}
	broker := fanout.NewBroker(logger, brokerOpts...)
	defer broker.Close()

	platforms := platform.NewRegistry(configuredAdapters(cfg, logger)...)
	svc = livesession.NewService(sessionStore, sessionStore, platforms, broker, logger, livesession.Options{
		CallTimeout:                  cfg.Platform.CallTimeout,
		CredentialTTL:                cfg.Platform.CredentialTTL,
		EndInteractionDisablesCamera: cfg.Floor.EndDisablesCamera,
	})

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	staff := middleware.RequireRole(auth.RoleInstructor, auth.RoleAdmin)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "platforms": platforms.Platforms()}
		if rdb != nil {
			if err := rdb.Healthy(c.Request.Context()); err != nil {
				status["redis"] = "unavailable"
			} else {
				status["redis"] = "ok"
			}
		}
		response.OK(c, status)
	})

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	livesession.NewHandler(svc).Register(api, staff)

	ws := realtime.NewServer(broker, svc, jwtService, cfg.Server.CORSAllowedOrigins, logger)
	router.GET("/ws", ws.ServeWs)

	// Recordings need postgres for rows and Redis for the upload queue.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if recordingRepo != nil && rdb != nil {
		s3Client := newS3(ctx, cfg, logger)
		var presigner recordings.Presigner
		if s3Client != nil {
			presigner = s3Client
		}
		recordingHandler := recordings.NewHandler(recordingRepo, presigner, logger)
		api.GET("/sessions/:id/recordings", staff, recordingHandler.ListBySession)
		api.GET("/recordings/:id/download-url", staff, recordingHandler.GenerateDownloadURL)

		jobQueue := queue.NewQueue(rdb.Client, logger)
		webhook := recordings.NewWebhookHandler(recordingRepo, sessionStore, jobQueue, cfg.Recording.WebhookSecret, logger)
		router.POST("/webhooks/recording-ready", webhook.RecordingReady)

		if s3Client != nil {
			processor := worker.NewRecordingProcessor(recordingRepo, s3Client, jobQueue, nil, logger)
			go processor.Run(workerCtx)
			logger.Info("recording worker started")
		}
	} else {
		logger.Info("recordings disabled", zap.String("db_driver", cfg.Database.Driver), zap.Bool("redis", rdb != nil))
	}

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

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// configuredAdapters builds an adapter for every platform with credentials set.
func configuredAdapters(cfg *config.Config, logger *zap.Logger) []platform.Adapter {
	var adapters []platform.Adapter
	if cfg.Agora.Enabled() {
		a, err := agora.New(agora.Config{AppID: cfg.Agora.AppID, AppCertificate: cfg.Agora.AppCertificate}, logger)
		if err != nil {
			logger.Fatal("agora", zap.Error(err))
		}
		adapters = append(adapters, a)
	}
	if cfg.Zoom.Enabled() {
		a, err := zoom.New(zoom.Config{
			AccountID:    cfg.Zoom.AccountID,
			ClientID:     cfg.Zoom.ClientID,
			ClientSecret: cfg.Zoom.ClientSecret,
			SDKKey:       cfg.Zoom.SDKKey,
			SDKSecret:    cfg.Zoom.SDKSecret,
			APIBaseURL:   cfg.Zoom.APIBaseURL,
			TokenURL:     cfg.Zoom.TokenURL,
		}, logger)
		if err != nil {
			logger.Fatal("zoom", zap.Error(err))
		}
		adapters = append(adapters, a)
	}
	if cfg.Zego.Enabled() {
		a, err := zego.New(zego.Config{AppID: cfg.Zego.AppID, ServerSecret: cfg.Zego.ServerSecret}, logger)
		if err != nil {
			logger.Fatal("zego", zap.Error(err))
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		logger.Warn("no video platform configured; session creation will fail")
	}
	return adapters
}

func newS3(ctx context.Context, cfg *config.Config, logger *zap.Logger) *storage.S3 {
	if cfg.AWS.RecordingsBucket == "" {
		return nil
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled", zap.Error(err))
		return nil
	}
	return s3Client
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
