// Package main runs the live presentation sync server with WebSocket transport
// and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/presenta-live/backend/config"
	"github.com/presenta-live/backend/internal/content"
	"github.com/presenta-live/backend/internal/history"
	"github.com/presenta-live/backend/internal/live"
	"github.com/presenta-live/backend/internal/middleware"
	"github.com/presenta-live/backend/internal/realtime"
	"github.com/presenta-live/backend/internal/sessions"
	"github.com/presenta-live/backend/pkg/database"
	"github.com/presenta-live/backend/pkg/queue"
	"github.com/presenta-live/backend/pkg/redis"
	"github.com/presenta-live/backend/pkg/response"
	"github.com/presenta-live/backend/pkg/storage"
)

// versionFanout announces content version changes to local sessions and, via
// Redis, to sessions hosted on other instances. Duplicate announcements are
// harmless: sessions ignore their current version.
type versionFanout struct {
	manager *live.Manager
	bridge  *realtime.VersionBridge
	logger  *zap.Logger
}

func (f *versionFanout) VersionChanged(version string) {
	f.manager.AnnounceVersion(version)
	if f.bridge != nil {
		if err := f.bridge.Publish(version); err != nil {
			f.logger.Warn("publish version", zap.Error(err))
		}
	}
}

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
			AssetsBucket:         cfg.AWS.AssetsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	// Content store
	contentRepo := content.NewRepository(pool)

	// History archival
	histRepo := history.NewRepository(pool)
	histHandler := history.NewHandler(histRepo)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Live sessions
	hub := realtime.NewHub(logger)
	sessionCfg := live.Config{
		HeartbeatTimeout: time.Duration(cfg.Session.HeartbeatTimeoutSec) * time.Second,
		SweepInterval:    time.Duration(cfg.Session.SweepIntervalSec) * time.Second,
		DriftGrace:       time.Duration(cfg.Session.DriftGraceSec) * time.Second,
		MoodWindow:       time.Duration(cfg.Session.MoodWindowSec) * time.Second,
		DepartureGrace:   time.Duration(cfg.Session.DepartureGraceSec) * time.Second,
	}
	manager := live.NewManager(contentRepo, hub, sessionCfg, logger)

	manager.SetDepartureHandler(func(sessionID uuid.UUID, conn live.Connection, leftAt time.Time) {
		err := jobQueue.EnqueueAttendance(context.Background(), queue.AttendancePayload{
			SessionID:    sessionID,
			ConnectionID: conn.ID,
			Role:         string(conn.Role),
			JoinedAt:     conn.ConnectedAt,
			LeftAt:       leftAt,
		})
		if err != nil {
			logger.Warn("enqueue attendance", zap.Error(err))
		}
	})
	manager.SetTallyArchiver(func(sessionID, moduleID uuid.UUID, tally live.Tally) {
		counts := make(map[string]int, len(tally))
		for mood, n := range tally {
			counts[string(mood)] = n
		}
		err := jobQueue.EnqueueTallyArchive(context.Background(), queue.TallyArchivePayload{
			SessionID: sessionID,
			ModuleID:  moduleID,
			Counts:    counts,
		})
		if err != nil {
			logger.Warn("enqueue tally archive", zap.Error(err))
		}
	})
	manager.SetAudienceChangeHandler(func(sessionID uuid.UUID, count int) {
		if err := histRepo.UpdatePeakParticipants(context.Background(), sessionID, count); err != nil {
			logger.Warn("update peak participants", zap.Error(err))
		}
	})

	// Cross-instance content version announcements
	bridge := realtime.NewVersionBridge(rdb.Client, logger)
	cancelSub, err := bridge.Subscribe(func(version string) {
		manager.AnnounceVersion(version)
	})
	if err != nil {
		logger.Warn("version subscription disabled", zap.Error(err))
	} else {
		defer cancelSub()
	}

	fanout := &versionFanout{manager: manager, bridge: bridge, logger: logger}
	contentHandler := content.NewHandler(contentRepo, s3Client, fanout, logger)
	sessionHandler := sessions.NewHandler(manager, hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Sessions
	router.POST("/sessions", sessionHandler.Create)
	router.GET("/sessions", sessionHandler.List)
	router.GET("/sessions/:id", sessionHandler.Get)
	router.DELETE("/sessions/:id", sessionHandler.Delete)
	router.GET("/sessions/:id/mood", sessionHandler.Mood)
	router.GET("/sessions/:id/history", histHandler.GetBySession)

	// Content store
	router.POST("/modules", contentHandler.CreateModule)
	router.GET("/modules", contentHandler.ListModules)
	router.GET("/modules/:id", contentHandler.GetModule)
	router.PATCH("/modules/:id", contentHandler.UpdateModule)
	router.DELETE("/modules/:id", contentHandler.DeleteModule)
	router.POST("/modules/:id/submodules", contentHandler.CreateSubmodule)
	router.PATCH("/submodules/:id", contentHandler.UpdateSubmodule)
	router.DELETE("/submodules/:id", contentHandler.DeleteSubmodule)
	router.GET("/resolve", contentHandler.Resolve)
	router.GET("/version", contentHandler.Version)

	// Assets
	router.POST("/modules/:id/assets/upload-url", contentHandler.GenerateUploadURL)
	router.GET("/assets/download-url", contentHandler.GenerateDownloadURL)

	// Live transport
	router.GET("/ws", realtime.ServeWs(hub, manager, logger, cfg.Session.SendBuffer))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Heartbeat sweeper: the only detection path for silent disconnects.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go manager.RunSweeper(sweepCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweepCancel()
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
