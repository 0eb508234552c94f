// Package main runs the offline cache proxy: a local companion process that
// sits between a participant client and the content origin, serving requests
// through the versioned cache so the client keeps working when the origin is
// unreachable.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/presenta-live/backend/config"
	"github.com/presenta-live/backend/internal/offline"
	"github.com/presenta-live/backend/pkg/response"
)

// versionPollInterval is how often the proxy asks the origin for the current
// content version while online.
const versionPollInterval = 30 * time.Second

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	dir := cfg.Cache.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "presenta-cache")
	}
	store, err := offline.NewFileStore(dir)
	if err != nil {
		logger.Fatal("cache store", zap.Error(err))
	}

	fetcher := offline.NewHTTPFetcher(cfg.Cache.OriginURL)
	// Cache keys are slash-trimmed request URIs; the endpoint prefix has to
	// match that convention.
	manager := offline.NewManager(store, fetcher, offline.Config{
		ShellKeys:    cfg.Cache.ShellKeys,
		LiveEndpoint: strings.TrimPrefix(cfg.Cache.LiveEndpoint, "/"),
		FetchTimeout: time.Duration(cfg.Cache.FetchTimeoutSec) * time.Second,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollVersion(ctx, manager, fetcher, logger)

	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/cache/install", func(c *gin.Context) {
		version := c.Query("version")
		if version == "" {
			response.BadRequest(c, "version required")
			return
		}
		g, err := manager.Install(c.Request.Context(), version)
		if err != nil {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.OK(c, gin.H{"version": g.Version, "state": g.State})
	})
	router.POST("/cache/activate", func(c *gin.Context) {
		force := c.Query("force") == "true"
		if err := manager.Activate(force); err != nil {
			response.Conflict(c, err.Error())
			return
		}
		response.OK(c, gin.H{"activated": true})
	})
	router.GET("/cache/generation", func(c *gin.Context) {
		g := manager.ActiveGeneration()
		if g == nil {
			response.NotFound(c, "no active generation")
			return
		}
		response.OK(c, gin.H{"version": g.Version, "state": g.State})
	})
	router.POST("/cache/clients", func(c *gin.Context) {
		manager.AcquireClient()
		response.NoContent(c)
	})
	router.DELETE("/cache/clients", func(c *gin.Context) {
		manager.ReleaseClient()
		response.NoContent(c)
	})

	// Everything else goes through the offline request policy.
	router.NoRoute(func(c *gin.Context) {
		req := offline.Request{
			Key:        strings.TrimPrefix(c.Request.URL.RequestURI(), "/"),
			Navigation: strings.Contains(c.GetHeader("Accept"), "text/html"),
		}
		res, err := manager.Handle(c.Request.Context(), req)
		if err != nil {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		c.Header("X-Cache-Source", string(res.Source))
		c.Data(http.StatusOK, "application/octet-stream", res.Payload)
	})

	srv := &http.Server{Addr: cfg.Cache.ListenAddr, Handler: router}
	go func() {
		logger.Info("cache proxy listening",
			zap.String("addr", cfg.Cache.ListenAddr),
			zap.String("origin", cfg.Cache.OriginURL),
			zap.String("dir", dir))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("cache proxy", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("cache proxy shutdown", zap.Error(err))
	}
	logger.Info("cache proxy stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// pollVersion keeps the manager's staleness view current while the origin is
// reachable. Failures are silent: offline is the normal case this proxy exists
// for, and stale entries are evicted lazily anyway.
func pollVersion(ctx context.Context, manager *offline.Manager, fetcher offline.Fetcher, logger *zap.Logger) {
	ticker := time.NewTicker(versionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body, err := fetcher.Fetch(ctx, "version")
			if err != nil {
				continue
			}
			var payload struct {
				Data struct {
					Version string `json:"version"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &payload); err != nil || payload.Data.Version == "" {
				continue
			}
			manager.ObserveVersion(payload.Data.Version)
			logger.Debug("observed content version", zap.String("version", payload.Data.Version))
		}
	}
}
