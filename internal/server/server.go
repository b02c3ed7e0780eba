// Package server exposes the media cache and download manager to the UI
// shell over a local HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sqlbeats/beatscore/internal/download"
	"github.com/sqlbeats/beatscore/internal/mediacache"
	"github.com/sqlbeats/beatscore/internal/monitoring"
	"github.com/sqlbeats/beatscore/internal/security"
	"github.com/sqlbeats/beatscore/internal/store"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Deps are the components served by the API. Tokens is used when a request
// carries no bearer token.
type Deps struct {
	Cache     *mediacache.Cache
	Downloads *download.Manager
	Offline   *store.OfflineIndex
	History   *store.History
	Player    *store.PlayerStateStore
	Health    *monitoring.HealthChecker
	Tokens    security.TokenSource
	Logger    *zap.Logger
}

// Server is the local control API.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *zap.Logger
	// baseCtx outlives individual requests; resumed downloads run under it.
	baseCtx context.Context
}

// New builds the router for deps.
func New(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		logger:  monitoring.Named(deps.Logger, "server"),
		baseCtx: context.Background(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(s.logger), Metrics())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/resolve", s.resolve)
		v1.POST("/preload", s.preload)
		v1.GET("/lyrics", s.lyrics)
		v1.GET("/cache/stats", s.cacheStats)
		v1.DELETE("/cache", s.invalidate)

		downloads := v1.Group("/downloads")
		downloads.GET("", s.listDownloads)
		downloads.POST("", s.enqueueDownload)
		downloads.GET("/events", s.downloadEvents)
		downloads.GET("/history", s.downloadHistory)
		downloads.POST("/clear-completed", s.clearCompleted)
		downloads.GET("/:id", s.getDownload)
		downloads.DELETE("/:id", s.cancelDownload)
		downloads.POST("/:id/pause", s.pauseDownload)
		downloads.POST("/:id/resume", s.resumeDownload)

		v1.GET("/offline", s.listOffline)
		v1.GET("/offline/export", s.exportOffline)
		v1.POST("/offline/import", s.importOffline)
		v1.GET("/offline/:id", s.getOffline)
		v1.DELETE("/offline/:id", s.deleteOffline)

		v1.GET("/player/state", s.getPlayerState)
		v1.PUT("/player/state", s.putPlayerState)
	}
	return router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("control API stopped")
	return nil
}

// credentials prefers the request's bearer token over the stored session.
func (s *Server) credentials(c *gin.Context) security.TokenSource {
	return security.Fallback(security.FromBearerHeader(c.GetHeader("Authorization")), s.deps.Tokens)
}

func (s *Server) health(c *gin.Context) {
	stats := monitoring.RuntimeStats{}
	if s.deps.Downloads != nil {
		stats.ActiveDownloads = s.deps.Downloads.ActiveCount()
		stats.OfflineDir = s.deps.Downloads.OfflineDir()
	}
	if s.deps.Cache != nil {
		stats.CacheEntries = s.deps.Cache.Len()
	}
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": monitoring.HealthStatusHealthy})
		return
	}

	check := s.deps.Health.Check(c.Request.Context(), stats)
	status := http.StatusOK
	if check.Status == monitoring.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, check)
}
