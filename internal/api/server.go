package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"page-mirror/internal/config"
	"page-mirror/internal/db"
	"page-mirror/internal/redis"
	"page-mirror/internal/sync"
	"page-mirror/internal/webhook"
)

type Server struct {
	log        *slog.Logger
	db         *db.DB
	store      *db.Store
	redis      *redis.Client
	orch       *sync.Orchestrator
	reconciler *webhook.Reconciler
	cfg        config.Config
	router     *gin.Engine
}

func NewServer(log *slog.Logger, dbConn *db.DB, store *db.Store, redisClient *redis.Client, orch *sync.Orchestrator, reconciler *webhook.Reconciler, cfg config.Config) *Server {
	s := &Server{
		log:        log,
		db:         dbConn,
		store:      store,
		redis:      redisClient,
		orch:       orch,
		reconciler: reconciler,
		cfg:        cfg,
		router:     gin.New(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.rateLimitMiddleware())

	// platform-facing webhook surface; no auth beyond the signature and
	// verify-token checks the platform itself performs
	r.GET("/webhook", s.webhookChallenge)
	r.POST("/webhook", s.webhookDelivery)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.health)
		v1.GET("/events/:id", s.getEvent)
		v1.GET("/pages/:id/events", s.listPageEvents)

		admin := v1.Group("")
		admin.Use(s.adminAuthMiddleware())
		{
			admin.POST("/sync", s.triggerSync)
		}
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}
