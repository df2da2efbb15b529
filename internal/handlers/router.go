package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/jam-signaling/internal/middleware"
	"github.com/mossy-p/jam-signaling/internal/relay"
	"github.com/mossy-p/jam-signaling/internal/session"
	"github.com/mossy-p/jam-signaling/internal/store"
)

type RouterConfig struct {
	AllowedOrigins []string
	JWTSecret      string
	DefaultSession string
	Registry       *session.Registry
	Peer           relay.Options
	// Store may be nil, in which case the record API is not mounted.
	Store store.Store
}

// NewRouter builds the HTTP surface. Signaling peers stop when ctx is
// cancelled.
func NewRouter(ctx context.Context, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))
		apiGroup.GET("/sessions/live", LiveSessions(cfg.Registry))

		if cfg.Store != nil {
			auth := middleware.JWTAuth(cfg.JWTSecret)

			apiGroup.GET("/musicians/:id", GetMusician(cfg.Store))
			apiGroup.PUT("/musicians/:id", auth, PutMusician(cfg.Store))

			apiGroup.GET("/bands/:id", GetBand(cfg.Store))
			apiGroup.PUT("/bands/:id", auth, PutBand(cfg.Store))

			apiGroup.GET("/sessions/:id", GetSession(cfg.Store))
			apiGroup.PUT("/sessions/:id", auth, PutSession(cfg.Store))
		}
	}

	signal := HandleSignaling(ctx, cfg.Registry, cfg.DefaultSession, cfg.Peer)
	router.GET("/ws", signal)
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal/:session", signal)
	}

	return router
}
