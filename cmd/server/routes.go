package main

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"codeberg.org/grimoire/server/api/rest/health"
	"codeberg.org/grimoire/server/api/rest/sessions"
	"codeberg.org/grimoire/server/api/rest/users"
	"codeberg.org/grimoire/server/api/websocket"
	"codeberg.org/grimoire/server/internal/logger"
)

// sets up all API routes and middleware
func RegisterRoutes(router *gin.Engine, server *Server) {
	router.Use(corsMiddleware(server))
	router.Use(rateLimitMiddleware())

	router.GET("/health", health.Handler)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", health.PingHandler)

		sessions.RegisterRoutes(v1, server.lifecycle, server.sessionRepo, sessions.Hooks{
			OnStarted: server.onSessionStarted,
			OnJoined:  server.onParticipantJoined,
			OnEnded:   server.onSessionEnded,
		})
		users.RegisterRoutes(v1, server.userRepo)
		websocket.RegisterRoutes(v1, server.hub, server.sessionRepo)
	}
}

// in production only the configured origins may call the API; elsewhere
// anything goes so local frontends can develop against it
func corsMiddleware(server *Server) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	cfg.AllowCredentials = true

	if server.config.Environment == "production" {
		origins := strings.Split(server.config.AllowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.AllowOrigins = origins
	} else {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}

	return cors.New(cfg)
}

// per-IP request limiting across the REST surface
func rateLimitMiddleware() gin.HandlerFunc {
	rate, err := limiter.NewRateFromFormatted("300-M")
	if err != nil {
		logger.Fatal("invalid rate limit format", "error", err)
	}

	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "grimoire_api",
		CleanUpInterval: time.Minute,
	})

	return mgin.NewMiddleware(limiter.New(store, rate))
}
