package sessions

import (
	"github.com/gin-gonic/gin"

	domain "codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/auth"
	"codeberg.org/grimoire/server/internal/lifecycle"
)

// Hooks carries callbacks the routes fire after lifecycle transitions,
// so the websocket layer can react without the handlers importing it.
type Hooks struct {
	OnStarted func(session *domain.Session)
	OnJoined  func(sessionID, userID, displayName string)
	OnEnded   func(session *domain.Session)
}

func RegisterRoutes(router *gin.RouterGroup, manager *lifecycle.Manager, sessionRepo domain.Repository, hooks Hooks) {
	// public session browsing (no auth required)
	router.GET("/public/sessions", ListPublicSessionsHandler(sessionRepo))
	router.GET("/public/sessions/:id", GetPublicSessionHandler(sessionRepo))

	// authenticated session operations
	sessionsGroup := router.Group("/sessions")
	sessionsGroup.Use(auth.AuthMiddleware())
	{
		sessionsGroup.GET("", ListMySessionsHandler(sessionRepo))
		sessionsGroup.POST("", CreateSessionHandler(manager))
		sessionsGroup.GET("/:id", GetSessionHandler(sessionRepo))
		sessionsGroup.POST("/:id/join", JoinSessionHandler(manager, hooks.OnJoined))
		sessionsGroup.POST("/:id/leave", LeaveSessionHandler(manager))
		sessionsGroup.POST("/:id/start", StartSessionHandler(manager, hooks.OnStarted))
		sessionsGroup.POST("/:id/complete", CompleteSessionHandler(manager, hooks.OnEnded))
		sessionsGroup.POST("/:id/cancel", CancelSessionHandler(manager, hooks.OnEnded))
		sessionsGroup.GET("/:id/participants", ListParticipantsHandler(sessionRepo))
		sessionsGroup.GET("/:id/chain", GetChainHandler(sessionRepo))
		sessionsGroup.GET("/:id/chain/verify", VerifyChainHandler(sessionRepo))
	}
}
