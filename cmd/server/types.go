package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/grimoire/users"
	"codeberg.org/grimoire/server/internal/buffer"
	"codeberg.org/grimoire/server/internal/config"
	"codeberg.org/grimoire/server/internal/cursors"
	"codeberg.org/grimoire/server/internal/document"
	"codeberg.org/grimoire/server/internal/lifecycle"
	"codeberg.org/grimoire/server/internal/presence"
	"codeberg.org/grimoire/server/internal/seance"
	ws "codeberg.org/grimoire/server/internal/websocket"
)

// holds all dependencies and state for the API server
type Server struct {
	db             *pgxpool.Pool
	config         *config.Config
	userRepo       *users.Repository
	sessionRepo    sessions.Repository
	lifecycle      *lifecycle.Manager
	tracker        *presence.Tracker
	cursorSync     *cursors.Synchronizer
	docs           *document.Channel
	turns          *seance.Manager
	hub            *ws.Hub
	router         *gin.Engine
	buffer         *buffer.SessionBuffer
	flusher        *buffer.Flusher
	cleanupService *sessions.CleanupService
	presenceFeed   *presenceFeed
}
