package websocket

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/grimoire/server/grimoire/sessions"
	ws "codeberg.org/grimoire/server/internal/websocket"
)

func RegisterRoutes(router *gin.RouterGroup, hub *ws.Hub, sessionRepo sessions.Repository) {
	router.GET("/ws", WebSocketHandler(hub, sessionRepo))
}
