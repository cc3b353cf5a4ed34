package websocket

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/auth"
	"codeberg.org/grimoire/server/internal/errors"
	"codeberg.org/grimoire/server/internal/logger"
	ws "codeberg.org/grimoire/server/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     ws.CheckOrigin,
}

// handles WebSocket connections for live collaboration. Connecting
// requires a valid token and an existing seat in the session; joining
// happens over REST first.
func WebSocketHandler(hub *ws.Hub, sessionRepo sessions.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params ConnectParams
		if err := c.ShouldBindQuery(&params); err != nil {
			errors.BadRequest(c, "invalid parameters", err)
			return
		}

		if !errors.IsValidUUID(params.SessionID) {
			errors.BadRequest(c, "invalid session_id format", nil)
			return
		}

		token := params.Token
		if token == "" {
			// browsers cannot set headers on websocket upgrades, but
			// non-browser clients may still prefer the header form
			header := c.GetHeader("Authorization")
			token = strings.TrimPrefix(header, "Bearer ")
		}
		claims, err := auth.ValidateJWT(token)
		if err != nil {
			errors.Unauthorized(c, "valid authentication required")
			return
		}

		// use timeout context for DB operations to prevent hanging
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		session, err := sessionRepo.GetSession(ctx, params.SessionID)
		if err != nil {
			errors.SessionNotFound(c)
			return
		}

		if session.Status != sessions.StatusScheduled && session.Status != sessions.StatusActive {
			errors.InvalidState(c, "session has ended")
			return
		}

		participant, err := sessionRepo.GetParticipant(ctx, params.SessionID, claims.UserID)
		if err != nil || participant.LeftAt != nil {
			errors.Forbidden(c, "join the session before connecting")
			return
		}

		ipAddress := c.ClientIP()
		canAccept, reason := hub.CanAcceptConnection(claims.UserID, ipAddress)
		if !canAccept {
			errors.TooManyRequests(c, reason)
			return
		}

		clientID, err := ws.GenerateClientID()
		if err != nil {
			errors.InternalError(c, "failed to generate client ID", err)
			return
		}

		initialState := buildSessionState(ctx, sessionRepo, session, participant)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.ErrorErr(err, "failed to upgrade connection",
				"session_id", params.SessionID,
				"ip", ipAddress,
			)
			return
		}

		// track IP connection only after successful upgrade
		hub.TrackIPConnection(ipAddress)

		isHost := claims.UserID == session.HostUserID
		client := ws.NewClient(
			clientID,
			params.SessionID,
			claims.UserID,
			participant.DisplayName,
			participant.CursorColor,
			ipAddress,
			session.Mode,
			isHost,
			initialState,
			conn,
			hub,
		)

		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()

		logger.Info("websocket connection established",
			"client_id", clientID,
			"session_id", params.SessionID,
			"user_id", claims.UserID,
			"is_host", isHost,
			"ip", ipAddress,
		)
	}
}

// assembles the snapshot a client receives on connect: document, seats,
// the full segment chain, and recent chat. Failures degrade to partial
// state rather than refusing the connection.
func buildSessionState(
	ctx context.Context,
	sessionRepo sessions.Repository,
	session *sessions.Session,
	participant *sessions.Participant,
) *ws.SessionStatePayload {
	state := &ws.SessionStatePayload{
		Status:    session.Status,
		Theme:     session.Theme,
		Mode:      session.Mode,
		Document:  session.Document,
		YourColor: participant.CursorColor,
		IsHost:    participant.UserID == session.HostUserID,
	}

	participants, err := sessionRepo.ListParticipants(ctx, session.ID)
	if err != nil {
		logger.Warn("failed to list participants for session state",
			"session_id", session.ID, "error", err)
	}
	for _, p := range participants {
		if p.LeftAt != nil {
			continue
		}
		state.Participants = append(state.Participants, ws.SessionStateParticipant{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			CursorColor: p.CursorColor,
		})
	}

	// the chain only exists in turn-gated sessions
	if session.Mode == sessions.ModeChain {
		segments, err := sessionRepo.ListSegments(ctx, session.ID)
		if err != nil {
			logger.Warn("failed to list segments for session state",
				"session_id", session.ID, "error", err)
		}
		for _, s := range segments {
			state.Segments = append(state.Segments, ws.SegmentAppendedPayload{
				SegmentID:  s.ID,
				Position:   s.Position,
				Content:    s.Content,
				AuthorID:   s.AuthorID,
				AuthorName: s.AuthorName,
				PrevHash:   s.PrevHash,
				Hash:       s.Hash,
				CreatedAt:  s.CreatedAt.UnixMilli(),
			})
		}
	}

	messages, err := sessionRepo.GetChatMessages(ctx, session.ID, 50)
	if err != nil {
		logger.Warn("failed to fetch chat history for session state",
			"session_id", session.ID, "error", err)
	}
	for _, msg := range messages {
		state.ChatHistory = append(state.ChatHistory, ws.SessionStateChatMessage{
			DisplayName: msg.DisplayName,
			Content:     msg.Content,
			Timestamp:   msg.CreatedAt.UnixMilli(),
		})
	}

	return state
}
