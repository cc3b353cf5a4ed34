package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/grimoire/users"
	"codeberg.org/grimoire/server/internal/buffer"
	"codeberg.org/grimoire/server/internal/chain"
	"codeberg.org/grimoire/server/internal/config"
	"codeberg.org/grimoire/server/internal/cursors"
	"codeberg.org/grimoire/server/internal/document"
	"codeberg.org/grimoire/server/internal/lifecycle"
	"codeberg.org/grimoire/server/internal/logger"
	"codeberg.org/grimoire/server/internal/presence"
	"codeberg.org/grimoire/server/internal/seance"
	ws "codeberg.org/grimoire/server/internal/websocket"
)

const (
	// how often the flusher writes buffered data to Postgres
	bufferFlushInterval = 5 * time.Second

	// how often the cleanup service checks for dead sessions
	cleanupCheckInterval = 5 * time.Minute

	// scheduled sessions not started within this window are cancelled
	sessionStartGracePeriod = time.Hour

	// active sessions idle for longer than this are completed
	sessionInactivityThreshold = 30 * time.Minute
)

// creates and configures a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	userRepo := users.NewRepository(db)
	postgresSessionRepo := sessions.NewRepository(db)

	// Redis write buffer absorbs the websocket write rate
	sessionBuffer, err := buffer.NewSessionBuffer(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize redis buffer: %w", err)
	}

	// writes go to Redis, reads merge Redis with Postgres
	sessionRepo := buffer.NewBufferedRepository(postgresSessionRepo, sessionBuffer)

	// periodically persists buffered data to Postgres
	flusher := buffer.NewFlusher(sessionBuffer, postgresSessionRepo, bufferFlushInterval)

	lifecycleMgr := lifecycle.NewManager(sessionRepo)
	tracker := presence.NewTracker()
	cursorSync := cursors.NewSynchronizer()

	hub := ws.NewHub()
	feed := newPresenceFeed(tracker, hub)

	// debounced shared document; the collapsed value lands in the buffer
	docs := document.NewChannel(func(update document.Update) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := sessionRepo.UpdateDocument(ctx, update.SessionID, update.Content); err != nil {
			logger.ErrorErr(err, "failed to persist document update",
				"session_id", update.SessionID,
			)
			return
		}

		if err := sessionRepo.UpdateLastActivity(ctx, update.SessionID); err != nil {
			logger.Warn("failed to touch session activity",
				"session_id", update.SessionID, "error", err)
		}
	})

	// one arbiter per active session, ticked once a second. The tick
	// callback needs the manager back to resolve the current holder.
	var turns *seance.Manager
	turns = seance.NewManager(func(sessionID string, result seance.TickResult) {
		broadcastTick(hub, turns, sessionID, result)
	})

	hub.RegisterHandler(ws.TypeCursorUpdate, ws.CursorHandler(cursorSync, tracker))
	hub.RegisterHandler(ws.TypeDocumentUpdate, ws.DocumentHandler(docs, tracker))
	hub.RegisterHandler(ws.TypePresenceUpdate, ws.PresenceHandler(tracker))
	hub.RegisterHandler(ws.TypeTurnSubmit, ws.TurnSubmitHandler(turns, sessionRepo, tracker))
	hub.RegisterHandler(ws.TypeChatMessage, ws.ChatHandler(sessionRepo))
	hub.RegisterHandler(ws.TypePing, ws.PingHandler(tracker))

	hub.OnClientRegistered(func(client *ws.Client) {
		feed.Watch(client.SessionID)
		tracker.Announce(client.SessionID, client.UserID, client.DisplayName, time.Now())
	})

	hub.OnClientDisconnect(func(client *ws.Client) {
		// the user may still hold the session open in another tab; only
		// the last connection going away takes their presence and cursor
		if !hub.IsUserConnected(client.SessionID, client.UserID) {
			tracker.Leave(client.SessionID, client.UserID)
			cursorSync.Remove(client.SessionID, client.UserID)

			if msg, err := ws.NewMessage(ws.TypeCursorRemoved, client.SessionID, client.UserID, ws.CursorRemovedPayload{
				UserID: client.UserID,
			}); err == nil {
				hub.BroadcastToSession(client.SessionID, msg, client.ID)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := flusher.FlushSession(ctx, client.SessionID); err != nil {
			logger.ErrorErr(err, "failed to flush buffer on disconnect",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
		}

		if !hub.IsSessionActive(client.SessionID) {
			feed.Release(client.SessionID)
			cursorSync.RemoveSession(client.SessionID)
		}
	})

	router := gin.Default()

	// auto-expiry for sessions nobody is driving
	cleanupService := sessions.NewCleanupService(
		postgresSessionRepo, // bypass the buffer: cleanup reads must see only persisted state
		cleanupCheckInterval,
		sessionStartGracePeriod,
		sessionInactivityThreshold,
		func(sessionID string, reason string) {
			hub.EndSession(sessionID, reason)
			turns.Remove(sessionID)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sessionBuffer.ClearSession(ctx, sessionID); err != nil {
				logger.Warn("failed to clear session buffer", "session_id", sessionID, "error", err)
			}
		},
	)

	server := &Server{
		db:             db,
		config:         cfg,
		userRepo:       userRepo,
		sessionRepo:    sessionRepo,
		lifecycle:      lifecycleMgr,
		tracker:        tracker,
		cursorSync:     cursorSync,
		docs:           docs,
		turns:          turns,
		hub:            hub,
		router:         router,
		buffer:         sessionBuffer,
		flusher:        flusher,
		cleanupService: cleanupService,
		presenceFeed:   feed,
	}

	RegisterRoutes(router, server)

	return server, nil
}

// pushes a tick outcome to a session's clients: a distortion reading
// while the turn runs, and the loss plus follow-up assignment when the
// deadline passes
func broadcastTick(hub *ws.Hub, turns *seance.Manager, sessionID string, result seance.TickResult) {
	if result.TimedOut {
		if msg, err := ws.NewMessage(ws.TypeTurnLost, sessionID, result.LostUserID, ws.TurnLostPayload{
			UserID:      result.LostUserID,
			DisplayName: result.LostName,
		}); err == nil {
			hub.BroadcastToSession(sessionID, msg, "")
		}

		if result.Next != nil {
			ws.BroadcastTurnAssigned(hub, sessionID, result.Next)
		}
		return
	}

	if !result.Active || result.Distortion <= 0 {
		return
	}

	arbiter, ok := turns.Get(sessionID)
	if !ok {
		return
	}
	current := arbiter.Current()
	if current == nil {
		return
	}

	if msg, err := ws.NewMessage(ws.TypeTurnDistortion, sessionID, current.HolderID, ws.TurnDistortionPayload{
		UserID:           current.HolderID,
		RemainingSeconds: result.Remaining.Seconds(),
		Distortion:       result.Distortion,
	}); err == nil {
		hub.BroadcastToSession(sessionID, msg, "")
	}
}

// boots turn arbitration for a freshly started session and announces the
// first turn
func (s *Server) onSessionStarted(session *sessions.Session) {
	// freeform sessions have no turns to arbitrate
	if session.Mode != sessions.ModeChain {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := s.sessionRepo.ListSegments(ctx, session.ID)
	if err != nil {
		logger.ErrorErr(err, "failed to load segments for arbitration", "session_id", session.ID)
		records = nil
	}

	segments := make([]chain.Segment, len(records))
	for i, r := range records {
		segments[i] = chain.Segment{
			ID:         r.ID,
			Content:    r.Content,
			AuthorID:   r.AuthorID,
			AuthorName: r.AuthorName,
			CreatedAt:  r.CreatedAt,
			PrevHash:   r.PrevHash,
			Hash:       r.Hash,
		}
	}

	sessionID := session.ID
	arbiter := seance.NewArbiter(
		chain.NewLedgerFromSegments(segments),
		seance.WithPresenceCheck(func(userID string) bool {
			// presence records outlive momentary reconnects, the hub check
			// catches clients that vanished without a leave
			return s.tracker.IsPresent(sessionID, userID) || s.hub.IsUserConnected(sessionID, userID)
		}),
	)

	participants, err := s.sessionRepo.ListParticipants(ctx, session.ID)
	if err != nil {
		logger.ErrorErr(err, "failed to load participants for arbitration", "session_id", session.ID)
	}

	parts := make([]seance.Participant, 0, len(participants))
	for _, p := range participants {
		if p.LeftAt != nil {
			continue
		}
		parts = append(parts, seance.Participant{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
		})
	}
	arbiter.SetParticipants(parts)

	s.turns.Put(session.ID, arbiter)

	if turn, ok := arbiter.AssignNext(time.Now()); ok {
		ws.BroadcastTurnAssigned(s.hub, session.ID, turn)
	}

	logger.Info("turn arbitration started",
		"session_id", session.ID,
		"participants", len(parts),
	)
}

// tears down the live machinery when a session completes or is cancelled
// folds a late joiner into a running turn rotation. Joining a scheduled or
// freeform session finds no arbiter and is a no-op; rejoining is absorbed
// by AddParticipant's idempotency.
func (s *Server) onParticipantJoined(sessionID, userID, displayName string) {
	arbiter, ok := s.turns.Get(sessionID)
	if !ok {
		return
	}

	arbiter.AddParticipant(seance.Participant{
		UserID:      userID,
		DisplayName: displayName,
	})

	// a rotation that stalled with nobody eligible picks back up here
	if arbiter.Current() == nil {
		if turn, ok := arbiter.AssignNext(time.Now()); ok {
			ws.BroadcastTurnAssigned(s.hub, sessionID, turn)
		}
	}
}

func (s *Server) onSessionEnded(session *sessions.Session) {
	s.turns.Remove(session.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.docs.Flush(session.ID)
	if err := s.flusher.FlushSession(ctx, session.ID); err != nil {
		logger.ErrorErr(err, "failed to flush session on end", "session_id", session.ID)
	}

	reason := "session_completed"
	if session.Status == sessions.StatusCancelled {
		reason = "session_cancelled"
	}
	s.hub.EndSession(session.ID, reason)

	if err := s.buffer.ClearSession(ctx, session.ID); err != nil {
		logger.Warn("failed to clear session buffer", "session_id", session.ID, "error", err)
	}
}
