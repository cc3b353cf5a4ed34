package websocket

import (
	"context"
	"errors"
	"strings"
	"time"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/cursors"
	"codeberg.org/grimoire/server/internal/document"
	"codeberg.org/grimoire/server/internal/logger"
	"codeberg.org/grimoire/server/internal/presence"
	"codeberg.org/grimoire/server/internal/seance"
)

// handles cursor position updates. Updates arriving faster than the
// publish interval are dropped, not queued, so the newest position always
// wins.
func CursorHandler(cursorSync *cursors.Synchronizer, tracker *presence.Tracker) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		var payload CursorUpdatePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse cursor update", err.Error())
			return err
		}

		now := time.Now()
		tracker.MarkActivity(client.SessionID, client.UserID, now)

		// cursors only roam in freeform sessions; still counts as activity
		if client.Mode == sessions.ModeChain {
			return nil
		}

		if !cursorSync.Publish(client.SessionID, client.UserID, client.DisplayName, client.CursorColor, payload.X, payload.Y, now) {
			// throttled, silently dropped
			return nil
		}

		payload.DisplayName = client.DisplayName
		payload.Color = client.CursorColor

		broadcastMsg, err := NewMessage(TypeCursorUpdate, client.SessionID, client.UserID, payload)
		if err != nil {
			logger.ErrorErr(err, "failed to create cursor broadcast message",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
			return err
		}

		hub.BroadcastToSession(client.SessionID, broadcastMsg, client.ID)

		return nil
	}
}

// handles shared document edits. Broadcast is immediate, persistence goes
// through the debounced channel.
func DocumentHandler(docs *document.Channel, tracker *presence.Tracker) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		// free-write edits have no place in a turn-gated session
		if client.Mode == sessions.ModeChain {
			client.SendError("invalid_state", "this session is turn-gated, submit your turn instead", "")
			return nil
		}

		// check rate limit
		if !client.checkDocumentUpdateRateLimit() {
			client.SendError("too_many_requests", "too many document updates. maximum 10 per second.", "")
			return ErrRateLimitExceeded
		}

		var payload DocumentUpdatePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse document update", err.Error())
			return err
		}

		// validate document size
		if len([]byte(payload.Content)) > maxDocumentSize {
			client.SendError("bad_request", "document exceeds maximum size. maximum 100 KB allowed.", "")
			return ErrContentTooLarge
		}

		tracker.MarkActivity(client.SessionID, client.UserID, time.Now())

		// schedule the debounced write (goes to redis via BufferedRepository)
		docs.Update(client.SessionID, client.UserID, client.DisplayName, payload.Content)

		payload.DisplayName = client.DisplayName

		broadcastMsg, err := NewMessage(TypeDocumentUpdate, client.SessionID, client.UserID, payload)
		if err != nil {
			logger.ErrorErr(err, "failed to create document broadcast message",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
			return err
		}

		hub.BroadcastToSession(client.SessionID, broadcastMsg, client.ID)

		return nil
	}
}

// handles presence heartbeats and activity signals
func PresenceHandler(tracker *presence.Tracker) MessageHandler {
	return func(_ *Hub, client *Client, msg *Message) error {
		// payload is optional; a bare heartbeat still counts as activity
		var payload PresenceUpdatePayload
		msg.UnmarshalPayload(&payload) //nolint:errcheck,gosec // best-effort parse

		tracker.MarkActivity(client.SessionID, client.UserID, time.Now())
		return nil
	}
}

// handles turn submissions from the current holder
func TurnSubmitHandler(turns *seance.Manager, sessionRepo sessions.Repository, tracker *presence.Tracker) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if client.Mode == sessions.ModeFreeform {
			client.SendError("invalid_state", "this session has no turns, edit the shared document", "")
			return nil
		}

		var payload TurnSubmitPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse turn submission", err.Error())
			return err
		}

		if len([]byte(payload.Content)) > maxSegmentSize {
			client.SendError("bad_request", "segment exceeds maximum size. maximum 10 KB allowed.", "")
			return ErrContentTooLarge
		}

		arbiter, ok := turns.Get(client.SessionID)
		if !ok {
			client.SendError("invalid_state", "no turn-taking in progress for this session", "")
			return nil
		}

		tracker.MarkActivity(client.SessionID, client.UserID, time.Now())

		result, err := arbiter.Submit(time.Now(), client.UserID, payload.Content)
		if err != nil {
			sendTurnError(client, err)
			return nil
		}

		seg := result.Segment
		position := arbiter.Ledger().Len() - 1

		// persist the segment (goes to redis buffer via BufferedRepository)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := sessionRepo.AppendSegment(ctx, &sessions.SegmentRecord{
			ID:         seg.ID,
			SessionID:  client.SessionID,
			Position:   position,
			Content:    seg.Content,
			AuthorID:   seg.AuthorID,
			AuthorName: seg.AuthorName,
			PrevHash:   seg.PrevHash,
			Hash:       seg.Hash,
			CreatedAt:  seg.CreatedAt,
		}); err != nil {
			logger.ErrorErr(err, "failed to save segment",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
			// don't fail the request, broadcast still happens
		}

		if err := sessionRepo.UpdateLastActivity(ctx, client.SessionID); err != nil {
			logger.ErrorErr(err, "failed to update session activity", "session_id", client.SessionID)
		}

		appendedMsg, err := NewMessage(TypeSegmentAppended, client.SessionID, client.UserID, SegmentAppendedPayload{
			SegmentID:  seg.ID,
			Position:   position,
			Content:    seg.Content,
			AuthorID:   seg.AuthorID,
			AuthorName: seg.AuthorName,
			PrevHash:   seg.PrevHash,
			Hash:       seg.Hash,
			CreatedAt:  seg.CreatedAt.UnixMilli(),
		})
		if err != nil {
			logger.ErrorErr(err, "failed to create segment broadcast message",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
			return err
		}

		// everyone sees the new link, including the author
		hub.BroadcastToSession(client.SessionID, appendedMsg, "")

		if result.Next != nil {
			BroadcastTurnAssigned(hub, client.SessionID, result.Next)
		}

		return nil
	}
}

// maps arbiter errors to client-facing error codes
func sendTurnError(client *Client, err error) {
	switch {
	case errors.Is(err, seance.ErrNoActiveTurn):
		client.SendError("invalid_state", "no turn is currently assigned", "")
	case errors.Is(err, seance.ErrNotYourTurn):
		client.SendError("not_your_turn", "the speaking turn belongs to someone else", "")
	case errors.Is(err, seance.ErrEmptyContent):
		client.SendError("empty_content", "a segment cannot be empty", "")
	case errors.Is(err, seance.ErrTurnExpired):
		client.SendError("turn_expired", "your turn expired before the submission arrived", "")
	case errors.Is(err, seance.ErrGhostFragment):
		client.SendError("ghost_fragment", "your segment must contain the ghost fragment", "")
	default:
		client.SendError("server_error", "failed to process submission", err.Error())
	}
}

// announces a turn to the whole session, with the ghost fragment visible
// only to the holder
func BroadcastTurnAssigned(hub *Hub, sessionID string, turn *seance.Turn) {
	publicMsg, err := NewMessage(TypeTurnAssigned, sessionID, "", TurnAssignedPayload{
		UserID:      turn.HolderID,
		DisplayName: turn.HolderName,
		Deadline:    turn.Deadline.UnixMilli(),
	})
	if err != nil {
		logger.ErrorErr(err, "failed to create turn_assigned message", "session_id", sessionID)
		return
	}

	hub.BroadcastToSession(sessionID, publicMsg, "")

	if turn.GhostFragment == "" {
		return
	}

	holderMsg, err := NewMessage(TypeTurnAssigned, sessionID, turn.HolderID, TurnAssignedPayload{
		UserID:        turn.HolderID,
		DisplayName:   turn.HolderName,
		Deadline:      turn.Deadline.UnixMilli(),
		GhostFragment: turn.GhostFragment,
	})
	if err != nil {
		logger.ErrorErr(err, "failed to create holder turn_assigned message", "session_id", sessionID)
		return
	}

	hub.SendToUser(sessionID, turn.HolderID, holderMsg)
}

// handles session chat message messages
func ChatHandler(sessionRepo sessions.Repository) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		// check rate limit
		if !client.checkChatRateLimit() {
			client.SendError("too_many_requests", "too many chat messages. maximum 20 per minute.", "")
			return ErrRateLimitExceeded
		}

		// parse payload
		var payload ChatMessagePayload

		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse chat message", err.Error())
			return err
		}

		// validate message size
		if len([]rune(payload.Message)) > maxChatMessageSize {
			client.SendError("bad_request", "message exceeds maximum size. maximum 2000 characters allowed.", "")
			return ErrContentTooLarge
		}

		// validate message is not empty (after trimming whitespace)
		trimmedMessage := strings.TrimSpace(payload.Message)

		if trimmedMessage == "" {
			client.SendError("bad_request", "message cannot be empty", "")
			return ErrContentTooLarge
		}

		// save chat message (goes to redis buffer via BufferedRepository)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := sessionRepo.AddChatMessage(ctx, client.SessionID, client.UserID, client.DisplayName, trimmedMessage)
		if err != nil {
			logger.ErrorErr(err, "failed to save chat message",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
			// don't fail - broadcast is more important for real-time chat
		}

		// add display name to payload
		payload.DisplayName = client.DisplayName
		payload.Message = trimmedMessage

		// create broadcast message
		broadcastMsg, err := NewMessage(TypeChatMessage, client.SessionID, client.UserID, payload)
		if err != nil {
			logger.ErrorErr(err, "failed to create broadcast message",
				"client_id", client.ID,
				"session_id", client.SessionID,
			)
			return err
		}

		// broadcast to all clients in the session (including sender)
		hub.BroadcastToSession(client.SessionID, broadcastMsg, "")

		return nil
	}
}

// handles ping messages from clients (keep-alive)
func PingHandler(tracker *presence.Tracker) MessageHandler {
	return func(_ *Hub, client *Client, _ *Message) error {
		tracker.MarkActivity(client.SessionID, client.UserID, time.Now())

		pongMsg, err := NewMessage(TypePong, client.SessionID, client.UserID, nil)
		if err != nil {
			return err
		}
		client.Send(pongMsg) //nolint:errcheck,gosec // best-effort pong
		return nil
	}
}
