package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/presence"
)

func newModeTestClient(mode string) *Client {
	return &Client{
		ID:                       "client-1",
		SessionID:                "session-1",
		UserID:                   "user-1",
		DisplayName:              "Ligeia",
		Mode:                     mode,
		send:                     make(chan []byte, 8),
		documentUpdateTimestamps: make([]time.Time, 0, maxDocumentUpdatesPerSecond),
		chatMessageTimestamps:    make([]time.Time, 0, maxChatMessagesPerMinute),
	}
}

// drains one queued message and returns its decoded form
func receiveQueued(t *testing.T, client *Client) *Message {
	t.Helper()

	select {
	case raw := <-client.send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("failed to decode queued message: %v", err)
		}
		return &msg
	default:
		t.Fatal("expected a queued message, got none")
		return nil
	}
}

// a turn-gated session rejects free-write document edits
func TestDocumentUpdateRejectedInChainMode(t *testing.T) {
	client := newModeTestClient(sessions.ModeChain)
	handler := DocumentHandler(nil, nil)

	msg, err := NewMessage(TypeDocumentUpdate, client.SessionID, client.UserID, DocumentUpdatePayload{
		Content: "scribbled outside my turn",
	})
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}

	if err := handler(nil, client, msg); err != nil {
		t.Fatalf("handler should swallow the rejection, got %v", err)
	}

	reply := receiveQueued(t, client)
	if reply.Type != TypeError {
		t.Errorf("expected %s reply, got %s", TypeError, reply.Type)
	}
}

// a freeform session has no turns to submit to
func TestTurnSubmitRejectedInFreeformMode(t *testing.T) {
	client := newModeTestClient(sessions.ModeFreeform)
	handler := TurnSubmitHandler(nil, nil, nil)

	msg, err := NewMessage(TypeTurnSubmit, client.SessionID, client.UserID, TurnSubmitPayload{
		Content: "a segment with nowhere to go",
	})
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}

	if err := handler(nil, client, msg); err != nil {
		t.Fatalf("handler should swallow the rejection, got %v", err)
	}

	reply := receiveQueued(t, client)
	if reply.Type != TypeError {
		t.Errorf("expected %s reply, got %s", TypeError, reply.Type)
	}
}

// cursor updates in a chain session still count as presence activity but
// are never published
func TestCursorUpdateDroppedInChainMode(t *testing.T) {
	tracker := presence.NewTracker()
	client := newModeTestClient(sessions.ModeChain)
	tracker.Announce(client.SessionID, client.UserID, client.DisplayName, time.Now())
	handler := CursorHandler(nil, tracker)

	msg, err := NewMessage(TypeCursorUpdate, client.SessionID, client.UserID, CursorUpdatePayload{
		X: 0.5, Y: 0.5,
	})
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}

	if err := handler(nil, client, msg); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}

	if !tracker.IsPresent(client.SessionID, client.UserID) {
		t.Error("cursor activity should still refresh presence")
	}

	select {
	case raw := <-client.send:
		t.Errorf("expected no reply, got %s", raw)
	default:
	}
}
