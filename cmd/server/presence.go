package main

import (
	"sync"

	"codeberg.org/grimoire/server/internal/logger"
	"codeberg.org/grimoire/server/internal/presence"
	ws "codeberg.org/grimoire/server/internal/websocket"
)

// bridges presence tracker snapshots onto the websocket hub. Each session
// gets one subscription, held for as long as the session has connected
// clients; every snapshot change is broadcast as a presence_state message.
type presenceFeed struct {
	mu      sync.Mutex
	tracker *presence.Tracker
	hub     *ws.Hub
	unsubs  map[string]func()
}

func newPresenceFeed(tracker *presence.Tracker, hub *ws.Hub) *presenceFeed {
	return &presenceFeed{
		tracker: tracker,
		hub:     hub,
		unsubs:  make(map[string]func()),
	}
}

// ensures a session's presence changes are flowing to its clients
func (f *presenceFeed) Watch(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.unsubs[sessionID]; ok {
		return
	}

	f.unsubs[sessionID] = f.tracker.Subscribe(sessionID, func(records map[string]presence.Record) {
		f.broadcast(sessionID, records)
	})
}

// drops the subscription once a session has no clients left
func (f *presenceFeed) Release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if unsub, ok := f.unsubs[sessionID]; ok {
		unsub()
		delete(f.unsubs, sessionID)
	}
}

func (f *presenceFeed) broadcast(sessionID string, records map[string]presence.Record) {
	payload := ws.PresenceStatePayload{}
	for _, r := range records {
		payload.Participants = append(payload.Participants, ws.PresenceEntry{
			UserID:      r.UserID,
			DisplayName: r.DisplayName,
			Active:      r.Active,
			LastSeen:    r.LastSeen.UnixMilli(),
		})
	}

	msg, err := ws.NewMessage(ws.TypePresenceState, sessionID, "", payload)
	if err != nil {
		logger.ErrorErr(err, "failed to build presence state message", "session_id", sessionID)
		return
	}

	f.hub.BroadcastToSession(sessionID, msg, "")
}
