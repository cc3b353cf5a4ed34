package presence

import (
	"context"
	"sync"
	"time"

	"codeberg.org/grimoire/server/internal/logger"
)

// ephemeral per-user liveness state within a session
type Record struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	LastSeen    time.Time `json:"last_seen"`
}

// called with a session's full presence snapshot on every change
type SubscribeFunc func(records map[string]Record)

type subscriber struct {
	id int
	fn SubscribeFunc
}

// tracks which participants are currently connected and active per session.
// Records go inactive after the idle window and are removed entirely once
// the expiry window passes without a heartbeat; that sweep is the
// disconnect-cleanup guarantee for clients that never send an explicit
// leave.
type Tracker struct {
	mu          sync.RWMutex
	sessions    map[string]map[string]*Record
	subscribers map[string][]subscriber
	nextSubID   int

	idleWindow time.Duration
	expiry     time.Duration
}

const (
	// no activity for this long flips a record to inactive
	defaultIdleWindow = 30 * time.Second

	// no heartbeat for this long removes the record entirely
	defaultExpiry = 90 * time.Second

	sweepInterval = time.Second
)

func NewTracker() *Tracker {
	return &Tracker{
		sessions:    make(map[string]map[string]*Record),
		subscribers: make(map[string][]subscriber),
		idleWindow:  defaultIdleWindow,
		expiry:      defaultExpiry,
	}
}

// test constructor with custom windows
func NewTrackerWithWindows(idleWindow, expiry time.Duration) *Tracker {
	t := NewTracker()
	t.idleWindow = idleWindow
	t.expiry = expiry
	return t
}

// registers the user as present and active. A client may only announce
// itself; the websocket layer enforces that.
func (t *Tracker) Announce(sessionID, userID, displayName string, now time.Time) {
	t.mu.Lock()

	if t.sessions[sessionID] == nil {
		t.sessions[sessionID] = make(map[string]*Record)
	}

	t.sessions[sessionID][userID] = &Record{
		UserID:      userID,
		DisplayName: displayName,
		Active:      true,
		LastSeen:    now,
	}

	snapshot := t.snapshotLocked(sessionID)
	subs := t.subscribersLocked(sessionID)
	t.mu.Unlock()

	notify(subs, snapshot)
}

// refreshes the user's record and resets the idle timer. No-op for unknown
// records (announce first).
func (t *Tracker) MarkActivity(sessionID, userID string, now time.Time) {
	t.mu.Lock()

	record, ok := t.sessions[sessionID][userID]
	if !ok {
		t.mu.Unlock()
		return
	}

	wasActive := record.Active
	record.Active = true
	record.LastSeen = now

	var snapshot map[string]Record
	var subs []subscriber

	if !wasActive {
		snapshot = t.snapshotLocked(sessionID)
		subs = t.subscribersLocked(sessionID)
	}

	t.mu.Unlock()

	if snapshot != nil {
		notify(subs, snapshot)
	}
}

// removes the user's record explicitly
func (t *Tracker) Leave(sessionID, userID string) {
	t.mu.Lock()

	records, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return
	}

	if _, ok := records[userID]; !ok {
		t.mu.Unlock()
		return
	}

	delete(records, userID)

	if len(records) == 0 {
		delete(t.sessions, sessionID)
	}

	snapshot := t.snapshotLocked(sessionID)
	subs := t.subscribersLocked(sessionID)
	t.mu.Unlock()

	notify(subs, snapshot)
}

// returns the session's current presence mapping
func (t *Tracker) Snapshot(sessionID string) map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(sessionID)
}

// reports whether the user has a live presence record in the session
func (t *Tracker) IsPresent(sessionID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.sessions[sessionID][userID]
	return ok
}

// registers a callback invoked with the session's presence snapshot on
// every change; returns an unsubscribe function
func (t *Tracker) Subscribe(sessionID string, fn SubscribeFunc) func() {
	t.mu.Lock()

	t.nextSubID++
	id := t.nextSubID
	t.subscribers[sessionID] = append(t.subscribers[sessionID], subscriber{id: id, fn: fn})

	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		subs := t.subscribers[sessionID]
		for i, s := range subs {
			if s.id == id {
				t.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}

		if len(t.subscribers[sessionID]) == 0 {
			delete(t.subscribers, sessionID)
		}
	}
}

// runs the idle/expiry sweep until the context is cancelled
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}

// applies idle transitions and expiry removals as of now. Exposed so tests
// can drive time explicitly.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()

	type change struct {
		snapshot map[string]Record
		subs     []subscriber
	}

	var changes []change

	for sessionID, records := range t.sessions {
		changed := false

		for userID, record := range records {
			age := now.Sub(record.LastSeen)

			if age > t.expiry {
				// heartbeat lost: the client is gone
				delete(records, userID)
				changed = true

				logger.Debug("presence record expired",
					"session_id", sessionID,
					"user_id", userID,
				)

				continue
			}

			if record.Active && age > t.idleWindow {
				// present but idle; keep the record
				record.Active = false
				changed = true
			}
		}

		if len(records) == 0 {
			delete(t.sessions, sessionID)
		}

		if changed {
			changes = append(changes, change{
				snapshot: t.snapshotLocked(sessionID),
				subs:     t.subscribersLocked(sessionID),
			})
		}
	}

	t.mu.Unlock()

	for _, c := range changes {
		notify(c.subs, c.snapshot)
	}
}

func (t *Tracker) snapshotLocked(sessionID string) map[string]Record {
	records := t.sessions[sessionID]
	out := make(map[string]Record, len(records))

	for userID, record := range records {
		out[userID] = *record
	}

	return out
}

func (t *Tracker) subscribersLocked(sessionID string) []subscriber {
	subs := t.subscribers[sessionID]
	out := make([]subscriber, len(subs))
	copy(out, subs)
	return out
}

func notify(subs []subscriber, snapshot map[string]Record) {
	for _, s := range subs {
		s.fn(snapshot)
	}
}
