package cursors

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ephemeral per-user pointer state
type Position struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	LastUpdate  time.Time `json:"last_update"`
}

const (
	// minimum spacing between accepted publishes per user
	publishInterval = 50 * time.Millisecond

	// cursors older than this are excluded at read time
	staleAfter = 30 * time.Second

	// consumer-side interpolation blend per animation tick
	SmoothingBlend = 0.25
)

// relays participants' pointer positions at a bounded rate. Publishes are
// throttled at the source: calls inside the 50ms window are dropped, not
// queued. Staleness eviction happens at snapshot time, there is no
// background sweep.
type Synchronizer struct {
	mu        sync.Mutex
	sessions  map[string]map[string]*Position
	limiters  map[string]*rate.Limiter
	staleTTL  time.Duration
	perUpdate time.Duration
}

func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		sessions:  make(map[string]map[string]*Position),
		limiters:  make(map[string]*rate.Limiter),
		staleTTL:  staleAfter,
		perUpdate: publishInterval,
	}
}

// records the user's position. Returns false when the update fell inside
// the throttle window and was dropped.
func (s *Synchronizer) Publish(sessionID, userID, displayName, color string, x, y float64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionID + "/" + userID

	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.perUpdate), 1)
		s.limiters[key] = limiter
	}

	if !limiter.AllowN(now, 1) {
		return false
	}

	if s.sessions[sessionID] == nil {
		s.sessions[sessionID] = make(map[string]*Position)
	}

	s.sessions[sessionID][userID] = &Position{
		UserID:      userID,
		DisplayName: displayName,
		Color:       color,
		X:           x,
		Y:           y,
		LastUpdate:  now,
	}

	return true
}

// returns the session's cursors, excluding the requesting user's own and
// any entry older than the staleness threshold as of now
func (s *Synchronizer) Snapshot(sessionID, excludeUserID string, now time.Time) []Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.sessions[sessionID]
	out := make([]Position, 0, len(positions))

	for userID, pos := range positions {
		if userID == excludeUserID {
			continue
		}

		if now.Sub(pos.LastUpdate) > s.staleTTL {
			continue
		}

		out = append(out, *pos)
	}

	return out
}

// drops the user's cursor (leave or disconnect)
func (s *Synchronizer) Remove(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions[sessionID], userID)
	delete(s.limiters, sessionID+"/"+userID)

	if len(s.sessions[sessionID]) == 0 {
		delete(s.sessions, sessionID)
	}
}

// drops all cursors for a session (session ended)
func (s *Synchronizer) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID := range s.sessions[sessionID] {
		delete(s.limiters, sessionID+"/"+userID)
	}

	delete(s.sessions, sessionID)
}

// Lerp moves a rendered coordinate toward its target by the blend factor.
// Consumers call this per animation tick so remote cursors glide instead
// of jumping between 50ms network updates.
func Lerp(current, target, blend float64) float64 {
	return current + (target-current)*blend
}
