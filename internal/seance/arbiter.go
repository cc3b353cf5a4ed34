package seance

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"codeberg.org/grimoire/server/internal/chain"
)

// decides whose turn it is, enforces the turn time limit, detects timeout,
// and advances turn order over a session's segment chain. All time-dependent
// logic takes an explicit now so any scheduler (real timer or test) can
// drive it.
type Arbiter struct {
	mu sync.Mutex

	ledger *chain.Ledger

	// participants in join order; turn rotation walks this slice
	order []Participant

	// users eliminated by timeout, permanently for this session
	lost map[string]struct{}

	// per-author accepted segment counts
	contributions map[string]int

	current *Turn

	// index into order after the last assigned holder
	nextIdx int

	allotment   time.Duration
	ghostChance float64
	rng         *rand.Rand

	// reports whether a user is currently present; absent users are
	// skipped during assignment
	present func(userID string) bool
}

// configures an Arbiter
type Option func(*Arbiter)

// overrides the 5 minute turn allotment
func WithAllotment(d time.Duration) Option {
	return func(a *Arbiter) { a.allotment = d }
}

// overrides the ghost fragment injection probability
func WithGhostChance(p float64) Option {
	return func(a *Arbiter) { a.ghostChance = p }
}

// injects a deterministic random source for tests
func WithRand(rng *rand.Rand) Option {
	return func(a *Arbiter) { a.rng = rng }
}

// supplies the presence check used during assignment
func WithPresenceCheck(fn func(userID string) bool) Option {
	return func(a *Arbiter) { a.present = fn }
}

func NewArbiter(ledger *chain.Ledger, opts ...Option) *Arbiter {
	a := &Arbiter{
		ledger:        ledger,
		lost:          make(map[string]struct{}),
		contributions: make(map[string]int),
		allotment:     defaultAllotment,
		ghostChance:   defaultGhostChance,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // not security sensitive
		present:       func(string) bool { return true },
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// replaces the participant rotation, preserving join order
func (a *Arbiter) SetParticipants(parts []Participant) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.order = make([]Participant, len(parts))
	copy(a.order, parts)

	if a.nextIdx >= len(a.order) {
		a.nextIdx = 0
	}
}

// appends a late joiner to the end of the rotation; no-op if already known
func (a *Arbiter) AddParticipant(p Participant) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, existing := range a.order {
		if existing.UserID == p.UserID {
			return
		}
	}

	a.order = append(a.order, p)
}

// selects the next turn-holder from eligible participants: round-robin by
// join order, skipping lost and absent users. Returns false and leaves the
// arbiter idle when no eligible participant remains.
func (a *Arbiter) AssignNext(now time.Time) (*Turn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assignNextLocked(now)
}

func (a *Arbiter) assignNextLocked(now time.Time) (*Turn, bool) {
	a.current = nil

	n := len(a.order)
	for i := range n {
		idx := (a.nextIdx + i) % n
		candidate := a.order[idx]

		if _, eliminated := a.lost[candidate.UserID]; eliminated {
			continue
		}

		if !a.present(candidate.UserID) {
			continue
		}

		turn := &Turn{
			HolderID:   candidate.UserID,
			HolderName: candidate.DisplayName,
			StartedAt:  now,
			Deadline:   now.Add(a.allotment),
		}

		if a.rng.Float64() < a.ghostChance {
			turn.GhostFragment = pickGhostFragment(a.rng)
		}

		a.current = turn
		a.nextIdx = (idx + 1) % n

		return turn, true
	}

	return nil, false
}

// returns a copy of the current turn, or nil when idle
func (a *Arbiter) Current() *Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil
	}

	turn := *a.current
	return &turn
}

// advances the arbiter's clock. Called at 1-second cadence while a turn is
// active. Expiry is handled here atomically: once a tick observes a passed
// deadline, the holder joins the lost-set, no segment is appended, and the
// turn reassigns.
func (a *Arbiter) Tick(now time.Time) TickResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return TickResult{}
	}

	remaining := a.current.Deadline.Sub(now)

	if remaining <= 0 {
		holder := *a.current
		a.lost[holder.HolderID] = struct{}{}
		a.current = nil

		result := TickResult{
			Active:     true,
			Remaining:  0,
			Distortion: 1,
			TimedOut:   true,
			LostUserID: holder.HolderID,
			LostName:   holder.HolderName,
		}

		if next, ok := a.assignNextLocked(now); ok {
			result.Next = next
		}

		return result
	}

	return TickResult{
		Active:     true,
		Remaining:  remaining,
		Distortion: distortion(remaining, a.allotment),
	}
}

// maps remaining time to a 0..1 urgency value: silent until remaining
// drops below the distortion threshold, then a linear ramp to 1
func distortion(remaining, allotment time.Duration) float64 {
	frac := float64(remaining) / float64(allotment)

	if frac >= distortionThreshold {
		return 0
	}

	return (distortionThreshold - frac) / distortionThreshold
}

// accepts the holder's contribution: appends a hash-linked segment, bumps
// the author's contribution counter, clears the turn, and reassigns.
//
// A submission racing an already-expired deadline is rejected with
// ErrTurnExpired and never appended; the elimination itself stays with the
// tick so it happens in exactly one place.
func (a *Arbiter) Submit(now time.Time, userID, content string) (SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return SubmitResult{}, ErrNoActiveTurn
	}

	if a.current.HolderID != userID {
		return SubmitResult{}, ErrNotYourTurn
	}

	if !now.Before(a.current.Deadline) {
		return SubmitResult{}, ErrTurnExpired
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return SubmitResult{}, ErrEmptyContent
	}

	if fragment := a.current.GhostFragment; fragment != "" && !strings.Contains(trimmed, fragment) {
		return SubmitResult{}, ErrGhostFragment
	}

	holderName := a.current.HolderName
	segment := a.ledger.Append(trimmed, userID, holderName, now)
	a.contributions[userID]++
	a.current = nil

	result := SubmitResult{Segment: segment}

	if next, ok := a.assignNextLocked(now); ok {
		result.Next = next
	}

	return result, nil
}

// reports whether the user has been eliminated this session
func (a *Arbiter) IsLost(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, eliminated := a.lost[userID]
	return eliminated
}

// returns eliminated user IDs in no particular order
func (a *Arbiter) LostSet() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.lost))
	for userID := range a.lost {
		out = append(out, userID)
	}

	return out
}

// returns the accepted segment count for an author
func (a *Arbiter) Contributions(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contributions[userID]
}

// returns the arbiter's ledger
func (a *Arbiter) Ledger() *chain.Ledger {
	return a.ledger
}
