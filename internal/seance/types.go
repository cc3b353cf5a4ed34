package seance

import (
	"time"

	"codeberg.org/grimoire/server/internal/chain"
)

const (
	// time a holder has to submit before being eliminated
	defaultAllotment = 5 * time.Minute

	// probability of injecting a ghost fragment on turn entry
	defaultGhostChance = 0.10

	// distortion starts ramping when remaining time drops below this
	// fraction of the allotment
	distortionThreshold = 0.3
)

// a participant eligible for turn assignment, in join order
type Participant struct {
	UserID      string
	DisplayName string
}

// the currently assigned turn
type Turn struct {
	HolderID      string    `json:"holder_id"`
	HolderName    string    `json:"holder_name"`
	StartedAt     time.Time `json:"started_at"`
	Deadline      time.Time `json:"deadline"`
	GhostFragment string    `json:"ghost_fragment,omitempty"`
}

// the outcome of a single arbiter tick
type TickResult struct {
	// whether a turn was active when the tick ran
	Active bool

	// time left on the current turn (zero when expired)
	Remaining time.Duration

	// 0..1 urgency signal; 0 until remaining drops below 30% of the
	// allotment, then ramps linearly to 1. UX feedback, never an error.
	Distortion float64

	// set when this tick expired the turn
	TimedOut   bool
	LostUserID string
	LostName   string

	// the follow-up turn assigned after a timeout, nil when no eligible
	// participant remains
	Next *Turn
}

// the outcome of a successful submission
type SubmitResult struct {
	Segment chain.Segment

	// the follow-up turn, nil when no eligible participant remains
	Next *Turn
}
