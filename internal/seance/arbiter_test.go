package seance

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/grimoire/server/internal/chain"
)

var testStart = time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC)

func newTestArbiter(opts ...Option) *Arbiter {
	defaults := []Option{
		WithGhostChance(0), // deterministic unless a test opts in
		WithRand(rand.New(rand.NewSource(1))),
	}

	a := NewArbiter(chain.NewLedger(), append(defaults, opts...)...)
	a.SetParticipants([]Participant{
		{UserID: "user-a", DisplayName: "Annabel"},
		{UserID: "user-b", DisplayName: "Bram"},
		{UserID: "user-c", DisplayName: "Carmilla"},
	})

	return a
}

func TestAssignNextRoundRobin(t *testing.T) {
	a := newTestArbiter()

	turn, ok := a.AssignNext(testStart)
	require.True(t, ok)
	assert.Equal(t, "user-a", turn.HolderID)
	assert.Equal(t, testStart.Add(5*time.Minute), turn.Deadline)

	_, err := a.Submit(testStart.Add(time.Minute), "user-a", "first verse")
	require.NoError(t, err)

	current := a.Current()
	require.NotNil(t, current)
	assert.Equal(t, "user-b", current.HolderID, "rotation advances by join order")
}

func TestAssignNextSkipsAbsent(t *testing.T) {
	a := newTestArbiter(WithPresenceCheck(func(userID string) bool {
		return userID != "user-a"
	}))

	turn, ok := a.AssignNext(testStart)
	require.True(t, ok)
	assert.Equal(t, "user-b", turn.HolderID)
}

func TestAssignNextNoEligible(t *testing.T) {
	a := newTestArbiter(WithPresenceCheck(func(string) bool { return false }))

	turn, ok := a.AssignNext(testStart)
	assert.False(t, ok)
	assert.Nil(t, turn)
	assert.Nil(t, a.Current(), "arbiter stays idle")
}

func TestSubmitNotYourTurn(t *testing.T) {
	a := newTestArbiter()
	_, ok := a.AssignNext(testStart)
	require.True(t, ok)

	_, err := a.Submit(testStart.Add(time.Second), "user-b", "out of turn")
	assert.ErrorIs(t, err, ErrNotYourTurn)

	// session state unchanged: holder can still submit
	_, err = a.Submit(testStart.Add(2*time.Second), "user-a", "in turn")
	assert.NoError(t, err)
}

func TestSubmitEmptyContent(t *testing.T) {
	a := newTestArbiter()
	a.AssignNext(testStart)

	_, err := a.Submit(testStart.Add(time.Second), "user-a", "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestSubmitWhileIdle(t *testing.T) {
	a := newTestArbiter()

	_, err := a.Submit(testStart, "user-a", "nobody asked")
	assert.ErrorIs(t, err, ErrNoActiveTurn)
}

func TestSubmitAppendsHashLinkedSegment(t *testing.T) {
	a := newTestArbiter()
	a.AssignNext(testStart)

	first, err := a.Submit(testStart.Add(time.Minute), "user-a", "Hello")
	require.NoError(t, err)

	expected := chain.ComputeHash("Hello", "", "user-a", testStart.Add(time.Minute))
	assert.Equal(t, expected, first.Segment.Hash)
	assert.Equal(t, "", first.Segment.PrevHash)
	assert.Equal(t, 1, a.Contributions("user-a"))
	require.NotNil(t, first.Next)
	assert.Equal(t, "user-b", first.Next.HolderID)

	second, err := a.Submit(testStart.Add(2*time.Minute), "user-b", "again")
	require.NoError(t, err)
	assert.Equal(t, first.Segment.Hash, second.Segment.PrevHash)

	require.NoError(t, a.Ledger().Verify())
}

func TestSubmitAfterDeadlineRejected(t *testing.T) {
	a := newTestArbiter()
	a.AssignNext(testStart)

	late := testStart.Add(5*time.Minute + time.Second)
	_, err := a.Submit(late, "user-a", "too late")

	assert.ErrorIs(t, err, ErrTurnExpired)
	assert.Equal(t, 0, a.Ledger().Len(), "no segment appended")
}

func TestTickDistortionRamp(t *testing.T) {
	a := newTestArbiter()
	a.AssignNext(testStart)

	// plenty of time left: no distortion
	result := a.Tick(testStart.Add(time.Minute))
	assert.True(t, result.Active)
	assert.Zero(t, result.Distortion)

	// exactly at the 30% threshold: still zero
	result = a.Tick(testStart.Add(3*time.Minute + 30*time.Second))
	assert.Zero(t, result.Distortion)

	// 15% remaining: halfway up the ramp
	result = a.Tick(testStart.Add(4*time.Minute + 15*time.Second))
	assert.InDelta(t, 0.5, result.Distortion, 0.01)

	// one second left: near full intensity
	result = a.Tick(testStart.Add(5*time.Minute - time.Second))
	assert.Greater(t, result.Distortion, 0.9)
}

func TestTickTimeoutEliminatesHolder(t *testing.T) {
	a := newTestArbiter()
	a.AssignNext(testStart)

	expiry := testStart.Add(5 * time.Minute)
	result := a.Tick(expiry)

	assert.True(t, result.TimedOut)
	assert.Equal(t, "user-a", result.LostUserID)
	assert.True(t, a.IsLost("user-a"))
	assert.Equal(t, 0, a.Ledger().Len(), "timeout appends nothing")

	require.NotNil(t, result.Next)
	assert.Equal(t, "user-b", result.Next.HolderID)
}

func TestTimeoutEliminationIsPermanent(t *testing.T) {
	a := newTestArbiter()
	a.AssignNext(testStart)

	now := testStart

	// user-a times out
	now = now.Add(5 * time.Minute)
	result := a.Tick(now)
	require.Equal(t, "user-a", result.LostUserID)

	// user-b and user-c submit; the rotation must never return to user-a
	for i, expected := range []string{"user-b", "user-c", "user-b", "user-c"} {
		current := a.Current()
		require.NotNil(t, current, "round %d", i)
		assert.Equal(t, expected, current.HolderID, "round %d", i)

		now = now.Add(time.Minute)
		_, err := a.Submit(now, expected, "verse")
		require.NoError(t, err)
	}
}

func TestAllParticipantsEliminated(t *testing.T) {
	a := newTestArbiter()
	a.AssignNext(testStart)

	now := testStart

	for range 3 {
		now = now.Add(5 * time.Minute)
		a.Tick(now)
	}

	assert.Nil(t, a.Current(), "arbiter idle once everyone is lost")
	assert.Len(t, a.LostSet(), 3)

	_, ok := a.AssignNext(now)
	assert.False(t, ok)
}

func TestTickWhileIdle(t *testing.T) {
	a := newTestArbiter()

	result := a.Tick(testStart)
	assert.False(t, result.Active)
	assert.False(t, result.TimedOut)
}

func TestGhostFragmentInjection(t *testing.T) {
	a := NewArbiter(chain.NewLedger(),
		WithGhostChance(1),
		WithRand(rand.New(rand.NewSource(7))),
	)
	a.SetParticipants([]Participant{{UserID: "user-a", DisplayName: "Annabel"}})

	turn, ok := a.AssignNext(testStart)
	require.True(t, ok)
	require.NotEmpty(t, turn.GhostFragment)

	// a submission that drops the fragment is rejected
	_, err := a.Submit(testStart.Add(time.Minute), "user-a", "my own words entirely")
	assert.ErrorIs(t, err, ErrGhostFragment)

	// carrying the fragment passes
	result, err := a.Submit(testStart.Add(2*time.Minute), "user-a", turn.GhostFragment+" the rest followed.")
	require.NoError(t, err)
	assert.Contains(t, result.Segment.Content, turn.GhostFragment)
}

func TestGhostFragmentProbabilityZero(t *testing.T) {
	a := newTestArbiter()

	for range 10 {
		turn, ok := a.AssignNext(testStart)
		require.True(t, ok)
		assert.Empty(t, turn.GhostFragment)
	}
}

func TestAddParticipantIdempotent(t *testing.T) {
	a := newTestArbiter()

	a.AddParticipant(Participant{UserID: "user-a", DisplayName: "Annabel"})
	a.AddParticipant(Participant{UserID: "user-d", DisplayName: "Dorian"})
	a.AddParticipant(Participant{UserID: "user-d", DisplayName: "Dorian"})

	// walk a full rotation: a, b, c, d
	now := testStart
	a.AssignNext(now)

	for _, expected := range []string{"user-a", "user-b", "user-c", "user-d", "user-a"} {
		current := a.Current()
		require.NotNil(t, current)
		assert.Equal(t, expected, current.HolderID)

		now = now.Add(time.Minute)
		_, err := a.Submit(now, expected, "verse")
		require.NoError(t, err)
	}
}
