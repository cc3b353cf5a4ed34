package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/grimoire/server/grimoire/sessions"
)

var errFakeNotFound = errors.New("not found")

// in-memory stand-in for the Postgres repository
type fakeRepo struct {
	sessions     map[string]*sessions.Session
	participants map[string][]*sessions.Participant
	segments     map[string][]*sessions.SegmentRecord
	nextID       int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:     make(map[string]*sessions.Session),
		participants: make(map[string][]*sessions.Participant),
		segments:     make(map[string][]*sessions.SegmentRecord),
	}
}

func (f *fakeRepo) id() string {
	f.nextID++
	return fmt.Sprintf("id-%d", f.nextID)
}

func (f *fakeRepo) CreateSession(_ context.Context, req *sessions.CreateSessionRequest) (*sessions.Session, error) {
	s := &sessions.Session{
		ID:           f.id(),
		HostUserID:   req.HostUserID,
		Title:        req.Title,
		Theme:        req.Theme,
		Mode:         req.Mode,
		Visibility:   req.Visibility,
		Status:       sessions.StatusScheduled,
		Capacity:     req.Capacity,
		ScheduledFor: req.ScheduledFor,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeRepo) GetSession(_ context.Context, sessionID string) (*sessions.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, errFakeNotFound
	}
	return s, nil
}

func (f *fakeRepo) GetUserSessions(_ context.Context, userID string) ([]*sessions.Session, error) {
	var out []*sessions.Session
	for _, s := range f.sessions {
		if s.HostUserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListPublicSessions(_ context.Context, _, _ int) ([]*sessions.Session, int, error) {
	var out []*sessions.Session
	for _, s := range f.sessions {
		if s.Status == sessions.StatusScheduled || s.Status == sessions.StatusActive {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (f *fakeRepo) StartSession(_ context.Context, sessionID string) error {
	s, ok := f.sessions[sessionID]
	if !ok {
		return errFakeNotFound
	}
	if s.Status == sessions.StatusScheduled {
		now := time.Now()
		s.Status = sessions.StatusActive
		s.StartedAt = &now
	}
	return nil
}

func (f *fakeRepo) CompleteSession(_ context.Context, sessionID string) error {
	s, ok := f.sessions[sessionID]
	if !ok {
		return errFakeNotFound
	}
	if s.Status == sessions.StatusActive {
		now := time.Now()
		s.Status = sessions.StatusCompleted
		s.EndedAt = &now
		s.SegmentCount = len(f.segments[sessionID])
	}
	return nil
}

func (f *fakeRepo) CancelSession(_ context.Context, sessionID string) error {
	s, ok := f.sessions[sessionID]
	if !ok {
		return errFakeNotFound
	}
	if s.Status == sessions.StatusScheduled {
		now := time.Now()
		s.Status = sessions.StatusCancelled
		s.EndedAt = &now
	}
	return nil
}

func (f *fakeRepo) UpdateDocument(_ context.Context, sessionID, content string) error {
	s, ok := f.sessions[sessionID]
	if !ok {
		return errFakeNotFound
	}
	s.Document = content
	return nil
}

func (f *fakeRepo) UpdateLastActivity(_ context.Context, sessionID string) error {
	return nil
}

func (f *fakeRepo) AddParticipant(_ context.Context, sessionID, userID, displayName, cursorColor string) (*sessions.Participant, error) {
	for _, p := range f.participants[sessionID] {
		if p.UserID == userID {
			p.LeftAt = nil
			p.DisplayName = displayName
			return p, nil
		}
	}
	p := &sessions.Participant{
		ID:          f.id(),
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		CursorColor: cursorColor,
		JoinedAt:    time.Now(),
	}
	f.participants[sessionID] = append(f.participants[sessionID], p)
	return p, nil
}

func (f *fakeRepo) GetParticipant(_ context.Context, sessionID, userID string) (*sessions.Participant, error) {
	for _, p := range f.participants[sessionID] {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, errFakeNotFound
}

func (f *fakeRepo) MarkParticipantLeft(_ context.Context, sessionID, userID string) error {
	for _, p := range f.participants[sessionID] {
		if p.UserID == userID && p.LeftAt == nil {
			now := time.Now()
			p.LeftAt = &now
		}
	}
	return nil
}

func (f *fakeRepo) ListParticipants(_ context.Context, sessionID string) ([]*sessions.Participant, error) {
	return f.participants[sessionID], nil
}

func (f *fakeRepo) CountParticipants(_ context.Context, sessionID string) (int, error) {
	count := 0
	for _, p := range f.participants[sessionID] {
		if p.LeftAt == nil {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) AppendSegment(_ context.Context, seg *sessions.SegmentRecord) (*sessions.SegmentRecord, error) {
	f.segments[seg.SessionID] = append(f.segments[seg.SessionID], seg)
	return seg, nil
}

func (f *fakeRepo) ListSegments(_ context.Context, sessionID string) ([]*sessions.SegmentRecord, error) {
	return f.segments[sessionID], nil
}

func (f *fakeRepo) CountSegments(_ context.Context, sessionID string) (int, error) {
	return len(f.segments[sessionID]), nil
}

func (f *fakeRepo) AddChatMessage(_ context.Context, sessionID, userID, displayName, content string) (*sessions.ChatMessage, error) {
	return &sessions.ChatMessage{
		ID:          f.id(),
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   time.Now(),
	}, nil
}

func (f *fakeRepo) GetChatMessages(_ context.Context, _ string, _ int) ([]*sessions.ChatMessage, error) {
	return nil, nil
}

func (f *fakeRepo) ListOverdueScheduled(_ context.Context, _ time.Time) ([]*sessions.Session, error) {
	return nil, nil
}

func (f *fakeRepo) ListStaleActive(_ context.Context, _ time.Time) ([]*sessions.Session, error) {
	return nil, nil
}

func newTestManager() (*Manager, *fakeRepo) {
	repo := newFakeRepo()
	return NewManager(repo), repo
}

func TestCreateSeatsHost(t *testing.T) {
	m, repo := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	assert.Equal(t, sessions.StatusScheduled, session.Status)
	assert.Equal(t, sessions.ThemeReflection, session.Theme, "empty theme falls back to default")
	assert.Equal(t, sessions.ModeChain, session.Mode, "turn-gated writing is the default mode")
	assert.Equal(t, sessions.VisibilityPublic, session.Visibility, "sessions are public unless asked otherwise")

	count, _ := repo.CountParticipants(ctx, session.ID)
	assert.Equal(t, 1, count, "host occupies the first seat")

	host, err := repo.GetParticipant(ctx, session.ID, "host-1")
	require.NoError(t, err)
	assert.Equal(t, CursorColor(0), host.CursorColor)
}

func TestCreateValidation(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	_, err := m.Create(ctx, "host-1", "Lenore", "ab", "", "", "", 4, time.Time{}, now)
	assert.ErrorIs(t, err, ErrTitleLength)

	_, err = m.Create(ctx, "host-1", "Lenore", "   ab   ", "", "", "", 4, time.Time{}, now)
	assert.ErrorIs(t, err, ErrTitleLength, "surrounding whitespace does not count")

	_, err = m.Create(ctx, "host-1", "Lenore", "A valid title", "", "", "", 1, time.Time{}, now)
	assert.ErrorIs(t, err, ErrCapacity)

	_, err = m.Create(ctx, "host-1", "Lenore", "A valid title", "", "", "", 9, time.Time{}, now)
	assert.ErrorIs(t, err, ErrCapacity)

	_, err = m.Create(ctx, "host-1", "Lenore", "A valid title", "disco", "", "", 4, time.Time{}, now)
	assert.ErrorIs(t, err, ErrUnknownTheme)

	_, err = m.Create(ctx, "host-1", "Lenore", "A valid title", "", "duet", "", 4, time.Time{}, now)
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = m.Create(ctx, "host-1", "Lenore", "A valid title", "", "", "unlisted", 4, time.Time{}, now)
	assert.ErrorIs(t, err, ErrUnknownVisibility)
}

func TestJoinIsIdempotent(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	first, err := m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)

	second, err := m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "rejoin returns the existing seat")
}

func TestJoinRespectsCapacity(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 2, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)

	_, err = m.Join(ctx, session.ID, "user-3", "Carmilla", now)
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestJoinLateWindow(t *testing.T) {
	m, repo := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Start(ctx, session.ID, "host-1")
	require.NoError(t, err)

	started, _ := repo.GetSession(ctx, session.ID)
	require.NotNil(t, started.StartedAt)

	// inside the window
	_, err = m.Join(ctx, session.ID, "user-2", "Bram", started.StartedAt.Add(10*time.Minute))
	assert.NoError(t, err)

	// outside the window
	_, err = m.Join(ctx, session.ID, "user-3", "Carmilla", started.StartedAt.Add(16*time.Minute))
	assert.ErrorIs(t, err, ErrLateJoin)
}

func TestJoinRejectedAfterEnd(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Cancel(ctx, session.ID, "host-1")
	require.NoError(t, err)

	_, err = m.Join(ctx, session.ID, "user-2", "Bram", now)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLeaveUnknownSessionIsNoop(t *testing.T) {
	m, _ := newTestManager()
	assert.NoError(t, m.Leave(context.Background(), "nowhere", "user-1"))
}

func TestRejoinAfterLeavingKeepsColor(t *testing.T) {
	m, repo := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	joined, err := m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)

	require.NoError(t, m.Leave(ctx, session.ID, "user-2"))

	back, err := m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)
	assert.Equal(t, joined.CursorColor, back.CursorColor)

	p, _ := repo.GetParticipant(ctx, session.ID, "user-2")
	assert.Nil(t, p.LeftAt)
}

func TestTransitionsAreHostOnly(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)

	_, err = m.Start(ctx, session.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = m.Cancel(ctx, session.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = m.Complete(ctx, session.ID, "user-2")
	assert.ErrorIs(t, err, ErrNotHost)
}

func TestStatusFlowIsMonotonic(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	// cannot complete before starting
	_, err = m.Complete(ctx, session.ID, "host-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	started, err := m.Start(ctx, session.ID, "host-1")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusActive, started.Status)

	// cannot start twice
	_, err = m.Start(ctx, session.ID, "host-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	completed, err := m.Complete(ctx, session.ID, "host-1")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCompleted, completed.Status)

	// terminal states admit nothing further
	_, err = m.Cancel(ctx, session.ID, "host-1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = m.Start(ctx, session.ID, "host-1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteFreezesSegmentCount(t *testing.T) {
	m, repo := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Start(ctx, session.ID, "host-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = repo.AppendSegment(ctx, &sessions.SegmentRecord{
			ID: fmt.Sprintf("seg-%d", i), SessionID: session.ID, Position: i,
		})
		require.NoError(t, err)
	}

	completed, err := m.Complete(ctx, session.ID, "host-1")
	require.NoError(t, err)
	assert.Equal(t, 3, completed.SegmentCount)
}

func TestCursorColorWrapsPalette(t *testing.T) {
	assert.Equal(t, CursorColor(0), CursorColor(8))
	assert.NotEqual(t, CursorColor(0), CursorColor(1))
	assert.Equal(t, CursorColor(0), CursorColor(-3), "negative index clamps to first color")
}

func TestCancelRejectedWhileActive(t *testing.T) {
	m, repo := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Start(ctx, session.ID, "host-1")
	require.NoError(t, err)

	// an active session ends via complete, never cancel
	_, err = m.Cancel(ctx, session.ID, "host-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	current, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusActive, current.Status)
}

func TestRejoinRejectedAfterEnd(t *testing.T) {
	m, repo := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)
	require.NoError(t, m.Leave(ctx, session.ID, "user-2"))

	_, err = m.Start(ctx, session.ID, "host-1")
	require.NoError(t, err)
	_, err = m.Complete(ctx, session.ID, "host-1")
	require.NoError(t, err)

	_, err = m.Join(ctx, session.ID, "user-2", "Bram", now)
	assert.ErrorIs(t, err, ErrInvalidState, "a vacated seat cannot be reclaimed once the session ends")

	seat, err := repo.GetParticipant(ctx, session.ID, "user-2")
	require.NoError(t, err)
	assert.NotNil(t, seat.LeftAt, "the ended session's record stays as it was")

	// the host never left, so their seat is still an idempotent rejoin
	host, err := m.Join(ctx, session.ID, "host-1", "Lenore", now)
	require.NoError(t, err)
	assert.Nil(t, host.LeftAt)
}

func TestRejoinRespectsLateJoinWindow(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	session, err := m.Create(ctx, "host-1", "Lenore", "Midnight reflections", "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)

	_, err = m.Join(ctx, session.ID, "user-2", "Bram", now)
	require.NoError(t, err)

	started, err := m.Start(ctx, session.ID, "host-1")
	require.NoError(t, err)
	require.NoError(t, m.Leave(ctx, session.ID, "user-2"))

	// back inside the window: the original seat comes back
	seat, err := m.Join(ctx, session.ID, "user-2", "Bram", started.StartedAt.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, seat.LeftAt)

	require.NoError(t, m.Leave(ctx, session.ID, "user-2"))

	// too late, same as any newcomer
	_, err = m.Join(ctx, session.ID, "user-2", "Bram", started.StartedAt.Add(16*time.Minute))
	assert.ErrorIs(t, err, ErrLateJoin)
}

func TestCreateTitleBoundsAreRunes(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	// 100 characters, 200 bytes
	long := strings.Repeat("ß", 100)
	session, err := m.Create(ctx, "host-1", "Lenore", long, "", "", "", 4, time.Time{}, now)
	require.NoError(t, err)
	assert.Equal(t, long, session.Title)

	_, err = m.Create(ctx, "host-1", "Lenore", strings.Repeat("ß", 101), "", "", "", 4, time.Time{}, now)
	assert.ErrorIs(t, err, ErrTitleLength)

	_, err = m.Create(ctx, "host-1", "Lenore", "ßß", "", "", "", 4, time.Time{}, now)
	assert.ErrorIs(t, err, ErrTitleLength)
}
