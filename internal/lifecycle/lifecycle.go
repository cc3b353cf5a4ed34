package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/logger"
)

var (
	ErrTitleLength       = errors.New("title must be between 3 and 100 characters")
	ErrCapacity          = errors.New("capacity must be between 2 and 8")
	ErrUnknownTheme      = errors.New("unknown theme")
	ErrUnknownMode       = errors.New("mode must be freeform or chain")
	ErrUnknownVisibility = errors.New("visibility must be public or private")
	ErrSessionFull       = errors.New("session is at capacity")
	ErrInvalidState      = errors.New("operation not allowed in current session state")
	ErrLateJoin          = errors.New("session started too long ago to join")
	ErrNotHost           = errors.New("only the host may do this")
	ErrNotFound          = errors.New("session not found")
)

// cursor colors assigned to participants in join order
var cursorPalette = []string{
	"#8b0000", // oxblood
	"#4b0082", // indigo
	"#556b2f", // moss
	"#8b4513", // umber
	"#2f4f4f", // slate
	"#800080", // amethyst
	"#b8860b", // tarnished gold
	"#191970", // midnight
}

// CursorColor returns the palette color for the nth participant to join.
func CursorColor(index int) string {
	if index < 0 {
		index = 0
	}
	return cursorPalette[index%len(cursorPalette)]
}

// Manager enforces the session state machine on top of the repository:
// scheduled sessions activate once, active sessions end exactly once as
// completed or cancelled, and nothing moves backwards.
type Manager struct {
	repo sessions.Repository
}

func NewManager(repo sessions.Repository) *Manager {
	return &Manager{repo: repo}
}

// validates and creates a scheduled session, with the host as its first
// participant
func (m *Manager) Create(
	ctx context.Context,
	hostID, hostName, title, theme, mode, visibility string,
	capacity int,
	scheduledFor time.Time,
	now time.Time,
) (*sessions.Session, error) {
	title = strings.TrimSpace(title)
	if n := utf8.RuneCountInString(title); n < sessions.MinTitleLength || n > sessions.MaxTitleLength {
		return nil, ErrTitleLength
	}

	if capacity < sessions.MinCapacity || capacity > sessions.MaxCapacity {
		return nil, ErrCapacity
	}

	if theme == "" {
		theme = sessions.ThemeReflection
	}
	switch theme {
	case sessions.ThemeReflection, sessions.ThemeMemory, sessions.ThemeCreative, sessions.ThemeOpen:
	default:
		return nil, ErrUnknownTheme
	}

	if mode == "" {
		mode = sessions.ModeChain
	}
	switch mode {
	case sessions.ModeFreeform, sessions.ModeChain:
	default:
		return nil, ErrUnknownMode
	}

	if visibility == "" {
		visibility = sessions.VisibilityPublic
	}
	switch visibility {
	case sessions.VisibilityPublic, sessions.VisibilityPrivate:
	default:
		return nil, ErrUnknownVisibility
	}

	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	session, err := m.repo.CreateSession(ctx, &sessions.CreateSessionRequest{
		HostUserID:   hostID,
		HostName:     hostName,
		Title:        title,
		Theme:        theme,
		Mode:         mode,
		Visibility:   visibility,
		Capacity:     capacity,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// the host occupies the first seat
	if _, err := m.repo.AddParticipant(ctx, session.ID, hostID, hostName, CursorColor(0)); err != nil {
		logger.ErrorErr(err, "failed to seat host in new session", "session_id", session.ID)
	}

	logger.Info("session created",
		"session_id", session.ID,
		"host_id", hostID,
		"capacity", capacity,
	)

	return session, nil
}

// Join seats a user in a session. Rejoining is a no-op that returns the
// existing seat; a newcomer may join while the session is scheduled, or
// within the late-join window after it goes active. Reclaiming a vacated
// seat obeys the same status rules as a fresh join.
func (m *Manager) Join(
	ctx context.Context,
	sessionID, userID, displayName string,
	now time.Time,
) (*sessions.Participant, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	// idempotent rejoin for anyone still seated, whatever the status
	var vacated *sessions.Participant
	if existing, err := m.repo.GetParticipant(ctx, sessionID, userID); err == nil {
		if existing.LeftAt == nil {
			return existing, nil
		}
		vacated = existing
	}

	switch session.Status {
	case sessions.StatusScheduled:
		// open to newcomers
	case sessions.StatusActive:
		if session.StartedAt == nil || now.After(session.StartedAt.Add(sessions.LateJoinWindow)) {
			return nil, ErrLateJoin
		}
	default:
		return nil, ErrInvalidState
	}

	// returning after leaving reclaims the original seat
	if vacated != nil {
		return m.repo.AddParticipant(ctx, sessionID, userID, displayName, vacated.CursorColor)
	}

	count, err := m.repo.CountParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}

	if count >= session.Capacity {
		return nil, ErrSessionFull
	}

	participant, err := m.repo.AddParticipant(ctx, sessionID, userID, displayName, CursorColor(count))
	if err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}

	logger.Info("participant joined session",
		"session_id", sessionID,
		"user_id", userID,
	)

	return participant, nil
}

// Leave vacates a user's seat. Leaving a session you never joined is a
// no-op.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) error {
	if _, err := m.repo.GetParticipant(ctx, sessionID, userID); err != nil {
		return nil
	}

	return m.repo.MarkParticipantLeft(ctx, sessionID, userID)
}

// Start activates a scheduled session. Host only.
func (m *Manager) Start(ctx context.Context, sessionID, userID string) (*sessions.Session, error) {
	session, err := m.hostSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if session.Status != sessions.StatusScheduled {
		return nil, ErrInvalidState
	}

	if err := m.repo.StartSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	logger.Info("session started", "session_id", sessionID)

	return m.repo.GetSession(ctx, sessionID)
}

// Complete ends an active session, freezing its segment count. Host only.
func (m *Manager) Complete(ctx context.Context, sessionID, userID string) (*sessions.Session, error) {
	session, err := m.hostSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if session.Status != sessions.StatusActive {
		return nil, ErrInvalidState
	}

	if err := m.repo.CompleteSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}

	logger.Info("session completed", "session_id", sessionID)

	return m.repo.GetSession(ctx, sessionID)
}

// Cancel abandons a session that never started. Host only; once a session
// goes active the only way out is Complete.
func (m *Manager) Cancel(ctx context.Context, sessionID, userID string) (*sessions.Session, error) {
	session, err := m.hostSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if session.Status != sessions.StatusScheduled {
		return nil, ErrInvalidState
	}

	if err := m.repo.CancelSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to cancel session: %w", err)
	}

	logger.Info("session cancelled", "session_id", sessionID)

	return m.repo.GetSession(ctx, sessionID)
}

// fetches a session and verifies the caller hosts it
func (m *Manager) hostSession(ctx context.Context, sessionID, userID string) (*sessions.Session, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	if session.HostUserID != userID {
		return nil, ErrNotHost
	}

	return session, nil
}
