package sessions

import (
	"context"
	"time"
)

// session status constants (must match DB check constraint)
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// writing prompt theme constants
const (
	ThemeReflection = "reflection"
	ThemeMemory     = "memory"
	ThemeCreative   = "creative"
	ThemeOpen       = "open"
)

// session visibility constants
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// collaboration mode constants: either everyone writes into one shared
// document, or authorship is turn-gated and recorded on the segment chain
const (
	ModeFreeform = "freeform"
	ModeChain    = "chain"
)

// session capacity and title bounds
const (
	MinCapacity    = 2
	MaxCapacity    = 8
	MinTitleLength = 3
	MaxTitleLength = 100
)

// how long after activation a newcomer may still join
const LateJoinWindow = 15 * time.Minute

// repository interface for session database operations
type Repository interface {
	// session operations
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetUserSessions(ctx context.Context, userID string) ([]*Session, error)
	ListPublicSessions(ctx context.Context, limit, offset int) ([]*Session, int, error)
	StartSession(ctx context.Context, sessionID string) error
	CompleteSession(ctx context.Context, sessionID string) error
	CancelSession(ctx context.Context, sessionID string) error
	UpdateDocument(ctx context.Context, sessionID, content string) error
	UpdateLastActivity(ctx context.Context, sessionID string) error

	// participant operations
	AddParticipant(ctx context.Context, sessionID, userID, displayName, cursorColor string) (*Participant, error)
	GetParticipant(ctx context.Context, sessionID, userID string) (*Participant, error)
	MarkParticipantLeft(ctx context.Context, sessionID, userID string) error
	ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error)
	CountParticipants(ctx context.Context, sessionID string) (int, error)

	// segment chain operations
	AppendSegment(ctx context.Context, seg *SegmentRecord) (*SegmentRecord, error)
	ListSegments(ctx context.Context, sessionID string) ([]*SegmentRecord, error)
	CountSegments(ctx context.Context, sessionID string) (int, error)

	// chat operations
	AddChatMessage(ctx context.Context, sessionID, userID, displayName, content string) (*ChatMessage, error)
	GetChatMessages(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error)

	// cleanup operations
	ListOverdueScheduled(ctx context.Context, threshold time.Time) ([]*Session, error)
	ListStaleActive(ctx context.Context, threshold time.Time) ([]*Session, error)
}

// represents a collaborative reflection session
type Session struct {
	ID           string     `json:"id"`
	HostUserID   string     `json:"host_user_id"`
	Title        string     `json:"title"`
	Theme        string     `json:"theme"`
	Mode         string     `json:"mode"`
	Visibility   string     `json:"visibility"`
	Status       string     `json:"status"`
	Capacity     int        `json:"capacity"`
	Document     string     `json:"document"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	SegmentCount int        `json:"segment_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
}

// represents a user in a session
type Participant struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	CursorColor string     `json:"cursor_color"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

// represents one hash-linked entry of a session's segment chain
type SegmentRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Position   int       `json:"position"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// represents a chat message in a session
type ChatMessage struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// contains data for creating a session
type CreateSessionRequest struct {
	HostUserID   string    `json:"host_user_id"`
	HostName     string    `json:"host_name"`
	Title        string    `json:"title"`
	Theme        string    `json:"theme"`
	Mode         string    `json:"mode"`
	Visibility   string    `json:"visibility"`
	Capacity     int       `json:"capacity"`
	ScheduledFor time.Time `json:"scheduled_for"`
}
