package buffer

import "time"

// represents a chain segment waiting to be flushed to Postgres
type BufferedSegment struct {
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

// represents a chat message waiting to be flushed to Postgres
type BufferedChatMessage struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// redis key patterns
const (
	// seance:{sessionID}:document - stores current shared document as string
	keySessionDocument = "seance:%s:document"

	// seance:{sessionID}:segments - stores chain segments as JSON list
	keySessionSegments = "seance:%s:segments"

	// seance:{sessionID}:chat - stores chat messages as JSON list
	keySessionChat = "seance:%s:chat"

	// dirty_sessions:document - set of session IDs with unflushed document changes
	keyDirtySessionsDocument = "dirty_sessions:document"

	// dirty_sessions:segments - set of session IDs with unflushed segments
	keyDirtySessionsSegments = "dirty_sessions:segments"

	// dirty_sessions:chat - set of session IDs with unflushed chat messages
	keyDirtySessionsChat = "dirty_sessions:chat"
)
