package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// message type constants for websocket communication
const (
	// is sent when a user moves their quill cursor
	TypeCursorUpdate = "cursor_update"

	// is sent when a cursor goes stale and disappears
	TypeCursorRemoved = "cursor_removed"

	// is sent when the turn holder edits the shared document
	TypeDocumentUpdate = "document_update"

	// is sent by clients to signal activity (typing, moving, reading)
	TypePresenceUpdate = "presence_update"

	// is sent by server when anyone's presence record changes
	TypePresenceState = "presence_state"

	// is sent by the turn holder to submit their segment
	TypeTurnSubmit = "turn_submit"

	// is sent by server when the speaking turn passes to someone
	TypeTurnAssigned = "turn_assigned"

	// is sent by server as the turn deadline approaches
	TypeTurnDistortion = "turn_distortion"

	// is sent by server when a holder lets their turn expire
	TypeTurnLost = "turn_lost"

	// is sent by server when a segment joins the chain
	TypeSegmentAppended = "segment_appended"

	// is sent when a user sends a chat message
	TypeChatMessage = "chat_message"

	// is sent when a new user joins the session
	TypeUserJoined = "user_joined"

	// is sent when a user leaves the session
	TypeUserLeft = "user_left"

	// is sent to connecting client with session info
	TypeSessionState = "session_state"

	// is sent when the session ends
	TypeSessionEnded = "session_ended"

	// is sent when an error occurs
	TypeError = "error"

	// is sent by clients to keep the connection alive
	TypePing = "ping"

	// is sent by server in response to ping
	TypePong = "pong"

	// is sent by server before shutdown
	TypeServerShutdown = "server_shutdown"
)

// client connection constants
const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// maximum message size allowed from peer
	maxMessageSize = 256 * 1024 // 256 KB

	// rate limiting constants
	maxDocumentUpdatesPerSecond = 10 // maximum document updates per second
	maxChatMessagesPerMinute    = 20 // maximum chat messages per minute

	// content size limits
	maxDocumentSize    = 100 * 1024 // 100 KB maximum shared document size
	maxSegmentSize     = 10 * 1024  // 10 KB maximum chain segment size
	maxChatMessageSize = 2000       // 2000 characters maximum chat message size
)

// hub connection limit constants
const (
	maxConnectionsPerUser = 5
	maxConnectionsPerIP   = 10
)

// errors
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidMessage    = errors.New("invalid message format")
	ErrClientNotFound    = errors.New("client not found")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrContentTooLarge   = errors.New("content too large")
)

// represents a websocket message with typed payload
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	ClientID  string          `json:"-"` // internal only, not sent to clients
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// contains a cursor position update
type CursorUpdatePayload struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	DisplayName string  `json:"display_name,omitempty"`
	Color       string  `json:"color,omitempty"`
}

// names a cursor that went stale and should disappear
type CursorRemovedPayload struct {
	UserID string `json:"user_id"`
}

// contains a shared document edit
type DocumentUpdatePayload struct {
	Content     string `json:"content"`
	DisplayName string `json:"display_name,omitempty"`
}

// signals client-side activity for presence tracking
type PresenceUpdatePayload struct {
	Activity string `json:"activity,omitempty"` // "typing", "cursor", "heartbeat"
}

// describes one participant's presence
type PresenceEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
	LastSeen    int64  `json:"last_seen"` // unix milliseconds
}

// contains the presence of everyone in the session
type PresenceStatePayload struct {
	Participants []PresenceEntry `json:"participants"`
}

// contains a turn holder's submitted segment text
type TurnSubmitPayload struct {
	Content string `json:"content"`
}

// announces who holds the speaking turn
type TurnAssignedPayload struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	Deadline      int64  `json:"deadline"` // unix milliseconds
	GhostFragment string `json:"ghost_fragment,omitempty"`
}

// carries the visual distortion level as the deadline approaches
type TurnDistortionPayload struct {
	UserID           string  `json:"user_id"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Distortion       float64 `json:"distortion"`
}

// announces that a holder let their turn expire
type TurnLostPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// announces a new link in the session's segment chain
type SegmentAppendedPayload struct {
	SegmentID  string `json:"segment_id"`
	Position   int    `json:"position"`
	Content    string `json:"content"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	PrevHash   string `json:"prev_hash"`
	Hash       string `json:"hash"`
	CreatedAt  int64  `json:"created_at"` // unix milliseconds
}

// contains a chat message from a user
type ChatMessagePayload struct {
	Message     string `json:"message"`
	DisplayName string `json:"display_name,omitempty"`
}

// contains information about a newly joined user
type UserJoinedPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	CursorColor string `json:"cursor_color,omitempty"`
}

// contains information about a user who left
type UserLeftPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// contains session info sent to connecting client
type SessionStatePayload struct {
	Status       string                    `json:"status"`
	Theme        string                    `json:"theme"`
	Mode         string                    `json:"mode"`
	Document     string                    `json:"document"`
	YourColor    string                    `json:"your_color"`
	IsHost       bool                      `json:"is_host"`
	Participants []SessionStateParticipant `json:"participants"`
	Segments     []SegmentAppendedPayload  `json:"segments"`
	ChatHistory  []SessionStateChatMessage `json:"chat_history"`
}

// represents a participant in session_state
type SessionStateParticipant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	CursorColor string `json:"cursor_color,omitempty"`
}

// represents a chat message in the chat history
type SessionStateChatMessage struct {
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"` // unix milliseconds
}

// contains session termination information
type SessionEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// contains information about server shutdown
type ServerShutdownPayload struct {
	Reason string `json:"reason"`
}

// represents a websocket client connection
type Client struct {
	// unique identifier for this client
	ID string

	// session ID this client is connected to
	SessionID string

	// user ID of the authenticated participant
	UserID string

	// display name for this client
	DisplayName string

	// cursor color assigned at join time
	CursorColor string

	// collaboration mode of the session this client sits in
	Mode string

	// whether this client hosts the session
	IsHost bool

	// IP address of the client (for connection tracking)
	IPAddress string

	// initial session state sent on connect
	InitialState *SessionStatePayload

	// websocket connection
	conn *websocket.Conn

	// hub reference for message broadcasting
	hub *Hub

	// buffered channel of outbound messages
	send chan []byte

	// mutex for thread-safe operations
	mu sync.RWMutex

	// flag indicating if client is closed
	closed bool

	// rate limiting: document update timestamps (sliding window)
	documentUpdateTimestamps []time.Time

	// rate limiting: chat message timestamps (sliding window)
	chatMessageTimestamps []time.Time
}

// maintains the set of active clients and broadcasts messages to sessions
type Hub struct {
	// registered clients by session ID and client ID
	sessions map[string]map[string]*Client

	// register requests from clients
	Register chan *Client

	// unregister requests from clients
	Unregister chan *Client

	// broadcast messages to all clients in a session
	Broadcast chan *Message

	// mutex for thread-safe access to sessions
	mu sync.RWMutex

	// message handlers for different message types
	handlers map[string]MessageHandler

	// flag indicating if hub is running
	running bool

	// channel to signal shutdown
	shutdown chan struct{}

	// connection tracking: user ID -> count of connections
	userConnections map[string]int

	// connection tracking: IP address -> count of connections
	ipConnections map[string]int

	// sequence numbers per session for message ordering
	sessionSequences map[string]uint64

	// callback for client disconnect (e.g., flush buffered writes)
	onClientDisconnect func(client *Client)

	// callback after a client is registered and session_state is sent
	onClientRegistered func(client *Client)
}

// processes a specific message type
type MessageHandler func(hub *Hub, client *Client, msg *Message) error
