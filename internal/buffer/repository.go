package buffer

import (
	"context"
	"time"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/logger"
)

// wraps a sessions.Repository with Redis buffering
// write-heavy operations go to Redis first, reads fall through to Postgres
type BufferedRepository struct {
	db     sessions.Repository
	buffer *SessionBuffer
}

// creates a new buffered repository wrapper
func NewBufferedRepository(db sessions.Repository, buffer *SessionBuffer) *BufferedRepository {
	return &BufferedRepository{
		db:     db,
		buffer: buffer,
	}
}

// === BUFFERED WRITE OPERATIONS ===

// writes to Redis buffer instead of Postgres
func (r *BufferedRepository) UpdateDocument(ctx context.Context, sessionID, content string) error {
	if err := r.buffer.SetDocument(ctx, sessionID, content); err != nil {
		logger.ErrorErr(err, "failed to buffer document", "session_id", sessionID)
		// fall back to direct DB write
		return r.db.UpdateDocument(ctx, sessionID, content)
	}
	return nil
}

// buffers a chain segment instead of writing it to Postgres directly
func (r *BufferedRepository) AppendSegment(ctx context.Context, seg *sessions.SegmentRecord) (*sessions.SegmentRecord, error) {
	buffered := &BufferedSegment{
		ID:         seg.ID,
		SessionID:  seg.SessionID,
		Position:   seg.Position,
		Content:    seg.Content,
		AuthorID:   seg.AuthorID,
		AuthorName: seg.AuthorName,
		PrevHash:   seg.PrevHash,
		Hash:       seg.Hash,
		CreatedAt:  seg.CreatedAt,
	}

	if err := r.buffer.AddSegment(ctx, buffered); err != nil {
		logger.ErrorErr(err, "failed to buffer segment", "session_id", seg.SessionID)
		// fall back to direct DB write
		return r.db.AppendSegment(ctx, seg)
	}

	return seg, nil
}

// buffers a chat message instead of writing it to Postgres directly
func (r *BufferedRepository) AddChatMessage(
	ctx context.Context,
	sessionID, userID, displayName, content string,
) (*sessions.ChatMessage, error) {
	msg := &BufferedChatMessage{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   time.Now(),
	}

	if err := r.buffer.AddChatMessage(ctx, msg); err != nil {
		logger.ErrorErr(err, "failed to buffer chat message", "session_id", sessionID)
		// fall back to direct DB write
		return r.db.AddChatMessage(ctx, sessionID, userID, displayName, content)
	}

	// return a placeholder message (real one will be created on flush)
	return &sessions.ChatMessage{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   msg.CreatedAt,
	}, nil
}

// === BUFFER-AWARE READ OPERATIONS ===

func (r *BufferedRepository) GetSession(ctx context.Context, sessionID string) (*sessions.Session, error) {
	session, err := r.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// check Redis for a fresher document (may not have been flushed yet)
	if content, err := r.buffer.GetDocument(ctx, sessionID); err == nil && content != "" {
		session.Document = content
	}

	return session, nil
}

// returns persisted segments followed by any not yet flushed, so the
// chain a reader verifies always includes the newest links
func (r *BufferedRepository) ListSegments(ctx context.Context, sessionID string) ([]*sessions.SegmentRecord, error) {
	segments, err := r.db.ListSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	pending, err := r.buffer.PeekSegments(ctx, sessionID)
	if err != nil {
		logger.ErrorErr(err, "failed to read buffered segments", "session_id", sessionID)
		return segments, nil
	}

	for i := range pending {
		seg := pending[i]
		segments = append(segments, &sessions.SegmentRecord{
			ID:         seg.ID,
			SessionID:  seg.SessionID,
			Position:   seg.Position,
			Content:    seg.Content,
			AuthorID:   seg.AuthorID,
			AuthorName: seg.AuthorName,
			PrevHash:   seg.PrevHash,
			Hash:       seg.Hash,
			CreatedAt:  seg.CreatedAt,
		})
	}

	return segments, nil
}

func (r *BufferedRepository) CountSegments(ctx context.Context, sessionID string) (int, error) {
	count, err := r.db.CountSegments(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	pending, err := r.buffer.PeekSegments(ctx, sessionID)
	if err != nil {
		return count, nil
	}

	return count + len(pending), nil
}

// === PASS-THROUGH OPERATIONS (no buffering needed) ===

func (r *BufferedRepository) CreateSession(ctx context.Context, req *sessions.CreateSessionRequest) (*sessions.Session, error) {
	return r.db.CreateSession(ctx, req)
}

func (r *BufferedRepository) GetUserSessions(ctx context.Context, userID string) ([]*sessions.Session, error) {
	return r.db.GetUserSessions(ctx, userID)
}

func (r *BufferedRepository) ListPublicSessions(ctx context.Context, limit, offset int) ([]*sessions.Session, int, error) {
	return r.db.ListPublicSessions(ctx, limit, offset)
}

func (r *BufferedRepository) StartSession(ctx context.Context, sessionID string) error {
	return r.db.StartSession(ctx, sessionID)
}

func (r *BufferedRepository) CompleteSession(ctx context.Context, sessionID string) error {
	return r.db.CompleteSession(ctx, sessionID)
}

func (r *BufferedRepository) CancelSession(ctx context.Context, sessionID string) error {
	return r.db.CancelSession(ctx, sessionID)
}

func (r *BufferedRepository) UpdateLastActivity(ctx context.Context, sessionID string) error {
	return r.db.UpdateLastActivity(ctx, sessionID)
}

func (r *BufferedRepository) AddParticipant(ctx context.Context, sessionID, userID, displayName, cursorColor string) (*sessions.Participant, error) {
	return r.db.AddParticipant(ctx, sessionID, userID, displayName, cursorColor)
}

func (r *BufferedRepository) GetParticipant(ctx context.Context, sessionID, userID string) (*sessions.Participant, error) {
	return r.db.GetParticipant(ctx, sessionID, userID)
}

func (r *BufferedRepository) MarkParticipantLeft(ctx context.Context, sessionID, userID string) error {
	return r.db.MarkParticipantLeft(ctx, sessionID, userID)
}

func (r *BufferedRepository) ListParticipants(ctx context.Context, sessionID string) ([]*sessions.Participant, error) {
	return r.db.ListParticipants(ctx, sessionID)
}

func (r *BufferedRepository) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	return r.db.CountParticipants(ctx, sessionID)
}

func (r *BufferedRepository) GetChatMessages(ctx context.Context, sessionID string, limit int) ([]*sessions.ChatMessage, error) {
	return r.db.GetChatMessages(ctx, sessionID, limit)
}

func (r *BufferedRepository) ListOverdueScheduled(ctx context.Context, threshold time.Time) ([]*sessions.Session, error) {
	return r.db.ListOverdueScheduled(ctx, threshold)
}

func (r *BufferedRepository) ListStaleActive(ctx context.Context, threshold time.Time) ([]*sessions.Session, error) {
	return r.db.ListStaleActive(ctx, threshold)
}
