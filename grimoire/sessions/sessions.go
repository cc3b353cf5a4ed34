package sessions

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func scanSessions(rows pgx.Rows) ([]*Session, error) {
	var sessions []*Session

	for rows.Next() {
		var s Session
		err := rows.Scan(
			&s.ID,
			&s.HostUserID,
			&s.Title,
			&s.Theme,
			&s.Mode,
			&s.Visibility,
			&s.Status,
			&s.Capacity,
			&s.Document,
			&s.ScheduledFor,
			&s.StartedAt,
			&s.EndedAt,
			&s.SegmentCount,
			&s.CreatedAt,
			&s.LastActivity,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// creates a new reflection session in the scheduled state
func (r *repository) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	var session Session

	err := r.db.QueryRow(
		ctx,
		queryCreateSession,
		req.HostUserID,
		req.Title,
		req.Theme,
		req.Mode,
		req.Visibility,
		req.Capacity,
		req.ScheduledFor,
	).Scan(
		&session.ID,
		&session.HostUserID,
		&session.Title,
		&session.Theme,
		&session.Mode,
		&session.Visibility,
		&session.Status,
		&session.Capacity,
		&session.Document,
		&session.ScheduledFor,
		&session.StartedAt,
		&session.EndedAt,
		&session.SegmentCount,
		&session.CreatedAt,
		&session.LastActivity,
	)

	if err != nil {
		return nil, err
	}

	return &session, nil
}

// retrieves a session by ID
func (r *repository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session

	err := r.db.QueryRow(ctx, queryGetSession, sessionID).Scan(
		&session.ID,
		&session.HostUserID,
		&session.Title,
		&session.Theme,
		&session.Mode,
		&session.Visibility,
		&session.Status,
		&session.Capacity,
		&session.Document,
		&session.ScheduledFor,
		&session.StartedAt,
		&session.EndedAt,
		&session.SegmentCount,
		&session.CreatedAt,
		&session.LastActivity,
	)

	if err != nil {
		return nil, err
	}

	return &session, nil
}

// retrieves all sessions a user hosts or participates in
func (r *repository) GetUserSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := r.db.Query(ctx, queryGetUserSessions, userID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	return scanSessions(rows)
}

// lists scheduled and active sessions with pagination
func (r *repository) ListPublicSessions(ctx context.Context, limit, offset int) ([]*Session, int, error) {
	var total int

	if err := r.db.QueryRow(ctx, queryCountPublicSessions).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, queryListPublicSessions, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

func (r *repository) StartSession(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, queryStartSession, sessionID)
	return err
}

func (r *repository) CompleteSession(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, queryCompleteSession, sessionID)
	return err
}

func (r *repository) CancelSession(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, queryCancelSession, sessionID)
	return err
}

func (r *repository) UpdateDocument(ctx context.Context, sessionID, content string) error {
	_, err := r.db.Exec(ctx, queryUpdateDocument, content, sessionID)
	return err
}

func (r *repository) UpdateLastActivity(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, queryUpdateLastActivity, sessionID)
	return err
}

// adds a participant, or reactivates them when they rejoin
func (r *repository) AddParticipant(
	ctx context.Context,
	sessionID, userID, displayName, cursorColor string,
) (*Participant, error) {
	var participant Participant

	err := r.db.QueryRow(
		ctx,
		queryAddParticipant,
		sessionID,
		userID,
		displayName,
		cursorColor,
	).Scan(
		&participant.ID,
		&participant.SessionID,
		&participant.UserID,
		&participant.DisplayName,
		&participant.CursorColor,
		&participant.JoinedAt,
		&participant.LeftAt,
	)

	if err != nil {
		return nil, err
	}

	return &participant, nil
}

func (r *repository) GetParticipant(ctx context.Context, sessionID, userID string) (*Participant, error) {
	var participant Participant

	err := r.db.QueryRow(ctx, queryGetParticipant, sessionID, userID).Scan(
		&participant.ID,
		&participant.SessionID,
		&participant.UserID,
		&participant.DisplayName,
		&participant.CursorColor,
		&participant.JoinedAt,
		&participant.LeftAt,
	)

	if err != nil {
		return nil, err
	}

	return &participant, nil
}

func (r *repository) MarkParticipantLeft(ctx context.Context, sessionID, userID string) error {
	_, err := r.db.Exec(ctx, queryMarkParticipantLeft, sessionID, userID)
	return err
}

// retrieves participants ordered by join time
func (r *repository) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	rows, err := r.db.Query(ctx, queryListParticipants, sessionID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	var participants []*Participant

	for rows.Next() {
		var p Participant
		err := rows.Scan(
			&p.ID,
			&p.SessionID,
			&p.UserID,
			&p.DisplayName,
			&p.CursorColor,
			&p.JoinedAt,
			&p.LeftAt,
		)
		if err != nil {
			return nil, err
		}
		participants = append(participants, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return participants, nil
}

// counts participants who have not left
func (r *repository) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int

	if err := r.db.QueryRow(ctx, queryCountParticipants, sessionID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// persists one segment of the hash-linked chain
func (r *repository) AppendSegment(ctx context.Context, seg *SegmentRecord) (*SegmentRecord, error) {
	var stored SegmentRecord

	err := r.db.QueryRow(
		ctx,
		queryAppendSegment,
		seg.ID,
		seg.SessionID,
		seg.Position,
		seg.Content,
		seg.AuthorID,
		seg.AuthorName,
		seg.PrevHash,
		seg.Hash,
		seg.CreatedAt,
	).Scan(
		&stored.ID,
		&stored.SessionID,
		&stored.Position,
		&stored.Content,
		&stored.AuthorID,
		&stored.AuthorName,
		&stored.PrevHash,
		&stored.Hash,
		&stored.CreatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// retrieves the full segment chain in position order
func (r *repository) ListSegments(ctx context.Context, sessionID string) ([]*SegmentRecord, error) {
	rows, err := r.db.Query(ctx, queryListSegments, sessionID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	var segments []*SegmentRecord

	for rows.Next() {
		var s SegmentRecord
		err := rows.Scan(
			&s.ID,
			&s.SessionID,
			&s.Position,
			&s.Content,
			&s.AuthorID,
			&s.AuthorName,
			&s.PrevHash,
			&s.Hash,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		segments = append(segments, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return segments, nil
}

func (r *repository) CountSegments(ctx context.Context, sessionID string) (int, error) {
	var count int

	if err := r.db.QueryRow(ctx, queryCountSegments, sessionID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// adds a chat message to the session
func (r *repository) AddChatMessage(
	ctx context.Context,
	sessionID, userID, displayName, content string,
) (*ChatMessage, error) {
	var message ChatMessage

	err := r.db.QueryRow(
		ctx,
		queryAddChatMessage,
		sessionID,
		userID,
		displayName,
		content,
	).Scan(
		&message.ID,
		&message.SessionID,
		&message.UserID,
		&message.DisplayName,
		&message.Content,
		&message.CreatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &message, nil
}

// retrieves the most recent chat messages in chronological order
func (r *repository) GetChatMessages(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	rows, err := r.db.Query(ctx, queryGetChatMessages, sessionID, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	var messages []*ChatMessage

	for rows.Next() {
		var m ChatMessage
		err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&m.UserID,
			&m.DisplayName,
			&m.Content,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// lists scheduled sessions whose start time passed before the threshold
func (r *repository) ListOverdueScheduled(ctx context.Context, threshold time.Time) ([]*Session, error) {
	rows, err := r.db.Query(ctx, queryListOverdueScheduled, threshold)
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	return scanSessions(rows)
}

// lists active sessions with no activity since the threshold
func (r *repository) ListStaleActive(ctx context.Context, threshold time.Time) ([]*Session, error) {
	rows, err := r.db.Query(ctx, queryListStaleActive, threshold)
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	return scanSessions(rows)
}
