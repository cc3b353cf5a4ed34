package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codeberg.org/grimoire/server/internal/logger"
)

// handles Redis-backed buffering for session data
type SessionBuffer struct {
	client *redis.Client
}

// creates a new session buffer with Redis connection
func NewSessionBuffer(redisURL string) (*SessionBuffer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis")

	return &SessionBuffer{client: client}, nil
}

// closes the Redis connection
func (b *SessionBuffer) Close() error {
	return b.client.Close()
}

// stores the current shared document for a session and marks it dirty
func (b *SessionBuffer) SetDocument(ctx context.Context, sessionID, content string) error {
	pipe := b.client.Pipeline()

	docKey := fmt.Sprintf(keySessionDocument, sessionID)
	pipe.Set(ctx, docKey, content, 0)
	pipe.SAdd(ctx, keyDirtySessionsDocument, sessionID)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set document in redis: %w", err)
	}

	return nil
}

// retrieves the current document for a session from Redis
// returns empty string if not found (caller should fall back to Postgres)
func (b *SessionBuffer) GetDocument(ctx context.Context, sessionID string) (string, error) {
	docKey := fmt.Sprintf(keySessionDocument, sessionID)
	content, err := b.client.Get(ctx, docKey).Result()

	if errors.Is(err, redis.Nil) {
		return "", nil // not in redis, caller should check postgres
	}

	if err != nil {
		return "", fmt.Errorf("failed to get document from redis: %w", err)
	}

	return content, nil
}

// appends a chain segment to the session's segment buffer
func (b *SessionBuffer) AddSegment(ctx context.Context, seg *BufferedSegment) error {
	segJSON, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("failed to marshal segment: %w", err)
	}

	pipe := b.client.Pipeline()

	segKey := fmt.Sprintf(keySessionSegments, seg.SessionID)
	pipe.RPush(ctx, segKey, segJSON)
	pipe.SAdd(ctx, keyDirtySessionsSegments, seg.SessionID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add segment to redis: %w", err)
	}

	return nil
}

// returns buffered segments for a session without clearing them,
// in the order they were appended
func (b *SessionBuffer) PeekSegments(ctx context.Context, sessionID string) ([]BufferedSegment, error) {
	segKey := fmt.Sprintf(keySessionSegments, sessionID)

	segJSONs, err := b.client.LRange(ctx, segKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get buffered segments: %w", err)
	}

	segments := make([]BufferedSegment, 0, len(segJSONs))
	for _, segJSON := range segJSONs {
		var seg BufferedSegment
		if err := json.Unmarshal([]byte(segJSON), &seg); err != nil {
			logger.ErrorErr(err, "failed to unmarshal buffered segment", "session_id", sessionID)
			continue
		}
		segments = append(segments, seg)
	}

	return segments, nil
}

// appends a chat message to the session's chat buffer
func (b *SessionBuffer) AddChatMessage(ctx context.Context, msg *BufferedChatMessage) error {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	pipe := b.client.Pipeline()

	chatKey := fmt.Sprintf(keySessionChat, msg.SessionID)
	pipe.RPush(ctx, chatKey, msgJSON)
	pipe.SAdd(ctx, keyDirtySessionsChat, msg.SessionID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add chat message to redis: %w", err)
	}

	return nil
}

// returns all session IDs with unflushed document changes
func (b *SessionBuffer) GetDirtyDocumentSessions(ctx context.Context) ([]string, error) {
	return b.client.SMembers(ctx, keyDirtySessionsDocument).Result()
}

// returns all session IDs with unflushed segments
func (b *SessionBuffer) GetDirtySegmentSessions(ctx context.Context) ([]string, error) {
	return b.client.SMembers(ctx, keyDirtySessionsSegments).Result()
}

// returns all session IDs with unflushed chat messages
func (b *SessionBuffer) GetDirtyChatSessions(ctx context.Context) ([]string, error) {
	return b.client.SMembers(ctx, keyDirtySessionsChat).Result()
}

// retrieves the document for a session and removes it from the dirty set
// (the document itself stays in redis for reads)
func (b *SessionBuffer) FlushDocument(ctx context.Context, sessionID string) (string, error) {
	docKey := fmt.Sprintf(keySessionDocument, sessionID)

	content, err := b.client.Get(ctx, docKey).Result()
	if errors.Is(err, redis.Nil) {
		b.client.SRem(ctx, keyDirtySessionsDocument, sessionID) //nolint:errcheck // best-effort cleanup
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get document for flush: %w", err)
	}

	b.client.SRem(ctx, keyDirtySessionsDocument, sessionID)

	return content, nil
}

// retrieves and clears all buffered segments for a session
func (b *SessionBuffer) FlushSegments(ctx context.Context, sessionID string) ([]BufferedSegment, error) {
	segKey := fmt.Sprintf(keySessionSegments, sessionID)

	segments, err := b.PeekSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		b.client.SRem(ctx, keyDirtySessionsSegments, sessionID)
		return nil, nil
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, segKey)
	pipe.SRem(ctx, keyDirtySessionsSegments, sessionID)
	pipe.Exec(ctx) //nolint:errcheck,gosec // best-effort cleanup, segments already retrieved

	return segments, nil
}

// retrieves and clears all buffered chat messages for a session
func (b *SessionBuffer) FlushChatMessages(ctx context.Context, sessionID string) ([]BufferedChatMessage, error) {
	chatKey := fmt.Sprintf(keySessionChat, sessionID)

	msgJSONs, err := b.client.LRange(ctx, chatKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get chat messages for flush: %w", err)
	}

	if len(msgJSONs) == 0 {
		b.client.SRem(ctx, keyDirtySessionsChat, sessionID)
		return nil, nil
	}

	messages := make([]BufferedChatMessage, 0, len(msgJSONs))
	for _, msgJSON := range msgJSONs {
		var msg BufferedChatMessage
		if err := json.Unmarshal([]byte(msgJSON), &msg); err != nil {
			logger.ErrorErr(err, "failed to unmarshal buffered chat message", "session_id", sessionID)
			continue
		}
		messages = append(messages, msg)
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, chatKey)
	pipe.SRem(ctx, keyDirtySessionsChat, sessionID)
	pipe.Exec(ctx) //nolint:errcheck,gosec // best-effort cleanup, messages already retrieved

	return messages, nil
}

// removes all buffered data for a session (call after session ends)
func (b *SessionBuffer) ClearSession(ctx context.Context, sessionID string) error {
	docKey := fmt.Sprintf(keySessionDocument, sessionID)
	segKey := fmt.Sprintf(keySessionSegments, sessionID)
	chatKey := fmt.Sprintf(keySessionChat, sessionID)

	pipe := b.client.Pipeline()
	pipe.Del(ctx, docKey)
	pipe.Del(ctx, segKey)
	pipe.Del(ctx, chatKey)
	pipe.SRem(ctx, keyDirtySessionsDocument, sessionID)
	pipe.SRem(ctx, keyDirtySessionsSegments, sessionID)
	pipe.SRem(ctx, keyDirtySessionsChat, sessionID)

	_, err := pipe.Exec(ctx)
	return err
}

// returns the underlying Redis client for advanced operations
func (b *SessionBuffer) Client() *redis.Client {
	return b.client
}
