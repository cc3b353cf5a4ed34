package buffer

import (
	"context"
	"sync"
	"time"

	"codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/logger"
)

// handles periodic flushing of buffered data from Redis to Postgres
type Flusher struct {
	buffer      *SessionBuffer
	sessionRepo sessions.Repository
	interval    time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// creates a new flusher that periodically flushes Redis to Postgres
func NewFlusher(buffer *SessionBuffer, sessionRepo sessions.Repository, interval time.Duration) *Flusher {
	return &Flusher{
		buffer:      buffer,
		sessionRepo: sessionRepo,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// begins the background flush loop
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	logger.Info("buffer flusher started", "interval", f.interval.String())
}

// gracefully stops the flusher and flushes any remaining data
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	logger.Info("buffer flusher stopped")
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.stopCh:
			// final flush before stopping
			logger.Info("flushing remaining buffer data before shutdown")
			f.flush()
			return
		}
	}
}

func (f *Flusher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	f.flushDocuments(ctx)
	f.flushSegments(ctx)
	f.flushChat(ctx)
}

func (f *Flusher) flushDocuments(ctx context.Context) {
	sessionIDs, err := f.buffer.GetDirtyDocumentSessions(ctx)
	if err != nil {
		logger.ErrorErr(err, "failed to get dirty document sessions")
		return
	}

	if len(sessionIDs) == 0 {
		return
	}

	logger.Debug("flushing documents for sessions", "count", len(sessionIDs))

	for _, sessionID := range sessionIDs {
		content, err := f.buffer.FlushDocument(ctx, sessionID)
		if err != nil {
			logger.ErrorErr(err, "failed to flush document from buffer", "session_id", sessionID)
			continue
		}

		if content == "" {
			continue
		}

		if err := f.sessionRepo.UpdateDocument(ctx, sessionID, content); err != nil {
			logger.ErrorErr(err, "failed to persist document to postgres", "session_id", sessionID)
			// re-add to dirty set so we retry next flush
			f.buffer.SetDocument(ctx, sessionID, content) //nolint:errcheck,gosec // best-effort retry
		} else {
			logger.Debug("flushed document to postgres", "session_id", sessionID)
		}
	}
}

func (f *Flusher) flushSegments(ctx context.Context) {
	sessionIDs, err := f.buffer.GetDirtySegmentSessions(ctx)
	if err != nil {
		logger.ErrorErr(err, "failed to get dirty segment sessions")
		return
	}

	if len(sessionIDs) == 0 {
		return
	}

	logger.Debug("flushing segments for sessions", "count", len(sessionIDs))

	for _, sessionID := range sessionIDs {
		segments, err := f.buffer.FlushSegments(ctx, sessionID)
		if err != nil {
			logger.ErrorErr(err, "failed to flush segments from buffer", "session_id", sessionID)
			continue
		}

		// segments must land in chain order; stop at the first failure
		// and re-buffer the remainder so the link order survives
		for i, seg := range segments {
			_, err := f.sessionRepo.AppendSegment(ctx, &sessions.SegmentRecord{
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
			if err != nil {
				logger.ErrorErr(err, "failed to persist segment to postgres",
					"session_id", seg.SessionID,
					"position", seg.Position,
				)
				for j := i; j < len(segments); j++ {
					f.buffer.AddSegment(ctx, &segments[j]) //nolint:errcheck,gosec // best-effort retry
				}
				break
			}
		}
	}
}

func (f *Flusher) flushChat(ctx context.Context) {
	sessionIDs, err := f.buffer.GetDirtyChatSessions(ctx)
	if err != nil {
		logger.ErrorErr(err, "failed to get dirty chat sessions")
		return
	}

	if len(sessionIDs) == 0 {
		return
	}

	logger.Debug("flushing chat messages for sessions", "count", len(sessionIDs))

	for _, sessionID := range sessionIDs {
		messages, err := f.buffer.FlushChatMessages(ctx, sessionID)
		if err != nil {
			logger.ErrorErr(err, "failed to flush chat messages from buffer", "session_id", sessionID)
			continue
		}

		for _, msg := range messages {
			_, err := f.sessionRepo.AddChatMessage(ctx, msg.SessionID, msg.UserID, msg.DisplayName, msg.Content)
			if err != nil {
				logger.ErrorErr(err, "failed to persist chat message to postgres",
					"session_id", msg.SessionID,
				)
				// re-add failed message to buffer
				f.buffer.AddChatMessage(ctx, &msg) //nolint:errcheck,gosec // best-effort retry
			}
		}
	}
}

// immediately flushes all data for a specific session
func (f *Flusher) FlushSession(ctx context.Context, sessionID string) error {
	content, err := f.buffer.FlushDocument(ctx, sessionID)
	if err != nil {
		return err
	}

	if content != "" {
		if err := f.sessionRepo.UpdateDocument(ctx, sessionID, content); err != nil {
			logger.ErrorErr(err, "failed to persist document on session flush", "session_id", sessionID)
		}
	}

	segments, err := f.buffer.FlushSegments(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, seg := range segments {
		_, err := f.sessionRepo.AppendSegment(ctx, &sessions.SegmentRecord{
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
		if err != nil {
			logger.ErrorErr(err, "failed to persist segment on session flush",
				"session_id", seg.SessionID,
				"position", seg.Position,
			)
		}
	}

	messages, err := f.buffer.FlushChatMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		_, err := f.sessionRepo.AddChatMessage(ctx, msg.SessionID, msg.UserID, msg.DisplayName, msg.Content)
		if err != nil {
			logger.ErrorErr(err, "failed to persist chat message on session flush",
				"session_id", msg.SessionID,
			)
		}
	}

	return nil
}
