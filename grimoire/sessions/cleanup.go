package sessions

import (
	"context"
	"time"

	"codeberg.org/grimoire/server/internal/logger"
)

// handles automatic expiry of abandoned sessions: scheduled sessions
// nobody ever started get cancelled, active sessions nobody writes in
// get completed
type CleanupService struct {
	repo                Repository
	checkInterval       time.Duration
	startGracePeriod    time.Duration
	inactivityThreshold time.Duration
	sessionEnder        SessionEnderFunc
}

// called to notify WebSocket clients when a session is being cleaned up
type SessionEnderFunc func(sessionID string, reason string)

// creates a new cleanup service
func NewCleanupService(
	repo Repository,
	checkInterval time.Duration,
	startGracePeriod time.Duration,
	inactivityThreshold time.Duration,
	sessionEnder SessionEnderFunc,
) *CleanupService {
	return &CleanupService{
		repo:                repo,
		checkInterval:       checkInterval,
		startGracePeriod:    startGracePeriod,
		inactivityThreshold: inactivityThreshold,
		sessionEnder:        sessionEnder,
	}
}

// begins the cleanup service background loop
func (s *CleanupService) Start(ctx context.Context) {
	logger.Info("starting session cleanup service",
		"check_interval", s.checkInterval,
		"start_grace_period", s.startGracePeriod,
		"inactivity_threshold", s.inactivityThreshold,
	)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("session cleanup service stopped")
			return
		case <-ticker.C:
			s.cancelOverdueSessions(ctx)
			s.completeStaleSessions(ctx)
		}
	}
}

// cancels scheduled sessions whose host never started them
func (s *CleanupService) cancelOverdueSessions(ctx context.Context) {
	threshold := time.Now().Add(-s.startGracePeriod)

	overdue, err := s.repo.ListOverdueScheduled(ctx, threshold)
	if err != nil {
		logger.ErrorErr(err, "failed to list overdue scheduled sessions")
		return
	}

	for _, session := range overdue {
		logger.Info("cancelling overdue scheduled session",
			"session_id", session.ID,
			"title", session.Title,
			"scheduled_for", session.ScheduledFor,
		)

		if s.sessionEnder != nil {
			s.sessionEnder(session.ID, "session was never started")
		}

		if err := s.repo.CancelSession(ctx, session.ID); err != nil {
			logger.ErrorErr(err, "failed to cancel overdue session", "session_id", session.ID)
		}
	}
}

// completes active sessions that have gone silent
func (s *CleanupService) completeStaleSessions(ctx context.Context) {
	threshold := time.Now().Add(-s.inactivityThreshold)

	stale, err := s.repo.ListStaleActive(ctx, threshold)
	if err != nil {
		logger.ErrorErr(err, "failed to list stale active sessions")
		return
	}

	if len(stale) == 0 {
		return
	}

	logger.Info("found stale sessions to clean up", "count", len(stale))

	for _, session := range stale {
		logger.Info("completing stale session",
			"session_id", session.ID,
			"title", session.Title,
			"last_activity", session.LastActivity,
		)

		if s.sessionEnder != nil {
			s.sessionEnder(session.ID, "session expired due to inactivity")
		}

		if err := s.repo.CompleteSession(ctx, session.ID); err != nil {
			logger.ErrorErr(err, "failed to complete stale session",
				"session_id", session.ID,
				"last_activity", session.LastActivity,
			)
		}
	}
}
