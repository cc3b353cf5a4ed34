package sessions

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"codeberg.org/grimoire/server/api/rest/pagination"
	domain "codeberg.org/grimoire/server/grimoire/sessions"
	"codeberg.org/grimoire/server/internal/auth"
	"codeberg.org/grimoire/server/internal/chain"
	"codeberg.org/grimoire/server/internal/errors"
	"codeberg.org/grimoire/server/internal/lifecycle"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// CreateSessionHandler creates a new reflection session hosted by the caller
func CreateSessionHandler(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "not authenticated")
			return
		}

		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errors.ValidationError(c, err)
			return
		}

		session, err := manager.Create(
			c.Request.Context(),
			userID, auth.GetDisplayName(c),
			req.Title, req.Theme, req.Mode, req.Visibility,
			req.Capacity, req.ScheduledFor,
			time.Now(),
		)
		if err != nil {
			switch err {
			case lifecycle.ErrTitleLength, lifecycle.ErrCapacity, lifecycle.ErrUnknownTheme, lifecycle.ErrUnknownMode, lifecycle.ErrUnknownVisibility:
				errors.BadRequest(c, err.Error(), nil)
			default:
				errors.InternalError(c, "failed to create session", err)
			}
			return
		}

		c.JSON(http.StatusCreated, session)
	}
}

// ListPublicSessionsHandler lists joinable sessions, newest first
func ListPublicSessionsHandler(sessionRepo domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		params := pagination.DefaultParams(limit, offset, defaultPageLimit, maxPageLimit)

		sessionsList, total, err := sessionRepo.ListPublicSessions(c.Request.Context(), params.Limit, params.Offset)
		if err != nil {
			errors.InternalError(c, "failed to list sessions", err)
			return
		}

		c.JSON(http.StatusOK, ListResponse{
			Sessions:   sessionsList,
			Pagination: pagination.NewMeta(params, total),
		})
	}
}

// ListMySessionsHandler lists sessions the caller hosts or participates in
func ListMySessionsHandler(sessionRepo domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "not authenticated")
			return
		}

		sessionsList, err := sessionRepo.GetUserSessions(c.Request.Context(), userID)
		if err != nil {
			errors.InternalError(c, "failed to list sessions", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"sessions": sessionsList})
	}
}

// GetSessionHandler gets a single session by ID
func GetSessionHandler(sessionRepo domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		session, err := sessionRepo.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			errors.SessionNotFound(c)
			return
		}

		c.JSON(http.StatusOK, session)
	}
}

// GetPublicSessionHandler gets a session by ID without auth; private
// sessions are indistinguishable from missing ones here
func GetPublicSessionHandler(sessionRepo domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		session, err := sessionRepo.GetSession(c.Request.Context(), sessionID)
		if err != nil || session.Visibility != domain.VisibilityPublic {
			errors.SessionNotFound(c)
			return
		}

		c.JSON(http.StatusOK, session)
	}
}

// JoinSessionHandler seats the caller in a session. onJoined fires after a
// successful join so a running turn rotation can pick up the newcomer.
func JoinSessionHandler(manager *lifecycle.Manager, onJoined func(sessionID, userID, displayName string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "not authenticated")
			return
		}

		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		participant, err := manager.Join(c.Request.Context(), sessionID, userID, auth.GetDisplayName(c), time.Now())
		if err != nil {
			switch err {
			case lifecycle.ErrNotFound:
				errors.SessionNotFound(c)
			case lifecycle.ErrSessionFull:
				errors.CapacityExceeded(c)
			case lifecycle.ErrLateJoin:
				errors.LateJoin(c)
			case lifecycle.ErrInvalidState:
				errors.InvalidState(c, "session has already ended")
			default:
				errors.InternalError(c, "failed to join session", err)
			}
			return
		}

		if onJoined != nil {
			onJoined(sessionID, participant.UserID, participant.DisplayName)
		}

		c.JSON(http.StatusOK, participant)
	}
}

// LeaveSessionHandler vacates the caller's seat
func LeaveSessionHandler(manager *lifecycle.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "not authenticated")
			return
		}

		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		if err := manager.Leave(c.Request.Context(), sessionID, userID); err != nil {
			errors.InternalError(c, "failed to leave session", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "left session"})
	}
}

// transitionFunc is a host-only lifecycle transition on the manager
type transitionFunc func(manager *lifecycle.Manager, c *gin.Context, sessionID, userID string) (*domain.Session, error)

func transitionHandler(manager *lifecycle.Manager, transition transitionFunc, onSuccess func(session *domain.Session)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "not authenticated")
			return
		}

		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		session, err := transition(manager, c, sessionID, userID)
		if err != nil {
			switch err {
			case lifecycle.ErrNotFound:
				errors.SessionNotFound(c)
			case lifecycle.ErrNotHost:
				errors.Forbidden(c, "only the host may change session state")
			case lifecycle.ErrInvalidState:
				errors.InvalidState(c, "transition not allowed from current status")
			default:
				errors.InternalError(c, "failed to update session", err)
			}
			return
		}

		if onSuccess != nil {
			onSuccess(session)
		}

		c.JSON(http.StatusOK, session)
	}
}

// StartSessionHandler activates a scheduled session. onStarted runs after a
// successful transition (turn arbitration bootstrap, websocket notify).
func StartSessionHandler(manager *lifecycle.Manager, onStarted func(session *domain.Session)) gin.HandlerFunc {
	return transitionHandler(manager, func(m *lifecycle.Manager, c *gin.Context, sessionID, userID string) (*domain.Session, error) {
		return m.Start(c.Request.Context(), sessionID, userID)
	}, onStarted)
}

// CompleteSessionHandler ends an active session, freezing its chain
func CompleteSessionHandler(manager *lifecycle.Manager, onEnded func(session *domain.Session)) gin.HandlerFunc {
	return transitionHandler(manager, func(m *lifecycle.Manager, c *gin.Context, sessionID, userID string) (*domain.Session, error) {
		return m.Complete(c.Request.Context(), sessionID, userID)
	}, onEnded)
}

// CancelSessionHandler abandons a scheduled or active session
func CancelSessionHandler(manager *lifecycle.Manager, onEnded func(session *domain.Session)) gin.HandlerFunc {
	return transitionHandler(manager, func(m *lifecycle.Manager, c *gin.Context, sessionID, userID string) (*domain.Session, error) {
		return m.Cancel(c.Request.Context(), sessionID, userID)
	}, onEnded)
}

// ListParticipantsHandler lists everyone seated in a session, join order
func ListParticipantsHandler(sessionRepo domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		if _, err := sessionRepo.GetSession(c.Request.Context(), sessionID); err != nil {
			errors.SessionNotFound(c)
			return
		}

		participants, err := sessionRepo.ListParticipants(c.Request.Context(), sessionID)
		if err != nil {
			errors.InternalError(c, "failed to list participants", err)
			return
		}

		c.JSON(http.StatusOK, ParticipantsResponse{Participants: participants})
	}
}

// GetChainHandler returns a session's full segment chain in link order
func GetChainHandler(sessionRepo domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		if _, err := sessionRepo.GetSession(c.Request.Context(), sessionID); err != nil {
			errors.SessionNotFound(c)
			return
		}

		segments, err := sessionRepo.ListSegments(c.Request.Context(), sessionID)
		if err != nil {
			errors.InternalError(c, "failed to load segment chain", err)
			return
		}

		c.JSON(http.StatusOK, ChainResponse{Segments: segments, Count: len(segments)})
	}
}

// VerifyChainHandler recomputes every hash in a session's segment chain
// and reports the first broken link, if any
func VerifyChainHandler(sessionRepo domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := errors.ValidatePathUUID(c, "id")
		if !ok {
			return
		}

		if _, err := sessionRepo.GetSession(c.Request.Context(), sessionID); err != nil {
			errors.SessionNotFound(c)
			return
		}

		records, err := sessionRepo.ListSegments(c.Request.Context(), sessionID)
		if err != nil {
			errors.InternalError(c, "failed to load segment chain", err)
			return
		}

		segments := make([]chain.Segment, len(records))
		for i, r := range records {
			segments[i] = chain.Segment{
				ID:         r.ID,
				Content:    r.Content,
				AuthorID:   r.AuthorID,
				AuthorName: r.AuthorName,
				CreatedAt:  r.CreatedAt,
				PrevHash:   r.PrevHash,
				Hash:       r.Hash,
			}
		}

		if err := chain.VerifySegments(segments); err != nil {
			var mismatch *chain.MismatchError
			if stderrors.As(err, &mismatch) {
				c.JSON(http.StatusOK, ChainVerifyResponse{
					Valid:        false,
					SegmentCount: len(segments),
					Code:         errors.CodeHashMismatch,
					Index:        &mismatch.Index,
					SegmentID:    mismatch.SegmentID,
				})
				return
			}
			errors.InternalError(c, "failed to verify segment chain", err)
			return
		}

		c.JSON(http.StatusOK, ChainVerifyResponse{
			Valid:        true,
			SegmentCount: len(segments),
		})
	}
}
