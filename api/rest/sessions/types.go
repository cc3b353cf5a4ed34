package sessions

import (
	"time"

	"codeberg.org/grimoire/server/api/rest/pagination"
	domain "codeberg.org/grimoire/server/grimoire/sessions"
)

// CreateRequest is the payload for creating a reflection session
type CreateRequest struct {
	Title        string    `json:"title" binding:"required"`
	Theme        string    `json:"theme"`
	Mode         string    `json:"mode"`
	Visibility   string    `json:"visibility"`
	Capacity     int       `json:"capacity" binding:"required"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ListResponse wraps a page of public sessions
type ListResponse struct {
	Sessions   []*domain.Session `json:"sessions"`
	Pagination pagination.Meta   `json:"pagination"`
}

// ParticipantsResponse wraps a session's seated participants
type ParticipantsResponse struct {
	Participants []*domain.Participant `json:"participants"`
}

// ChainResponse wraps a session's full segment chain
type ChainResponse struct {
	Segments []*domain.SegmentRecord `json:"segments"`
	Count    int                     `json:"count"`
}

// ChainVerifyResponse reports the outcome of a chain integrity check
type ChainVerifyResponse struct {
	Valid        bool   `json:"valid"`
	SegmentCount int    `json:"segment_count"`
	Code         string `json:"code,omitempty"`
	Index        *int   `json:"index,omitempty"`
	SegmentID    string `json:"segment_id,omitempty"`
}
