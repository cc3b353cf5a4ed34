package seance

import "errors"

var (
	ErrNoActiveTurn  = errors.New("no turn is currently active")
	ErrNotYourTurn   = errors.New("it is not your turn")
	ErrEmptyContent  = errors.New("segment content cannot be empty")
	ErrTurnExpired   = errors.New("the turn deadline has passed")
	ErrGhostFragment = errors.New("segment must carry the ghost fragment")
)
