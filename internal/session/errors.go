package session

import (
	"errors"

	"gridclaim/internal/game"
	"gridclaim/internal/store"
)

var (
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrSessionNotWaiting   = errors.New("session_not_waiting")
	ErrSessionNotActive    = errors.New("session_not_active")
	ErrSessionOver         = errors.New("session_over")
	ErrSessionFull         = errors.New("session_full")
	ErrAlreadyJoined       = errors.New("already_joined")
	ErrNotParticipant      = errors.New("not_participant")
	ErrParticipantInactive = errors.New("participant_inactive")
	ErrNotCreator          = errors.New("not_creator")
	ErrNotEnoughPlayers    = errors.New("not_enough_players")
	ErrInvalidText         = errors.New("invalid_text")
	ErrInvalidBoardSize    = errors.New("invalid_board_size")
)

// RejectReason maps an operation error to the wire reason code returned to
// the initiating connection. Reasons are terminal for that call; callers
// may retry with corrected input, never the engine.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, game.ErrCellTaken):
		return "cellTaken"
	case errors.Is(err, game.ErrOutOfRange):
		return "outOfRange"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return "notFound"
	case errors.Is(err, ErrSessionNotWaiting),
		errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrSessionOver):
		return "wrongStatus"
	case errors.Is(err, ErrSessionFull):
		return "sessionFull"
	case errors.Is(err, ErrAlreadyJoined):
		return "alreadyJoined"
	case errors.Is(err, ErrNotParticipant):
		return "notParticipant"
	case errors.Is(err, ErrParticipantInactive):
		return "participantInactive"
	case errors.Is(err, ErrNotCreator):
		return "notCreator"
	case errors.Is(err, ErrNotEnoughPlayers):
		return "notEnoughPlayers"
	case errors.Is(err, ErrInvalidText):
		return "invalidText"
	case errors.Is(err, ErrInvalidBoardSize):
		return "invalidBoardSize"
	default:
		return "internal"
	}
}
