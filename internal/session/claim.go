package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"gridclaim/internal/cache"
	"gridclaim/internal/store"
)

// ClaimResult reports a committed claim.
type ClaimResult struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Ordinal    int64  `json:"ordinal"`
	CellsOwned int    `json:"cellsOwned"`
	BoardFull  bool   `json:"boardFull"`
}

// Claim validates and commits one cell claim. Preconditions are checked in
// a fixed order, first failure wins: session exists, status active, caller
// is an active participant, coordinates in range, cell empty. The whole
// read-check-write sequence, including the cache mirror round-trip, runs
// under the session lock, so two concurrent claims on one cell can never
// both succeed.
func (c *Coordinator) Claim(ctx context.Context, sessionID, userID string, x, y int) (*ClaimResult, error) {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	switch rt.status {
	case StatusWaiting:
		rt.mu.Unlock()
		return nil, ErrSessionNotActive
	case StatusEnded, StatusCancelled:
		rt.mu.Unlock()
		return nil, ErrSessionOver
	}
	p := rt.findParticipantLocked(userID)
	if p == nil {
		rt.mu.Unlock()
		return nil, ErrNotParticipant
	}
	if !p.isActive {
		rt.mu.Unlock()
		return nil, ErrParticipantInactive
	}
	if err := rt.board.Claim(x, y, userID); err != nil {
		rt.mu.Unlock()
		return nil, err
	}

	p.cellsOwned++
	expect := rt.moveCount
	rt.moveCount++
	result := &ClaimResult{
		SessionID:  sessionID,
		UserID:     userID,
		X:          x,
		Y:          y,
		Ordinal:    rt.moveCount,
		CellsOwned: p.cellsOwned,
		BoardFull:  rt.board.Full(),
	}
	c.mirrorCellLocked(ctx, rt, x, y, userID, expect)

	participant := c.participantRecordLocked(rt, p)
	c.broadcast(sessionID, "cellClaimed", result)

	var outcome *endOutcome
	if result.BoardFull {
		outcome = c.finishLocked(rt, "", "boardFull")
	}
	rt.mu.Unlock()

	_ = c.store.AppendMove(ctx, store.Move{
		ID:        store.NewID(),
		SessionID: sessionID,
		UserID:    userID,
		Ordinal:   int(result.Ordinal),
		X:         x,
		Y:         y,
	})
	_ = c.store.UpdateParticipant(ctx, participant)
	if outcome != nil {
		c.finalizeEnd(ctx, sessionID, outcome)
	}
	return result, nil
}

// mirrorCellLocked writes the cell through to the cache while the session
// lock is held. A version conflict means an out-of-band writer touched the
// mirror; the in-memory board is authoritative, so the mirror is rebuilt.
func (c *Coordinator) mirrorCellLocked(ctx context.Context, rt *sessionRuntime, x, y int, ownerID string, expect int64) {
	if c.boards == nil {
		return
	}
	err := c.boards.SaveCell(ctx, rt.id, x, y, ownerID, expect)
	if err == nil {
		return
	}
	if errors.Is(err, cache.ErrVersionConflict) {
		log.Warn().Str("session_id", rt.id).Msg("board mirror version conflict, rebuilding")
		if err := c.boards.SaveBoard(ctx, rt.id, rt.board.Grid()); err != nil {
			log.Error().Err(err).Str("session_id", rt.id).Msg("board mirror rebuild failed")
		}
		return
	}
	log.Warn().Err(err).Str("session_id", rt.id).Msg("board mirror write failed")
}
