package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"gridclaim/internal/store"
)

// HandleDisconnect is called by the room manager after it has synthesized
// the leave signal for a closed connection with no sibling connection left
// in the room. It schedules the grace timer; a reconnect before the
// deadline cancels it directly on the handle.
func (c *Coordinator) HandleDisconnect(sessionID, userID string) {
	c.mu.Lock()
	rt, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.status != StatusActive {
		return
	}
	p := rt.findParticipantLocked(userID)
	if p == nil || !p.isActive || p.graceTimer != nil {
		return
	}
	deadline := time.Now().Add(c.grace)
	p.graceDeadline = deadline
	p.graceTimer = time.AfterFunc(c.grace, func() {
		c.graceExpired(sessionID, userID)
	})
	log.Info().Str("session_id", sessionID).Str("user_id", userID).
		Time("deadline", deadline).Msg("disconnect grace started")
	c.broadcast(sessionID, "playerDisconnected", map[string]any{
		"sessionId":  sessionID,
		"userId":     userID,
		"graceMs":    c.grace.Milliseconds(),
		"deadlineTs": deadline.UnixMilli(),
	})
}

// Reconnect cancels a pending grace timer and re-confirms the participant
// active. A reconnect strictly before the deadline leaves no observable
// state change other than the reconnect broadcast.
func (c *Coordinator) Reconnect(ctx context.Context, sessionID, userID string) (*Snapshot, error) {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	if rt.status == StatusEnded || rt.status == StatusCancelled {
		rt.mu.Unlock()
		return nil, ErrSessionOver
	}
	p := rt.findParticipantLocked(userID)
	if p == nil {
		rt.mu.Unlock()
		return nil, ErrNotParticipant
	}
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
		p.graceDeadline = time.Time{}
	}
	changed := !p.isActive
	p.isActive = true
	participant := c.participantRecordLocked(rt, p)
	snap := rt.snapshotLocked()
	c.broadcast(sessionID, "playerReconnected", map[string]any{
		"sessionId": sessionID,
		"userId":    userID,
	})
	rt.mu.Unlock()

	if changed {
		_ = c.store.UpdateParticipant(ctx, participant)
	}
	return snap, nil
}

// Forfeit marks the caller inactive immediately, no grace, and runs the
// same remaining-active-count resolution as a grace expiry.
func (c *Coordinator) Forfeit(ctx context.Context, sessionID, userID string) error {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	switch rt.status {
	case StatusWaiting:
		rt.mu.Unlock()
		return ErrSessionNotActive
	case StatusEnded, StatusCancelled:
		rt.mu.Unlock()
		return ErrSessionOver
	}
	p := rt.findParticipantLocked(userID)
	if p == nil {
		rt.mu.Unlock()
		return ErrNotParticipant
	}
	if !p.isActive {
		rt.mu.Unlock()
		return ErrParticipantInactive
	}
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
		p.graceDeadline = time.Time{}
	}
	p.isActive = false
	participant := c.participantRecordLocked(rt, p)
	c.broadcast(sessionID, "playerInactive", map[string]any{
		"sessionId": sessionID,
		"userId":    userID,
		"reason":    "forfeit",
	})
	outcome := c.resolveRemainingLocked(rt)
	rt.mu.Unlock()

	_ = c.store.UpdateParticipant(ctx, participant)
	if outcome != nil {
		c.finalizeEnd(ctx, sessionID, outcome)
	}
	return nil
}

// graceExpired fires when a disconnect grace deadline passes without a
// reconnect. An expiry can itself drop the active count to one and trigger
// the forfeit end path.
func (c *Coordinator) graceExpired(sessionID, userID string) {
	ctx := context.Background()

	c.mu.Lock()
	rt, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	p := rt.findParticipantLocked(userID)
	if p == nil {
		rt.mu.Unlock()
		return
	}
	p.graceTimer = nil
	p.graceDeadline = time.Time{}
	if rt.status != StatusActive || !p.isActive {
		rt.mu.Unlock()
		return
	}
	p.isActive = false
	participant := c.participantRecordLocked(rt, p)
	log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("disconnect grace expired")
	c.broadcast(sessionID, "playerInactive", map[string]any{
		"sessionId": sessionID,
		"userId":    userID,
		"reason":    "disconnectTimeout",
	})
	outcome := c.resolveRemainingLocked(rt)
	rt.mu.Unlock()

	_ = c.store.UpdateParticipant(ctx, participant)
	if outcome != nil {
		c.finalizeEnd(ctx, sessionID, outcome)
	}
}

// resolveRemainingLocked ends the session by forfeit when exactly one
// active participant remains. Zero remaining active players is left as-is;
// no transition is defined for that case.
func (c *Coordinator) resolveRemainingLocked(rt *sessionRuntime) *endOutcome {
	if rt.status != StatusActive || rt.activeCountLocked() != 1 {
		return nil
	}
	var winnerID string
	for _, p := range rt.participants {
		if p.isActive {
			winnerID = p.userID
			break
		}
	}
	return c.finishLocked(rt, winnerID, "forfeit")
}

type endOutcome struct {
	winnerID     string
	reason       string
	participants []store.Participant
	userIDs      []string
}

// finishLocked moves the session to its terminal ended state. With no
// pre-assigned winner the participant with the most cells wins; equal
// scores resolve by join order (first to reach the count). Board and
// winner are immutable afterwards.
func (c *Coordinator) finishLocked(rt *sessionRuntime, winnerID, reason string) *endOutcome {
	if rt.status == StatusEnded || rt.status == StatusCancelled {
		return nil
	}
	if winnerID == "" {
		best := -1
		for _, p := range rt.participants {
			if p.cellsOwned > best {
				best = p.cellsOwned
				winnerID = p.userID
			}
		}
	}
	rt.status = StatusEnded
	rt.winnerID = winnerID
	c.stopGraceTimersLocked(rt)

	outcome := &endOutcome{winnerID: winnerID, reason: reason}
	scores := make([]map[string]any, 0, len(rt.participants))
	for _, p := range rt.participants {
		scores = append(scores, map[string]any{
			"userId": p.userID,
			"color":  p.color,
			"score":  p.cellsOwned,
		})
		outcome.participants = append(outcome.participants, c.participantRecordLocked(rt, p))
		outcome.userIDs = append(outcome.userIDs, p.userID)
	}
	log.Info().Str("session_id", rt.id).Str("winner_id", winnerID).Str("reason", reason).Msg("session ended")
	c.broadcast(rt.id, "sessionEnded", map[string]any{
		"sessionId": rt.id,
		"winner":    winnerID,
		"scores":    scores,
		"reason":    reason,
	})
	return outcome
}

// finalizeEnd persists the terminal state and mirrors it to the
// notification path, outside the session lock.
func (c *Coordinator) finalizeEnd(ctx context.Context, sessionID string, outcome *endOutcome) {
	if err := c.store.UpdateSessionStatus(ctx, sessionID, StatusEnded, outcome.winnerID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("persist session end failed")
	}
	for _, p := range outcome.participants {
		_ = c.store.UpdateParticipant(ctx, p)
	}
	for _, userID := range outcome.userIDs {
		c.notifyUser(ctx, userID, "sessionEnded", map[string]any{
			"sessionId": sessionID,
			"winner":    outcome.winnerID,
			"reason":    outcome.reason,
		})
	}
}
