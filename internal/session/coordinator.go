package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gridclaim/internal/cache"
	"gridclaim/internal/game"
	"gridclaim/internal/store"
)

// Coordinator owns every resident session runtime and drives the
// waiting→active→{ended,cancelled} machine. Per-session state is
// serialized through the runtime mutex; the coordinator mutex only guards
// the registry itself.
type Coordinator struct {
	store  DurableStore
	boards BoardCache
	rooms  Broadcaster
	notify Notifier
	grace  time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionRuntime
}

func NewCoordinator(st DurableStore, boards BoardCache, rooms Broadcaster, notify Notifier, grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = defaultDisconnectGrace
	}
	return &Coordinator{
		store:    st,
		boards:   boards,
		rooms:    rooms,
		notify:   notify,
		grace:    grace,
		sessions: map[string]*sessionRuntime{},
	}
}

// Create registers a new waiting session with the creator as its first
// participant and returns the initial snapshot.
func (c *Coordinator) Create(ctx context.Context, creatorID string, boardSize, maxPlayers int) (*Snapshot, error) {
	if boardSize < 2 || boardSize > 32 {
		return nil, ErrInvalidBoardSize
	}
	if maxPlayers < minPlayersToStart {
		maxPlayers = minPlayersToStart
	}
	if maxPlayers > len(colorPalette) {
		maxPlayers = len(colorPalette)
	}
	now := time.Now()
	rt := &sessionRuntime{
		id:         store.NewID(),
		status:     StatusWaiting,
		boardSize:  boardSize,
		maxPlayers: maxPlayers,
		creatorID:  creatorID,
		createdAt:  now,
		board:      game.NewBoard(boardSize),
	}
	rt.participants = append(rt.participants, &participantState{
		userID:   creatorID,
		color:    colorPalette[0],
		isActive: true,
		joinedAt: now,
	})

	c.mu.Lock()
	c.sessions[rt.id] = rt
	c.mu.Unlock()

	if err := c.store.CreateSession(ctx, store.Session{
		ID:         rt.id,
		Status:     rt.status,
		BoardSize:  boardSize,
		MaxPlayers: maxPlayers,
		CreatorID:  creatorID,
	}); err != nil {
		log.Error().Err(err).Str("session_id", rt.id).Msg("persist session failed")
	}
	_ = c.store.AddParticipant(ctx, store.Participant{
		SessionID: rt.id,
		UserID:    creatorID,
		Color:     colorPalette[0],
		IsActive:  true,
	})

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.snapshotLocked(), nil
}

// Join adds userID as a participant of a waiting session. Joining an
// active session the user already belongs to is routed to the reconnect
// path instead.
func (c *Coordinator) Join(ctx context.Context, sessionID, userID string) (*Snapshot, error) {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	switch rt.status {
	case StatusEnded, StatusCancelled:
		rt.mu.Unlock()
		return nil, ErrSessionOver
	case StatusActive:
		if rt.findParticipantLocked(userID) != nil {
			rt.mu.Unlock()
			return c.Reconnect(ctx, sessionID, userID)
		}
		rt.mu.Unlock()
		return nil, ErrSessionNotWaiting
	}
	if rt.findParticipantLocked(userID) != nil {
		rt.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	if len(rt.participants) >= rt.maxPlayers {
		rt.mu.Unlock()
		return nil, ErrSessionFull
	}
	color := rt.nextColorLocked()
	rt.participants = append(rt.participants, &participantState{
		userID:   userID,
		color:    color,
		isActive: true,
		joinedAt: time.Now(),
	})
	snap := rt.snapshotLocked()
	c.broadcast(sessionID, "playerJoined", map[string]any{
		"sessionId": sessionID,
		"userId":    userID,
		"color":     color,
	})
	rt.mu.Unlock()

	_ = c.store.AddParticipant(ctx, store.Participant{
		SessionID: sessionID,
		UserID:    userID,
		Color:     color,
		IsActive:  true,
	})
	return snap, nil
}

// Leave removes a participant. Removal is only defined before the session
// starts; afterwards players go inactive via forfeit or disconnect.
func (c *Coordinator) Leave(ctx context.Context, sessionID, userID string) error {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	if rt.status != StatusWaiting {
		rt.mu.Unlock()
		return ErrSessionNotWaiting
	}
	idx := -1
	for i, p := range rt.participants {
		if p.userID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		rt.mu.Unlock()
		return ErrNotParticipant
	}
	rt.participants = append(rt.participants[:idx], rt.participants[idx+1:]...)
	c.broadcast(sessionID, "playerLeft", map[string]any{
		"sessionId": sessionID,
		"userId":    userID,
	})
	rt.mu.Unlock()

	_ = c.store.RemoveParticipant(ctx, sessionID, userID)
	return nil
}

// Start moves a waiting session to active. Only the creator may start, and
// only with enough participants; readiness is bookkeeping the transition
// does not depend on.
func (c *Coordinator) Start(ctx context.Context, sessionID, requesterID string) error {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	switch rt.status {
	case StatusEnded, StatusCancelled:
		rt.mu.Unlock()
		return ErrSessionOver
	case StatusActive:
		rt.mu.Unlock()
		return ErrSessionNotWaiting
	}
	if rt.creatorID != requesterID {
		rt.mu.Unlock()
		return ErrNotCreator
	}
	if len(rt.participants) < minPlayersToStart {
		rt.mu.Unlock()
		return ErrNotEnoughPlayers
	}
	rt.status = StatusActive
	grid := rt.board.Grid()
	snap := rt.snapshotLocked()
	c.broadcast(sessionID, "sessionStarted", map[string]any{"sessionId": sessionID})
	c.broadcast(sessionID, "sessionState", snap)
	participants := make([]string, 0, len(rt.participants))
	for _, p := range rt.participants {
		participants = append(participants, p.userID)
	}
	rt.mu.Unlock()

	if c.boards != nil {
		if err := c.boards.SaveBoard(ctx, sessionID, grid); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("board mirror init failed")
		}
	}
	if err := c.store.UpdateSessionStatus(ctx, sessionID, StatusActive, ""); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("persist session start failed")
	}
	for _, userID := range participants {
		c.notifyUser(ctx, userID, "sessionStarted", map[string]any{"sessionId": sessionID})
	}
	return nil
}

// SetReady toggles the presentational ready flag and rebroadcasts it.
func (c *Coordinator) SetReady(ctx context.Context, sessionID, userID string, ready bool) error {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	if rt.status == StatusEnded || rt.status == StatusCancelled {
		rt.mu.Unlock()
		return ErrSessionOver
	}
	p := rt.findParticipantLocked(userID)
	if p == nil {
		rt.mu.Unlock()
		return ErrNotParticipant
	}
	p.isReady = ready
	participant := c.participantRecordLocked(rt, p)
	c.broadcast(sessionID, "playerReady", map[string]any{
		"sessionId": sessionID,
		"userId":    userID,
		"isReady":   ready,
	})
	rt.mu.Unlock()

	_ = c.store.UpdateParticipant(ctx, participant)
	return nil
}

// Chat relays a participant message to the room. Never persisted.
func (c *Coordinator) Chat(ctx context.Context, sessionID, userID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxChatLen {
		return ErrInvalidText
	}
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.status == StatusEnded || rt.status == StatusCancelled {
		return ErrSessionOver
	}
	if rt.findParticipantLocked(userID) == nil {
		return ErrNotParticipant
	}
	c.broadcast(sessionID, "chatMessage", map[string]any{
		"sessionId": sessionID,
		"userId":    userID,
		"text":      text,
		"sentAt":    time.Now().UnixMilli(),
	})
	return nil
}

// Snapshot returns the current state under the session lock.
func (c *Coordinator) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.snapshotLocked(), nil
}

// MarkCancelled flips a waiting session to cancelled on behalf of the
// external management layer. Every later action is rejected exactly as on
// an ended session.
func (c *Coordinator) MarkCancelled(ctx context.Context, sessionID string) error {
	rt, err := c.runtime(ctx, sessionID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	if rt.status != StatusWaiting {
		rt.mu.Unlock()
		return ErrSessionNotWaiting
	}
	rt.status = StatusCancelled
	c.stopGraceTimersLocked(rt)
	c.broadcast(sessionID, "sessionEnded", map[string]any{
		"sessionId": sessionID,
		"reason":    "cancelled",
	})
	rt.mu.Unlock()

	if err := c.store.UpdateSessionStatus(ctx, sessionID, StatusCancelled, ""); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("persist cancel failed")
	}
	return nil
}

// StartJanitor cancels waiting sessions idle past their TTL. Grace-period
// expiry is not swept here; each pending disconnect owns its timer.
func (c *Coordinator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.expireWaiting(ctx, now)
			}
		}
	}()
}

func (c *Coordinator) expireWaiting(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var stale []string
	for id, rt := range c.sessions {
		rt.mu.Lock()
		if rt.status == StatusWaiting && now.Sub(rt.createdAt) > waitingSessionTTL {
			stale = append(stale, id)
		}
		rt.mu.Unlock()
	}
	c.mu.Unlock()

	for _, id := range stale {
		if err := c.MarkCancelled(ctx, id); err != nil && !errors.Is(err, ErrSessionNotWaiting) {
			log.Warn().Err(err).Str("session_id", id).Msg("expire waiting session failed")
		}
	}
}

// runtime returns the resident runtime, recovering a non-resident session
// from the cache mirror and the durable store.
func (c *Coordinator) runtime(ctx context.Context, sessionID string) (*sessionRuntime, error) {
	c.mu.Lock()
	rt, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if ok {
		return rt, nil
	}
	return c.recover(ctx, sessionID)
}

func (c *Coordinator) recover(ctx context.Context, sessionID string) (*sessionRuntime, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	records, err := c.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt := &sessionRuntime{
		id:         sess.ID,
		status:     sess.Status,
		boardSize:  sess.BoardSize,
		maxPlayers: sess.MaxPlayers,
		creatorID:  sess.CreatorID,
		createdAt:  sess.CreatedAt,
		winnerID:   sess.WinnerID,
		board:      game.NewBoard(sess.BoardSize),
	}
	for _, r := range records {
		rt.participants = append(rt.participants, &participantState{
			userID:     r.UserID,
			color:      r.Color,
			cellsOwned: r.CellsOwned,
			isActive:   r.IsActive,
			isReady:    r.IsReady,
			joinedAt:   r.JoinedAt,
		})
	}
	if err := c.restoreBoard(ctx, rt); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.sessions[sessionID]; ok {
		// lost the recovery race, keep the resident one
		c.mu.Unlock()
		return existing, nil
	}
	c.sessions[sessionID] = rt
	c.mu.Unlock()
	log.Info().Str("session_id", sessionID).Str("status", rt.status).Msg("session recovered")
	return rt, nil
}

// restoreBoard prefers the cache mirror and falls back to replaying the
// move log.
func (c *Coordinator) restoreBoard(ctx context.Context, rt *sessionRuntime) error {
	if c.boards != nil {
		cells, version, err := c.boards.LoadBoard(ctx, rt.id)
		if err == nil && version > 0 {
			for field, owner := range cells {
				if x, y, ok := cache.ParseCellField(field); ok {
					rt.board.Restore(x, y, owner)
				}
			}
			rt.moveCount = version
			return nil
		}
		if err != nil {
			log.Warn().Err(err).Str("session_id", rt.id).Msg("board mirror read failed")
		}
	}
	moves, err := c.store.ListMoves(ctx, rt.id)
	if err != nil {
		return err
	}
	for _, m := range moves {
		rt.board.Restore(m.X, m.Y, m.UserID)
	}
	rt.moveCount = int64(len(moves))
	return nil
}

func (c *Coordinator) participantRecordLocked(rt *sessionRuntime, p *participantState) store.Participant {
	return store.Participant{
		SessionID:  rt.id,
		UserID:     p.userID,
		Color:      p.color,
		CellsOwned: p.cellsOwned,
		IsActive:   p.isActive,
		IsReady:    p.isReady,
	}
}

func (c *Coordinator) stopGraceTimersLocked(rt *sessionRuntime) {
	for _, p := range rt.participants {
		if p.graceTimer != nil {
			p.graceTimer.Stop()
			p.graceTimer = nil
			p.graceDeadline = time.Time{}
		}
	}
}

func (c *Coordinator) broadcast(sessionID, event string, data any) {
	if c.rooms != nil {
		c.rooms.Broadcast(sessionID, event, data)
	}
}

func (c *Coordinator) notifyUser(ctx context.Context, userID, notifType string, payload map[string]any) {
	if c.notify != nil {
		c.notify.Notify(ctx, userID, notifType, payload)
	}
}
