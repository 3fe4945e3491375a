package session

import (
	"context"
	"sync"
	"time"

	"gridclaim/internal/game"
	"gridclaim/internal/store"
)

const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusEnded     = "ended"
	StatusCancelled = "cancelled"

	minPlayersToStart = 2
	maxChatLen        = 500

	defaultDisconnectGrace = 30 * time.Second
	waitingSessionTTL      = 2 * time.Hour
)

var colorPalette = []string{"red", "blue", "green", "yellow", "purple", "orange", "cyan", "magenta"}

// DurableStore is the system-of-record collaborator. Writes on the hot
// claim path are best effort; the in-memory runtime stays authoritative.
type DurableStore interface {
	CreateSession(ctx context.Context, sess store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	UpdateSessionStatus(ctx context.Context, id, status, winnerID string) error
	AddParticipant(ctx context.Context, p store.Participant) error
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
	UpdateParticipant(ctx context.Context, p store.Participant) error
	ListParticipants(ctx context.Context, sessionID string) ([]store.Participant, error)
	AppendMove(ctx context.Context, m store.Move) error
	ListMoves(ctx context.Context, sessionID string) ([]store.Move, error)
}

// BoardCache mirrors the live grid into the fast shared-state store.
type BoardCache interface {
	SaveCell(ctx context.Context, sessionID string, x, y int, ownerID string, expect int64) error
	SaveBoard(ctx context.Context, sessionID string, grid [][]string) error
	LoadBoard(ctx context.Context, sessionID string) (map[string]string, int64, error)
	Delete(ctx context.Context, sessionID string) error
}

// Broadcaster fans events out to every connection in a session room.
type Broadcaster interface {
	Broadcast(sessionID, event string, data any)
}

// Notifier mirrors session-scoped events to the per-user notification path
// for users not currently viewing the session.
type Notifier interface {
	Notify(ctx context.Context, userID, notifType string, payload map[string]any)
}

type participantState struct {
	userID     string
	color      string
	cellsOwned int
	isActive   bool
	isReady    bool
	joinedAt   time.Time

	// non-nil while a disconnect grace period is pending; cancelled
	// directly by reconnect
	graceTimer    *time.Timer
	graceDeadline time.Time
}

type sessionRuntime struct {
	mu sync.Mutex

	id         string
	status     string
	boardSize  int
	maxPlayers int
	creatorID  string
	createdAt  time.Time

	participants []*participantState // join order, stable for tie breaks
	board        *game.Board
	moveCount    int64
	winnerID     string
}

func (rt *sessionRuntime) findParticipantLocked(userID string) *participantState {
	for _, p := range rt.participants {
		if p.userID == userID {
			return p
		}
	}
	return nil
}

func (rt *sessionRuntime) activeCountLocked() int {
	n := 0
	for _, p := range rt.participants {
		if p.isActive {
			n++
		}
	}
	return n
}

func (rt *sessionRuntime) nextColorLocked() string {
	for _, color := range colorPalette {
		taken := false
		for _, p := range rt.participants {
			if p.color == color {
				taken = true
				break
			}
		}
		if !taken {
			return color
		}
	}
	return colorPalette[len(rt.participants)%len(colorPalette)]
}

// ParticipantView is the boundary shape of one participant.
type ParticipantView struct {
	UserID     string `json:"userId"`
	Color      string `json:"color"`
	CellsOwned int    `json:"cellsOwned"`
	IsActive   bool   `json:"isActive"`
	IsReady    bool   `json:"isReady"`
}

// Snapshot is the full session state sent on (re)subscribe, read under the
// session lock so board and status can never disagree.
type Snapshot struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	BoardSize    int               `json:"boardSize"`
	MaxPlayers   int               `json:"maxPlayers"`
	CreatorID    string            `json:"creatorId"`
	Participants []ParticipantView `json:"participants"`
	Board        [][]string        `json:"board"`
	WinnerID     string            `json:"winnerId,omitempty"`
}

func (rt *sessionRuntime) snapshotLocked() *Snapshot {
	views := make([]ParticipantView, 0, len(rt.participants))
	for _, p := range rt.participants {
		views = append(views, ParticipantView{
			UserID:     p.userID,
			Color:      p.color,
			CellsOwned: p.cellsOwned,
			IsActive:   p.isActive,
			IsReady:    p.isReady,
		})
	}
	return &Snapshot{
		ID:           rt.id,
		Status:       rt.status,
		BoardSize:    rt.boardSize,
		MaxPlayers:   rt.maxPlayers,
		CreatorID:    rt.creatorID,
		Participants: views,
		Board:        rt.board.Grid(),
		WinnerID:     rt.winnerID,
	}
}
