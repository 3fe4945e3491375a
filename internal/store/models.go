package store

import "time"

type Session struct {
	ID         string
	Status     string
	BoardSize  int
	MaxPlayers int
	CreatorID  string
	WinnerID   string
	CreatedAt  time.Time
	EndedAt    *time.Time
}

type Participant struct {
	SessionID  string
	UserID     string
	Color      string
	CellsOwned int
	IsActive   bool
	IsReady    bool
	JoinedAt   time.Time
}

type Move struct {
	ID        string
	SessionID string
	UserID    string
	Ordinal   int
	X         int
	Y         int
	CreatedAt time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Payload   []byte
	Delivered bool
	Read      bool
	CreatedAt time.Time
}
