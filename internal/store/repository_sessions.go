package store

import (
	"context"
	"time"
)

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO sessions (id, status, board_size, max_players, creator_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		sess.ID, sess.Status, sess.BoardSize, sess.MaxPlayers, sess.CreatorID)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.Pool.QueryRow(ctx,
		`SELECT id, status, board_size, max_players, creator_id, COALESCE(winner_id, ''), created_at, ended_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.Status, &sess.BoardSize, &sess.MaxPlayers, &sess.CreatorID, &sess.WinnerID, &sess.CreatedAt, &sess.EndedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &sess, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id, status, winnerID string) error {
	var endedAt *time.Time
	if status == "ended" || status == "cancelled" {
		now := time.Now()
		endedAt = &now
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET status = $2, winner_id = NULLIF($3, ''), ended_at = COALESCE($4, ended_at)
		 WHERE id = $1`, id, status, winnerID, endedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, p Participant) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO participants (session_id, user_id, color, cells_owned, is_active, is_ready, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (session_id, user_id) DO UPDATE SET is_active = EXCLUDED.is_active`,
		p.SessionID, p.UserID, p.Color, p.CellsOwned, p.IsActive, p.IsReady)
	return err
}

func (s *Store) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM participants WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	return err
}

func (s *Store) UpdateParticipant(ctx context.Context, p Participant) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE participants SET cells_owned = $3, is_active = $4, is_ready = $5
		 WHERE session_id = $1 AND user_id = $2`,
		p.SessionID, p.UserID, p.CellsOwned, p.IsActive, p.IsReady)
	return err
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT session_id, user_id, color, cells_owned, is_active, is_ready, joined_at
		 FROM participants WHERE session_id = $1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.Color, &p.CellsOwned, &p.IsActive, &p.IsReady, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
