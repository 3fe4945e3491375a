package store

import "context"

func (s *Store) AppendMove(ctx context.Context, m Move) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO moves (id, session_id, user_id, ordinal, x, y, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		m.ID, m.SessionID, m.UserID, m.Ordinal, m.X, m.Y)
	return err
}

func (s *Store) ListMoves(ctx context.Context, sessionID string) ([]Move, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, session_id, user_id, ordinal, x, y, created_at
		 FROM moves WHERE session_id = $1 ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Move
	for rows.Next() {
		var m Move
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Ordinal, &m.X, &m.Y, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
