package store

import "context"

func (s *Store) CreateNotification(ctx context.Context, n Notification) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, payload, delivered, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, now())`,
		n.ID, n.UserID, n.Type, n.Payload, n.Delivered)
	return err
}

func (s *Store) MarkNotificationDelivered(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE notifications SET delivered = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, user_id, type, payload, delivered, read, created_at
		 FROM notifications WHERE user_id = $1 AND NOT read ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Payload, &n.Delivered, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.Pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID).Scan(&count)
	return count, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE notifications SET read = true, delivered = true
		 WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE notifications SET read = true, delivered = true
		 WHERE user_id = $1 AND NOT read`, userID)
	return err
}
