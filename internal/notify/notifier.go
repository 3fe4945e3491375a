package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"gridclaim/internal/store"
)

// Store persists notification records; delivery failure is the expected
// steady state, the record just waits for the next subscribe.
type Store interface {
	CreateNotification(ctx context.Context, n store.Notification) error
	MarkNotificationDelivered(ctx context.Context, id string) error
	ListUnreadNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
}

// UserBroadcaster pushes an event to every open connection in a user's
// private group and reports how many received it.
type UserBroadcaster interface {
	BroadcastToUser(userID, event string, data any) int
}

// View is the wire shape of one notification.
type View struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
}

type Notifier struct {
	store Store
	users UserBroadcaster
}

func New(st Store, users UserBroadcaster) *Notifier {
	return &Notifier{store: st, users: users}
}

// Notify creates the record and attempts immediate delivery. Undelivered
// notifications are not an error; they flush on the next subscribe.
func (n *Notifier) Notify(ctx context.Context, userID, notifType string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", notifType).Msg("notification payload marshal failed")
		return
	}
	rec := store.Notification{
		ID:      store.NewID(),
		UserID:  userID,
		Type:    notifType,
		Payload: raw,
	}
	if err := n.store.CreateNotification(ctx, rec); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("persist notification failed")
		return
	}

	receivers := n.users.BroadcastToUser(userID, "notificationReceived", View{
		ID:      rec.ID,
		Type:    rec.Type,
		Payload: raw,
	})
	if receivers == 0 {
		return
	}
	if err := n.store.MarkNotificationDelivered(ctx, rec.ID); err != nil {
		log.Warn().Err(err).Str("id", rec.ID).Msg("mark delivered failed")
	}
	n.pushCount(ctx, userID)
}

// Subscribe flushes the unread backlog, in creation order, plus the
// current unread count to the user's private group.
func (n *Notifier) Subscribe(ctx context.Context, userID string) error {
	unread, err := n.store.ListUnreadNotifications(ctx, userID)
	if err != nil {
		return err
	}
	views := make([]View, 0, len(unread))
	for _, rec := range unread {
		views = append(views, View{
			ID:        rec.ID,
			Type:      rec.Type,
			Payload:   rec.Payload,
			CreatedAt: rec.CreatedAt.UnixMilli(),
		})
	}
	n.users.BroadcastToUser(userID, "notificationBatch", map[string]any{
		"notifications": views,
		"unreadCount":   len(views),
	})
	for _, rec := range unread {
		if rec.Delivered {
			continue
		}
		if err := n.store.MarkNotificationDelivered(ctx, rec.ID); err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("mark delivered failed")
		}
	}
	return nil
}

func (n *Notifier) MarkRead(ctx context.Context, userID, id string) error {
	if err := n.store.MarkNotificationRead(ctx, userID, id); err != nil {
		return err
	}
	n.pushCount(ctx, userID)
	return nil
}

func (n *Notifier) MarkAllRead(ctx context.Context, userID string) error {
	if err := n.store.MarkAllNotificationsRead(ctx, userID); err != nil {
		return err
	}
	n.pushCount(ctx, userID)
	return nil
}

func (n *Notifier) pushCount(ctx context.Context, userID string) {
	count, err := n.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("unread count failed")
		return
	}
	n.users.BroadcastToUser(userID, "notificationCount", map[string]any{
		"unreadCount": count,
	})
}
