package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridclaim/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	records []store.Notification
}

func (m *memStore) CreateNotification(_ context.Context, n store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.CreatedAt = time.Now()
	m.records = append(m.records, n)
	return nil
}

func (m *memStore) MarkNotificationDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Delivered = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) ListUnreadNotifications(_ context.Context, userID string) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Notification
	for _, n := range m.records {
		if n.UserID == userID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.records {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id && m.records[i].UserID == userID {
			m.records[i].Read = true
			m.records[i].Delivered = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].UserID == userID {
			m.records[i].Read = true
			m.records[i].Delivered = true
		}
	}
	return nil
}

type pushedEvent struct {
	userID string
	event  string
	data   any
}

type fakeUsers struct {
	mu        sync.Mutex
	connected map[string]int
	pushed    []pushedEvent
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{connected: map[string]int{}}
}

func (f *fakeUsers) BroadcastToUser(userID, event string, data any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.connected[userID]
	if n > 0 {
		f.pushed = append(f.pushed, pushedEvent{userID: userID, event: event, data: data})
	}
	return n
}

func (f *fakeUsers) eventsOf(userID, event string) []pushedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pushedEvent
	for _, p := range f.pushed {
		if p.userID == userID && p.event == event {
			out = append(out, p)
		}
	}
	return out
}

func TestNotifyDeliversWhenConnected(t *testing.T) {
	st := &memStore{}
	users := newFakeUsers()
	users.connected["u1"] = 1
	n := New(st, users)
	ctx := context.Background()

	n.Notify(ctx, "u1", "sessionStarted", map[string]any{"sessionId": "s1"})

	if got := users.eventsOf("u1", "notificationReceived"); len(got) != 1 {
		t.Fatalf("notificationReceived count = %d", len(got))
	}
	if got := users.eventsOf("u1", "notificationCount"); len(got) != 1 {
		t.Fatalf("notificationCount count = %d", len(got))
	}
	if !st.records[0].Delivered {
		t.Fatal("record not marked delivered")
	}
	if st.records[0].Read {
		t.Fatal("delivered must not imply read")
	}
}

func TestNotifyHoldsWhenOffline(t *testing.T) {
	st := &memStore{}
	users := newFakeUsers()
	n := New(st, users)

	n.Notify(context.Background(), "u1", "sessionEnded", map[string]any{"winner": "u2"})

	if len(users.pushed) != 0 {
		t.Fatalf("pushed = %v, want none", users.pushed)
	}
	if len(st.records) != 1 || st.records[0].Delivered {
		t.Fatalf("records = %+v", st.records)
	}
}

func TestSubscribeFlushesBacklogInOrder(t *testing.T) {
	st := &memStore{}
	users := newFakeUsers()
	n := New(st, users)
	ctx := context.Background()

	for _, typ := range []string{"first", "second", "third"} {
		n.Notify(ctx, "u1", typ, map[string]any{"k": typ})
	}
	// notifications for other users stay out of the batch
	n.Notify(ctx, "u2", "other", nil)

	users.mu.Lock()
	users.connected["u1"] = 1
	users.mu.Unlock()
	if err := n.Subscribe(ctx, "u1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	batches := users.eventsOf("u1", "notificationBatch")
	if len(batches) != 1 {
		t.Fatalf("batch count = %d", len(batches))
	}
	data := batches[0].data.(map[string]any)
	views := data["notifications"].([]View)
	if len(views) != 3 {
		t.Fatalf("batch size = %d, want 3", len(views))
	}
	for i, want := range []string{"first", "second", "third"} {
		if views[i].Type != want {
			t.Fatalf("batch[%d].Type = %q, want %q", i, views[i].Type, want)
		}
	}
	if data["unreadCount"] != 3 {
		t.Fatalf("unreadCount = %v", data["unreadCount"])
	}

	// the flush marks the backlog delivered but not read
	for _, rec := range st.records[:3] {
		if !rec.Delivered || rec.Read {
			t.Fatalf("record %+v after flush", rec)
		}
	}
}

func TestMarkReadRecomputesCount(t *testing.T) {
	st := &memStore{}
	users := newFakeUsers()
	users.connected["u1"] = 1
	n := New(st, users)
	ctx := context.Background()

	n.Notify(ctx, "u1", "a", nil)
	n.Notify(ctx, "u1", "b", nil)

	if err := n.MarkRead(ctx, "u1", st.records[0].ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	counts := users.eventsOf("u1", "notificationCount")
	last := counts[len(counts)-1].data.(map[string]any)
	if last["unreadCount"] != 1 {
		t.Fatalf("unreadCount = %v, want 1", last["unreadCount"])
	}

	if err := n.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	counts = users.eventsOf("u1", "notificationCount")
	last = counts[len(counts)-1].data.(map[string]any)
	if last["unreadCount"] != 0 {
		t.Fatalf("unreadCount = %v, want 0", last["unreadCount"])
	}
}

func TestMarkReadUnknownID(t *testing.T) {
	n := New(&memStore{}, newFakeUsers())
	if err := n.MarkRead(context.Background(), "u1", "missing"); err == nil {
		t.Fatal("expected error for unknown notification")
	}
}
