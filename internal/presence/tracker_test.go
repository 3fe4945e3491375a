package presence

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Now()
	tr := NewTracker(rdb, 5*time.Minute)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTouchMakesUserOnline(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	online, err := tr.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if online {
		t.Fatal("expected offline before touch")
	}
	if err := tr.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	online, err = tr.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if !online {
		t.Fatal("expected online after touch")
	}
}

func TestPresenceWindowBoundary(t *testing.T) {
	tr, now := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	*now = now.Add(4*time.Minute + 59*time.Second)
	online, err := tr.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if !online {
		t.Fatal("expected online at T+4m59s")
	}

	*now = now.Add(2 * time.Second) // T+5m1s
	online, err = tr.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if online {
		t.Fatal("expected offline at T+5m1s")
	}
}

func TestTouchIsLastWriteWins(t *testing.T) {
	tr, now := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	*now = now.Add(4 * time.Minute)
	if err := tr.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	// Without the second touch this would be past the window.
	*now = now.Add(3 * time.Minute)
	online, err := tr.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if !online {
		t.Fatal("expected refreshed touch to keep user online")
	}
}

func TestListOnlineExcludes(t *testing.T) {
	tr, now := newTestTracker(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		if err := tr.Touch(ctx, u); err != nil {
			t.Fatalf("Touch(%s): %v", u, err)
		}
	}
	*now = now.Add(6 * time.Minute)
	if err := tr.Touch(ctx, "u2"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := tr.Touch(ctx, "u3"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := tr.ListOnline(ctx, "u3")
	if err != nil {
		t.Fatalf("ListOnline: %v", err)
	}
	sort.Strings(got)
	if len(got) != 1 || got[0] != "u2" {
		t.Fatalf("ListOnline = %v, want [u2]", got)
	}
}

func TestPruneDropsStaleEntries(t *testing.T) {
	tr, now := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Touch(ctx, "old"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	*now = now.Add(10 * time.Minute)
	if err := tr.Touch(ctx, "fresh"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := tr.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	got, err := tr.ListOnline(ctx, "")
	if err != nil {
		t.Fatalf("ListOnline: %v", err)
	}
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("ListOnline = %v, want [fresh]", got)
	}
	// and the stale member is really gone, not just filtered
	online, err := tr.IsOnline(ctx, "old")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if online {
		t.Fatal("expected pruned user offline")
	}
}
