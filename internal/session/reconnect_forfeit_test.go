package session

import (
	"context"
	"testing"
	"time"
)

func TestReconnectWithinGraceCancelsInactivation(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t, 150*time.Millisecond)
	ctx := context.Background()
	sessionID := startedSession(t, c, 8, "u1", "u2")

	c.HandleDisconnect(sessionID, "u2")
	if rooms.count("playerDisconnected") != 1 {
		t.Fatalf("playerDisconnected count = %d", rooms.count("playerDisconnected"))
	}

	if _, err := c.Reconnect(ctx, sessionID, "u2"); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if rooms.count("playerReconnected") != 1 {
		t.Fatalf("playerReconnected count = %d", rooms.count("playerReconnected"))
	}

	// well past the original deadline: the cancelled timer must not fire
	time.Sleep(300 * time.Millisecond)
	if rooms.count("playerInactive") != 0 {
		t.Fatalf("playerInactive count = %d, want 0", rooms.count("playerInactive"))
	}
	if rooms.count("sessionEnded") != 0 {
		t.Fatalf("sessionEnded count = %d, want 0", rooms.count("sessionEnded"))
	}
	snap, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, p := range snap.Participants {
		if !p.IsActive {
			t.Fatalf("participant %s inactive after reconnect", p.UserID)
		}
	}
}

func TestGraceExpiryForfeitsToRemainingPlayer(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t, 50*time.Millisecond)
	ctx := context.Background()
	sessionID := startedSession(t, c, 8, "u1", "u2")

	c.HandleDisconnect(sessionID, "u2")

	deadline := time.Now().Add(2 * time.Second)
	for rooms.count("sessionEnded") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := rooms.count("sessionEnded"); got != 1 {
		t.Fatalf("sessionEnded count = %d, want 1", got)
	}
	ev, _ := rooms.last("sessionEnded")
	data := ev.data.(map[string]any)
	if data["winner"] != "u1" || data["reason"] != "forfeit" {
		t.Fatalf("sessionEnded data = %v", data)
	}
	if rooms.count("playerInactive") != 1 {
		t.Fatalf("playerInactive count = %d", rooms.count("playerInactive"))
	}

	snap, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != StatusEnded || snap.WinnerID != "u1" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDisconnectIsIdempotentWhilePending(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t, 10*time.Second)
	sessionID := startedSession(t, c, 8, "u1", "u2")

	c.HandleDisconnect(sessionID, "u2")
	c.HandleDisconnect(sessionID, "u2")
	if got := rooms.count("playerDisconnected"); got != 1 {
		t.Fatalf("playerDisconnected count = %d, want 1", got)
	}
}

func TestDisconnectIgnoredWhileWaiting(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t, 10*time.Millisecond)
	ctx := context.Background()

	snap, err := c.Create(ctx, "u1", 8, 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Join(ctx, snap.ID, "u2"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	c.HandleDisconnect(snap.ID, "u2")
	time.Sleep(50 * time.Millisecond)
	if rooms.count("playerDisconnected") != 0 || rooms.count("playerInactive") != 0 {
		t.Fatal("disconnect handling must not run before the session starts")
	}
}

func TestExplicitForfeitEndsTwoPlayerSession(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t, 0)
	ctx := context.Background()
	sessionID := startedSession(t, c, 8, "u1", "u2")

	if err := c.Forfeit(ctx, sessionID, "u1"); err != nil {
		t.Fatalf("Forfeit: %v", err)
	}
	if rooms.count("sessionEnded") != 1 {
		t.Fatalf("sessionEnded count = %d", rooms.count("sessionEnded"))
	}
	ev, _ := rooms.last("sessionEnded")
	if ev.data.(map[string]any)["winner"] != "u2" {
		t.Fatalf("winner = %v, want u2", ev.data)
	}

	// losing participant cannot act again
	if _, err := c.Claim(ctx, sessionID, "u1", 0, 0); err == nil {
		t.Fatal("expected claim rejection after forfeit")
	}
}

func TestForfeitWithThreePlayersKeepsSessionActive(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t, 0)
	ctx := context.Background()
	sessionID := startedSession(t, c, 8, "u1", "u2", "u3")

	if err := c.Forfeit(ctx, sessionID, "u3"); err != nil {
		t.Fatalf("Forfeit: %v", err)
	}
	if rooms.count("sessionEnded") != 0 {
		t.Fatal("session must stay active with two active players left")
	}
	if _, err := c.Claim(ctx, sessionID, "u1", 0, 0); err != nil {
		t.Fatalf("claim after third player forfeit: %v", err)
	}

	// dropping to one active participant ends it
	if err := c.Forfeit(ctx, sessionID, "u2"); err != nil {
		t.Fatalf("Forfeit: %v", err)
	}
	if rooms.count("sessionEnded") != 1 {
		t.Fatalf("sessionEnded count = %d", rooms.count("sessionEnded"))
	}
	ev, _ := rooms.last("sessionEnded")
	if ev.data.(map[string]any)["winner"] != "u1" {
		t.Fatalf("winner = %v, want u1", ev.data)
	}
}

func TestReconnectAfterExpiryRestoresActive(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t, 30*time.Millisecond)
	ctx := context.Background()
	sessionID := startedSession(t, c, 8, "u1", "u2", "u3")

	c.HandleDisconnect(sessionID, "u3")
	deadline := time.Now().Add(2 * time.Second)
	for rooms.count("playerInactive") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rooms.count("playerInactive") != 1 {
		t.Fatal("grace expiry did not mark the player inactive")
	}
	// three players, so no forfeit: the session is still active and a late
	// rejoin flips the participant back
	if _, err := c.Reconnect(ctx, sessionID, "u3"); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	snap, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, p := range snap.Participants {
		if p.UserID == "u3" && !p.IsActive {
			t.Fatal("expected u3 active after rejoin")
		}
	}
}
