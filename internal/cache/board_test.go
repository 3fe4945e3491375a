package cache

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) *BoardCache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBoardCache(rdb)
}

func TestSaveCellBumpsVersion(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.SaveCell(ctx, "s1", 2, 3, "u1", 0); err != nil {
		t.Fatalf("SaveCell: %v", err)
	}
	cells, version, err := c.LoadBoard(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if cells["2:3"] != "u1" {
		t.Fatalf("cells = %v", cells)
	}
}

func TestSaveCellRejectsStaleVersion(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.SaveCell(ctx, "s1", 0, 0, "u1", 0); err != nil {
		t.Fatalf("SaveCell: %v", err)
	}
	err := c.SaveCell(ctx, "s1", 1, 0, "u2", 0)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	// the conflicting write must not have landed
	cells, version, err := c.LoadBoard(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if version != 1 || cells["1:0"] != "" {
		t.Fatalf("cells = %v version = %d after rejected write", cells, version)
	}
}

func TestSaveBoardRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	grid := [][]string{
		{"u1", "", ""},
		{"", "u2", ""},
		{"", "", ""},
	}
	if err := c.SaveBoard(ctx, "s1", grid); err != nil {
		t.Fatalf("SaveBoard: %v", err)
	}
	cells, version, err := c.LoadBoard(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}
	if cells["0:0"] != "u1" || cells["1:1"] != "u2" || len(cells) != 2 {
		t.Fatalf("cells = %v", cells)
	}

	// versioned writes continue from the restored count
	if err := c.SaveCell(ctx, "s1", 2, 2, "u1", 2); err != nil {
		t.Fatalf("SaveCell after restore: %v", err)
	}
}

func TestLoadBoardMissing(t *testing.T) {
	c := newTestCache(t)
	cells, version, err := c.LoadBoard(context.Background(), "nope")
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if version != 0 || len(cells) != 0 {
		t.Fatalf("cells = %v version = %d, want empty/0", cells, version)
	}
}

func TestParseCellField(t *testing.T) {
	x, y, ok := ParseCellField("4:7")
	if !ok || x != 4 || y != 7 {
		t.Fatalf("ParseCellField = %d,%d,%v", x, y, ok)
	}
	if _, _, ok := ParseCellField("bogus"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.SaveCell(ctx, "s1", 0, 0, "u1", 0); err != nil {
		t.Fatalf("SaveCell: %v", err)
	}
	if err := c.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, version, err := c.LoadBoard(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if version != 0 {
		t.Fatalf("version = %d after delete", version)
	}
}
