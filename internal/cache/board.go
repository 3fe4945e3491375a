package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ttlBoard   = 24 * time.Hour
	casRetries = 3
)

var ErrVersionConflict = errors.New("board_version_conflict")

// BoardCache mirrors live board grids into redis so observers and cold
// restarts can read them without touching the durable store. Writes are
// versioned: a write carries the version the writer last observed and is
// rejected on mismatch, so an out-of-band writer cannot be silently
// overwritten even though the session lock already serializes the normal
// claim path.
type BoardCache struct {
	rdb *redis.Client
}

func NewBoardCache(rdb *redis.Client) *BoardCache {
	return &BoardCache{rdb: rdb}
}

func (c *BoardCache) keyCells(sessionID string) string   { return "board:" + sessionID }
func (c *BoardCache) keyVersion(sessionID string) string { return "board:" + sessionID + ":ver" }

func cellField(x, y int) string { return fmt.Sprintf("%d:%d", x, y) }

// SaveCell writes one cell if the stored version still equals expect, and
// bumps the version. Returns ErrVersionConflict when another writer got in
// between.
func (c *BoardCache) SaveCell(ctx context.Context, sessionID string, x, y int, ownerID string, expect int64) error {
	cells := c.keyCells(sessionID)
	version := c.keyVersion(sessionID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, version).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != expect {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, cells, cellField(x, y), ownerID)
			pipe.Set(ctx, version, current+1, ttlBoard)
			pipe.Expire(ctx, cells, ttlBoard)
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := c.rdb.Watch(ctx, txf, version)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrVersionConflict
}

// SaveBoard replaces the whole mirror, used for cold writes on session
// start and recovery. Resets the version to the claimed-cell count.
func (c *BoardCache) SaveBoard(ctx context.Context, sessionID string, grid [][]string) error {
	cells := c.keyCells(sessionID)
	version := c.keyVersion(sessionID)

	fields := map[string]any{}
	var claimed int64
	for y, row := range grid {
		for x, owner := range row {
			if owner == "" {
				continue
			}
			fields[cellField(x, y)] = owner
			claimed++
		}
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cells)
		if len(fields) > 0 {
			pipe.HSet(ctx, cells, fields)
			pipe.Expire(ctx, cells, ttlBoard)
		}
		pipe.Set(ctx, version, claimed, ttlBoard)
		return nil
	})
	return err
}

// LoadBoard returns the mirrored cells keyed "x:y" and the stored version.
// A missing board comes back as an empty map with version 0.
func (c *BoardCache) LoadBoard(ctx context.Context, sessionID string) (map[string]string, int64, error) {
	cells, err := c.rdb.HGetAll(ctx, c.keyCells(sessionID)).Result()
	if err != nil {
		return nil, 0, err
	}
	version, err := c.rdb.Get(ctx, c.keyVersion(sessionID)).Int64()
	if err == redis.Nil {
		version = 0
	} else if err != nil {
		return nil, 0, err
	}
	return cells, version, nil
}

func (c *BoardCache) Delete(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, c.keyCells(sessionID), c.keyVersion(sessionID)).Err()
}

// ParseCellField splits a "x:y" hash field back into coordinates.
func ParseCellField(field string) (int, int, bool) {
	for i := 0; i < len(field); i++ {
		if field[i] == ':' {
			x, errX := strconv.Atoi(field[:i])
			y, errY := strconv.Atoi(field[i+1:])
			if errX != nil || errY != nil {
				return 0, 0, false
			}
			return x, y, true
		}
	}
	return 0, 0, false
}
