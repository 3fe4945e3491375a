package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyOnline = "presence:online"

// Tracker keeps a time-windowed liveness signal per user in a redis sorted
// set, score = unix millis of the last touch. A user is online while their
// last touch is younger than the window, independent of connection count.
type Tracker struct {
	rdb    *redis.Client
	window time.Duration
	now    func() time.Time
}

func NewTracker(rdb *redis.Client, window time.Duration) *Tracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Tracker{rdb: rdb, window: window, now: time.Now}
}

// Touch upserts the user's last-seen timestamp. Last write wins; concurrent
// touches for the same user are safe.
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return t.rdb.ZAdd(ctx, keyOnline, redis.Z{
		Score:  float64(t.now().UnixMilli()),
		Member: userID,
	}).Err()
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	score, err := t.rdb.ZScore(ctx, keyOnline, userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return score > float64(t.cutoff()), nil
}

// ListOnline returns every user touched within the window, optionally
// excluding one user.
func (t *Tracker) ListOnline(ctx context.Context, excluding string) ([]string, error) {
	min := strconv.FormatInt(t.cutoff(), 10)
	members, err := t.rdb.ZRangeByScore(ctx, keyOnline, &redis.ZRangeBy{
		Min: "(" + min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if excluding == "" {
		return members, nil
	}
	out := members[:0]
	for _, m := range members {
		if m != excluding {
			out = append(out, m)
		}
	}
	return out, nil
}

// Prune drops entries older than the window.
func (t *Tracker) Prune(ctx context.Context) error {
	max := strconv.FormatInt(t.cutoff(), 10)
	return t.rdb.ZRemRangeByScore(ctx, keyOnline, "-inf", max).Err()
}

// StartJanitor prunes stale entries on a fixed interval until ctx ends.
func (t *Tracker) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.Prune(ctx); err != nil {
					log.Warn().Err(err).Msg("presence prune failed")
				}
			}
		}
	}()
}

func (t *Tracker) cutoff() int64 {
	return t.now().Add(-t.window).UnixMilli()
}
