package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

const keyLeaderboardXP = "leaderboard:xp"

// Standing is one row of the XP leaderboard.
type Standing struct {
	LearnerID string `json:"learner_id"`
	XP        int64  `json:"xp"`
	Rank      int64  `json:"rank"` // 1-based
}

// Leaderboard ranks learners by total XP in a sorted set.
type Leaderboard struct {
	client *redis.Client
	key    string
}

// NewLeaderboard creates a leaderboard on the given cache.
func NewLeaderboard(c *Cache) *Leaderboard {
	return &Leaderboard{client: c.Client, key: c.Key(keyLeaderboardXP)}
}

// SetXP records the learner's current XP total.
func (l *Leaderboard) SetXP(ctx context.Context, learnerID string, xp int64) error {
	if learnerID == "" {
		return apperr.Invalid("leaderboard.SetXP", "empty learner id")
	}
	err := l.client.ZAdd(ctx, l.key, redis.Z{Score: float64(xp), Member: learnerID}).Err()
	if err != nil {
		return apperr.Wrap("leaderboard.SetXP", apperr.ErrStorage, err)
	}
	return nil
}

// Top returns the n highest-ranked learners.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]Standing, error) {
	if n <= 0 {
		return nil, apperr.Invalid("leaderboard.Top", "count must be positive, got %d", n)
	}
	zs, err := l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, apperr.Wrap("leaderboard.Top", apperr.ErrStorage, err)
	}

	out := make([]Standing, 0, len(zs))
	for i, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			return nil, apperr.New("leaderboard.Top", apperr.ErrStorage, "unexpected member type %T", z.Member)
		}
		out = append(out, Standing{LearnerID: id, XP: int64(z.Score), Rank: int64(i) + 1})
	}
	return out, nil
}

// Rank returns the learner's 1-based position.
func (l *Leaderboard) Rank(ctx context.Context, learnerID string) (Standing, error) {
	rank, err := l.client.ZRevRank(ctx, l.key, learnerID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Standing{}, apperr.NotFound("leaderboard.Rank", "learner %s not ranked", learnerID)
		}
		return Standing{}, apperr.Wrap("leaderboard.Rank", apperr.ErrStorage, err)
	}
	score, err := l.client.ZScore(ctx, l.key, learnerID).Result()
	if err != nil {
		return Standing{}, apperr.Wrap("leaderboard.Rank", apperr.ErrStorage, fmt.Errorf("score: %w", err))
	}
	return Standing{LearnerID: learnerID, XP: int64(score), Rank: rank + 1}, nil
}
