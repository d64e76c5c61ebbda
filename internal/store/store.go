package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateIPPrefix        = "captcha:rate:ip:"
	rateChallengePrefix = "captcha:rate:challenge:"
)

// Store keeps short-lived rate limit counters in Redis. Captcha tokens and the
// replay ledger never touch it.
type Store struct {
	rdb       *redis.Client
	rateIPTTL time.Duration
}

// NewStore creates a Store with the given Redis client and counter window.
func NewStore(rdb *redis.Client, rateIPTTL time.Duration) *Store {
	return &Store{
		rdb:       rdb,
		rateIPTTL: rateIPTTL,
	}
}

// IncrRateIP increments the verify counter for ip; returns new count.
func (s *Store) IncrRateIP(ctx context.Context, ip string) (int64, error) {
	return s.incr(ctx, rateIPPrefix+ip)
}

// IncrRateChallenge increments the challenge-issuance counter for ip; returns new count.
func (s *Store) IncrRateChallenge(ctx context.Context, ip string) (int64, error) {
	return s.incr(ctx, rateChallengePrefix+ip)
}

func (s *Store) incr(ctx context.Context, key string) (int64, error) {
	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.rateIPTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
