package redisrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupRepository records provider event ids that have been fully
// dispatched, so at-least-once redelivery can be skipped cheaply. Grant and
// revoke are idempotent anyway; this only saves the round trips.
type DedupRepository interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type dedupRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDedupRepository(rdb *redis.Client, ttl time.Duration) DedupRepository {
	return &dedupRepository{rdb: rdb, ttl: ttl}
}

func dedupKey(eventID string) string {
	return fmt.Sprintf("rolesync:event:%s", eventID)
}

func (r *dedupRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	n, err := r.rdb.Exists(ctx, dedupKey(eventID)).Result()
	if err != nil {
		// Fail open: a Redis outage must not block webhook processing.
		return false, err
	}
	return n > 0, nil
}

func (r *dedupRepository) MarkProcessed(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return r.rdb.SetNX(ctx, dedupKey(eventID), time.Now().Format(time.RFC3339), r.ttl).Err()
}
