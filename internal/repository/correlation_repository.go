package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CorrelationRepo keeps server-issued correlation records in Redis: a random
// reclaim key pointing at a draft capsule id, expiring after TTL.  It is the
// server-side counterpart of the pending cookie and lets a user whose
// browser lost the cookie finish reconciliation.
type CorrelationRepo struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCorrelationRepo returns a repo writing keys under prefix.
func NewCorrelationRepo(rdb *redis.Client, prefix string, ttl time.Duration) *CorrelationRepo {
	if prefix == "" {
		prefix = "corr"
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &CorrelationRepo{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *CorrelationRepo) key(k string) string { return r.prefix + ":" + k }

// capsuleKey indexes the reclaim key by capsule id.  Reclaim keys are hex, so
// the "capsule:" segment never collides with one.
func (r *CorrelationRepo) capsuleKey(id string) string { return r.prefix + ":capsule:" + id }

// Issue creates a correlation record for capsuleID and returns its key.
func (r *CorrelationRepo) Issue(ctx context.Context, capsuleID string) (string, error) {
	k, err := randomToken(24)
	if err != nil {
		return "", err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(k), capsuleID, r.ttl)
		pipe.Set(ctx, r.capsuleKey(capsuleID), k, r.ttl)
		return nil
	})
	if err != nil {
		return "", err
	}
	return k, nil
}

// Peek returns the capsule id behind key without consuming it.
func (r *CorrelationRepo) Peek(ctx context.Context, key string) (string, error) {
	id, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCorrelationNotFound
	}
	return id, err
}

// Delete removes the record.  Deleting a missing key is not an error.
func (r *CorrelationRepo) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

// Release drops the record issued for capsuleID, whichever path finalized
// the capsule.  A capsule without a record is not an error.
func (r *CorrelationRepo) Release(ctx context.Context, capsuleID string) error {
	k, err := r.rdb.Get(ctx, r.capsuleKey(capsuleID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.rdb.Del(ctx, r.key(k), r.capsuleKey(capsuleID)).Err()
}

// randomToken returns 2n hex characters of crypto/rand output.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
