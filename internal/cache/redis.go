package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

// generationTTL outlives any cached entry so a counter never resets under a pending fill.
const generationTTL = time.Hour

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.CartRecord, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec domain.CartRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &rec, nil
}

func (r *RedisCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set caches rec with a jittered TTL, never past the cart's own expiry.
// The write is skipped with ErrStaleFill when Delete ran since generation was read.
func (r *RedisCache) Set(ctx context.Context, rec *domain.CartRecord, generation int64) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	if !rec.ExpiresAt.IsZero() {
		left := time.Until(rec.ExpiresAt)
		if left <= 0 {
			return nil
		}
		ttl = min(ttl, left)
	}

	genKey := generationKey(rec.UserID)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != generation {
			return ErrStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(rec.UserID), data, ttl)
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, genKey)
	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrStaleFill):
		return ErrStaleFill
	case err != nil:
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete drops the entry and bumps its generation so in-flight fills are refused.
func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	genKey := generationKey(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart-record:%s", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart-record-gen:%s", userID)
}
