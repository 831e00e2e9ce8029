package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	fieldUserID    = "userId"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
	fieldExpiresAt = "expiresAt"
	fieldVersion   = "version"
	itemPrefix     = "item:"
	scanBatch      = 100
)

// RedisStore keeps each cart as a hash with one field per line item.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store whose keys expire ttl after the last save.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*domain.CartRecord, error) {
	data, err := s.client.HGetAll(ctx, CartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.ErrCartNotFound
	}
	rec, err := decodeHash(data)
	if err != nil {
		return nil, err
	}
	if rec.UserID == "" {
		rec.UserID = userID
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *domain.CartRecord) error {
	key := CartKey(rec.UserID)
	expected := rec.Version
	fields, err := encodeHash(rec, expected+1)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return fmt.Errorf("redis read version failed: %w", err)
		}
		if current != expected {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrVersionConflict):
		return ErrVersionConflict
	case err != nil:
		return fmt.Errorf("redis save cart failed: %w", err)
	}
	rec.Version = expected + 1
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, CartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveIfUnchanged(ctx context.Context, rec *domain.CartRecord) error {
	key := CartKey(rec.UserID)
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis read version failed: %w", err)
		}
		if current != rec.Version {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrVersionConflict):
		return ErrVersionConflict
	case err != nil:
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveItem(ctx context.Context, userID, productID string) error {
	key := CartKey(userID)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, itemPrefix+productID)
			pipe.HIncrBy(ctx, key, fieldVersion, 1)
			pipe.HSet(ctx, key, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano))
			return nil
		})
		return err
	}
	if err := s.client.Watch(ctx, txf, key); err != nil {
		return fmt.Errorf("redis remove item failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ForEach scans every cart key. Records that vanish or fail to decode mid-scan are skipped.
func (s *RedisStore) ForEach(ctx context.Context, fn func(*domain.CartRecord) error) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return fmt.Errorf("redis hgetall failed: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		rec, err := decodeHash(data)
		if err != nil || rec.UserID == "" {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Err()
}

func encodeHash(rec *domain.CartRecord, version int64) (map[string]any, error) {
	fields := map[string]any{
		fieldUserID:    rec.UserID,
		fieldCreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldUpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		fieldExpiresAt: rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		fieldVersion:   version,
	}
	for _, item := range rec.Items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("marshal cart item failed: %w", err)
		}
		fields[itemPrefix+item.ProductID] = string(data)
	}
	return fields, nil
}

func decodeHash(data map[string]string) (*domain.CartRecord, error) {
	rec := &domain.CartRecord{
		UserID: data[fieldUserID],
		Items:  []domain.CartLineItem{},
	}
	var err error
	if rec.CreatedAt, err = parseTime(data[fieldCreatedAt]); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(data[fieldUpdatedAt]); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseTime(data[fieldExpiresAt]); err != nil {
		return nil, err
	}
	if v, ok := data[fieldVersion]; ok {
		if rec.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parse cart version failed: %w", err)
		}
	}

	for field, raw := range data {
		if !strings.HasPrefix(field, itemPrefix) {
			continue
		}
		var item domain.CartLineItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			// a corrupt line item is dropped rather than failing the whole cart
			continue
		}
		rec.Items = append(rec.Items, item)
	}
	// hash fields have no order; restore insertion order
	sort.SliceStable(rec.Items, func(i, j int) bool {
		if rec.Items[i].AddedAt.Equal(rec.Items[j].AddedAt) {
			return rec.Items[i].ProductID < rec.Items[j].ProductID
		}
		return rec.Items[i].AddedAt.Before(rec.Items[j].AddedAt)
	})
	return rec, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cart timestamp failed: %w", err)
	}
	return t, nil
}
