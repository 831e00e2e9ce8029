package store

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/cache"
	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"golang.org/x/sync/singleflight"
)

// CachedStore puts a read-through record cache in front of a slower store.
// Writes go to the backing store first and then invalidate the cache entry.
type CachedStore struct {
	backing CartStore
	cache   cache.RecordCache
	sfg     singleflight.Group // prevents cache stampede
}

func NewCachedStore(backing CartStore, c cache.RecordCache) *CachedStore {
	return &CachedStore{backing: backing, cache: c}
}

func (s *CachedStore) Get(ctx context.Context, userID string) (*domain.CartRecord, error) {
	// the shared load outlives any single caller; each caller still honors its own ctx
	loadCtx := context.WithoutCancel(ctx)
	ch := s.sfg.DoChan(userID, func() (any, error) {
		rec, err := s.cache.Get(loadCtx, userID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Ctx(loadCtx).Warn().Err(err).Str("user_id", userID).Msg("cache get error")
		}

		gen, genErr := s.cache.Generation(loadCtx, userID)
		rec, err = s.backing.Get(loadCtx, userID)
		if err != nil {
			return nil, err
		}
		if genErr == nil {
			s.fill(loadCtx, rec, gen)
		}
		return rec, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// callers mutate the record they get back
	loaded := res.Val.(*domain.CartRecord)
	rec := *loaded
	rec.Items = append([]domain.CartLineItem(nil), loaded.Items...)
	return &rec, nil
}

// fill caches rec unless a write invalidated the entry after gen was read.
func (s *CachedStore) fill(ctx context.Context, rec *domain.CartRecord, gen int64) {
	setCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := s.cache.Set(setCtx, rec, gen)
	switch {
	case errors.Is(err, cache.ErrStaleFill):
		logger.Ctx(ctx).Debug().Str("user_id", rec.UserID).Msg("cart changed during cache fill, not cached")
	case err != nil:
		logger.Ctx(ctx).Warn().Err(err).Str("user_id", rec.UserID).Msg("cache set error")
	}
}

func (s *CachedStore) Save(ctx context.Context, rec *domain.CartRecord) error {
	err := s.backing.Save(ctx, rec)
	s.invalidate(ctx, rec.UserID)
	return err
}

func (s *CachedStore) Remove(ctx context.Context, userID string) error {
	err := s.backing.Remove(ctx, userID)
	s.invalidate(ctx, userID)
	return err
}

func (s *CachedStore) RemoveIfUnchanged(ctx context.Context, rec *domain.CartRecord) error {
	err := s.backing.RemoveIfUnchanged(ctx, rec)
	s.invalidate(ctx, rec.UserID)
	return err
}

func (s *CachedStore) RemoveItem(ctx context.Context, userID, productID string) error {
	err := s.backing.RemoveItem(ctx, userID, productID)
	s.invalidate(ctx, userID)
	return err
}

func (s *CachedStore) Ping(ctx context.Context) error {
	return s.backing.Ping(ctx)
}

// ForEach bypasses the cache. It fails if the backing store cannot be scanned.
func (s *CachedStore) ForEach(ctx context.Context, fn func(*domain.CartRecord) error) error {
	sc, ok := s.backing.(Scanner)
	if !ok {
		return errors.New("backing store does not support scanning")
	}
	return sc.ForEach(ctx, fn)
}

func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(delCtx, userID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("cache invalidate error")
	}
}
