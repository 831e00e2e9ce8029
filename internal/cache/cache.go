package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// RecordCache is a read-through cache of stored cart records.
// Every Delete bumps the entry's generation; a fill read against an older
// generation is refused so a stale record never lands after an invalidation.
type RecordCache interface {
	Get(ctx context.Context, userID string) (*domain.CartRecord, error)
	// Generation returns the current invalidation counter for userID.
	Generation(ctx context.Context, userID string) (int64, error)
	// Set stores rec unless the entry was invalidated after generation was read,
	// in which case ErrStaleFill is returned.
	Set(ctx context.Context, rec *domain.CartRecord, generation int64) error
	Delete(ctx context.Context, userID string) error
}

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrStaleFill = errors.New("cache entry invalidated during fill")
)
