package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// ErrVersionConflict is returned by Save when the stored record changed since it was read.
var ErrVersionConflict = errors.New("cart version conflict")

// CartStore persists one CartRecord per user.
// Consumers define this interface, not the Redis or MongoDB implementation.
type CartStore interface {
	// Get returns domain.ErrCartNotFound when the user has no cart.
	Get(ctx context.Context, userID string) (*domain.CartRecord, error)
	// Save overwrites the whole record if the stored version still equals rec.Version
	// (0 means "must not exist yet") and refreshes its TTL. On success rec.Version
	// is incremented; otherwise ErrVersionConflict is returned.
	Save(ctx context.Context, rec *domain.CartRecord) error
	// Remove deletes the record. Removing an absent cart is not an error.
	Remove(ctx context.Context, userID string) error
	// RemoveIfUnchanged deletes the record only while the stored version still
	// equals rec.Version; otherwise ErrVersionConflict is returned.
	// An absent cart is not an error.
	RemoveIfUnchanged(ctx context.Context, rec *domain.CartRecord) error
	// RemoveItem deletes a single line item without a version check.
	// A missing cart or item is not an error.
	RemoveItem(ctx context.Context, userID, productID string) error
	Ping(ctx context.Context) error
}

// Scanner walks every stored cart. fn returning an error stops the walk.
type Scanner interface {
	ForEach(ctx context.Context, fn func(*domain.CartRecord) error) error
}

const (
	keyPrefix  = "cart:"
	hashRounds = 5
)

// CartKey derives the storage key for a user without exposing the raw id.
func CartKey(userID string) string {
	h := userID
	for i := 0; i < hashRounds; i++ {
		sum := sha256.Sum256([]byte(h))
		h = hex.EncodeToString(sum[:])
	}
	return keyPrefix + h[:16]
}
