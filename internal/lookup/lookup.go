// Package lookup holds the cart's view of the product catalog and inventory
// services: the interfaces the cart consumes, HTTP clients for them, and a
// resilience wrapper that bounds every call.
package lookup

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// ProductLookup fetches product snapshots in bulk.
// Unknown ids are omitted from the result; an empty id set is valid.
type ProductLookup interface {
	BatchGet(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error)
}

// InventoryLookup answers availability questions for requested quantities.
type InventoryLookup interface {
	Check(ctx context.Context, productID string, quantity int, hints domain.InventoryHints) (domain.InventoryResult, error)
	// BatchCheck returns one result per request, in request order. A failure for a
	// single item is reported in that result's Error field, not as the returned error.
	BatchCheck(ctx context.Context, items []domain.InventoryRequest) ([]domain.InventoryResult, error)
}

var (
	ErrUnavailable = errors.New("lookup service unavailable")
	ErrBadResponse = errors.New("lookup service returned an invalid response")
)

// IndexProducts keys snapshots by product id.
func IndexProducts(products []domain.ProductSnapshot) map[string]domain.ProductSnapshot {
	out := make(map[string]domain.ProductSnapshot, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}
