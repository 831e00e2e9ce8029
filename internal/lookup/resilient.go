package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the circuit breakers around each collaborator.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Resilient bounds every lookup with a timeout and a circuit breaker.
// Any failure it returns wraps domain.ErrDependency.
type Resilient struct {
	products  ProductLookup
	inventory InventoryLookup
	timeout   time.Duration

	productCB   *gobreaker.CircuitBreaker[[]domain.ProductSnapshot]
	inventoryCB *gobreaker.CircuitBreaker[domain.InventoryResult]
	batchCB     *gobreaker.CircuitBreaker[[]domain.InventoryResult]
}

func NewResilient(products ProductLookup, inventory InventoryLookup, timeout time.Duration, bs BreakerSettings) *Resilient {
	return &Resilient{
		products:    products,
		inventory:   inventory,
		timeout:     timeout,
		productCB:   gobreaker.NewCircuitBreaker[[]domain.ProductSnapshot](breakerSettings("product-lookup", bs)),
		inventoryCB: gobreaker.NewCircuitBreaker[domain.InventoryResult](breakerSettings("inventory-check", bs)),
		batchCB:     gobreaker.NewCircuitBreaker[[]domain.InventoryResult](breakerSettings("inventory-batch", bs)),
	}
}

func breakerSettings(name string, bs BreakerSettings) gobreaker.Settings {
	failures := bs.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	openTimeout := bs.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// client errors mean the service answered
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Status < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Ctx(context.Background()).Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
}

func (r *Resilient) BatchGet(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.productCB.Execute(func() ([]domain.ProductSnapshot, error) {
		return r.products.BatchGet(ctx, ids)
	})
	if err != nil {
		return nil, wrapDependency("product batch", err)
	}
	return out, nil
}

func (r *Resilient) Check(ctx context.Context, productID string, quantity int, hints domain.InventoryHints) (domain.InventoryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.inventoryCB.Execute(func() (domain.InventoryResult, error) {
		return r.inventory.Check(ctx, productID, quantity, hints)
	})
	if err != nil {
		return domain.InventoryResult{}, wrapDependency("inventory check", err)
	}
	return out, nil
}

func (r *Resilient) BatchCheck(ctx context.Context, items []domain.InventoryRequest) ([]domain.InventoryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.batchCB.Execute(func() ([]domain.InventoryResult, error) {
		return r.inventory.BatchCheck(ctx, items)
	})
	if err != nil {
		return nil, wrapDependency("inventory batch check", err)
	}
	return out, nil
}

func wrapDependency(op string, err error) error {
	if errors.Is(err, domain.ErrDependency) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return domain.DependencyError(op, err)
}
