package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"golang.org/x/sync/errgroup"
)

// validateItem confirms the product exists and inventory covers quantity.
// Collaborator failures surface as dependency errors.
func (s *CartService) validateItem(ctx context.Context, productID string, quantity int) (domain.ProductSnapshot, domain.InventoryResult, error) {
	products, err := s.products.BatchGet(ctx, []string{productID})
	if err != nil {
		return domain.ProductSnapshot{}, domain.InventoryResult{}, domain.DependencyError("product lookup", err)
	}
	var product domain.ProductSnapshot
	found := false
	for _, p := range products {
		if p.ID == productID {
			product, found = p, true
			break
		}
	}
	if !found {
		return domain.ProductSnapshot{}, domain.InventoryResult{}, domain.NewError(domain.ErrProductNotFound, "Product not found")
	}

	inv, err := s.inventory.Check(ctx, productID, quantity, domain.HintsFor(product))
	if err != nil {
		logger.Component(ctx, "cart").Error().Err(err).
			Str("product_id", productID).
			Int("quantity", quantity).
			Msg("inventory check failed")
		return product, domain.InventoryResult{}, domain.DependencyError("inventory check", err)
	}
	if !inv.Satisfies(quantity) {
		return product, inv, availabilityError(product, quantity, inv)
	}
	return product, inv, nil
}

func availabilityError(product domain.ProductSnapshot, requested int, inv domain.InventoryResult) *domain.AvailabilityError {
	e := &domain.AvailabilityError{
		ProductID:         product.ID,
		Requested:         requested,
		AvailableQuantity: max(0, inv.AvailableQuantity),
		Product:           &product,
	}
	if e.AvailableQuantity > 0 {
		e.Message = fmt.Sprintf("Only %d items available. Would you like to add %d instead?", e.AvailableQuantity, e.AvailableQuantity)
	} else {
		e.Message = fmt.Sprintf("%s is currently out of stock. Add to wishlist to be notified when available.", product.Name)
	}
	return e
}

// ValidateCart re-checks every stored item, expiry and the order minimum
// without changing the cart.
func (s *CartService) ValidateCart(ctx context.Context, userID string) (domain.CartValidationResult, error) {
	result := domain.CartValidationResult{IsValid: true, Errors: []string{}, InvalidItems: []string{}}

	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return result, nil
	}
	if err != nil {
		return domain.CartValidationResult{}, fmt.Errorf("load cart: %w", err)
	}
	if len(rec.Items) == 0 {
		return result, nil
	}

	if rec.IsExpired(s.now()) {
		result.IsValid = false
		result.Errors = append(result.Errors, "Cart has expired")
		return result, nil
	}

	problems := make([]string, len(rec.Items))
	var g errgroup.Group
	g.SetLimit(defaultFanOut)
	for i, item := range rec.Items {
		i, item := i, item
		g.Go(func() error {
			problems[i] = itemProblem(s.validateItem(ctx, item.ProductID, item.Quantity))
			return nil
		})
	}
	_ = g.Wait()

	for i, item := range rec.Items {
		if problems[i] == "" {
			continue
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", item.ProductID, problems[i]))
		result.InvalidItems = append(result.InvalidItems, item.ProductID)
	}

	if len(result.Errors) == 0 {
		r := s.reconciler.Enrich(ctx, rec)
		switch {
		case r.Degraded:
			result.Errors = append(result.Errors, "Unable to verify cart pricing at the moment")
		case r.Cart.Pricing.Subtotal.LessThan(s.cfg.MinOrderAmount):
			result.Errors = append(result.Errors, fmt.Sprintf("Minimum order amount is %s", s.pricing.Format(s.cfg.MinOrderAmount)))
		}
	}

	result.IsValid = len(result.Errors) == 0
	logger.Component(ctx, "cart").Debug().
		Str("user_id", userID).
		Bool("is_valid", result.IsValid).
		Int("error_count", len(result.Errors)).
		Int("invalid_item_count", len(result.InvalidItems)).
		Msg("cart validation completed")
	return result, nil
}

// itemProblem turns a validateItem outcome into a per-item validation message.
func itemProblem(_ domain.ProductSnapshot, _ domain.InventoryResult, err error) string {
	var avail *domain.AvailabilityError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &avail):
		return fmt.Sprintf("Insufficient inventory. Available: %d, Requested: %d", avail.AvailableQuantity, avail.Requested)
	case domain.KindOf(err) == domain.KindDependency:
		return "Unable to check inventory availability at the moment"
	default:
		return err.Error()
	}
}
