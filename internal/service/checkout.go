package service

import (
	"context"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/fjod/go_cart/cart-service/internal/lookup"
)

// PrepareCheckout reconciles the cart, validates it and decides whether it can be ordered.
func (s *CartService) PrepareCheckout(ctx context.Context, userID string) (*domain.CheckoutPreparation, error) {
	r, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r.Degraded {
		return nil, domain.DependencyError("checkout reconciliation", lookup.ErrUnavailable)
	}
	if r.Cart == nil || len(r.Cart.Items) == 0 {
		return nil, domain.NewError(domain.ErrCartEmpty, "Cart is empty")
	}

	validation, err := s.ValidateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := domain.CheckoutSummary{
		ItemCount:          r.Cart.TotalItems,
		TotalAmount:        r.Cart.Pricing.Total,
		IsReadyForCheckout: validation.IsValid && r.Cart.Pricing.Total.GreaterThanOrEqual(s.cfg.MinOrderAmount),
	}
	if errs := s.pricing.ValidatePricing(r.Cart.Pricing); len(errs) > 0 {
		logger.Component(ctx, "checkout").Error().
			Str("user_id", userID).
			Strs("errors", errs).
			Msg("inconsistent cart pricing")
		summary.IsReadyForCheckout = false
	}

	logger.Component(ctx, "checkout").Info().
		Str("user_id", userID).
		Int("item_count", summary.ItemCount).
		Str("total_amount", summary.TotalAmount.String()).
		Bool("is_ready", summary.IsReadyForCheckout).
		Msg("checkout preparation completed")

	return &domain.CheckoutPreparation{
		Cart:       r.Cart,
		Validation: validation,
		Summary:    summary,
	}, nil
}
