package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/config"
	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/fjod/go_cart/cart-service/internal/lookup"
	"github.com/fjod/go_cart/cart-service/internal/pricing"
	"github.com/fjod/go_cart/cart-service/internal/store"
	"golang.org/x/sync/singleflight"
)

const (
	maxWriteAttempts   = 3
	defaultReadTimeout = 10 * time.Second
)

type CartService struct {
	store       store.CartStore
	products    lookup.ProductLookup
	inventory   lookup.InventoryLookup
	reconciler  *Reconciler
	pricing     *pricing.Calculator
	cfg         config.CartConfig
	now         func() time.Time
	sfg         singleflight.Group // collapses concurrent reads of one cart
	readTimeout time.Duration
}

type Option func(*CartService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *CartService) { s.now = now }
}

// WithReadTimeout bounds a shared read, which no single caller can cancel.
func WithReadTimeout(d time.Duration) Option {
	return func(s *CartService) { s.readTimeout = d }
}

// WithFanOut bounds concurrent inventory checks per cart.
func WithFanOut(n int) Option {
	return func(s *CartService) {
		s.reconciler = NewReconciler(s.products, s.inventory, s.pricing, n)
	}
}

func NewCartService(st store.CartStore, products lookup.ProductLookup, inventory lookup.InventoryLookup, calc *pricing.Calculator, cfg config.CartConfig, opts ...Option) *CartService {
	s := &CartService{
		store:     st,
		products:  products,
		inventory: inventory,
		pricing:   calc,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },

		readTimeout: defaultReadTimeout,
	}
	s.reconciler = NewReconciler(products, inventory, calc, defaultFanOut)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCart returns the reconciled view, or nil when the user has no live cart.
// Dependency failures degrade to an empty view instead of an error.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.EnrichedCart, error) {
	r, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.Cart, nil
}

// read shares one load and reconciliation between concurrent callers. The
// shared work is detached from any one caller; a caller whose ctx ends first
// gets a degraded empty view.
func (s *CartService) read(ctx context.Context, userID string) (Reconciliation, error) {
	ch := s.sfg.DoChan(userID, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()

		rec, err := s.load(shared, userID)
		if err != nil {
			return Reconciliation{}, err
		}
		if rec == nil || len(rec.Items) == 0 {
			return Reconciliation{}, nil
		}
		return s.reconcile(shared, rec), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Reconciliation{}, res.Err
		}
		return res.Val.(Reconciliation), nil
	case <-ctx.Done():
		logger.Component(ctx, "cart").Warn().Err(ctx.Err()).
			Str("user_id", userID).
			Bool("degraded", true).
			Msg("cart read did not finish in time, returning empty cart")
		return Reconciliation{Cart: s.reconciler.emptyView(&domain.CartRecord{UserID: userID}), Degraded: true}, nil
	}
}

// load returns nil for an absent cart and lazily deletes an expired one.
func (s *CartService) load(ctx context.Context, userID string) (*domain.CartRecord, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if rec.IsExpired(s.now()) {
		logger.Component(ctx, "cart").Info().
			Str("user_id", userID).
			Time("expires_at", rec.ExpiresAt).
			Msg("cart expired, clearing it")
		err := s.store.RemoveIfUnchanged(ctx, rec)
		if errors.Is(err, store.ErrVersionConflict) {
			// replaced by a fresh cart since it was read
			return s.load(ctx, userID)
		}
		if err != nil {
			return nil, fmt.Errorf("remove expired cart: %w", err)
		}
		return nil, nil
	}
	return rec, nil
}

// reconcile enriches rec and repairs the store when products have vanished.
func (s *CartService) reconcile(ctx context.Context, rec *domain.CartRecord) Reconciliation {
	r := s.reconciler.Enrich(ctx, rec)
	if len(r.Prune) > 0 {
		s.reconciler.Repair(ctx, s.store, rec.UserID, r.Prune)
	}
	return r
}

func (s *CartService) AddToCart(ctx context.Context, userID, productID string, quantity int) (*domain.EnrichedCart, error) {
	if err := s.checkQuantity(quantity); err != nil {
		return nil, err
	}
	if _, _, err := s.validateItem(ctx, productID, quantity); err != nil {
		logger.Component(ctx, "cart").Info().Err(err).
			Str("user_id", userID).
			Str("product_id", productID).
			Int("quantity", quantity).
			Msg("product cannot be added to cart")
		return nil, err
	}

	rec, err := s.mutate(ctx, userID, true, func(rec *domain.CartRecord) error {
		now := s.now()
		idx := rec.FindItem(productID)
		if idx < 0 {
			if len(rec.Items) >= s.cfg.MaxItems {
				return domain.NewError(domain.ErrItemLimitExceeded, "Maximum %d items allowed in cart", s.cfg.MaxItems)
			}
			rec.Items = append(rec.Items, domain.CartLineItem{
				ProductID: productID,
				Quantity:  quantity,
				AddedAt:   now,
				UpdatedAt: now,
			})
			rec.UpdatedAt = now
			return nil
		}

		existing := rec.Items[idx].Quantity
		newQuantity := existing + quantity
		if newQuantity > s.cfg.MaxQuantityPerItem {
			return domain.NewError(domain.ErrQuantityLimitExceeded,
				"You already have %d in cart. Maximum quantity per item is %d", existing, s.cfg.MaxQuantityPerItem)
		}
		if _, _, err := s.validateItem(ctx, productID, newQuantity); err != nil {
			var avail *domain.AvailabilityError
			if errors.As(err, &avail) && avail.AvailableQuantity > 0 {
				avail.Message = fmt.Sprintf("You already have %d in cart. Only %d more can be added (%d total available).",
					existing, max(0, avail.AvailableQuantity-existing), avail.AvailableQuantity)
			}
			return err
		}
		rec.Items[idx].Quantity = newQuantity
		rec.Items[idx].UpdatedAt = now
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	view := s.reconcile(ctx, rec).Cart
	logger.Component(ctx, "cart").Info().
		Str("user_id", userID).
		Str("product_id", productID).
		Int("quantity", quantity).
		Int("total_items", view.TotalItems).
		Msg("item added to cart")
	return view, nil
}

// UpdateCartItem sets the absolute quantity of a line item. A quantity of zero
// or less removes the item.
func (s *CartService) UpdateCartItem(ctx context.Context, userID, productID string, quantity int) (*domain.EnrichedCart, error) {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, userID, productID)
	}
	if quantity > s.cfg.MaxQuantityPerItem {
		return nil, domain.NewError(domain.ErrQuantityLimitExceeded, "Maximum quantity per item is %d", s.cfg.MaxQuantityPerItem)
	}

	rec, err := s.mutate(ctx, userID, false, func(rec *domain.CartRecord) error {
		idx := rec.FindItem(productID)
		if idx < 0 {
			return domain.NewError(domain.ErrItemNotInCart, "Item not found in cart")
		}
		if _, _, err := s.validateItem(ctx, productID, quantity); err != nil {
			return err
		}
		now := s.now()
		rec.Items[idx].Quantity = quantity
		rec.Items[idx].UpdatedAt = now
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Component(ctx, "cart").Info().
		Str("user_id", userID).
		Str("product_id", productID).
		Int("quantity", quantity).
		Msg("cart item updated")
	return s.reconcile(ctx, rec).Cart, nil
}

// RemoveFromCart deletes one line item. Removing the last item deletes the
// cart and returns a nil view with a nil error.
func (s *CartService) RemoveFromCart(ctx context.Context, userID, productID string) (*domain.EnrichedCart, error) {
	rec, err := s.mutate(ctx, userID, false, func(rec *domain.CartRecord) error {
		if !rec.RemoveItem(productID) {
			return domain.NewError(domain.ErrItemNotInCart, "Item not found in cart")
		}
		rec.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rec.Items) == 0 {
		logger.Component(ctx, "cart").Info().Str("user_id", userID).Msg("cart cleared, all items removed")
		return nil, nil
	}

	logger.Component(ctx, "cart").Info().
		Str("user_id", userID).
		Str("product_id", productID).
		Int("remaining_items", len(rec.Items)).
		Msg("item removed from cart")
	return s.reconcile(ctx, rec).Cart, nil
}

// ClearCart deletes the cart. Clearing an absent cart is not an error.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if err := s.store.Remove(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	logger.Component(ctx, "cart").Info().Str("user_id", userID).Msg("cart cleared")
	return nil
}

// GetCartItemCount sums stored quantities without contacting any collaborator.
func (s *CartService) GetCartItemCount(ctx context.Context, userID string) (int, error) {
	rec, err := s.load(ctx, userID)
	if err != nil || rec == nil {
		return 0, err
	}
	return rec.TotalQuantity(), nil
}

func (s *CartService) checkQuantity(quantity int) error {
	if quantity <= 0 {
		return domain.NewError(domain.ErrInvalidQuantity, "Quantity must be greater than 0")
	}
	if quantity > s.cfg.MaxQuantityPerItem {
		return domain.NewError(domain.ErrQuantityLimitExceeded, "Maximum quantity per item is %d", s.cfg.MaxQuantityPerItem)
	}
	return nil
}

// mutate runs a compare-and-swap read-modify-write on the user's cart,
// retrying when another writer got there first. A cart left without items
// is deleted. create allows starting from a fresh record.
func (s *CartService) mutate(ctx context.Context, userID string, create bool, apply func(*domain.CartRecord) error) (*domain.CartRecord, error) {
	for attempt := 1; ; attempt++ {
		rec, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			if !create {
				return nil, domain.NewError(domain.ErrCartNotFound, "Cart not found")
			}
			rec = domain.NewCartRecord(userID, s.now(), s.cfg.Lifetime())
		}

		if err := apply(rec); err != nil {
			return nil, err
		}

		if len(rec.Items) == 0 {
			err = s.store.RemoveIfUnchanged(ctx, rec)
		} else {
			err = s.store.Save(ctx, rec)
		}
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("save cart: %w", err)
		}
		if attempt >= maxWriteAttempts {
			logger.Component(ctx, "cart").Warn().
				Str("user_id", userID).
				Int("attempts", attempt).
				Msg("giving up on contended cart write")
			return nil, fmt.Errorf("save cart: %w", domain.ErrConflict)
		}
		logger.Component(ctx, "cart").Debug().
			Str("user_id", userID).
			Int("attempt", attempt).
			Msg("cart changed concurrently, retrying")
	}
}
