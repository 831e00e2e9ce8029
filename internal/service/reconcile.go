package service

import (
	"context"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/fjod/go_cart/cart-service/internal/lookup"
	"github.com/fjod/go_cart/cart-service/internal/pricing"
	"github.com/fjod/go_cart/cart-service/internal/store"
	"golang.org/x/sync/errgroup"
)

const defaultFanOut = 16

// Reconciliation is the outcome of enriching a stored cart against live data.
type Reconciliation struct {
	Cart *domain.EnrichedCart
	// Prune lists product ids the catalog no longer knows about.
	Prune []string
	// Degraded is set when a dependency failure forced an empty view.
	Degraded bool
}

// Reconciler builds enriched cart views. Enrich has no side effects; Repair
// applies the deletions an enrichment asked for.
type Reconciler struct {
	products  lookup.ProductLookup
	inventory lookup.InventoryLookup
	pricing   *pricing.Calculator
	fanOut    int
}

func NewReconciler(products lookup.ProductLookup, inventory lookup.InventoryLookup, calc *pricing.Calculator, fanOut int) *Reconciler {
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}
	return &Reconciler{products: products, inventory: inventory, pricing: calc, fanOut: fanOut}
}

// Enrich joins rec with product and inventory data and prices the result.
// It never fails: a product batch failure or an expired context yields an
// empty, degraded view. Individual inventory failures only mark that item unavailable.
func (r *Reconciler) Enrich(ctx context.Context, rec *domain.CartRecord) Reconciliation {
	if len(rec.Items) == 0 {
		return Reconciliation{Cart: r.emptyView(rec)}
	}

	products, err := r.products.BatchGet(ctx, rec.ProductIDs())
	if err != nil {
		logger.Component(ctx, "reconciler").Warn().Err(err).
			Str("user_id", rec.UserID).
			Bool("degraded", true).
			Msg("product lookup failed, returning empty cart")
		return Reconciliation{Cart: r.emptyView(rec), Degraded: true}
	}
	catalog := lookup.IndexProducts(products)

	results := make([]domain.InventoryResult, len(rec.Items))
	var g errgroup.Group
	g.SetLimit(r.fanOut)
	for i, item := range rec.Items {
		i, item := i, item
		product, ok := catalog[item.ProductID]
		if !ok {
			continue
		}
		g.Go(func() error {
			res, err := r.inventory.Check(ctx, item.ProductID, item.Quantity, domain.HintsFor(product))
			if err != nil {
				logger.Component(ctx, "reconciler").Warn().Err(err).
					Str("user_id", rec.UserID).
					Str("product_id", item.ProductID).
					Msg("inventory check failed for cart item")
				res = domain.InventoryResult{ProductID: item.ProductID, Status: domain.InventoryUnknown, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		logger.Component(ctx, "reconciler").Warn().Err(err).
			Str("user_id", rec.UserID).
			Bool("degraded", true).
			Msg("inventory fan-out did not complete, returning empty cart")
		return Reconciliation{Cart: r.emptyView(rec), Degraded: true}
	}

	out := Reconciliation{Cart: r.emptyView(rec)}
	items := make([]domain.EnrichedCartLineItem, 0, len(rec.Items))
	for i, item := range rec.Items {
		product, ok := catalog[item.ProductID]
		if !ok {
			out.Prune = append(out.Prune, item.ProductID)
			continue
		}
		inv := results[i]
		if inv.Error == "" && inv.Status != "" && inv.Status != domain.InventoryUnknown {
			product.InventoryStatus = inv.Status
		}
		items = append(items, domain.EnrichedCartLineItem{
			CartLineItem:      item,
			Product:           product,
			TotalPrice:        r.pricing.LineTotal(product.Price, item.Quantity),
			IsAvailable:       inv.Satisfies(item.Quantity),
			AvailableQuantity: inv.AvailableQuantity,
		})
	}

	out.Cart.Items = items
	out.Cart.Pricing = r.pricing.Compute(items)
	out.Cart.TotalItems = out.Cart.Pricing.ItemCount
	return out
}

// Repair removes pruned line items from the store. Failures are logged and
// retried naturally on the next read.
func (r *Reconciler) Repair(ctx context.Context, st store.CartStore, userID string, prune []string) {
	for _, productID := range prune {
		if err := st.RemoveItem(ctx, userID, productID); err != nil {
			logger.Component(ctx, "reconciler").Error().Err(err).
				Str("user_id", userID).
				Str("product_id", productID).
				Msg("failed to prune vanished product from cart")
			continue
		}
		logger.Component(ctx, "reconciler").Info().
			Str("user_id", userID).
			Str("product_id", productID).
			Msg("pruned vanished product from cart")
	}
}

func (r *Reconciler) emptyView(rec *domain.CartRecord) *domain.EnrichedCart {
	return &domain.EnrichedCart{
		UserID:    rec.UserID,
		Items:     []domain.EnrichedCartLineItem{},
		Pricing:   r.pricing.Compute(nil),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}
