package service

import (
	"context"
	"sort"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/fjod/go_cart/cart-service/internal/lookup"
)

// MergeGuestCart folds an anonymous cart into the user's cart. Quantities of
// products already present are summed and capped without an inventory check;
// new products are inserted only if they pass validation. When the result
// exceeds the item limit the most recently updated items are kept and the
// rest are reported in Dropped.
func (s *CartService) MergeGuestCart(ctx context.Context, userID string, guest []domain.GuestCartItem) (*domain.MergeResult, error) {
	lines, skipped := s.normalizeGuest(guest)
	if len(lines) == 0 {
		view, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &domain.MergeResult{Cart: view, Dropped: []string{}, Skipped: skipped}, nil
	}

	accepted := s.prevalidateGuest(ctx, lines)

	var dropped, rejected []string
	rec, err := s.mutate(ctx, userID, true, func(rec *domain.CartRecord) error {
		dropped, rejected = []string{}, []string{}
		now := s.now()
		for _, g := range lines {
			if idx := rec.FindItem(g.ProductID); idx >= 0 {
				rec.Items[idx].Quantity = min(rec.Items[idx].Quantity+g.Quantity, s.cfg.MaxQuantityPerItem)
				rec.Items[idx].UpdatedAt = now
				continue
			}
			if !accepted[g.ProductID] {
				rejected = append(rejected, g.ProductID)
				continue
			}
			rec.Items = append(rec.Items, domain.CartLineItem{
				ProductID: g.ProductID,
				Quantity:  g.Quantity,
				AddedAt:   now,
				UpdatedAt: now,
			})
		}
		rec.Items, dropped = truncateByRecency(rec.Items, s.cfg.MaxItems)
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	var view *domain.EnrichedCart
	if len(rec.Items) > 0 {
		view = s.reconcile(ctx, rec).Cart
	}
	skipped = append(skipped, rejected...)

	logger.Component(ctx, "cart").Info().
		Str("user_id", userID).
		Int("guest_items", len(guest)).
		Int("final_items", len(rec.Items)).
		Strs("dropped", dropped).
		Strs("skipped", skipped).
		Msg("guest cart merged")
	return &domain.MergeResult{Cart: view, Dropped: dropped, Skipped: skipped}, nil
}

// normalizeGuest folds duplicate guest lines, clamps quantities and sets
// aside lines that can never be valid.
func (s *CartService) normalizeGuest(guest []domain.GuestCartItem) ([]domain.GuestCartItem, []string) {
	skipped := []string{}
	index := make(map[string]int, len(guest))
	lines := make([]domain.GuestCartItem, 0, len(guest))
	for _, g := range guest {
		if g.ProductID == "" || g.Quantity <= 0 {
			if g.ProductID != "" {
				skipped = append(skipped, g.ProductID)
			}
			continue
		}
		if i, ok := index[g.ProductID]; ok {
			lines[i].Quantity = min(lines[i].Quantity+g.Quantity, s.cfg.MaxQuantityPerItem)
			continue
		}
		index[g.ProductID] = len(lines)
		lines = append(lines, domain.GuestCartItem{ProductID: g.ProductID, Quantity: min(g.Quantity, s.cfg.MaxQuantityPerItem)})
	}
	return lines, skipped
}

// prevalidateGuest checks every guest line in one product batch and one
// inventory batch. Lines that cannot be verified are not accepted.
func (s *CartService) prevalidateGuest(ctx context.Context, lines []domain.GuestCartItem) map[string]bool {
	accepted := make(map[string]bool, len(lines))
	ids := make([]string, len(lines))
	for i, g := range lines {
		ids[i] = g.ProductID
	}

	products, err := s.products.BatchGet(ctx, ids)
	if err != nil {
		logger.Component(ctx, "cart").Warn().Err(err).Msg("guest merge product lookup failed, new items skipped")
		return accepted
	}
	catalog := lookup.IndexProducts(products)

	reqs := make([]domain.InventoryRequest, 0, len(lines))
	for _, g := range lines {
		p, ok := catalog[g.ProductID]
		if !ok {
			continue
		}
		reqs = append(reqs, domain.InventoryRequest{ProductID: g.ProductID, Quantity: g.Quantity, Hints: domain.HintsFor(p)})
	}
	if len(reqs) == 0 {
		return accepted
	}

	results, err := s.inventory.BatchCheck(ctx, reqs)
	if err != nil {
		logger.Component(ctx, "cart").Warn().Err(err).Msg("guest merge inventory check failed, new items skipped")
		return accepted
	}
	for i, res := range results {
		if i < len(reqs) && res.Satisfies(reqs[i].Quantity) {
			accepted[reqs[i].ProductID] = true
		}
	}
	return accepted
}

// truncateByRecency keeps the limit most recently updated items in their
// original order and returns the ids of the rest.
func truncateByRecency(items []domain.CartLineItem, limit int) ([]domain.CartLineItem, []string) {
	if len(items) <= limit {
		return items, []string{}
	}
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].UpdatedAt.After(items[order[b]].UpdatedAt)
	})

	keep := make(map[int]bool, limit)
	for _, i := range order[:limit] {
		keep[i] = true
	}
	kept := make([]domain.CartLineItem, 0, limit)
	dropped := make([]string, 0, len(items)-limit)
	for i, item := range items {
		if keep[i] {
			kept = append(kept, item)
		} else {
			dropped = append(dropped, item.ProductID)
		}
	}
	return kept, dropped
}
