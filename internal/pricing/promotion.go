package pricing

import (
	"strings"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Promotion computes a discount for the priced items. Results are rounded
// and capped at the subtotal by the calculator.
type Promotion interface {
	Discount(items []domain.EnrichedCartLineItem, subtotal decimal.Decimal) decimal.Decimal
}

type NoPromotion struct{}

func (NoPromotion) Discount([]domain.EnrichedCartLineItem, decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

// BulkPromotion takes Rate off the subtotal when the cart holds more than MinQuantity units.
type BulkPromotion struct {
	MinQuantity int
	Rate        decimal.Decimal
}

func (b BulkPromotion) Discount(items []domain.EnrichedCartLineItem, subtotal decimal.Decimal) decimal.Decimal {
	units := 0
	for _, item := range items {
		units += item.Quantity
	}
	if units <= b.MinQuantity {
		return decimal.Zero
	}
	return subtotal.Mul(b.Rate)
}

// CategoryPromotion takes Rate off every line whose product is in Category.
type CategoryPromotion struct {
	Category string
	Rate     decimal.Decimal
}

func (c CategoryPromotion) Discount(items []domain.EnrichedCartLineItem, _ decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		for _, cat := range item.Product.Categories {
			if strings.Contains(strings.ToLower(cat), strings.ToLower(c.Category)) {
				total = total.Add(item.TotalPrice.Mul(c.Rate))
				break
			}
		}
	}
	return total
}

// Stack sums the discounts of several promotions.
type Stack []Promotion

func (s Stack) Discount(items []domain.EnrichedCartLineItem, subtotal decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range s {
		total = total.Add(p.Discount(items, subtotal))
	}
	return total
}

// FromConfig builds the promotion configured for the process.
func FromConfig(minQuantity int, rate decimal.Decimal) Promotion {
	if minQuantity <= 0 || !rate.IsPositive() {
		return NoPromotion{}
	}
	return BulkPromotion{MinQuantity: minQuantity, Rate: rate}
}
