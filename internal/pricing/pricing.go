package pricing

import (
	"fmt"

	"github.com/fjod/go_cart/cart-service/internal/config"
	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Calculator turns enriched line items into a pricing breakdown. It is pure.
type Calculator struct {
	currency              string
	places                int32
	taxRate               decimal.Decimal
	shippingCost          decimal.Decimal
	freeShippingThreshold decimal.Decimal
	promotion             Promotion
}

// NewCalculator builds a calculator; a nil promotion means no discount.
func NewCalculator(cfg config.PricingConfig, promotion Promotion) *Calculator {
	if promotion == nil {
		promotion = NoPromotion{}
	}
	return &Calculator{
		currency:              cfg.Currency,
		places:                cfg.DecimalPlaces,
		taxRate:               cfg.TaxRate,
		shippingCost:          cfg.ShippingCost,
		freeShippingThreshold: cfg.FreeShippingThreshold,
		promotion:             promotion,
	}
}

// Round rounds half away from zero to the configured decimal places.
func (c *Calculator) Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(c.places)
}

// Format renders an amount with the configured precision and currency.
func (c *Calculator) Format(v decimal.Decimal) string {
	return fmt.Sprintf("%s %s", v.StringFixed(c.places), c.currency)
}

// LineTotal is price × quantity, rounded.
func (c *Calculator) LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return c.Round(price.Mul(decimal.NewFromInt(int64(quantity))))
}

// Compute prices every item it is given; availability does not exclude an item.
func (c *Calculator) Compute(items []domain.EnrichedCartLineItem) domain.CartPricing {
	subtotal := decimal.Zero
	units := 0
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
		units += item.Quantity
	}
	subtotal = c.Round(subtotal)

	shipping := decimal.Zero
	if len(items) > 0 && subtotal.LessThan(c.freeShippingThreshold) {
		shipping = c.Round(c.shippingCost)
	}

	tax := c.Round(subtotal.Mul(c.taxRate))

	discount := c.Round(c.promotion.Discount(items, subtotal))
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	total := c.Round(subtotal.Add(shipping).Add(tax).Sub(discount))
	if total.IsNegative() {
		total = decimal.Zero
	}

	return domain.CartPricing{
		Currency:              c.currency,
		Subtotal:              subtotal,
		Shipping:              shipping,
		Tax:                   tax,
		TaxRate:               c.taxRate,
		Discount:              discount,
		Total:                 total,
		FreeShippingThreshold: c.freeShippingThreshold,
		ItemCount:             units,
	}
}

// ValidatePricing checks that every component is non-negative and that
// total = subtotal + shipping + tax - discount within one unit of the last decimal place.
func (c *Calculator) ValidatePricing(p domain.CartPricing) []string {
	var errs []string
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"Subtotal", p.Subtotal},
		{"Shipping", p.Shipping},
		{"Tax", p.Tax},
		{"Discount", p.Discount},
		{"Total", p.Total},
	} {
		if f.v.IsNegative() {
			errs = append(errs, fmt.Sprintf("%s cannot be negative", f.name))
		}
	}

	epsilon := decimal.New(1, -c.places)
	expected := p.Subtotal.Add(p.Shipping).Add(p.Tax).Sub(p.Discount)
	if expected.IsNegative() {
		expected = decimal.Zero
	}
	if p.Total.Sub(expected).Abs().GreaterThan(epsilon) {
		errs = append(errs, fmt.Sprintf("Total %s does not match components (expected %s)", p.Total.String(), expected.String()))
	}
	return errs
}
