package pricing

import (
	"testing"

	"github.com/fjod/go_cart/cart-service/internal/config"
	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() config.PricingConfig {
	return config.PricingConfig{
		Currency:              "VND",
		DecimalPlaces:         2,
		TaxRate:               d("0.1"),
		ShippingCost:          d("30000"),
		FreeShippingThreshold: d("299000"),
	}
}

func line(price string, qty int, categories ...string) domain.EnrichedCartLineItem {
	p := d(price)
	return domain.EnrichedCartLineItem{
		CartLineItem: domain.CartLineItem{ProductID: "sku-" + price, Quantity: qty},
		Product:      domain.ProductSnapshot{ID: "sku-" + price, Price: p, Categories: categories},
		TotalPrice:   p.Mul(decimal.NewFromInt(int64(qty))).Round(2),
		IsAvailable:  true,
	}
}

func TestCompute_ShippingThreshold(t *testing.T) {
	calc := NewCalculator(testConfig(), nil)

	tests := []struct {
		name     string
		items    []domain.EnrichedCartLineItem
		shipping string
	}{
		{"below threshold", []domain.EnrichedCartLineItem{line("125000", 2)}, "30000"},
		{"above threshold", []domain.EnrichedCartLineItem{line("100000", 3)}, "0"},
		{"exactly threshold", []domain.EnrichedCartLineItem{line("299000", 1)}, "0"},
		{"empty cart", nil, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := calc.Compute(tt.items)
			assert.True(t, p.Shipping.Equal(d(tt.shipping)), "shipping %s", p.Shipping)
		})
	}
}

func TestCompute_Breakdown(t *testing.T) {
	calc := NewCalculator(testConfig(), nil)

	p := calc.Compute([]domain.EnrichedCartLineItem{line("125000", 2)})
	assert.True(t, p.Subtotal.Equal(d("250000")))
	assert.True(t, p.Shipping.Equal(d("30000")))
	assert.True(t, p.Tax.Equal(d("25000")))
	assert.True(t, p.Discount.IsZero())
	assert.True(t, p.Total.Equal(d("305000")))
	assert.Equal(t, 2, p.ItemCount)
	assert.Equal(t, "VND", p.Currency)
	assert.Empty(t, calc.ValidatePricing(p))
}

func TestCompute_UnavailableItemsStillPriced(t *testing.T) {
	calc := NewCalculator(testConfig(), nil)

	gone := line("50", 1)
	gone.IsAvailable = false
	p := calc.Compute([]domain.EnrichedCartLineItem{line("10", 1), gone})
	assert.True(t, p.Subtotal.Equal(d("60")))
}

func TestCompute_Rounding(t *testing.T) {
	cfg := testConfig()
	cfg.TaxRate = d("0.075")
	calc := NewCalculator(cfg, nil)

	assert.True(t, calc.LineTotal(d("19.995"), 1).Equal(d("20.00")))
	assert.True(t, calc.LineTotal(d("0.333"), 3).Equal(d("1.00")))

	p := calc.Compute([]domain.EnrichedCartLineItem{line("10.01", 3)})
	// 30.03 * 0.075 = 2.25225
	assert.True(t, p.Tax.Equal(d("2.25")))
	assert.Empty(t, calc.ValidatePricing(p))
}

func TestCompute_BulkPromotion(t *testing.T) {
	calc := NewCalculator(testConfig(), FromConfig(10, d("0.05")))

	small := calc.Compute([]domain.EnrichedCartLineItem{line("1000", 10)})
	assert.True(t, small.Discount.IsZero())

	bulk := calc.Compute([]domain.EnrichedCartLineItem{line("1000", 6), line("2000", 5)})
	// subtotal 16000, 5% off
	assert.True(t, bulk.Discount.Equal(d("800")))
	assert.True(t, bulk.Total.Equal(d("16000").Add(d("30000")).Add(d("1600")).Sub(d("800"))))
	assert.Empty(t, calc.ValidatePricing(bulk))
}

func TestCompute_DiscountCappedAtSubtotal(t *testing.T) {
	calc := NewCalculator(testConfig(), Stack{
		CategoryPromotion{Category: "electronics", Rate: d("0.9")},
		CategoryPromotion{Category: "Electronics", Rate: d("0.9")},
	})

	p := calc.Compute([]domain.EnrichedCartLineItem{line("100", 1, "Consumer Electronics")})
	assert.True(t, p.Discount.Equal(d("100")))
	assert.False(t, p.Total.IsNegative())
	assert.Empty(t, calc.ValidatePricing(p))
}

func TestFormat(t *testing.T) {
	calc := NewCalculator(testConfig(), nil)
	assert.Equal(t, "10.00 VND", calc.Format(d("10")))
	assert.Equal(t, "299000.50 VND", calc.Format(d("299000.5")))
}

func TestCategoryPromotion(t *testing.T) {
	promo := CategoryPromotion{Category: "electronics", Rate: d("0.10")}
	items := []domain.EnrichedCartLineItem{
		line("200", 1, "Electronics"),
		line("300", 1, "Books"),
	}
	assert.True(t, promo.Discount(items, d("500")).Equal(d("20")))
}

func TestFromConfig_Disabled(t *testing.T) {
	assert.IsType(t, NoPromotion{}, FromConfig(0, d("0.05")))
	assert.IsType(t, NoPromotion{}, FromConfig(10, decimal.Zero))
	assert.IsType(t, BulkPromotion{}, FromConfig(10, d("0.05")))
}

func TestValidatePricing_DetectsBrokenArithmetic(t *testing.T) {
	calc := NewCalculator(testConfig(), nil)

	p := domain.CartPricing{
		Subtotal: d("100"),
		Shipping: d("10"),
		Tax:      d("10"),
		Discount: d("0"),
		Total:    d("125"),
	}
	errs := calc.ValidatePricing(p)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "does not match")

	p.Total = d("120.01")
	assert.Empty(t, calc.ValidatePricing(p))

	p.Tax = d("-1")
	p.Total = d("109")
	assert.Contains(t, calc.ValidatePricing(p), "Tax cannot be negative")
}
