package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartRecord is the persisted, minimal cart: product ids and quantities only.
// Version is bumped by the store on every successful write.
type CartRecord struct {
	UserID    string         `json:"user_id" bson:"user_id"`
	Items     []CartLineItem `json:"items" bson:"items"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updated_at"`
	ExpiresAt time.Time      `json:"expires_at" bson:"expires_at"`
	Version   int64          `json:"version" bson:"version"`
}

type CartLineItem struct {
	ProductID string    `json:"product_id" bson:"product_id"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	AddedAt   time.Time `json:"added_at" bson:"added_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewCartRecord creates an empty record whose expiry is fixed at creation time.
func NewCartRecord(userID string, now time.Time, lifetime time.Duration) *CartRecord {
	return &CartRecord{
		UserID:    userID,
		Items:     []CartLineItem{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
}

// IsExpired reports whether the record is past its expiry at the given instant
func (c *CartRecord) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

// FindItem returns the index of the line item for productID, or -1.
func (c *CartRecord) FindItem(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *CartRecord) RemoveItem(productID string) bool {
	idx := c.FindItem(productID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}

// TotalQuantity sums the quantities of all line items.
func (c *CartRecord) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// ProductIDs returns the distinct product ids in insertion order.
func (c *CartRecord) ProductIDs() []string {
	seen := make(map[string]struct{}, len(c.Items))
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// EnrichedCartLineItem is a line item joined with live product and inventory data.
type EnrichedCartLineItem struct {
	CartLineItem
	Product           ProductSnapshot `json:"product"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	IsAvailable       bool            `json:"is_available"`
	AvailableQuantity int             `json:"available_quantity"`
}

type CartPricing struct {
	Currency              string          `json:"currency"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	Shipping              decimal.Decimal `json:"shipping"`
	Tax                   decimal.Decimal `json:"tax"`
	TaxRate               decimal.Decimal `json:"tax_rate"`
	Discount              decimal.Decimal `json:"discount"`
	Total                 decimal.Decimal `json:"total"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`
	ItemCount             int             `json:"item_count"`
}

// EnrichedCart is the externally visible cart view computed at read time.
type EnrichedCart struct {
	UserID     string                 `json:"user_id"`
	Items      []EnrichedCartLineItem `json:"items"`
	TotalItems int                    `json:"total_items"`
	Pricing    CartPricing            `json:"pricing"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
}

// GuestCartItem is a line of an anonymous cart submitted at login.
type GuestCartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CartValidationResult struct {
	IsValid      bool     `json:"is_valid"`
	Errors       []string `json:"errors"`
	InvalidItems []string `json:"invalid_items"`
}

type CheckoutSummary struct {
	ItemCount          int             `json:"item_count"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	IsReadyForCheckout bool            `json:"is_ready_for_checkout"`
}

type CheckoutPreparation struct {
	Cart       *EnrichedCart        `json:"cart"`
	Validation CartValidationResult `json:"validation"`
	Summary    CheckoutSummary      `json:"summary"`
}

// MergeResult reports the merged cart view and which guest or existing
// product ids did not survive the merge.
type MergeResult struct {
	Cart *EnrichedCart `json:"cart"`
	// Dropped lists ids removed because the merged cart exceeded the item limit.
	Dropped []string `json:"dropped"`
	// Skipped lists guest ids that failed validation and were not inserted.
	Skipped []string `json:"skipped"`
}
