package domain

import "github.com/shopspring/decimal"

// InventoryStatus as reported by the inventory service.
type InventoryStatus string

const (
	InventoryInStock    InventoryStatus = "in_stock"
	InventoryLowStock   InventoryStatus = "low_stock"
	InventoryOutOfStock InventoryStatus = "out_of_stock"
	InventoryUnknown    InventoryStatus = "unknown"
)

// ProductSnapshot is the product data the cart needs from the catalog.
// Every optional field has an explicit zero form so nothing nil reaches pricing.
type ProductSnapshot struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	ShortDescription string              `json:"short_description"`
	Price            decimal.Decimal     `json:"price"`
	OriginalPrice    decimal.NullDecimal `json:"original_price"`
	InventoryStatus  InventoryStatus     `json:"inventory_status"`
	ImageURL         string              `json:"image_url,omitempty"`
	Categories       []string            `json:"categories,omitempty"`
}

// InventoryHints lets the inventory service short-circuit using data the caller already has.
type InventoryHints struct {
	InventoryStatus InventoryStatus `json:"inventory_status"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
}

// HintsFor builds inventory hints from a product snapshot.
func HintsFor(p ProductSnapshot) InventoryHints {
	return InventoryHints{
		InventoryStatus: p.InventoryStatus,
		Name:            p.Name,
		Price:           p.Price,
	}
}

type InventoryRequest struct {
	ProductID string         `json:"product_id"`
	Quantity  int            `json:"quantity"`
	Hints     InventoryHints `json:"hints"`
}

type InventoryResult struct {
	ProductID         string          `json:"product_id"`
	Available         bool            `json:"available"`
	AvailableQuantity int             `json:"available_quantity"`
	Status            InventoryStatus `json:"status"`
	// Error is set by batch checks when this single item could not be checked.
	Error string `json:"error,omitempty"`
}

// Satisfies reports whether the result covers the requested quantity.
func (r InventoryResult) Satisfies(quantity int) bool {
	return r.Error == "" && r.Available && r.AvailableQuantity >= quantity
}
