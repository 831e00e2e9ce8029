// Package lookuptest provides in-memory product and inventory lookups for tests.
package lookuptest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// MemoryCatalog serves product and inventory lookups from in-memory data.
// Failures and latency can be injected per call kind or per product.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.ProductSnapshot
	stock    map[string]int

	productErr   error
	inventoryErr map[string]error
	batchErr     error
	delay        time.Duration

	productCalls   int
	inventoryCalls int
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products:     make(map[string]domain.ProductSnapshot),
		stock:        make(map[string]int),
		inventoryErr: make(map[string]error),
	}
}

// SetProduct adds or replaces a product and its stock level.
func (m *MemoryCatalog) SetProduct(p domain.ProductSnapshot, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.InventoryStatus == "" {
		p.InventoryStatus = statusFor(stock)
	}
	m.products[p.ID] = p
	m.stock[p.ID] = stock
}

func (m *MemoryCatalog) SetStock(productID string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = stock
}

// DeleteProduct makes the catalog omit the product from batch results.
func (m *MemoryCatalog) DeleteProduct(productID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, productID)
	delete(m.stock, productID)
}

func (m *MemoryCatalog) FailProducts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productErr = err
}

// FailInventory makes Check fail for productID; an empty id fails every check.
func (m *MemoryCatalog) FailInventory(productID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.inventoryErr, productID)
		return
	}
	m.inventoryErr[productID] = err
}

func (m *MemoryCatalog) FailBatch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}

func (m *MemoryCatalog) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls reports how many product and inventory lookups were served.
func (m *MemoryCatalog) Calls() (products, inventory int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.productCalls, m.inventoryCalls
}

func (m *MemoryCatalog) BatchGet(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productCalls++
	if m.productErr != nil {
		return nil, m.productErr
	}

	out := make([]domain.ProductSnapshot, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryCatalog) Check(ctx context.Context, productID string, quantity int, _ domain.InventoryHints) (domain.InventoryResult, error) {
	if err := m.wait(ctx); err != nil {
		return domain.InventoryResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventoryCalls++
	if err := m.failureFor(productID); err != nil {
		return domain.InventoryResult{}, err
	}
	return m.resultFor(productID, quantity), nil
}

func (m *MemoryCatalog) BatchCheck(ctx context.Context, items []domain.InventoryRequest) ([]domain.InventoryResult, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventoryCalls++
	if m.batchErr != nil {
		return nil, m.batchErr
	}

	out := make([]domain.InventoryResult, len(items))
	for n, it := range items {
		if err := m.failureFor(it.ProductID); err != nil {
			out[n] = domain.InventoryResult{ProductID: it.ProductID, Status: domain.InventoryUnknown, Error: err.Error()}
			continue
		}
		out[n] = m.resultFor(it.ProductID, it.Quantity)
	}
	return out, nil
}

func (m *MemoryCatalog) failureFor(productID string) error {
	if err, ok := m.inventoryErr[productID]; ok {
		return err
	}
	return m.inventoryErr[""]
}

func (m *MemoryCatalog) resultFor(productID string, quantity int) domain.InventoryResult {
	stock, ok := m.stock[productID]
	if !ok {
		return domain.InventoryResult{ProductID: productID, Status: domain.InventoryOutOfStock}
	}
	return domain.InventoryResult{
		ProductID:         productID,
		Available:         stock > 0 && stock >= quantity,
		AvailableQuantity: stock,
		Status:            statusFor(stock),
	}
}

func (m *MemoryCatalog) wait(ctx context.Context) error {
	m.mu.RLock()
	d := m.delay
	m.mu.RUnlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statusFor(stock int) domain.InventoryStatus {
	switch {
	case stock <= 0:
		return domain.InventoryOutOfStock
	case stock < 5:
		return domain.InventoryLowStock
	default:
		return domain.InventoryInStock
	}
}

// ErrInjected is a convenience failure for tests.
var ErrInjected = errors.New("injected lookup failure")
