package lookup

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

type checkInventoryRequest struct {
	ProductID   string                `json:"product_id"`
	Quantity    int                   `json:"quantity"`
	ProductInfo domain.InventoryHints `json:"product_info"`
}

type batchInventoryRequest struct {
	Items []checkInventoryRequest `json:"items"`
}

type batchInventoryResponse struct {
	Items []domain.InventoryResult `json:"items"`
}

// InventoryClient talks to the inventory service over HTTP.
type InventoryClient struct {
	c *jsonClient
}

func NewInventoryClient(resolver Resolver, policy RetryPolicy, httpClient *http.Client) *InventoryClient {
	return &InventoryClient{c: newJSONClient(resolver, policy, httpClient)}
}

func (i *InventoryClient) Check(ctx context.Context, productID string, quantity int, hints domain.InventoryHints) (domain.InventoryResult, error) {
	var resp domain.InventoryResult
	req := checkInventoryRequest{ProductID: productID, Quantity: quantity, ProductInfo: hints}
	if err := i.c.post(ctx, "/api/v1/inventory/check", req, &resp); err != nil {
		return domain.InventoryResult{}, fmt.Errorf("inventory check %s: %w", productID, err)
	}
	if resp.ProductID == "" {
		resp.ProductID = productID
	}
	if resp.Status == "" {
		resp.Status = domain.InventoryUnknown
	}
	return resp, nil
}

func (i *InventoryClient) BatchCheck(ctx context.Context, items []domain.InventoryRequest) ([]domain.InventoryResult, error) {
	if len(items) == 0 {
		return []domain.InventoryResult{}, nil
	}
	req := batchInventoryRequest{Items: make([]checkInventoryRequest, len(items))}
	for n, it := range items {
		req.Items[n] = checkInventoryRequest{ProductID: it.ProductID, Quantity: it.Quantity, ProductInfo: it.Hints}
	}

	var resp batchInventoryResponse
	if err := i.c.post(ctx, "/api/v1/inventory/check-batch", req, &resp); err != nil {
		return nil, fmt.Errorf("inventory batch check: %w", err)
	}
	return alignResults(items, resp.Items), nil
}

// alignResults returns one result per request in request order. Requests the
// service did not answer get a per-item error.
func alignResults(items []domain.InventoryRequest, got []domain.InventoryResult) []domain.InventoryResult {
	byID := make(map[string]domain.InventoryResult, len(got))
	for _, r := range got {
		byID[r.ProductID] = r
	}
	out := make([]domain.InventoryResult, len(items))
	for n, it := range items {
		r, ok := byID[it.ProductID]
		if !ok {
			r = domain.InventoryResult{
				ProductID: it.ProductID,
				Status:    domain.InventoryUnknown,
				Error:     "no result returned for product",
			}
		}
		if r.Status == "" {
			r.Status = domain.InventoryUnknown
		}
		out[n] = r
	}
	return out
}
