package lookup

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

type batchProductsRequest struct {
	IDs []string `json:"ids"`
}

type batchProductsResponse struct {
	Products []domain.ProductSnapshot `json:"products"`
}

// ProductClient talks to the product catalog over HTTP.
type ProductClient struct {
	c *jsonClient
}

// NewProductClient builds a client; a nil httpClient uses an instrumented default.
func NewProductClient(resolver Resolver, policy RetryPolicy, httpClient *http.Client) *ProductClient {
	return &ProductClient{c: newJSONClient(resolver, policy, httpClient)}
}

func (p *ProductClient) BatchGet(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error) {
	if ids == nil {
		ids = []string{}
	}
	var resp batchProductsResponse
	if err := p.c.post(ctx, "/api/v1/products/batch", batchProductsRequest{IDs: ids}, &resp); err != nil {
		return nil, fmt.Errorf("product batch: %w", err)
	}

	// normalize optional fields so nothing unset reaches pricing
	out := make([]domain.ProductSnapshot, 0, len(resp.Products))
	for _, prod := range resp.Products {
		if prod.ID == "" {
			continue
		}
		if prod.InventoryStatus == "" {
			prod.InventoryStatus = domain.InventoryUnknown
		}
		if prod.Categories == nil {
			prod.Categories = []string{}
		}
		out = append(out, prod)
	}
	return out, nil
}
