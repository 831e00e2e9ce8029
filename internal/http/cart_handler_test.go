package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ServiceMock struct {
	cart       *domain.EnrichedCart
	count      int
	validation domain.CartValidationResult
	merge      *domain.MergeResult
	checkout   *domain.CheckoutPreparation
	err        error

	lastUser     string
	lastProduct  string
	lastQuantity int
	lastGuest    []domain.GuestCartItem
}

func (m *ServiceMock) GetCart(_ context.Context, userID string) (*domain.EnrichedCart, error) {
	m.lastUser = userID
	return m.cart, m.err
}

func (m *ServiceMock) AddToCart(_ context.Context, userID, productID string, quantity int) (*domain.EnrichedCart, error) {
	m.lastUser, m.lastProduct, m.lastQuantity = userID, productID, quantity
	return m.cart, m.err
}

func (m *ServiceMock) UpdateCartItem(_ context.Context, userID, productID string, quantity int) (*domain.EnrichedCart, error) {
	m.lastUser, m.lastProduct, m.lastQuantity = userID, productID, quantity
	return m.cart, m.err
}

func (m *ServiceMock) RemoveFromCart(_ context.Context, userID, productID string) (*domain.EnrichedCart, error) {
	m.lastUser, m.lastProduct = userID, productID
	return m.cart, m.err
}

func (m *ServiceMock) ClearCart(_ context.Context, userID string) error {
	m.lastUser = userID
	return m.err
}

func (m *ServiceMock) GetCartItemCount(_ context.Context, userID string) (int, error) {
	m.lastUser = userID
	return m.count, m.err
}

func (m *ServiceMock) ValidateCart(_ context.Context, userID string) (domain.CartValidationResult, error) {
	m.lastUser = userID
	return m.validation, m.err
}

func (m *ServiceMock) MergeGuestCart(_ context.Context, userID string, guest []domain.GuestCartItem) (*domain.MergeResult, error) {
	m.lastUser, m.lastGuest = userID, guest
	return m.merge, m.err
}

func (m *ServiceMock) PrepareCheckout(_ context.Context, userID string) (*domain.CheckoutPreparation, error) {
	m.lastUser = userID
	return m.checkout, m.err
}

func sampleCart() *domain.EnrichedCart {
	return &domain.EnrichedCart{
		UserID: "user-1",
		Items: []domain.EnrichedCartLineItem{{
			CartLineItem: domain.CartLineItem{ProductID: "sku-1", Quantity: 2},
			Product:      domain.ProductSnapshot{ID: "sku-1", Name: "Desk Lamp", Price: decimal.NewFromInt(5)},
			TotalPrice:   decimal.NewFromInt(10),
			IsAvailable:  true,
		}},
		TotalItems: 2,
	}
}

// serve routes the request through chi so URL params resolve, with user set.
func serve(t *testing.T, h *CartHandler, method, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	router := NewRouter(h, RouterConfig{})
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req = req.WithContext(WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestGetCart_Success(t *testing.T) {
	mock := &ServiceMock{cart: sampleCart()}
	rec := serve(t, NewCartHandler(mock, 5*time.Second), http.MethodGet, "/api/v1/cart/", nil, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Cart)
	assert.Equal(t, "user-1", resp.Cart.UserID)
	assert.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, "user-1", mock.lastUser)
}

func TestGetCart_Empty(t *testing.T) {
	rec := serve(t, NewCartHandler(&ServiceMock{}, 5*time.Second), http.MethodGet, "/api/v1/cart/", nil, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cart":null,"message":"Cart is empty"}`, rec.Body.String())
}

func TestGetCart_Unauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	NewCartHandler(&ServiceMock{}, 5*time.Second).GetCart(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Code)
}

func TestAddItem_Success(t *testing.T) {
	mock := &ServiceMock{cart: sampleCart()}
	rec := serve(t, NewCartHandler(mock, 5*time.Second), http.MethodPost, "/api/v1/cart/items",
		AddItemRequestDTO{ProductID: "sku-1", Quantity: 2}, "user-1")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "sku-1", mock.lastProduct)
	assert.Equal(t, 2, mock.lastQuantity)
}

func TestAddItem_InvalidJSON(t *testing.T) {
	rec := serve(t, NewCartHandler(&ServiceMock{}, 5*time.Second), http.MethodPost, "/api/v1/cart/items", "invalid json", "user-1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Code)
}

func TestAddItem_MissingProductID(t *testing.T) {
	rec := serve(t, NewCartHandler(&ServiceMock{}, 5*time.Second), http.MethodPost, "/api/v1/cart/items",
		AddItemRequestDTO{Quantity: 1}, "user-1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_product_id", decodeError(t, rec).Code)
}

func TestAddItem_ErrorMapping(t *testing.T) {
	product := &domain.ProductSnapshot{ID: "sku-1", Name: "Desk Lamp"}
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{
			name:   "quantity limit",
			err:    domain.NewError(domain.ErrQuantityLimitExceeded, "Maximum quantity per item is 10"),
			status: http.StatusBadRequest,
			code:   "quantity_limit_exceeded",
			msg:    "Maximum quantity per item is 10",
		},
		{
			name:   "item limit",
			err:    domain.NewError(domain.ErrItemLimitExceeded, "Maximum 100 items allowed in cart"),
			status: http.StatusBadRequest,
			code:   "item_limit_exceeded",
			msg:    "Maximum 100 items allowed in cart",
		},
		{
			name:   "unknown product",
			err:    domain.NewError(domain.ErrProductNotFound, "Product not found"),
			status: http.StatusNotFound,
			code:   "product_not_found",
			msg:    "Product not found",
		},
		{
			name:   "out of stock",
			err:    &domain.AvailabilityError{ProductID: "sku-1", Requested: 5, AvailableQuantity: 2, Product: product, Message: "Only 2 items available. Would you like to add 2 instead?"},
			status: http.StatusConflict,
			code:   "insufficient_inventory",
			msg:    "Only 2 items available. Would you like to add 2 instead?",
		},
		{
			name:   "conflict",
			err:    fmt.Errorf("save cart: %w", domain.ErrConflict),
			status: http.StatusConflict,
			code:   "conflict",
			msg:    domain.ErrConflict.Error(),
		},
		{
			name:   "dependency",
			err:    domain.DependencyError("inventory check", errors.New("dial tcp: refused")),
			status: http.StatusServiceUnavailable,
			code:   "service_unavailable",
			msg:    "Unable to check product availability at the moment, please try again",
		},
		{
			name:   "internal",
			err:    errors.New("redis: connection pool exhausted"),
			status: http.StatusInternalServerError,
			code:   "internal_error",
			msg:    "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, NewCartHandler(&ServiceMock{err: tt.err}, 5*time.Second), http.MethodPost, "/api/v1/cart/items",
				AddItemRequestDTO{ProductID: "sku-1", Quantity: 5}, "user-1")

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.msg, resp.Error)
		})
	}
}

func TestAddItem_AvailabilityDetails(t *testing.T) {
	err := &domain.AvailabilityError{
		ProductID:         "sku-1",
		Requested:         5,
		AvailableQuantity: 2,
		Product:           &domain.ProductSnapshot{ID: "sku-1", Name: "Desk Lamp"},
		Message:           "Only 2 items available. Would you like to add 2 instead?",
	}
	rec := serve(t, NewCartHandler(&ServiceMock{err: err}, 5*time.Second), http.MethodPost, "/api/v1/cart/items",
		AddItemRequestDTO{ProductID: "sku-1", Quantity: 5}, "user-1")

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Details AvailabilityDetails `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Details.AvailableQuantity)
	assert.Equal(t, 2, resp.Details.SuggestedQuantity)
	assert.True(t, resp.Details.CanAddToWishlist)
	require.NotNil(t, resp.Details.Product)
	assert.Equal(t, "Desk Lamp", resp.Details.Product.Name)
}

func TestUpdateQuantity(t *testing.T) {
	mock := &ServiceMock{cart: sampleCart()}
	h := NewCartHandler(mock, 5*time.Second)

	rec := serve(t, h, http.MethodPut, "/api/v1/cart/items/sku-1", map[string]int{"quantity": 4}, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sku-1", mock.lastProduct)
	assert.Equal(t, 4, mock.lastQuantity)

	rec = serve(t, h, http.MethodPut, "/api/v1/cart/items/sku-1", map[string]int{"quantity": -1}, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, mock.lastQuantity)

	rec = serve(t, h, http.MethodPut, "/api/v1/cart/items/sku-1", map[string]string{}, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", decodeError(t, rec).Code)
}

func TestUpdateQuantity_ToZeroEmptiesCart(t *testing.T) {
	mock := &ServiceMock{}
	rec := serve(t, NewCartHandler(mock, 5*time.Second), http.MethodPut, "/api/v1/cart/items/sku-1", map[string]int{"quantity": 0}, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, mock.lastQuantity)
	assert.JSONEq(t, `{"cart":null,"message":"Cart is now empty"}`, rec.Body.String())
}

func TestRemoveItem(t *testing.T) {
	mock := &ServiceMock{err: domain.NewError(domain.ErrItemNotInCart, "Item not found in cart")}
	rec := serve(t, NewCartHandler(mock, 5*time.Second), http.MethodDelete, "/api/v1/cart/items/sku-9", nil, "user-1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "item_not_found", decodeError(t, rec).Code)
	assert.Equal(t, "sku-9", mock.lastProduct)
}

func TestRemoveItem_LastItem(t *testing.T) {
	rec := serve(t, NewCartHandler(&ServiceMock{}, 5*time.Second), http.MethodDelete, "/api/v1/cart/items/sku-1", nil, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cart":null,"message":"Item removed, cart is now empty"}`, rec.Body.String())
}

func TestClearCartAndCount(t *testing.T) {
	mock := &ServiceMock{count: 7}
	h := NewCartHandler(mock, 5*time.Second)

	rec := serve(t, h, http.MethodDelete, "/api/v1/cart/", nil, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/v1/cart/count", nil, "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":7}`, rec.Body.String())
}

func TestValidate(t *testing.T) {
	mock := &ServiceMock{validation: domain.CartValidationResult{
		IsValid:      false,
		Errors:       []string{"sku-1: Insufficient inventory. Available: 1, Requested: 2"},
		InvalidItems: []string{"sku-1"},
	}}
	rec := serve(t, NewCartHandler(mock, 5*time.Second), http.MethodGet, "/api/v1/cart/validate", nil, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.CartValidationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.IsValid)
	assert.Equal(t, []string{"sku-1"}, resp.InvalidItems)
}

func TestMerge(t *testing.T) {
	mock := &ServiceMock{merge: &domain.MergeResult{Cart: sampleCart(), Dropped: []string{}, Skipped: []string{"sku-9"}}}
	h := NewCartHandler(mock, 5*time.Second)

	rec := serve(t, h, http.MethodPost, "/api/v1/cart/merge",
		map[string]any{"guest_cart_items": []domain.GuestCartItem{{ProductID: "sku-1", Quantity: 3}}}, "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.GuestCartItem{{ProductID: "sku-1", Quantity: 3}}, mock.lastGuest)

	var resp domain.MergeResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"sku-9"}, resp.Skipped)

	rec = serve(t, h, http.MethodPost, "/api/v1/cart/merge", map[string]any{"guest_cart_items": "nope"}, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodPost, "/api/v1/cart/merge", map[string]any{}, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrepareCheckout(t *testing.T) {
	mock := &ServiceMock{checkout: &domain.CheckoutPreparation{
		Cart:       sampleCart(),
		Validation: domain.CartValidationResult{IsValid: true, Errors: []string{}, InvalidItems: []string{}},
		Summary:    domain.CheckoutSummary{ItemCount: 2, TotalAmount: decimal.NewFromInt(21), IsReadyForCheckout: true},
	}}
	h := NewCartHandler(mock, 5*time.Second)

	rec := serve(t, h, http.MethodPost, "/api/v1/cart/checkout/prepare", nil, "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.CheckoutPreparation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Summary.IsReadyForCheckout)

	mock.err = domain.NewError(domain.ErrCartEmpty, "Cart is empty")
	rec = serve(t, h, http.MethodPost, "/api/v1/cart/checkout/prepare", nil, "user-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "cart_empty", decodeError(t, rec).Code)
}

func TestHealth(t *testing.T) {
	h := NewCartHandler(&ServiceMock{}, 5*time.Second)
	router := NewRouter(h, RouterConfig{Checks: map[string]HealthCheck{
		"store":    func(context.Context) error { return nil },
		"products": func(context.Context) error { return errors.New("breaker open") },
	}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["store"])
	assert.Equal(t, "breaker open", resp.Checks["products"])
}

func TestURLParamRouting(t *testing.T) {
	// handlers read {productId} from chi's route context
	mock := &ServiceMock{cart: sampleCart()}
	h := NewCartHandler(mock, 5*time.Second)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("productId", "sku-42")
	req := httptest.NewRequest(http.MethodDelete, "/items/sku-42", nil)
	req = req.WithContext(context.WithValue(WithUserID(req.Context(), "user-1"), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h.RemoveItem(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sku-42", mock.lastProduct)
}
