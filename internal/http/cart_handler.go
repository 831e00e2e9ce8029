package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/go-chi/chi/v5"
)

// CartService is the set of cart operations exposed over HTTP.
type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.EnrichedCart, error)
	AddToCart(ctx context.Context, userID, productID string, quantity int) (*domain.EnrichedCart, error)
	UpdateCartItem(ctx context.Context, userID, productID string, quantity int) (*domain.EnrichedCart, error)
	RemoveFromCart(ctx context.Context, userID, productID string) (*domain.EnrichedCart, error)
	ClearCart(ctx context.Context, userID string) error
	GetCartItemCount(ctx context.Context, userID string) (int, error)
	ValidateCart(ctx context.Context, userID string) (domain.CartValidationResult, error)
	MergeGuestCart(ctx context.Context, userID string, guest []domain.GuestCartItem) (*domain.MergeResult, error)
	PrepareCheckout(ctx context.Context, userID string) (*domain.CheckoutPreparation, error)
}

type CartHandler struct {
	cart    CartService
	timeout time.Duration
}

func NewCartHandler(cart CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		cart:    cart,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type MergeRequestDTO struct {
	GuestCartItems *[]domain.GuestCartItem `json:"guest_cart_items"`
}

// CartResponse wraps cart views so that an empty cart is an explicit null.
type CartResponse struct {
	Cart    *domain.EnrichedCart `json:"cart"`
	Message string               `json:"message"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// AvailabilityDetails lets clients offer "add N instead" or a wishlist.
type AvailabilityDetails struct {
	ProductID         string                  `json:"product_id"`
	RequestedQuantity int                     `json:"requested_quantity"`
	AvailableQuantity int                     `json:"available_quantity"`
	SuggestedQuantity int                     `json:"suggested_quantity"`
	CanAddToWishlist  bool                    `json:"can_add_to_wishlist"`
	Product           *domain.ProductSnapshot `json:"product,omitempty"`
}

const maxProductIDLength = 100

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	cart, err := h.cart.GetCart(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if cart == nil {
		respondJSON(w, http.StatusOK, CartResponse{Message: "Cart is empty"})
		return
	}
	respondJSON(w, http.StatusOK, CartResponse{Cart: cart, Message: "Cart retrieved successfully"})
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !validProductID(req.ProductID) {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be between 1 and 100 characters")
		return
	}

	cart, err := h.cart.AddToCart(ctx, userID, req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, CartResponse{Cart: cart, Message: "Item added to cart successfully"})
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	productID := chi.URLParam(r, "productId")
	if !validProductID(productID) {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "Invalid product ID")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	// zero or less removes the item
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}

	cart, err := h.cart.UpdateCartItem(ctx, userID, productID, *req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if cart == nil {
		respondJSON(w, http.StatusOK, CartResponse{Message: "Cart is now empty"})
		return
	}
	respondJSON(w, http.StatusOK, CartResponse{Cart: cart, Message: "Cart item updated successfully"})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	productID := chi.URLParam(r, "productId")
	if !validProductID(productID) {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "Invalid product ID")
		return
	}

	cart, err := h.cart.RemoveFromCart(ctx, userID, productID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if cart == nil {
		respondJSON(w, http.StatusOK, CartResponse{Message: "Item removed, cart is now empty"})
		return
	}
	respondJSON(w, http.StatusOK, CartResponse{Cart: cart, Message: "Item removed from cart successfully"})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.cart.ClearCart(ctx, userID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CartResponse{Message: "Cart cleared successfully"})
}

func (h *CartHandler) GetCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	count, err := h.cart.GetCartItemCount(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CountResponse{Count: count})
}

// Validate always answers 200 with the full result; clients read is_valid.
func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.cart.ValidateCart(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req MergeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.GuestCartItems == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "guest_cart_items must be an array")
		return
	}

	result, err := h.cart.MergeGuestCart(ctx, userID, *req.GuestCartItems)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *CartHandler) PrepareCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	prep, err := h.cart.PrepareCheckout(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, prep)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "User authentication required")
		return "", false
	}
	return userID, true
}

func validProductID(id string) bool {
	return id != "" && len(id) <= maxProductIDLength
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Component(context.Background(), "http").Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

var validationCodes = []struct {
	err  error
	code string
}{
	{domain.ErrInvalidQuantity, "invalid_quantity"},
	{domain.ErrQuantityLimitExceeded, "quantity_limit_exceeded"},
	{domain.ErrItemLimitExceeded, "item_limit_exceeded"},
	{domain.ErrProductNotFound, "product_not_found"},
	{domain.ErrCartNotFound, "cart_not_found"},
	{domain.ErrItemNotInCart, "item_not_found"},
	{domain.ErrCartEmpty, "cart_empty"},
}

// handleServiceError maps the cart error taxonomy to HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var avail *domain.AvailabilityError
	if errors.As(err, &avail) {
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: avail.Message,
			Code:  "insufficient_inventory",
			Details: AvailabilityDetails{
				ProductID:         avail.ProductID,
				RequestedQuantity: avail.Requested,
				AvailableQuantity: avail.AvailableQuantity,
				SuggestedQuantity: avail.SuggestedQuantity(),
				CanAddToWishlist:  avail.CanAddToWishlist(),
				Product:           avail.Product,
			},
		})
		return
	}

	log := logger.Component(r.Context(), "http")
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation, domain.KindNotFound:
		status := http.StatusBadRequest
		if kind == domain.KindNotFound {
			status = http.StatusNotFound
		}
		respondError(w, status, errorCode(err), publicMessage(err))
	case domain.KindConflict:
		respondError(w, http.StatusConflict, "conflict", domain.ErrConflict.Error())
	case domain.KindDependency:
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("dependency unavailable")
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", publicMessage(err))
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("request timed out")
			respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
			return
		}
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func errorCode(err error) string {
	for _, c := range validationCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "invalid_argument"
}

func publicMessage(err error) string {
	var cartErr *domain.CartError
	if errors.As(err, &cartErr) {
		return cartErr.Message
	}
	return err.Error()
}
