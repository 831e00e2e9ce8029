package domain

import (
	"errors"
	"fmt"
)

// Kind groups cart errors by how callers should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAvailability
	KindDependency
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAvailability:
		return "availability"
	case KindDependency:
		return "dependency"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidQuantity       = errors.New("quantity must be greater than 0")
	ErrQuantityLimitExceeded = errors.New("quantity limit exceeded")
	ErrItemLimitExceeded     = errors.New("item limit exceeded")

	ErrProductNotFound = errors.New("product not found")
	ErrCartNotFound    = errors.New("cart not found")
	ErrItemNotInCart   = errors.New("item not found in cart")
	ErrCartEmpty       = errors.New("cart is empty")

	ErrOutOfStock = errors.New("insufficient inventory")

	ErrDependency = errors.New("dependency unavailable")

	ErrConflict = errors.New("cart was modified concurrently, please retry")
)

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrQuantityLimitExceeded),
		errors.Is(err, ErrItemLimitExceeded):
		return KindValidation
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrCartNotFound),
		errors.Is(err, ErrItemNotInCart),
		errors.Is(err, ErrCartEmpty):
		return KindNotFound
	case errors.Is(err, ErrOutOfStock):
		return KindAvailability
	case errors.Is(err, ErrDependency):
		return KindDependency
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindUnknown
	}
}

// CartError is a human-readable error that still matches its sentinel with errors.Is.
type CartError struct {
	Message string
	Err     error
}

func (e *CartError) Error() string { return e.Message }

func (e *CartError) Unwrap() error { return e.Err }

// NewError builds a CartError around sentinel with a formatted message.
func NewError(sentinel error, format string, args ...any) error {
	return &CartError{Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// DependencyError wraps a failed or timed out collaborator call.
func DependencyError(op string, cause error) error {
	return &CartError{
		Message: "Unable to check product availability at the moment, please try again",
		Err:     fmt.Errorf("%w: %s: %w", ErrDependency, op, cause),
	}
}

// AvailabilityError rejects a mutation because inventory cannot cover it.
// It carries enough detail for "add N instead" and wishlist suggestions.
type AvailabilityError struct {
	ProductID         string
	Requested         int
	AvailableQuantity int
	Product           *ProductSnapshot
	Message           string
}

func (e *AvailabilityError) Error() string { return e.Message }

func (e *AvailabilityError) Unwrap() error { return ErrOutOfStock }

// SuggestedQuantity is the largest quantity that could be added right now.
func (e *AvailabilityError) SuggestedQuantity() int {
	return max(0, min(e.Requested, e.AvailableQuantity))
}

// CanAddToWishlist is true when the product exists but cannot be bought now.
func (e *AvailabilityError) CanAddToWishlist() bool {
	return e.Product != nil
}
