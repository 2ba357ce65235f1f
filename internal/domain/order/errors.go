package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for request validation. These reflect true request state
// and are never retried.
var (
	ErrEmptyItems        = errors.New("items required")
	ErrMissingShipping   = errors.New("shipping address required")
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s, got %d", e.ProductID, e.Quantity)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError indicates a conditional decrement found less stock
// than requested. Available carries the stock observed when the conflict
// surfaced so the caller can correct the cart.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// MixedShopCartError indicates cart lines resolve to more than one shop.
// An order belongs to exactly one shop; mixed carts must be split by the
// caller.
type MixedShopCartError struct {
	ShopA string
	ShopB string
}

func (e *MixedShopCartError) Error() string {
	return fmt.Sprintf("cart spans multiple shops (%s, %s); one order per shop", e.ShopA, e.ShopB)
}

// PersistenceError wraps an infrastructure failure while recording the
// order. By the time it surfaces, reserved stock has already been released.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
