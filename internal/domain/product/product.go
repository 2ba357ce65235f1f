package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrInsufficientStock is returned by Catalog.DecrementStock when the
// conditional update matched no row because the remaining stock does not
// cover the requested quantity.
var ErrInsufficientStock = errors.New("insufficient stock")

// Condition describes the physical state of a listed product.
type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionUsed        Condition = "used"
	ConditionRefurbished Condition = "refurbished"
)

// Product represents a catalog item available for purchase. Price is a
// fixed-point amount in the shop's currency; Stock is never negative.
type Product struct {
	ID        string
	ShopID    string
	Title     string
	Brand     string
	Condition Condition
	Price     decimal.Decimal
	Stock     int
}

// Catalog defines the narrow accessor contract the placement workflow uses.
// Stock is mutated exclusively through DecrementStock and Restock; there is
// deliberately no generic update operation here.
type Catalog interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)

	// DecrementStock subtracts qty from the product's stock only if the
	// current stock covers it, as a single atomic conditional write.
	// Returns ErrNotFound for an unknown id and ErrInsufficientStock when
	// the stock floor predicate does not hold.
	DecrementStock(ctx context.Context, id string, qty int) error

	// Restock adds qty back to the product's stock. Used by the
	// reservation compensation path.
	Restock(ctx context.Context, id string, qty int) error
}
