package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of an order. Placement always
// creates orders in StatusPending; later transitions are driven by external
// collaborators (payment webhook, fulfilment) and must only move forward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// statusRank orders the forward-only status progression. Cancelled is a
// terminal state reachable from any non-terminal one.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusConfirmed: 1,
	StatusShipped:   2,
	StatusDelivered: 3,
}

// CanTransition reports whether an order may move from one status to
// another. Backward moves and any move out of a terminal state are rejected.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from == StatusDelivered || from == StatusCancelled {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank > fromRank
}

// CartLine is a single requested item in a placement request. It is
// ephemeral input and never persisted.
type CartLine struct {
	ProductID string
	Quantity  int
}

// Line is a priced, immutable order line. UnitPrice is the product price
// frozen at reservation time; LineTotal is always UnitPrice * Quantity.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Order is the durable order header. TotalAmount equals the exact sum of
// its lines' totals.
type Order struct {
	ID              string
	UserID          string
	ShopID          string
	Lines           []Line
	TotalAmount     decimal.Decimal
	Status          Status
	ShippingAddress string
	PaymentIntentID string
	CreatedAt       time.Time
}

// Repository defines persistence operations for orders. Create must persist
// the header and all lines atomically: a partially written order is a
// persistence failure, never an observable state.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)

	// UpdateStatus moves an order from one status to another. It fails when
	// the order is not currently in the expected `from` status, which makes
	// concurrent webhook deliveries safe.
	UpdateStatus(ctx context.Context, id string, from, to Status) error

	// SetPaymentIntent records the gateway intent id obtained for an order.
	SetPaymentIntent(ctx context.Context, id, intentID string) error
}
