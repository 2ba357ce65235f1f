package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techaven/marketplace/internal/domain/payment"
)

// Timeouts bounds each external call a placement makes. The stages are
// independent: a slow gateway must not hold catalog or persistence
// resources hostage.
type Timeouts struct {
	Catalog time.Duration
	Persist time.Duration
	Gateway time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Catalog <= 0 {
		t.Catalog = 3 * time.Second
	}
	if t.Persist <= 0 {
		t.Persist = 5 * time.Second
	}
	if t.Gateway <= 0 {
		t.Gateway = 10 * time.Second
	}
	return t
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID          string
	Items           []CartLine
	ShippingAddress string
}

// PlaceOrderResult holds the outcome of a successfully placed order.
// Handle is nil when no payment handle could be obtained; in that case
// PaymentErr says why, and the order is still durably pending — the caller
// retries handle creation with the same order id instead of re-placing.
type PlaceOrderResult struct {
	Order      *Order
	Handle     *payment.Handle
	PaymentErr error
}

// Service sequences a placement attempt: validate the cart, reserve stock,
// record the order, request a payment handle. Compensation matches the
// stage reached — nothing to undo before reservation succeeds, reserved
// stock is released when recording fails, and nothing is rolled back once
// the order is durable.
type Service struct {
	reserver *Reserver
	orders   Repository
	gateway  payment.Gateway
	currency string
	timeouts Timeouts
	metrics  *Metrics
}

// NewService creates the placement orchestrator. gateway may be a disabled
// implementation; metrics may be nil.
func NewService(
	reserver *Reserver,
	orders Repository,
	gateway payment.Gateway,
	currency string,
	timeouts Timeouts,
	metrics *Metrics,
) *Service {
	return &Service{
		reserver: reserver,
		orders:   orders,
		gateway:  gateway,
		currency: currency,
		timeouts: timeouts.withDefaults(),
		metrics:  metrics,
	}
}

// PlaceOrder runs one placement attempt end to end.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	lg := zctx.From(ctx)

	cart, err := validateCart(req)
	if err != nil {
		s.metrics.placement(ctx, "validation_failed")
		return nil, err
	}

	// Reserving. Stock is mutated from here on; every early return below
	// must leave it compensated.
	reserveCtx, cancel := context.WithTimeout(ctx, s.timeouts.Catalog)
	res, err := s.reserver.Reserve(reserveCtx, cart)
	cancel()
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			s.metrics.conflict(ctx)
		}
		s.metrics.placement(ctx, "reservation_failed")
		return nil, err
	}

	o := &Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		ShopID:          res.ShopID,
		Lines:           res.Lines,
		TotalAmount:     Total(res.Lines),
		Status:          StatusPending,
		ShippingAddress: req.ShippingAddress,
	}

	// Recording. A failure here releases the reservation before the error
	// reaches the caller, so no order row ever exists without its stock
	// decrements and vice versa.
	persistCtx, cancel := context.WithTimeout(ctx, s.timeouts.Persist)
	err = s.orders.Create(persistCtx, o)
	cancel()
	if err != nil {
		if relErr := s.reserver.Release(ctx, res); relErr != nil {
			lg.Error("release after persist failure incomplete", zap.Error(relErr))
		}
		s.metrics.placement(ctx, "persist_failed")
		return nil, &PersistenceError{Err: errors.Wrap(err, "create order")}
	}

	lg.Info("order recorded",
		zap.String("order_id", o.ID),
		zap.String("shop_id", o.ShopID),
		zap.String("total", o.TotalAmount.String()),
	)

	// PaymentRequested. The order is already durable; a gateway failure is
	// reported, never compensated.
	handle, payErr := s.requestHandle(ctx, o)
	if payErr != nil {
		s.metrics.placement(ctx, "payment_deferred")
		return &PlaceOrderResult{Order: o, PaymentErr: payErr}, nil
	}

	s.metrics.placement(ctx, "placed")
	return &PlaceOrderResult{Order: o, Handle: handle}, nil
}

// RetryPaymentHandle obtains a payment handle for an order that was placed
// without one. Safe to call repeatedly: the gateway is idempotent by order
// id.
func (s *Service) RetryPaymentHandle(ctx context.Context, orderID, userID string) (*Order, *payment.Handle, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.UserID != userID {
		return nil, nil, ErrNotFound
	}

	handle, err := s.requestHandle(ctx, o)
	if err != nil {
		return o, nil, err
	}
	return o, handle, nil
}

func (s *Service) requestHandle(ctx context.Context, o *Order) (*payment.Handle, error) {
	amountMinor, err := MinorUnits(o.TotalAmount)
	if err != nil {
		return nil, &payment.GatewayError{Transient: false, Err: err}
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.timeouts.Gateway)
	defer cancel()

	handle, err := s.gateway.CreateOrFetchIntent(gwCtx, o.ID, amountMinor, s.currency)
	if err != nil {
		if errors.Is(err, payment.ErrDisabled) {
			return nil, nil
		}
		zctx.From(ctx).Warn("payment handle unavailable, order stays pending",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return nil, err
	}

	o.PaymentIntentID = handle.IntentID
	if err := s.orders.SetPaymentIntent(ctx, o.ID, handle.IntentID); err != nil {
		// The intent exists gateway-side and the idempotency key will find
		// it again; losing this write costs a lookup, not money.
		zctx.From(ctx).Warn("record payment intent id failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}

	return handle, nil
}

// ConfirmPayment moves an order to confirmed in response to a verified
// gateway notification. Redelivered notifications for an order that has
// already progressed are acknowledged, not failed.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) error {
	err := s.orders.UpdateStatus(ctx, orderID, StatusPending, StatusConfirmed)
	if err == nil {
		zctx.From(ctx).Info("order confirmed", zap.String("order_id", orderID))
		return nil
	}
	if !errors.Is(err, ErrInvalidTransition) {
		return err
	}

	o, getErr := s.orders.GetByID(ctx, orderID)
	if getErr != nil {
		return getErr
	}
	if o.Status != StatusPending && o.Status != StatusCancelled {
		return nil
	}
	return err
}

// Transition applies an external status change (shipment, delivery,
// cancellation) with the forward-only rule enforced.
func (s *Service) Transition(ctx context.Context, orderID string, from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return s.orders.UpdateStatus(ctx, orderID, from, to)
}

// validateCart normalizes and validates the request before any stock is
// touched. Duplicate product lines are merged so the reservation engine
// sees at most one decrement per product.
func validateCart(req PlaceOrderRequest) ([]CartLine, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.ShippingAddress == "" {
		return nil, ErrMissingShipping
	}

	merged := make(map[string]int, len(req.Items))
	ordered := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		if _, seen := merged[item.ProductID]; !seen {
			ordered = append(ordered, item.ProductID)
		}
		merged[item.ProductID] += item.Quantity
	}

	cart := make([]CartLine, 0, len(ordered))
	for _, id := range ordered {
		cart = append(cart, CartLine{ProductID: id, Quantity: merged[id]})
	}
	return cart, nil
}
