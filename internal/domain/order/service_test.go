package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techaven/marketplace/internal/domain/payment"
)

// --- Mocks ---

type mockOrderRepo struct {
	mu        sync.Mutex
	byID      map[string]*Order
	createErr error
	intents   map[string]string
}

func newOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{
		byID:    make(map[string]*Order),
		intents: make(map[string]string),
	}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrInvalidTransition
	}
	o.Status = to
	return nil
}

func (m *mockOrderRepo) SetPaymentIntent(_ context.Context, id, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[id] = intentID
	return nil
}

type mockGateway struct {
	mu         sync.Mutex
	err        error
	calls      int
	lastOrder  string
	lastAmount int64
}

func (m *mockGateway) CreateOrFetchIntent(_ context.Context, orderID string, amountMinor int64, _ string) (*payment.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastOrder = orderID
	m.lastAmount = amountMinor
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Handle{
		IntentID:     "pi_" + orderID,
		ClientSecret: "secret_" + orderID,
		OrderID:      orderID,
		AmountMinor:  amountMinor,
		Currency:     "usd",
	}, nil
}

func newTestService(catalog *mockCatalog, repo *mockOrderRepo, gw payment.Gateway) *Service {
	return NewService(NewReserver(catalog, time.Second), repo, gw, "usd", Timeouts{}, nil)
}

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := newTestService(newCatalog(), newOrderRepo(), &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "u1",
		ShippingAddress: "1 Main St",
	})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_MissingShippingAddress(t *testing.T) {
	svc := newTestService(newCatalog(), newOrderRepo(), &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items:  []CartLine{{ProductID: "p-a", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrMissingShipping)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	svc := newTestService(newCatalog(), newOrderRepo(), &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "u1",
		Items:           []CartLine{{ProductID: "p-a", Quantity: 0}},
		ShippingAddress: "1 Main St",
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p-a", iqErr.ProductID)
}

func TestPlaceOrder_Success(t *testing.T) {
	catalog := newCatalog(
		newTestProduct("p-a", "shop-1", "10.50", 10),
		newTestProduct("p-b", "shop-1", "20.00", 10),
	)
	repo := newOrderRepo()
	gw := &mockGateway{}
	svc := newTestService(catalog, repo, gw)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []CartLine{
			{ProductID: "p-a", Quantity: 2},
			{ProductID: "p-b", Quantity: 1},
		},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	require.Nil(t, result.PaymentErr)

	o := result.Order
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "shop-1", o.ShopID)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("41.00")), "got %s", o.TotalAmount)

	require.NotNil(t, result.Handle)
	assert.Equal(t, int64(4100), gw.lastAmount)
	assert.Equal(t, o.ID, gw.lastOrder)
	assert.Equal(t, result.Handle.IntentID, repo.intents[o.ID])

	stored, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 2)
	assert.Equal(t, 8, catalog.stock("p-a"))
}

func TestPlaceOrder_MergesDuplicateLines(t *testing.T) {
	catalog := newCatalog(newTestProduct("p-a", "shop-1", "10.00", 10))
	svc := newTestService(catalog, newOrderRepo(), &mockGateway{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: "u1",
		Items: []CartLine{
			{ProductID: "p-a", Quantity: 1},
			{ProductID: "p-a", Quantity: 2},
		},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	require.Len(t, result.Order.Lines, 1)
	assert.Equal(t, 3, result.Order.Lines[0].Quantity)
	assert.Equal(t, []string{"dec:p-a:3"}, catalog.operations())
}

func TestPlaceOrder_PersistFailureReleasesStock(t *testing.T) {
	catalog := newCatalog(newTestProduct("p-a", "shop-1", "10.00", 5))
	repo := newOrderRepo()
	repo.createErr = errors.New("connection reset")
	gw := &mockGateway{}
	svc := newTestService(catalog, repo, gw)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "u1",
		Items:           []CartLine{{ProductID: "p-a", Quantity: 2}},
		ShippingAddress: "1 Main St",
	})

	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)

	// Reserved stock went back, and the gateway was never consulted.
	assert.Equal(t, 5, catalog.stock("p-a"))
	assert.Equal(t, 0, gw.calls)
}

func TestPlaceOrder_GatewayFailureKeepsOrder(t *testing.T) {
	catalog := newCatalog(newTestProduct("p-a", "shop-1", "10.00", 5))
	repo := newOrderRepo()
	gw := &mockGateway{err: &payment.GatewayError{Transient: true, Err: errors.New("gateway timeout")}}
	svc := newTestService(catalog, repo, gw)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "u1",
		Items:           []CartLine{{ProductID: "p-a", Quantity: 2}},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	require.NotNil(t, result.PaymentErr)
	assert.Nil(t, result.Handle)

	// The order stays durable and its stock stays reserved.
	stored, err := repo.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 3, catalog.stock("p-a"))
}

func TestPlaceOrder_DisabledGateway(t *testing.T) {
	catalog := newCatalog(newTestProduct("p-a", "shop-1", "10.00", 5))
	svc := newTestService(catalog, newOrderRepo(), payment.Disabled{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "u1",
		Items:           []CartLine{{ProductID: "p-a", Quantity: 1}},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	assert.Nil(t, result.Handle)
	assert.Nil(t, result.PaymentErr)
	assert.Equal(t, StatusPending, result.Order.Status)
}

func TestRetryPaymentHandle(t *testing.T) {
	catalog := newCatalog(newTestProduct("p-a", "shop-1", "10.00", 5))
	repo := newOrderRepo()
	gw := &mockGateway{err: &payment.GatewayError{Transient: true, Err: errors.New("down")}}
	svc := newTestService(catalog, repo, gw)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "u1",
		Items:           []CartLine{{ProductID: "p-a", Quantity: 1}},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	require.NotNil(t, result.PaymentErr)

	gw.err = nil
	o, handle, err := svc.RetryPaymentHandle(context.Background(), result.Order.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, result.Order.ID, o.ID)
	assert.Equal(t, handle.IntentID, repo.intents[o.ID])
}

func TestRetryPaymentHandle_WrongUser(t *testing.T) {
	catalog := newCatalog(newTestProduct("p-a", "shop-1", "10.00", 5))
	repo := newOrderRepo()
	svc := newTestService(catalog, repo, &mockGateway{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "u1",
		Items:           []CartLine{{ProductID: "p-a", Quantity: 1}},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)

	_, _, err = svc.RetryPaymentHandle(context.Background(), result.Order.ID, "u2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmPayment(t *testing.T) {
	repo := newOrderRepo()
	repo.byID["o1"] = &Order{ID: "o1", UserID: "u1", Status: StatusPending}
	svc := newTestService(newCatalog(), repo, &mockGateway{})

	require.NoError(t, svc.ConfirmPayment(context.Background(), "o1"))

	o, err := repo.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)
}

func TestConfirmPayment_RedeliveryAfterProgress(t *testing.T) {
	repo := newOrderRepo()
	repo.byID["o1"] = &Order{ID: "o1", UserID: "u1", Status: StatusShipped}
	svc := newTestService(newCatalog(), repo, &mockGateway{})

	// The order already moved past pending; a redelivered notification is
	// acknowledged without touching it.
	require.NoError(t, svc.ConfirmPayment(context.Background(), "o1"))

	o, err := repo.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
}

func TestConfirmPayment_CancelledOrder(t *testing.T) {
	repo := newOrderRepo()
	repo.byID["o1"] = &Order{ID: "o1", UserID: "u1", Status: StatusCancelled}
	svc := newTestService(newCatalog(), repo, &mockGateway{})

	err := svc.ConfirmPayment(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConfirmPayment_UnknownOrder(t *testing.T) {
	svc := newTestService(newCatalog(), newOrderRepo(), &mockGateway{})

	err := svc.ConfirmPayment(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransition_BackwardRejected(t *testing.T) {
	repo := newOrderRepo()
	repo.byID["o1"] = &Order{ID: "o1", Status: StatusDelivered}
	svc := newTestService(newCatalog(), repo, &mockGateway{})

	err := svc.Transition(context.Background(), "o1", StatusDelivered, StatusShipped)
	require.ErrorIs(t, err, ErrInvalidTransition)

	o, err := repo.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)
}
