package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techaven/marketplace/internal/domain/order"
	"github.com/techaven/marketplace/internal/domain/payment"
	"github.com/techaven/marketplace/internal/domain/product"
)

// --- Stubs ---

type catalogStub struct {
	byID map[string]*product.Product
}

func newCatalogStub(products ...product.Product) *catalogStub {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		p := products[i]
		byID[p.ID] = &p
	}
	return &catalogStub{byID: byID}
}

func (s *catalogStub) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, *p)
	}
	return out, nil
}

func (s *catalogStub) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *catalogStub) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := s.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *catalogStub) DecrementStock(_ context.Context, id string, qty int) error {
	p, ok := s.byID[id]
	if !ok {
		return product.ErrNotFound
	}
	if p.Stock < qty {
		return product.ErrInsufficientStock
	}
	p.Stock -= qty
	return nil
}

func (s *catalogStub) Restock(_ context.Context, id string, qty int) error {
	s.byID[id].Stock += qty
	return nil
}

type orderRepoStub struct {
	byID map[string]*order.Order
}

func newOrderRepoStub() *orderRepoStub {
	return &orderRepoStub{byID: make(map[string]*order.Order)}
}

func (s *orderRepoStub) Create(_ context.Context, o *order.Order) error {
	cp := *o
	s.byID[o.ID] = &cp
	return nil
}

func (s *orderRepoStub) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := s.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *orderRepoStub) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range s.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *orderRepoStub) UpdateStatus(_ context.Context, id string, from, to order.Status) error {
	o, ok := s.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrInvalidTransition
	}
	o.Status = to
	return nil
}

func (s *orderRepoStub) SetPaymentIntent(_ context.Context, id, intentID string) error {
	if o, ok := s.byID[id]; ok {
		o.PaymentIntentID = intentID
	}
	return nil
}

type gatewayStub struct {
	err error
}

func (s *gatewayStub) CreateOrFetchIntent(_ context.Context, orderID string, amountMinor int64, currency string) (*payment.Handle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &payment.Handle{
		IntentID:     "pi_" + orderID,
		ClientSecret: "cs_" + orderID,
		OrderID:      orderID,
		AmountMinor:  amountMinor,
		Currency:     currency,
	}, nil
}

// --- Helpers ---

func newTestMux(catalog *catalogStub, repo *orderRepoStub, gw payment.Gateway) *http.ServeMux {
	reserver := order.NewReserver(catalog, time.Second)
	svc := order.NewService(reserver, repo, gw, "usd", order.Timeouts{}, nil)
	h := NewHandler(catalog, svc, repo, "")

	mux := http.NewServeMux()
	h.Routes(mux)
	return mux
}

func testProduct(id, shopID, price string, stock int) product.Product {
	return product.Product{
		ID:        id,
		ShopID:    shopID,
		Title:     "Test " + id,
		Brand:     "Acme",
		Condition: product.ConditionNew,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
	}
}

func doRequest(mux *http.ServeMux, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- Tests ---

func TestPlaceOrder_RequiresIdentity(t *testing.T) {
	mux := newTestMux(newCatalogStub(), newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/api/orders", "",
		`{"items":[{"product_id":"p1","quantity":1}],"shipping_address":"1 Main St"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlaceOrder_Created(t *testing.T) {
	catalog := newCatalogStub(testProduct("p1", "shop-1", "549.99", 10))
	repo := newOrderRepoStub()
	mux := newTestMux(catalog, repo, &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1",
		`{"items":[{"product_id":"p1","quantity":2}],"shipping_address":"1 Main St"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["order_id"])
	assert.Equal(t, 1099.98, body["total_amount"])
	assert.NotEmpty(t, body["payment_client_secret"])
	assert.Equal(t, 8, catalog.byID["p1"].Stock)
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	mux := newTestMux(newCatalogStub(), newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1", `{"items":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	mux := newTestMux(newCatalogStub(), newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1",
		`{"items":[],"shipping_address":"1 Main St"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	mux := newTestMux(newCatalogStub(), newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1",
		`{"items":[{"product_id":"ghost","quantity":1}],"shipping_address":"1 Main St"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	catalog := newCatalogStub(testProduct("p1", "shop-1", "10.00", 1))
	mux := newTestMux(catalog, newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1",
		`{"items":[{"product_id":"p1","quantity":3}],"shipping_address":"1 Main St"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["message"], "insufficient stock")
	assert.Equal(t, 1, catalog.byID["p1"].Stock)
}

func TestPlaceOrder_MixedShops(t *testing.T) {
	catalog := newCatalogStub(
		testProduct("p1", "shop-1", "10.00", 5),
		testProduct("p2", "shop-2", "20.00", 5),
	)
	mux := newTestMux(catalog, newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1",
		`{"items":[{"product_id":"p1","quantity":1},{"product_id":"p2","quantity":1}],"shipping_address":"1 Main St"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrder_GatewayDown(t *testing.T) {
	catalog := newCatalogStub(testProduct("p1", "shop-1", "10.00", 5))
	repo := newOrderRepoStub()
	gw := &gatewayStub{err: &payment.GatewayError{Transient: true, Err: assert.AnError}}
	mux := newTestMux(catalog, repo, gw)

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1",
		`{"items":[{"product_id":"p1","quantity":1}],"shipping_address":"1 Main St"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["order_id"])

	// The order exists and its stock stays reserved despite the 502.
	_, err := repo.GetByID(context.Background(), body["order_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, 4, catalog.byID["p1"].Stock)
}

func TestGetOrder_OwnerOnly(t *testing.T) {
	repo := newOrderRepoStub()
	repo.byID["o1"] = &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending}
	mux := newTestMux(newCatalogStub(), repo, &gatewayStub{})

	rec := doRequest(mux, http.MethodGet, "/api/orders/o1", "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(mux, http.MethodGet, "/api/orders/o1", "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetOrder_AdminBypassesOwnership(t *testing.T) {
	repo := newOrderRepoStub()
	repo.byID["o1"] = &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending}
	mux := newTestMux(newCatalogStub(), repo, &gatewayStub{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders/o1", nil)
	req.Header.Set("X-User-ID", "staff-7")
	req.Header.Set("X-User-Type", "admin")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	mux := newTestMux(newCatalogStub(), newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodGet, "/api/orders/ghost", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders_ScopedToCaller(t *testing.T) {
	repo := newOrderRepoStub()
	repo.byID["o1"] = &order.Order{ID: "o1", UserID: "u1"}
	repo.byID["o2"] = &order.Order{ID: "o2", UserID: "u2"}
	mux := newTestMux(newCatalogStub(), repo, &gatewayStub{})

	rec := doRequest(mux, http.MethodGet, "/api/orders", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0]["id"])
}

func TestRetryPayment(t *testing.T) {
	catalog := newCatalogStub(testProduct("p1", "shop-1", "10.00", 5))
	repo := newOrderRepoStub()
	gw := &gatewayStub{err: &payment.GatewayError{Transient: true, Err: assert.AnError}}
	mux := newTestMux(catalog, repo, gw)

	rec := doRequest(mux, http.MethodPost, "/api/orders", "u1",
		`{"items":[{"product_id":"p1","quantity":1}],"shipping_address":"1 Main St"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	orderID := decodeBody(t, rec)["order_id"].(string)

	gw.err = nil
	rec = doRequest(mux, http.MethodPost, "/api/orders/"+orderID+"/payment", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["payment_client_secret"])
}

func TestGetProduct(t *testing.T) {
	catalog := newCatalogStub(testProduct("p1", "shop-1", "549.99", 10))
	mux := newTestMux(catalog, newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodGet, "/api/products/p1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "p1", body["id"])
	assert.Equal(t, 549.99, body["price"])

	rec = doRequest(mux, http.MethodGet, "/api/products/ghost", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStripeWebhook_DisabledWithoutSecret(t *testing.T) {
	mux := newTestMux(newCatalogStub(), newOrderRepoStub(), &gatewayStub{})

	rec := doRequest(mux, http.MethodPost, "/webhooks/stripe", "", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
