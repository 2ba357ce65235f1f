// Package handler exposes the HTTP surface: the order placement endpoint,
// narrow catalog reads, and the payment gateway webhook.
package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/techaven/marketplace/internal/domain/order"
	"github.com/techaven/marketplace/internal/domain/product"
)

// Handler holds the HTTP endpoints and their domain dependencies.
type Handler struct {
	catalog       product.Catalog
	orders        *order.Service
	orderReader   order.Repository
	webhookSecret string
}

// NewHandler constructs a Handler. webhookSecret may be empty; the webhook
// endpoint then rejects all deliveries.
func NewHandler(
	catalog product.Catalog,
	orders *order.Service,
	orderReader order.Repository,
	webhookSecret string,
) *Handler {
	return &Handler{
		catalog:       catalog,
		orders:        orders,
		orderReader:   orderReader,
		webhookSecret: webhookSecret,
	}
}

// Routes registers all endpoints on the given mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)
	mux.HandleFunc("POST /api/orders", h.placeOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("POST /api/orders/{id}/payment", h.retryPayment)
	mux.HandleFunc("POST /webhooks/stripe", h.stripeWebhook)
}

// userID extracts the caller identity installed by the upstream auth
// gateway. Authentication itself is not this service's concern.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get("X-User-Type") == "admin"
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}
