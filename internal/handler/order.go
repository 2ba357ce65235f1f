package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/techaven/marketplace/internal/domain/order"
	"github.com/techaven/marketplace/internal/domain/payment"
)

const maxOrderBodyBytes = 1 << 16

// placeOrder handles POST /api/orders.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	req, err := decodePlaceOrder(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.UserID = uid

	result, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	if result.PaymentErr != nil {
		// The order is durably pending; only the payment handle is missing.
		// 502 tells the caller to retry handle creation, not the order.
		writePlacement(w, http.StatusBadGateway, result,
			"order created; payment unavailable, retry payment handle creation")
		return
	}

	writePlacement(w, http.StatusCreated, result, "order created successfully")
}

// retryPayment handles POST /api/orders/{id}/payment: idempotent payment
// handle creation for an order placed while the gateway was down.
func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	o, handle, err := h.orders.RetryPaymentHandle(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.writeOrderError(w, r, err)
		return
	}

	result := &order.PlaceOrderResult{Order: o, Handle: handle}
	if handle == nil {
		writePlacement(w, http.StatusBadGateway, result,
			"payment still unavailable, retry later")
		return
	}
	writePlacement(w, http.StatusOK, result, "payment handle created")
}

// getOrder handles GET /api/orders/{id}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	o, err := h.orderReader.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.writeOrderError(w, r, err)
		return
	}

	if o.UserID != uid && !isAdmin(r) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

// listOrders handles GET /api/orders.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	orders, err := h.orderReader.ListByUser(r.Context(), uid)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for i := range orders {
		encodeOrder(&e, &orders[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// writeOrderError maps domain errors onto HTTP statuses. Responses carry
// enough detail to correct the cart, and never internal storage or gateway
// error text.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		qtyErr      *order.InvalidQuantityError
		notFoundErr *order.ProductNotFoundError
		stockErr    *order.InsufficientStockError
		mixedErr    *order.MixedShopCartError
		persistErr  *order.PersistenceError
		gwErr       *payment.GatewayError
	)

	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrMissingShipping),
		errors.As(err, &qtyErr),
		errors.As(err, &mixedErr):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, err.Error())

	case errors.As(err, &persistErr):
		zctx.From(r.Context()).Error("order persistence failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "order could not be recorded; no charge was made")

	case errors.As(err, &gwErr):
		writeError(w, http.StatusBadGateway, "payment gateway unavailable, retry later")

	default:
		zctx.From(r.Context()).Error("order request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodePlaceOrder(body []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item order.CartLine
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "product_id":
						v, err := d.Str()
						item.ProductID = v
						return err
					case "quantity":
						v, err := d.Int()
						item.Quantity = v
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "shipping_address":
			v, err := d.Str()
			req.ShippingAddress = v
			return err
		default:
			return d.Skip()
		}
	})
	return req, err
}

func writePlacement(w http.ResponseWriter, status int, result *order.PlaceOrderResult, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(result.Order.ID)
	e.FieldStart("total_amount")
	e.RawStr(result.Order.TotalAmount.String())
	if result.Handle != nil {
		e.FieldStart("payment_client_secret")
		e.Str(result.Handle.ClientSecret)
	}
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("user_id")
	e.Str(o.UserID)
	e.FieldStart("shop_id")
	e.Str(o.ShopID)
	e.FieldStart("total_amount")
	e.RawStr(o.TotalAmount.String())
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("shipping_address")
	e.Str(o.ShippingAddress)
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unit_price")
		e.RawStr(l.UnitPrice.String())
		e.FieldStart("line_total")
		e.RawStr(l.LineTotal.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
