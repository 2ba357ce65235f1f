package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/techaven/marketplace/internal/domain/order"
)

const maxWebhookBodyBytes = 1 << 16

// stripeWebhook handles POST /webhooks/stripe. A verified
// payment_intent.succeeded event moves the referenced order from pending to
// confirmed. Deliveries are acknowledged with 200 even when redelivered;
// Stripe retries anything else.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		writeError(w, http.StatusNotFound, "webhook not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	lg := zctx.From(r.Context())

	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			writeError(w, http.StatusBadRequest, "malformed event payload")
			return
		}

		orderID := intent.Metadata["order_id"]
		if orderID == "" {
			lg.Warn("payment intent without order metadata", zap.String("intent_id", intent.ID))
			break
		}

		if err := h.orders.ConfirmPayment(r.Context(), orderID); err != nil {
			if errors.Is(err, order.ErrNotFound) {
				lg.Warn("payment confirmation for unknown order",
					zap.String("order_id", orderID),
					zap.String("intent_id", intent.ID),
				)
				break
			}
			lg.Error("payment confirmation failed",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "confirmation failed")
			return
		}

	default:
		// Not subscribed; acknowledge so Stripe stops retrying.
	}

	w.WriteHeader(http.StatusOK)
}
