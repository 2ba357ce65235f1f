// Package stripe adapts the Stripe PaymentIntent API to the payment.Gateway
// contract.
package stripe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"go.uber.org/zap"

	"github.com/techaven/marketplace/internal/domain/payment"
)

var _ payment.Gateway = (*Gateway)(nil)

// Gateway creates Stripe payment intents, one per order. Idempotency is
// delegated to Stripe via a per-order idempotency key: a retried call for
// the same order id returns the original intent instead of authorizing a
// second charge.
type Gateway struct {
	maxAttempts uint64
}

// New configures the Stripe client with the given secret key.
func New(secretKey string) *Gateway {
	stripego.Key = secretKey
	return &Gateway{maxAttempts: 3}
}

// CreateOrFetchIntent requests a payment intent for the order. Transient
// gateway failures (network errors, 429, 5xx) are retried with exponential
// backoff up to three attempts; domain rejections fail immediately.
func (g *Gateway) CreateOrFetchIntent(ctx context.Context, orderID string, amountMinor int64, currency string) (*payment.Handle, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(amountMinor),
		Currency: stripego.String(currency),
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderID)
	params.SetIdempotencyKey("order-" + orderID)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	var intent *stripego.PaymentIntent
	operation := func() error {
		var err error
		intent, err = paymentintent.New(params)
		if err == nil {
			return nil
		}
		gwErr := classify(err)
		if !gwErr.Transient {
			return backoff.Permanent(gwErr)
		}
		zctx.From(ctx).Warn("stripe intent creation failed, retrying",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return gwErr
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, g.maxAttempts-1), ctx)); err != nil {
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, &payment.GatewayError{Transient: true, Err: err}
	}

	return &payment.Handle{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		OrderID:      orderID,
		AmountMinor:  amountMinor,
		Currency:     currency,
	}, nil
}

// classify tags a Stripe client error as transient or permanent. Anything
// that is not a structured Stripe error is treated as a network-level
// failure and retried.
func classify(err error) *payment.GatewayError {
	var sErr *stripego.Error
	if !errors.As(err, &sErr) {
		return &payment.GatewayError{Transient: true, Err: err}
	}

	switch {
	case sErr.HTTPStatusCode == 429, sErr.HTTPStatusCode >= 500:
		return &payment.GatewayError{Transient: true, Err: err}
	default:
		return &payment.GatewayError{Transient: false, Err: err}
	}
}
