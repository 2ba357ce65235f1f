// Package payment defines the contract between order placement and the
// external payment gateway. Placement needs exactly one thing from a
// gateway: a payment handle the client can use to authorize the charge,
// created at most once per order.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// ErrDisabled is returned by a gateway that has no credentials configured.
// The order flow treats it as "no handle available": the order is still
// placed, only without a client secret.
var ErrDisabled = errors.New("payment gateway disabled")

// Handle is the gateway-issued payment object the client completes the
// charge with.
type Handle struct {
	IntentID     string
	ClientSecret string
	OrderID      string
	AmountMinor  int64
	Currency     string
}

// GatewayError wraps a gateway failure, tagged by whether a retry could
// plausibly succeed. Domain rejections (bad amount, bad currency) are
// permanent; timeouts and 5xx-class responses are transient.
type GatewayError struct {
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("payment gateway (%s): %v", kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Gateway creates payment handles. Implementations must be idempotent keyed
// by order id: a retried call for an order that already has a handle returns
// the existing handle instead of authorizing a second charge.
type Gateway interface {
	CreateOrFetchIntent(ctx context.Context, orderID string, amountMinor int64, currency string) (*Handle, error)
}
