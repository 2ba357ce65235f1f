package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techaven/marketplace/internal/domain/product"
)

// Reservation is the result of a successful stock reservation attempt. The
// token identifies the attempt for compensation purposes: releasing the
// same reservation twice is a no-op.
type Reservation struct {
	Token  string
	ShopID string
	Lines  []Line
}

// Reserver holds stock for an order attempt by issuing conditional
// decrements against the catalog, and releases it again when a later stage
// fails. It never reads-then-writes stock in application code: every
// mutation is a single atomic conditional update at the storage boundary,
// which keeps stock non-negative under arbitrary interleavings of
// concurrent attempts.
type Reserver struct {
	catalog product.Catalog

	// releaseTimeout bounds a whole compensation pass. Compensation runs
	// detached from the caller's context so a client disconnect cannot
	// strand reserved stock.
	releaseTimeout time.Duration

	mu       sync.Mutex
	released map[string]struct{}
}

// NewReserver creates a Reserver backed by the given catalog accessor.
func NewReserver(catalog product.Catalog, releaseTimeout time.Duration) *Reserver {
	if releaseTimeout <= 0 {
		releaseTimeout = 10 * time.Second
	}
	return &Reserver{
		catalog:        catalog,
		releaseTimeout: releaseTimeout,
		released:       make(map[string]struct{}),
	}
}

// Reserve atomically decrements stock for every cart line and returns the
// priced order lines with unit prices frozen at reservation time.
//
// Lines are processed in ascending product-id order so concurrent
// multi-item attempts touching overlapping products acquire stock in a
// total order and cannot starve each other. On any failure, decrements
// already applied in this attempt are restocked in reverse order before
// the error is returned.
func (r *Reserver) Reserve(ctx context.Context, cart []CartLine) (*Reservation, error) {
	lines := make([]CartLine, len(cart))
	copy(lines, cart)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	// Snapshot prices and shop ownership before mutating anything. A miss
	// here fails the attempt with no compensation owed.
	fetched, err := r.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "fetch products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	shopID := ""
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if shopID == "" {
			shopID = p.ShopID
		} else if p.ShopID != shopID {
			return nil, &MixedShopCartError{ShopA: shopID, ShopB: p.ShopID}
		}
	}

	granted := make([]Line, 0, len(lines))
	for _, l := range lines {
		p := byID[l.ProductID]

		if err := r.catalog.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			r.restockReverse(ctx, granted)

			switch {
			case errors.Is(err, product.ErrNotFound):
				return nil, &ProductNotFoundError{ProductID: l.ProductID}
			case errors.Is(err, product.ErrInsufficientStock):
				return nil, &InsufficientStockError{
					ProductID: l.ProductID,
					Requested: l.Quantity,
					Available: p.Stock,
				}
			default:
				return nil, errors.Wrapf(err, "decrement stock for product %s", l.ProductID)
			}
		}

		granted = append(granted, NewLine(l.ProductID, l.Quantity, p.Price))
	}

	return &Reservation{
		Token:  uuid.New().String(),
		ShopID: shopID,
		Lines:  granted,
	}, nil
}

// Release returns a reservation's stock to the catalog. It is idempotent
// per attempt token, runs detached from the caller's cancellation, retries
// each restock a bounded number of times, and escalates loudly when stock
// could not be restored: under-reported stock is an operational incident,
// not something to swallow.
func (r *Reserver) Release(ctx context.Context, res *Reservation) error {
	r.mu.Lock()
	if _, done := r.released[res.Token]; done {
		r.mu.Unlock()
		return nil
	}
	r.released[res.Token] = struct{}{}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.releaseTimeout)
	defer cancel()

	var failed []Line
	for i := len(res.Lines) - 1; i >= 0; i-- {
		l := res.Lines[i]
		if err := r.restockWithRetry(ctx, l.ProductID, l.Quantity); err != nil {
			failed = append(failed, l)
			zctx.From(ctx).Error("stock release failed, stock is under-reported",
				zap.String("reservation_token", res.Token),
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("release reservation %s: %d of %d lines not restored",
			res.Token, len(failed), len(res.Lines))
	}
	return nil
}

// restockReverse compensates decrements applied earlier in a failed Reserve
// attempt. The lines were never handed out as a Reservation, so no token
// bookkeeping applies; the attempt itself is the idempotency scope.
func (r *Reserver) restockReverse(ctx context.Context, granted []Line) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.releaseTimeout)
	defer cancel()

	for i := len(granted) - 1; i >= 0; i-- {
		l := granted[i]
		if err := r.restockWithRetry(ctx, l.ProductID, l.Quantity); err != nil {
			zctx.From(ctx).Error("compensating restock failed, stock is under-reported",
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (r *Reserver) restockWithRetry(ctx context.Context, productID string, qty int) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	return backoff.Retry(func() error {
		return r.catalog.Restock(ctx, productID, qty)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}
