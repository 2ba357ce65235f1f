package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the placement counters. A nil *Metrics is valid and records
// nothing, which keeps unit tests free of meter plumbing.
type Metrics struct {
	placements metric.Int64Counter
	conflicts  metric.Int64Counter
}

// NewMetrics registers the order placement instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	placements, err := meter.Int64Counter("orders_placements_total",
		metric.WithDescription("Order placement attempts by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create placements counter")
	}
	conflicts, err := meter.Int64Counter("orders_reservation_conflicts_total",
		metric.WithDescription("Reservations rejected due to insufficient stock"))
	if err != nil {
		return nil, errors.Wrap(err, "create conflicts counter")
	}
	return &Metrics{placements: placements, conflicts: conflicts}, nil
}

func (m *Metrics) placement(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.placements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) conflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1)
}
