package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to confirmed", StatusPending, StatusConfirmed, true},
		{"confirmed to shipped", StatusConfirmed, StatusShipped, true},
		{"shipped to delivered", StatusShipped, StatusDelivered, true},
		{"pending skips to shipped", StatusPending, StatusShipped, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"shipped to cancelled", StatusShipped, StatusCancelled, true},
		{"confirmed back to pending", StatusConfirmed, StatusPending, false},
		{"delivered back to shipped", StatusDelivered, StatusShipped, false},
		{"delivered to cancelled", StatusDelivered, StatusCancelled, false},
		{"cancelled to confirmed", StatusCancelled, StatusConfirmed, false},
		{"cancelled to cancelled", StatusCancelled, StatusCancelled, false},
		{"same status", StatusPending, StatusPending, false},
		{"unknown status", Status("refunded"), StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}
