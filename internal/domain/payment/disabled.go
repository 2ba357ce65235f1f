package payment

import "context"

// Disabled is a Gateway for deployments without payment credentials. Orders
// are still placed; clients just never receive a payment handle.
type Disabled struct{}

func (Disabled) CreateOrFetchIntent(context.Context, string, int64, string) (*Handle, error) {
	return nil, ErrDisabled
}
