package order

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// NewLine builds a priced line from a frozen unit price and quantity.
// LineTotal is exact: decimal multiplication of two fixed-point operands
// never rounds.
func NewLine(productID string, qty int, unitPrice decimal.Decimal) Line {
	return Line{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: unitPrice,
		LineTotal: unitPrice.Mul(decimal.NewFromInt(int64(qty))),
	}
}

// Total sums the line totals of an order. Pure, no I/O, no rounding: every
// line total is already an exact fixed-point amount, so the sum is exact.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return total
}

// MinorUnits converts a monetary amount to integer minor units (cents).
// Payment gateways take integer amounts; converting here, and only here,
// keeps float arithmetic out of the money path entirely. Amounts with more
// than two fraction digits are an upstream data defect and are rejected
// rather than rounded.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, errors.Errorf("amount %s is not representable in minor units", amount)
	}
	return cents.IntPart(), nil
}
