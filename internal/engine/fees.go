package engine

import (
	"github.com/shopspring/decimal"
)

// FeeCalculator derives trading fees from notional value. Pure function,
// no side effects.
type FeeCalculator struct {
	rate    decimal.Decimal
	minimum decimal.Decimal
}

// NewFeeCalculator creates a FeeCalculator with the given rate and
// minimum fee, in currency-agnostic units.
func NewFeeCalculator(rate, minimum float64) *FeeCalculator {
	return &FeeCalculator{
		rate:    decimal.NewFromFloat(rate),
		minimum: decimal.NewFromFloat(minimum),
	}
}

// Fee returns the fee for a trade of the given notional value. Paper
// trades always incur zero fee; real trades pay max(notional*rate, minimum).
func (f *FeeCalculator) Fee(notional decimal.Decimal, paperTrade bool) decimal.Decimal {
	if paperTrade {
		return decimal.Zero
	}
	fee := notional.Mul(f.rate)
	if fee.LessThan(f.minimum) {
		return f.minimum
	}
	return fee
}
