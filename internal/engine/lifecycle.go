package engine

import (
	"github.com/shopspring/decimal"

	"github.com/finscope/paper-engine/internal/engine/model"
	"github.com/finscope/paper-engine/pkg/errors"
)

// Legal order status transitions. Terminal statuses admit none.
var validTransitions = map[string][]string{
	model.StatusPending:   {model.StatusPartial, model.StatusFilled, model.StatusCancelled, model.StatusRejected},
	model.StatusPartial:   {model.StatusPartial, model.StatusFilled, model.StatusCancelled},
	model.StatusFilled:    {},
	model.StatusCancelled: {},
	model.StatusRejected:  {},
}

// ValidTransition reports whether an order may move from one status to
// another.
func ValidTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// statusAfterFill returns the status an order reaches after executing
// quantity more units, and the resulting executed total. Quantity
// conservation is enforced here: the total may never exceed the
// requested quantity.
func statusAfterFill(order *model.Order, quantity decimal.Decimal) (string, decimal.Decimal, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return "", decimal.Zero, errors.InvalidTransition("fill quantity must be positive")
	}
	total := order.ExecutedQuantity.Add(quantity)
	if total.GreaterThan(order.Quantity) {
		return "", decimal.Zero, errors.InvalidTransition(
			"fill of %s would exceed requested quantity %s (already executed %s)",
			quantity, order.Quantity, order.ExecutedQuantity)
	}
	next := model.StatusPartial
	if total.Equal(order.Quantity) {
		next = model.StatusFilled
	}
	if !ValidTransition(order.Status, next) {
		return "", decimal.Zero, errors.InvalidTransition("order %s cannot move from %s to %s", order.ID, order.Status, next)
	}
	return next, total, nil
}

// Cancellable reports whether a user cancel request is legal for the
// order's current status.
func Cancellable(status string) bool {
	return status == model.StatusPending || status == model.StatusPartial
}
