package engine

import (
	"github.com/shopspring/decimal"

	"github.com/finscope/paper-engine/internal/engine/model"
)

// DecisionKind classifies the outcome of evaluating an order against
// the current market price.
type DecisionKind int

const (
	// NoFill means the order's conditions did not trigger.
	NoFill DecisionKind = iota
	// Fill means the full remaining quantity executes.
	Fill
	// PartialFill means part of the remaining quantity executes.
	PartialFill
)

// FillDecision is the simulator's verdict for one evaluation pass.
type FillDecision struct {
	Kind     DecisionKind
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Simulator decides fill eligibility and fill price per order kind.
// It always fills the entire remaining quantity when conditions are met;
// order-book depth is ignored. That is a known simplification of real
// markets, acceptable for a paper-trading simulator. A broker-connected
// execution path would replace this component.
type Simulator struct{}

// NewSimulator creates a Simulator.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Evaluate applies the per-kind fill rules to an order at the given
// market price.
//
//	market      always fills at the market price
//	limit buy   fills at min(limit, market) iff limit >= market
//	limit sell  fills at max(limit, market) iff limit <= market
//	stop buy    triggers a market fill iff market >= stop
//	stop sell   triggers a market fill iff market <= stop
//	stop_limit  stop trigger first, then the limit rule
func (s *Simulator) Evaluate(order *model.Order, marketPrice decimal.Decimal) FillDecision {
	remaining := order.Remaining()
	if remaining.LessThanOrEqual(decimal.Zero) {
		return FillDecision{Kind: NoFill}
	}

	switch order.Kind {
	case model.KindMarket:
		return FillDecision{Kind: Fill, Quantity: remaining, Price: marketPrice}

	case model.KindLimit:
		return s.evaluateLimit(order, remaining, marketPrice)

	case model.KindStop:
		if stopTriggered(order.Side, order.StopPrice, marketPrice) {
			return FillDecision{Kind: Fill, Quantity: remaining, Price: marketPrice}
		}
		return FillDecision{Kind: NoFill}

	case model.KindStopLimit:
		if !stopTriggered(order.Side, order.StopPrice, marketPrice) {
			return FillDecision{Kind: NoFill}
		}
		return s.evaluateLimit(order, remaining, marketPrice)
	}

	return FillDecision{Kind: NoFill}
}

func (s *Simulator) evaluateLimit(order *model.Order, remaining, marketPrice decimal.Decimal) FillDecision {
	if order.Side == model.SideBuy {
		if order.Price.GreaterThanOrEqual(marketPrice) {
			return FillDecision{Kind: Fill, Quantity: remaining, Price: decimal.Min(order.Price, marketPrice)}
		}
		return FillDecision{Kind: NoFill}
	}
	if order.Price.LessThanOrEqual(marketPrice) {
		return FillDecision{Kind: Fill, Quantity: remaining, Price: decimal.Max(order.Price, marketPrice)}
	}
	return FillDecision{Kind: NoFill}
}

func stopTriggered(side string, stopPrice, marketPrice decimal.Decimal) bool {
	if side == model.SideBuy {
		return marketPrice.GreaterThanOrEqual(stopPrice)
	}
	return marketPrice.LessThanOrEqual(stopPrice)
}
