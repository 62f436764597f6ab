// Package model defines the order and execution records of the
// paper-trading engine. Status, kind, side, and time-in-force vocabulary
// is part of the external contract consumed by the platform UI and must
// stay stable.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finscope/paper-engine/pkg/errors"
)

// Constants for order kinds, sides, statuses, and time in force options
const (
	// Order kinds
	KindMarket    = "market"
	KindLimit     = "limit"
	KindStop      = "stop"
	KindStopLimit = "stop_limit"

	// Order sides
	SideBuy  = "buy"
	SideSell = "sell"

	// Order statuses
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"

	// Time in force
	TIFDay = "day" // expires at end of trading session
	TIFGTC = "gtc" // good till cancelled
	TIFIOC = "ioc" // immediate or cancel
	TIFFOK = "fok" // fill or kill
)

// Order represents a user's instruction to buy or sell a quantity of a
// symbol under specified conditions. It is mutated only by the engine:
// submission sets the initial fields, the scheduler mutates the execution
// fields, and cancellation mutates the status.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	PortfolioID uuid.UUID       `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Kind        string          `json:"kind"`
	Quantity    decimal.Decimal `json:"quantity"`
	// Price is the limit price, required for limit and stop_limit orders.
	Price decimal.Decimal `json:"price,omitempty"`
	// StopPrice is the trigger price, required for stop and stop_limit orders.
	StopPrice   decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce string          `json:"time_in_force"`
	PaperTrade  bool            `json:"paper_trade"`
	Status      string          `json:"status"`

	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
	ExecutedPrice    decimal.Decimal `json:"executed_price"`
	Fees             decimal.Decimal `json:"fees"`

	// Version counts mutations and guards every write; a stale version
	// means a racing worker got there first.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the not-yet-executed quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.ExecutedQuantity)
}

// Terminal reports whether the order can no longer change state.
func (o *Order) Terminal() bool {
	return TerminalStatus(o.Status)
}

// TerminalStatus reports whether a status is terminal.
func TerminalStatus(status string) bool {
	switch status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Validate enforces the submission invariants: positive quantity,
// non-empty symbol, and the price fields each kind requires.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return errors.Validation("symbol must not be empty")
	}
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return errors.Validation("quantity must be positive")
	}
	switch o.Side {
	case SideBuy, SideSell:
	default:
		return errors.Validation("invalid side %q", o.Side)
	}
	switch o.Kind {
	case KindMarket, KindLimit, KindStop, KindStopLimit:
	default:
		return errors.Validation("invalid order kind %q", o.Kind)
	}
	switch o.TimeInForce {
	case TIFDay, TIFGTC, TIFIOC, TIFFOK:
	default:
		return errors.Validation("invalid time in force %q", o.TimeInForce)
	}
	if o.Kind == KindLimit || o.Kind == KindStopLimit {
		if o.Price.LessThanOrEqual(decimal.Zero) {
			return errors.Validation("limit price required for %s orders", o.Kind)
		}
	}
	if o.Kind == KindStop || o.Kind == KindStopLimit {
		if o.StopPrice.LessThanOrEqual(decimal.Zero) {
			return errors.Validation("stop price required for %s orders", o.Kind)
		}
	}
	return nil
}

// Execution records quantity actually matched against an order at a
// price. Immutable once created; an order may have zero, one, or many.
type Execution struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	PaperTrade bool            `json:"paper_trade"`
	CreatedAt  time.Time       `json:"created_at"`
}

// QueueStats holds the observability counters of the pending queue.
// Dashboards only; never a source of truth for order state.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
}

// BookLevel is one informational price level of an order-book snapshot.
type BookLevel struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// BookSnapshot is the per-symbol order book the market-data feed
// maintains; the engine only reads it.
type BookSnapshot struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}

// OrderRequest is the submission DTO bound from the REST surface.
type OrderRequest struct {
	Symbol      string `json:"symbol" binding:"required" validate:"required"`
	Side        string `json:"side" binding:"required,oneof=buy sell" validate:"required,oneof=buy sell"`
	Kind        string `json:"kind" binding:"required,oneof=market limit stop stop_limit" validate:"required,oneof=market limit stop stop_limit"`
	Quantity    string `json:"quantity" binding:"required" validate:"required"`
	Price       string `json:"price,omitempty"`
	StopPrice   string `json:"stop_price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty" validate:"omitempty,oneof=day gtc ioc fok"`
	PaperTrade  *bool  `json:"paper_trade,omitempty"`
	PortfolioID string `json:"portfolio_id,omitempty"`
}
