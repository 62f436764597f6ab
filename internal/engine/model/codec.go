package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Orders and executions are persisted as ledger hashes with string
// fields. Decimals keep their exact string form, timestamps use
// RFC 3339 with nanoseconds.

const timeLayout = time.RFC3339Nano

// Fields flattens an order into its hash representation.
func (o *Order) Fields() map[string]string {
	return map[string]string{
		"id":                o.ID.String(),
		"user_id":           o.UserID.String(),
		"portfolio_id":      o.PortfolioID.String(),
		"symbol":            o.Symbol,
		"side":              o.Side,
		"kind":              o.Kind,
		"quantity":          o.Quantity.String(),
		"price":             o.Price.String(),
		"stop_price":        o.StopPrice.String(),
		"time_in_force":     o.TimeInForce,
		"paper_trade":       strconv.FormatBool(o.PaperTrade),
		"status":            o.Status,
		"executed_quantity": o.ExecutedQuantity.String(),
		"executed_price":    o.ExecutedPrice.String(),
		"fees":              o.Fees.String(),
		"version":           strconv.FormatInt(o.Version, 10),
		"created_at":        o.CreatedAt.UTC().Format(timeLayout),
		"updated_at":        o.UpdatedAt.UTC().Format(timeLayout),
	}
}

// OrderFromFields rebuilds an order from its hash representation.
func OrderFromFields(fields map[string]string) (*Order, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty order record")
	}
	var o Order
	var err error
	if o.ID, err = uuid.Parse(fields["id"]); err != nil {
		return nil, fmt.Errorf("bad order id: %w", err)
	}
	if o.UserID, err = uuid.Parse(fields["user_id"]); err != nil {
		return nil, fmt.Errorf("bad user id: %w", err)
	}
	if o.PortfolioID, err = uuid.Parse(fields["portfolio_id"]); err != nil {
		return nil, fmt.Errorf("bad portfolio id: %w", err)
	}
	o.Symbol = fields["symbol"]
	o.Side = fields["side"]
	o.Kind = fields["kind"]
	o.TimeInForce = fields["time_in_force"]
	o.Status = fields["status"]
	if o.Quantity, err = decimal.NewFromString(fields["quantity"]); err != nil {
		return nil, fmt.Errorf("bad quantity: %w", err)
	}
	if o.Price, err = decimal.NewFromString(fields["price"]); err != nil {
		return nil, fmt.Errorf("bad price: %w", err)
	}
	if o.StopPrice, err = decimal.NewFromString(fields["stop_price"]); err != nil {
		return nil, fmt.Errorf("bad stop price: %w", err)
	}
	if o.ExecutedQuantity, err = decimal.NewFromString(fields["executed_quantity"]); err != nil {
		return nil, fmt.Errorf("bad executed quantity: %w", err)
	}
	if o.ExecutedPrice, err = decimal.NewFromString(fields["executed_price"]); err != nil {
		return nil, fmt.Errorf("bad executed price: %w", err)
	}
	if o.Fees, err = decimal.NewFromString(fields["fees"]); err != nil {
		return nil, fmt.Errorf("bad fees: %w", err)
	}
	o.PaperTrade, _ = strconv.ParseBool(fields["paper_trade"])
	if o.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("bad version: %w", err)
	}
	if o.CreatedAt, err = time.Parse(timeLayout, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	if o.UpdatedAt, err = time.Parse(timeLayout, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("bad updated_at: %w", err)
	}
	return &o, nil
}

// Fields flattens an execution into its hash representation.
func (e *Execution) Fields() map[string]string {
	return map[string]string{
		"id":          e.ID.String(),
		"order_id":    e.OrderID.String(),
		"symbol":      e.Symbol,
		"side":        e.Side,
		"quantity":    e.Quantity.String(),
		"price":       e.Price.String(),
		"fee":         e.Fee.String(),
		"paper_trade": strconv.FormatBool(e.PaperTrade),
		"created_at":  e.CreatedAt.UTC().Format(timeLayout),
	}
}

// ExecutionFromFields rebuilds an execution from its hash representation.
func ExecutionFromFields(fields map[string]string) (*Execution, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty execution record")
	}
	var e Execution
	var err error
	if e.ID, err = uuid.Parse(fields["id"]); err != nil {
		return nil, fmt.Errorf("bad execution id: %w", err)
	}
	if e.OrderID, err = uuid.Parse(fields["order_id"]); err != nil {
		return nil, fmt.Errorf("bad order id: %w", err)
	}
	e.Symbol = fields["symbol"]
	e.Side = fields["side"]
	if e.Quantity, err = decimal.NewFromString(fields["quantity"]); err != nil {
		return nil, fmt.Errorf("bad quantity: %w", err)
	}
	if e.Price, err = decimal.NewFromString(fields["price"]); err != nil {
		return nil, fmt.Errorf("bad price: %w", err)
	}
	if e.Fee, err = decimal.NewFromString(fields["fee"]); err != nil {
		return nil, fmt.Errorf("bad fee: %w", err)
	}
	e.PaperTrade, _ = strconv.ParseBool(fields["paper_trade"])
	if e.CreatedAt, err = time.Parse(timeLayout, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	return &e, nil
}
