// Package marketdata exposes the market price and order-book snapshots
// the execution simulator evaluates against. Prices and books are
// written by an external feed; this engine only reads them.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/finscope/paper-engine/internal/engine/model"
	"github.com/finscope/paper-engine/internal/ledger"
)

// Oracle supplies the latest known price for a symbol.
type Oracle interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Compile-time interface checks.
var (
	_ Oracle = (*LedgerOracle)(nil)
	_ Oracle = (*StaticOracle)(nil)
)

func priceKey(symbol string) string      { return "price:" + symbol }
func bookKey(symbol, side string) string { return "book:" + symbol + ":" + side }

// LedgerOracle reads prices the market-data feed writes into the ledger.
type LedgerOracle struct {
	store ledger.Store
}

// NewLedgerOracle creates an Oracle backed by the ledger store.
func NewLedgerOracle(store ledger.Store) *LedgerOracle {
	return &LedgerOracle{store: store}
}

// GetPrice returns the last price written for the symbol.
func (o *LedgerOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, err := o.store.HashGet(ctx, priceKey(symbol), "price")
	if err == ledger.ErrNotFound {
		return decimal.Zero, fmt.Errorf("no price for symbol %s", symbol)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read price for %s: %w", symbol, err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed price for %s: %w", symbol, err)
	}
	return price, nil
}

// GetBook returns the informational order-book snapshot for a symbol,
// bids highest-first and asks lowest-first. Levels are stored by the
// feed as JSON members scored by price.
func (o *LedgerOracle) GetBook(ctx context.Context, symbol string, depth int64) (*model.BookSnapshot, error) {
	bids, err := o.readLevels(ctx, bookKey(symbol, "bids"), depth, true)
	if err != nil {
		return nil, err
	}
	asks, err := o.readLevels(ctx, bookKey(symbol, "asks"), depth, false)
	if err != nil {
		return nil, err
	}
	return &model.BookSnapshot{Symbol: symbol, Bids: bids, Asks: asks}, nil
}

func (o *LedgerOracle) readLevels(ctx context.Context, key string, depth int64, desc bool) ([]model.BookLevel, error) {
	members, err := o.store.SortedSetRange(ctx, key, 0, depth-1, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to read book levels: %w", err)
	}
	levels := make([]model.BookLevel, 0, len(members))
	for _, m := range members {
		var level model.BookLevel
		if err := json.Unmarshal([]byte(m), &level); err != nil {
			return nil, fmt.Errorf("malformed book level: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// StaticOracle is an in-memory Oracle for tests and local development.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticOracle creates a StaticOracle with the given starting prices.
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	cp := make(map[string]decimal.Decimal, len(prices))
	for s, p := range prices {
		cp[s] = p
	}
	return &StaticOracle{prices: cp}
}

// SetPrice updates the price for a symbol.
func (o *StaticOracle) SetPrice(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
}

// GetPrice returns the configured price for a symbol.
func (o *StaticOracle) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for symbol %s", symbol)
	}
	return price, nil
}
