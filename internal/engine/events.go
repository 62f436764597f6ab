package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/finscope/paper-engine/internal/engine/model"
	"github.com/finscope/paper-engine/internal/ledger"
)

// Event types announced on the notification channel.
const (
	EventOrderCreated   = "order_created"
	EventOrderFilled    = "order_filled"
	EventOrderPartial   = "order_partial_fill"
	EventOrderCancelled = "order_cancelled"
)

// journalLength bounds the durable event journal list.
const journalLength = 1024

// Event carries one order state transition to downstream consumers
// (portfolio updates, user notifications).
type Event struct {
	Type      string           `json:"type"`
	OrderID   string           `json:"order_id"`
	UserID    string           `json:"user_id"`
	Symbol    string           `json:"symbol"`
	Status    string           `json:"status"`
	Execution *model.Execution `json:"execution,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Publisher announces execution events on the ledger pub/sub channel and
// appends them to a bounded journal list. Publishing is best effort: a
// failed publish is logged, never propagated, because the order state
// has already been committed.
type Publisher struct {
	store  ledger.Store
	logger *zap.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(store ledger.Store, logger *zap.Logger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

// Publish sends the event to subscribers and the journal.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode order event",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return
	}
	if err := p.store.Publish(ctx, EventChannel, payload); err != nil {
		p.logger.Warn("failed to publish order event",
			zap.String("order_id", event.OrderID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
	if err := p.store.ListPush(ctx, eventJournalKey, payload); err != nil {
		p.logger.Warn("failed to journal order event",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return
	}
	if err := p.store.ListTrim(ctx, eventJournalKey, 0, journalLength-1); err != nil {
		p.logger.Warn("failed to trim event journal", zap.Error(err))
	}
}
