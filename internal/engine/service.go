package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finscope/paper-engine/internal/engine/model"
	"github.com/finscope/paper-engine/pkg/errors"
	"github.com/finscope/paper-engine/pkg/metrics"
)

// cancelRetries bounds how often a cancel re-checks status after losing
// a version race before giving up.
const cancelRetries = 3

// executionRetries bounds the write attempts for an execution record
// after its fill has already been committed to the order.
const executionRetries = 3

// executionID derives a stable execution id from the order and the
// version the fill was applied against. A retried write after a
// transient store failure lands on the same record instead of a
// duplicate.
func executionID(orderID uuid.UUID, version int64) uuid.UUID {
	return uuid.NewSHA1(orderID, strconv.AppendInt(nil, version, 10))
}

// Service implements order submission, cancellation, lookup, and the
// fill application shared with the scheduler. All components are
// injected once at process start.
type Service struct {
	store  *OrderStore
	fees   *FeeCalculator
	events *Publisher
	logger *zap.Logger
}

// NewService creates the order service.
func NewService(store *OrderStore, fees *FeeCalculator, events *Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		fees:   fees,
		events: events,
		logger: logger,
	}
}

// SubmitOrder validates and persists a new order with status pending and
// enqueues it for evaluation. Execution happens asynchronously; only the
// new order is returned.
func (s *Service) SubmitOrder(ctx context.Context, userID uuid.UUID, req *model.OrderRequest) (*model.Order, error) {
	order, err := orderFromRequest(userID, req)
	if err != nil {
		return nil, err
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	metrics.OrdersSubmitted.WithLabelValues(order.Side).Inc()
	s.events.Publish(ctx, Event{
		Type:      EventOrderCreated,
		OrderID:   order.ID.String(),
		UserID:    order.UserID.String(),
		Symbol:    order.Symbol,
		Status:    order.Status,
		Timestamp: order.CreatedAt,
	})
	s.logger.Info("order submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("symbol", order.Symbol),
		zap.String("kind", order.Kind),
		zap.String("side", order.Side))
	return order, nil
}

// CancelOrder cancels a pending or partial order owned by the user. The
// status re-check and the cancelled write happen under the order version
// guard, so a fill that races ahead makes the cancel fail with an
// InvalidTransitionError instead of overwriting a terminal state.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	for attempt := 0; attempt < cancelRetries; attempt++ {
		order, err := s.ownedOrder(ctx, userID, orderID)
		if err != nil {
			return nil, err
		}
		if !Cancellable(order.Status) {
			return nil, errors.InvalidTransition("order %s is %s and cannot be cancelled", orderID, order.Status)
		}

		expected := order.Version
		order.Status = model.StatusCancelled
		order.Version++
		order.UpdatedAt = time.Now().UTC()

		ok, err := s.store.UpdateOrderGuarded(ctx, order, expected)
		if err != nil {
			return nil, err
		}
		if !ok {
			// A scheduler worker mutated the order between read and
			// write; re-check whether it is still cancellable.
			metrics.ClaimConflicts.Inc()
			continue
		}

		if err := s.store.RemoveFromQueues(ctx, orderID); err != nil {
			return nil, err
		}
		metrics.OrdersCancelled.WithLabelValues("user").Inc()
		s.events.Publish(ctx, Event{
			Type:      EventOrderCancelled,
			OrderID:   order.ID.String(),
			UserID:    order.UserID.String(),
			Symbol:    order.Symbol,
			Status:    order.Status,
			Timestamp: order.UpdatedAt,
		})
		s.logger.Info("order cancelled",
			zap.String("order_id", order.ID.String()),
			zap.String("user_id", order.UserID.String()))
		return order, nil
	}
	return nil, errors.InvalidTransition("order %s is contended and could not be cancelled", orderID)
}

// GetOrder returns an order owned by the user.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	return s.ownedOrder(ctx, userID, orderID)
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, limit int64) ([]*model.Order, error) {
	return s.store.ListUserOrders(ctx, userID, limit)
}

// ListExecutions returns the executions of an order owned by the user,
// oldest first.
func (s *Service) ListExecutions(ctx context.Context, userID, orderID uuid.UUID) ([]*model.Execution, error) {
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.store.ListExecutions(ctx, orderID)
}

// GetStats returns the queue statistics counters.
func (s *Service) GetStats(ctx context.Context) (*model.QueueStats, error) {
	return s.store.GetStats(ctx, time.Now())
}

// ApplyFill commits a fill decision as one guarded update: execution
// record, executed quantity and price, accumulated fee, and the status
// advance. Returns the updated order. An InvalidTransitionError means a
// racing worker or a cancel got there first and the fill was not applied.
func (s *Service) ApplyFill(ctx context.Context, order *model.Order, decision FillDecision) (*model.Order, error) {
	next, total, err := statusAfterFill(order, decision.Quantity)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fee := s.fees.Fee(decision.Quantity.Mul(decision.Price), order.PaperTrade)

	expected := order.Version
	updated := *order
	updated.Status = next
	updated.ExecutedQuantity = total
	updated.ExecutedPrice = decision.Price
	updated.Fees = order.Fees.Add(fee)
	updated.Version++
	updated.UpdatedAt = now

	ok, err := s.store.UpdateOrderGuarded(ctx, &updated, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.ClaimConflicts.Inc()
		return nil, errors.InvalidTransition("order %s was mutated by a racing worker", order.ID)
	}

	// The order mutation is already committed; the execution record is
	// written under a deterministic id so repeated attempts stay
	// idempotent.
	exec := &model.Execution{
		ID:         executionID(order.ID, expected),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   decision.Quantity,
		Price:      decision.Price,
		Fee:        fee,
		PaperTrade: order.PaperTrade,
		CreatedAt:  now,
	}
	var execErr error
	for attempt := 0; attempt < executionRetries; attempt++ {
		if execErr = s.store.CreateExecution(ctx, exec); execErr == nil {
			break
		}
	}
	if execErr != nil {
		return nil, execErr
	}

	eventType := EventOrderPartial
	if next == model.StatusFilled {
		eventType = EventOrderFilled
		metrics.OrdersFilled.WithLabelValues(order.Kind).Inc()
	}
	s.events.Publish(ctx, Event{
		Type:      eventType,
		OrderID:   order.ID.String(),
		UserID:    order.UserID.String(),
		Symbol:    order.Symbol,
		Status:    next,
		Execution: exec,
		Timestamp: now,
	})
	s.logger.Info("order executed",
		zap.String("order_id", order.ID.String()),
		zap.String("status", next),
		zap.String("quantity", decision.Quantity.String()),
		zap.String("price", decision.Price.String()))
	return &updated, nil
}

// cancelInternal cancels an order on the engine's behalf (expiry, IOC
// cleanup) under the version guard. The reason labels the metric.
func (s *Service) cancelInternal(ctx context.Context, order *model.Order, reason string) (*model.Order, error) {
	if !Cancellable(order.Status) {
		return nil, errors.InvalidTransition("order %s is %s and cannot be cancelled", order.ID, order.Status)
	}

	expected := order.Version
	updated := *order
	updated.Status = model.StatusCancelled
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()

	ok, err := s.store.UpdateOrderGuarded(ctx, &updated, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.ClaimConflicts.Inc()
		return nil, errors.InvalidTransition("order %s was mutated by a racing worker", order.ID)
	}

	metrics.OrdersCancelled.WithLabelValues(reason).Inc()
	s.events.Publish(ctx, Event{
		Type:      EventOrderCancelled,
		OrderID:   updated.ID.String(),
		UserID:    updated.UserID.String(),
		Symbol:    updated.Symbol,
		Status:    updated.Status,
		Timestamp: updated.UpdatedAt,
	})
	s.logger.Info("order cancelled by engine",
		zap.String("order_id", updated.ID.String()),
		zap.String("reason", reason))
	return &updated, nil
}

func (s *Service) ownedOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Not-owned orders look identical to missing ones to the caller.
	if order.UserID != userID {
		return nil, errors.NotFound("order %s not found", orderID)
	}
	return order, nil
}

func orderFromRequest(userID uuid.UUID, req *model.OrderRequest) (*model.Order, error) {
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return nil, errors.Validation("malformed quantity %q", req.Quantity)
	}
	price := decimal.Zero
	if req.Price != "" {
		if price, err = decimal.NewFromString(req.Price); err != nil {
			return nil, errors.Validation("malformed price %q", req.Price)
		}
	}
	stopPrice := decimal.Zero
	if req.StopPrice != "" {
		if stopPrice, err = decimal.NewFromString(req.StopPrice); err != nil {
			return nil, errors.Validation("malformed stop price %q", req.StopPrice)
		}
	}
	portfolioID := uuid.Nil
	if req.PortfolioID != "" {
		if portfolioID, err = uuid.Parse(req.PortfolioID); err != nil {
			return nil, errors.Validation("malformed portfolio id %q", req.PortfolioID)
		}
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = model.TIFDay
	}
	paper := true
	if req.PaperTrade != nil {
		paper = *req.PaperTrade
	}

	now := time.Now().UTC()
	return &model.Order{
		ID:               uuid.New(),
		UserID:           userID,
		PortfolioID:      portfolioID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		Kind:             req.Kind,
		Quantity:         quantity,
		Price:            price,
		StopPrice:        stopPrice,
		TimeInForce:      tif,
		PaperTrade:       paper,
		Status:           model.StatusPending,
		ExecutedQuantity: decimal.Zero,
		ExecutedPrice:    decimal.Zero,
		Fees:             decimal.Zero,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
