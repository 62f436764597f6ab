package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/finscope/paper-engine/internal/engine/model"
	"github.com/finscope/paper-engine/internal/ledger"
	"github.com/finscope/paper-engine/pkg/errors"
)

// OrderStore persists orders and executions and maintains the engine's
// index structures: the per-user order index, the global pending queue,
// and the queue statistics hash. All mutations go through single-key
// atomic ledger primitives; cross-worker races are resolved by the
// order version guard.
type OrderStore struct {
	store ledger.Store
}

// NewOrderStore creates an OrderStore on top of a ledger store.
func NewOrderStore(store ledger.Store) *OrderStore {
	return &OrderStore{store: store}
}

// CreateOrder persists a new order and indexes it: order hash, user
// index entry, pending queue entry, pending counter.
func (s *OrderStore) CreateOrder(ctx context.Context, order *model.Order) error {
	if err := s.store.HashSet(ctx, orderKey(order.ID.String()), order.Fields()); err != nil {
		return errors.TransientStore(err, "failed to persist order")
	}
	createdScore := float64(order.CreatedAt.UnixNano())
	if err := s.store.SortedSetAdd(ctx, userOrdersKey(order.UserID.String()), order.ID.String(), createdScore); err != nil {
		return errors.TransientStore(err, "failed to index order for user")
	}
	if err := s.Enqueue(ctx, order.ID, order.CreatedAt); err != nil {
		return err
	}
	if _, err := s.store.HashIncrBy(ctx, statsKey, "pending", 1); err != nil {
		return errors.TransientStore(err, "failed to update pending counter")
	}
	return nil
}

// GetOrder loads an order by id. Returns a NotFoundError when absent.
func (s *OrderStore) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	fields, err := s.store.HashGetAll(ctx, orderKey(id.String()))
	if err != nil {
		return nil, errors.TransientStore(err, "failed to load order")
	}
	if len(fields) == 0 {
		return nil, errors.NotFound("order %s not found", id)
	}
	order, err := model.OrderFromFields(fields)
	if err != nil {
		return nil, fmt.Errorf("corrupt order record %s: %w", id, err)
	}
	return order, nil
}

// UpdateOrderGuarded writes an order only if its stored version still
// equals expectedVersion. The order's Version must already be advanced
// by the caller. Returns false when a racing worker won.
func (s *OrderStore) UpdateOrderGuarded(ctx context.Context, order *model.Order, expectedVersion int64) (bool, error) {
	ok, err := s.store.HashSetIfFieldEquals(ctx, orderKey(order.ID.String()),
		"version", fmt.Sprintf("%d", expectedVersion), order.Fields())
	if err != nil {
		return false, errors.TransientStore(err, "failed to update order")
	}
	return ok, nil
}

// CreateExecution persists an execution record and links it to its order.
func (s *OrderStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	if err := s.store.HashSet(ctx, executionKey(exec.ID.String()), exec.Fields()); err != nil {
		return errors.TransientStore(err, "failed to persist execution")
	}
	score := float64(exec.CreatedAt.UnixNano())
	if err := s.store.SortedSetAdd(ctx, orderExecsKey(exec.OrderID.String()), exec.ID.String(), score); err != nil {
		return errors.TransientStore(err, "failed to index execution")
	}
	return nil
}

// ListExecutions returns an order's executions, oldest first.
func (s *OrderStore) ListExecutions(ctx context.Context, orderID uuid.UUID) ([]*model.Execution, error) {
	ids, err := s.store.SortedSetRange(ctx, orderExecsKey(orderID.String()), 0, -1, false)
	if err != nil {
		return nil, errors.TransientStore(err, "failed to list executions")
	}
	execs := make([]*model.Execution, 0, len(ids))
	for _, id := range ids {
		fields, err := s.store.HashGetAll(ctx, executionKey(id))
		if err != nil {
			return nil, errors.TransientStore(err, "failed to load execution")
		}
		exec, err := model.ExecutionFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("corrupt execution record %s: %w", id, err)
		}
		execs = append(execs, exec)
	}
	return execs, nil
}

// ListUserOrders returns a user's orders, newest first, capped at limit
// when limit is positive.
func (s *OrderStore) ListUserOrders(ctx context.Context, userID uuid.UUID, limit int64) ([]*model.Order, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	ids, err := s.store.SortedSetRange(ctx, userOrdersKey(userID.String()), 0, stop, true)
	if err != nil {
		return nil, errors.TransientStore(err, "failed to list user orders")
	}
	orders := make([]*model.Order, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt user order index entry %q: %w", raw, err)
		}
		order, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Enqueue inserts an order into the pending queue keyed by timestamp.
func (s *OrderStore) Enqueue(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	if err := s.store.SortedSetAdd(ctx, pendingQueueKey, orderID.String(), float64(at.UnixNano())); err != nil {
		return errors.TransientStore(err, "failed to enqueue order")
	}
	return nil
}

// ClaimBatch atomically moves up to n of the oldest pending entries into
// the claimed set, stamped with the claim time. No two concurrent
// workers can claim the same entry.
func (s *OrderStore) ClaimBatch(ctx context.Context, n int, claimedAt time.Time) ([]uuid.UUID, error) {
	members, err := s.store.SortedSetMoveLowest(ctx, pendingQueueKey, claimedQueueKey,
		int64(n), float64(claimedAt.UnixNano()))
	if err != nil {
		return nil, errors.TransientStore(err, "failed to claim pending batch")
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt pending queue entry %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	if count := int64(len(ids)); count > 0 {
		if _, err := s.store.HashIncrBy(ctx, statsKey, "pending", -count); err != nil {
			return ids, errors.TransientStore(err, "failed to update pending counter")
		}
		if _, err := s.store.HashIncrBy(ctx, statsKey, "processing", count); err != nil {
			return ids, errors.TransientStore(err, "failed to update processing counter")
		}
	}
	return ids, nil
}

// ReclaimStale moves claims older than ttl back into the pending queue
// so entries lost to a crashed worker are retried.
func (s *OrderStore) ReclaimStale(ctx context.Context, ttl time.Duration, now time.Time) ([]string, error) {
	cutoff := float64(now.Add(-ttl).UnixNano())
	members, err := s.store.SortedSetMoveByScore(ctx, claimedQueueKey, pendingQueueKey,
		cutoff, float64(now.UnixNano()))
	if err != nil {
		return nil, errors.TransientStore(err, "failed to reclaim stale claims")
	}
	if count := int64(len(members)); count > 0 {
		if _, err := s.store.HashIncrBy(ctx, statsKey, "processing", -count); err != nil {
			return members, errors.TransientStore(err, "failed to update processing counter")
		}
		if _, err := s.store.HashIncrBy(ctx, statsKey, "pending", count); err != nil {
			return members, errors.TransientStore(err, "failed to update pending counter")
		}
	}
	return members, nil
}

// Requeue releases a claim and returns the order to the pending queue
// with a fresh timestamp, so a later tick retries it. A claim already
// released elsewhere (user cancel racing ahead) is left alone.
func (s *OrderStore) Requeue(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	removed, err := s.store.SortedSetRemove(ctx, claimedQueueKey, orderID.String())
	if err != nil {
		return errors.TransientStore(err, "failed to release claim")
	}
	if removed == 0 {
		return nil
	}
	if err := s.Enqueue(ctx, orderID, at); err != nil {
		return err
	}
	if _, err := s.store.HashIncrBy(ctx, statsKey, "processing", -1); err != nil {
		return errors.TransientStore(err, "failed to update processing counter")
	}
	if _, err := s.store.HashIncrBy(ctx, statsKey, "pending", 1); err != nil {
		return errors.TransientStore(err, "failed to update pending counter")
	}
	return nil
}

// ReleaseClaim drops a claimed entry whose order reached a terminal
// status. Completed is incremented only when the order filled. The
// processing counter is adjusted only when this caller still held the
// claim.
func (s *OrderStore) ReleaseClaim(ctx context.Context, orderID uuid.UUID, filled bool, now time.Time) error {
	removed, err := s.store.SortedSetRemove(ctx, claimedQueueKey, orderID.String())
	if err != nil {
		return errors.TransientStore(err, "failed to release claim")
	}
	if removed > 0 {
		if _, err := s.store.HashIncrBy(ctx, statsKey, "processing", -removed); err != nil {
			return errors.TransientStore(err, "failed to update processing counter")
		}
	}
	if filled {
		if _, err := s.store.HashIncrBy(ctx, statsKey, completedField(now), 1); err != nil {
			return errors.TransientStore(err, "failed to update completed counter")
		}
	}
	return nil
}

// RemoveFromQueues drops an order from whichever queue set holds it,
// adjusting the matching counter. Used on user cancellation.
func (s *OrderStore) RemoveFromQueues(ctx context.Context, orderID uuid.UUID) error {
	removed, err := s.store.SortedSetRemove(ctx, pendingQueueKey, orderID.String())
	if err != nil {
		return errors.TransientStore(err, "failed to remove pending entry")
	}
	if removed > 0 {
		if _, err := s.store.HashIncrBy(ctx, statsKey, "pending", -removed); err != nil {
			return errors.TransientStore(err, "failed to update pending counter")
		}
		return nil
	}
	removed, err = s.store.SortedSetRemove(ctx, claimedQueueKey, orderID.String())
	if err != nil {
		return errors.TransientStore(err, "failed to remove claimed entry")
	}
	if removed > 0 {
		if _, err := s.store.HashIncrBy(ctx, statsKey, "processing", -removed); err != nil {
			return errors.TransientStore(err, "failed to update processing counter")
		}
	}
	return nil
}

// GetStats returns the queue statistics counters. The completed counter
// rolls over by calendar day (UTC): reads always target today's field.
func (s *OrderStore) GetStats(ctx context.Context, now time.Time) (*model.QueueStats, error) {
	fields, err := s.store.HashGetAll(ctx, statsKey)
	if err != nil {
		return nil, errors.TransientStore(err, "failed to read queue stats")
	}
	stats := &model.QueueStats{
		Pending:    parseCounter(fields["pending"]),
		Processing: parseCounter(fields["processing"]),
		Completed:  parseCounter(fields[completedField(now)]),
	}
	return stats, nil
}

func completedField(now time.Time) string {
	return "completed:" + now.UTC().Format("2006-01-02")
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	if n < 0 {
		return 0
	}
	return n
}
