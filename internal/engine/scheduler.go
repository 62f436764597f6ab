package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finscope/paper-engine/internal/engine/model"
	"github.com/finscope/paper-engine/internal/marketdata"
	"github.com/finscope/paper-engine/pkg/errors"
	"github.com/finscope/paper-engine/pkg/metrics"
)

// SchedulerOptions tune the pending-order scheduler.
type SchedulerOptions struct {
	// Interval between ticks.
	Interval time.Duration
	// BatchSize bounds how many entries one tick claims.
	BatchSize int
	// ClaimTTL is how long a claim may sit before it is handed back to
	// the pending queue, covering crashed workers.
	ClaimTTL time.Duration
	// SessionLength is the lifetime of day orders before expiry.
	SessionLength time.Duration
}

// Scheduler drains the pending queue on a fixed tick and runs each
// claimed order through the execution simulator. Multiple scheduler
// instances may poll the same store: the atomic claim step guarantees no
// order is evaluated twice, and every other race resolves through the
// order version guard.
type Scheduler struct {
	opts    SchedulerOptions
	service *Service
	store   *OrderStore
	oracle  marketdata.Oracle
	sim     *Simulator
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(opts SchedulerOptions, service *Service, store *OrderStore, oracle marketdata.Oracle, sim *Simulator, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		opts:    opts,
		service: service,
		store:   store,
		oracle:  oracle,
		sim:     sim,
		logger:  logger,
	}
}

// Start launches the tick loop. Stop or cancelling ctx ends it.
func (sch *Scheduler) Start(ctx context.Context) {
	ctx, sch.cancel = context.WithCancel(ctx)
	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		ticker := time.NewTicker(sch.opts.Interval)
		defer ticker.Stop()
		sch.logger.Info("scheduler started",
			zap.Duration("interval", sch.opts.Interval),
			zap.Int("batch_size", sch.opts.BatchSize))
		for {
			select {
			case <-ctx.Done():
				sch.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				sch.Tick(ctx)
			}
		}
	}()
}

// Stop ends the tick loop and waits for the in-flight tick to finish.
func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
	}
	sch.wg.Wait()
}

// Tick claims one batch of the oldest pending entries and evaluates
// them. Exported so tests and operational tooling can drive the
// scheduler without the timer.
func (sch *Scheduler) Tick(ctx context.Context) {
	metrics.SchedulerTicks.Inc()
	now := time.Now().UTC()

	reclaimed, err := sch.store.ReclaimStale(ctx, sch.opts.ClaimTTL, now)
	if err != nil {
		sch.logger.Error("stale claim recovery failed", zap.Error(err))
	} else if len(reclaimed) > 0 {
		sch.logger.Warn("requeued stale claims", zap.Int("count", len(reclaimed)))
	}

	ids, err := sch.store.ClaimBatch(ctx, sch.opts.BatchSize, now)
	if err != nil {
		// The ledger is unreachable; nothing was claimed, the next tick
		// retries.
		sch.logger.Error("failed to claim pending batch", zap.Error(err))
		return
	}

	for _, id := range ids {
		sch.processOrder(ctx, id, now)
	}

	if stats, err := sch.store.GetStats(ctx, now); err == nil {
		metrics.QueuePending.Set(float64(stats.Pending))
		metrics.QueueProcessing.Set(float64(stats.Processing))
	}
}

// processOrder evaluates a single claimed order. Per-order failures are
// isolated: they never abort the rest of the batch. On a transient store
// failure the claim is deliberately left in place so the claim TTL
// returns the order to the queue.
func (sch *Scheduler) processOrder(ctx context.Context, id uuid.UUID, now time.Time) {
	started := time.Now()
	defer func() {
		metrics.EvaluationLatency.Observe(time.Since(started).Seconds())
	}()

	order, err := sch.store.GetOrder(ctx, id)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			sch.logger.Warn("claimed order no longer exists", zap.String("order_id", id.String()))
			sch.releaseClaim(ctx, id, false, now)
			return
		}
		sch.logger.Error("failed to load claimed order", zap.String("order_id", id.String()), zap.Error(err))
		return
	}

	// Concurrently cancelled (or otherwise terminal) orders are dropped
	// with no further action.
	if !Cancellable(order.Status) {
		sch.releaseClaim(ctx, id, false, now)
		return
	}

	if sch.expired(order, now) {
		if _, err := sch.service.cancelInternal(ctx, order, "expired"); err != nil {
			sch.logger.Warn("failed to expire order", zap.String("order_id", id.String()), zap.Error(err))
		}
		sch.releaseClaim(ctx, id, false, now)
		return
	}

	price, err := sch.oracle.GetPrice(ctx, order.Symbol)
	if err != nil {
		sch.logger.Warn("no market price, retrying later",
			zap.String("order_id", id.String()),
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		sch.requeue(ctx, id, now)
		return
	}

	decision := sch.sim.Evaluate(order, price)
	if decision.Kind == NoFill {
		if immediateOnly(order.TimeInForce) {
			if _, err := sch.service.cancelInternal(ctx, order, order.TimeInForce); err != nil {
				sch.logger.Warn("failed to cancel immediate-only order",
					zap.String("order_id", id.String()), zap.Error(err))
			}
			sch.releaseClaim(ctx, id, false, now)
			return
		}
		sch.requeue(ctx, id, now)
		return
	}

	updated, err := sch.service.ApplyFill(ctx, order, decision)
	if err != nil {
		switch errors.KindOf(err) {
		case errors.KindInvalidTransition:
			// A racing worker or a cancel won; drop the claim and move on.
			sch.logger.Info("fill lost race, skipping",
				zap.String("order_id", id.String()), zap.Error(err))
			sch.releaseClaim(ctx, id, false, now)
		case errors.KindTransientStore:
			sch.logger.Error("transient store failure, claim left for recovery",
				zap.String("order_id", id.String()), zap.Error(err))
		default:
			sch.logger.Error("failed to apply fill",
				zap.String("order_id", id.String()), zap.Error(err))
			sch.releaseClaim(ctx, id, false, now)
		}
		return
	}

	if updated.Status == model.StatusFilled {
		sch.releaseClaim(ctx, id, true, now)
		return
	}

	// Partial fill: the remainder of an immediate-only order is
	// cancelled, anything else goes back to the queue for later ticks.
	if immediateOnly(updated.TimeInForce) {
		if _, err := sch.service.cancelInternal(ctx, updated, updated.TimeInForce); err != nil {
			sch.logger.Warn("failed to cancel immediate-only remainder",
				zap.String("order_id", id.String()), zap.Error(err))
		}
		sch.releaseClaim(ctx, id, false, now)
		return
	}
	sch.requeue(ctx, id, now)
}

func (sch *Scheduler) expired(order *model.Order, now time.Time) bool {
	return order.TimeInForce == model.TIFDay && now.Sub(order.CreatedAt) > sch.opts.SessionLength
}

func immediateOnly(tif string) bool {
	return tif == model.TIFIOC || tif == model.TIFFOK
}

func (sch *Scheduler) releaseClaim(ctx context.Context, id uuid.UUID, filled bool, now time.Time) {
	if err := sch.store.ReleaseClaim(ctx, id, filled, now); err != nil {
		sch.logger.Error("failed to release claim", zap.String("order_id", id.String()), zap.Error(err))
	}
}

func (sch *Scheduler) requeue(ctx context.Context, id uuid.UUID, now time.Time) {
	if err := sch.store.Requeue(ctx, id, now); err != nil {
		sch.logger.Error("failed to requeue order", zap.String("order_id", id.String()), zap.Error(err))
	}
}
