package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/order"
)

// fetch returns the orders this cycle should try to claim: the targeted
// order when OrderID is set, otherwise the oldest uploaded orders.
func (o *Orchestrator) fetch(ctx context.Context) ([]*order.Order, error) {
	if o.cfg.OrderID != "" {
		return o.waitForOrder(ctx, o.cfg.OrderID)
	}
	return o.fetchQueue(ctx)
}

// fetchQueue prefers creation order and falls back to an unordered scan when
// the ordered query fails, e.g. because its index is missing.
func (o *Orchestrator) fetchQueue(ctx context.Context) ([]*order.Order, error) {
	orders, err := o.deps.Store.ListClaimable(ctx, o.cfg.BatchLimit)
	if err == nil {
		return orders, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	log.Warn().Err(err).Msg("ordered queue query failed; falling back to unordered")
	return o.deps.Store.ListClaimableUnordered(ctx, o.cfg.BatchLimit)
}

// waitForOrder re-reads id every OrderPoll until it exists or OrderWait has
// elapsed. The uploader may not have written the record yet when a worker
// is triggered for it. A missing order is not an error.
func (o *Orchestrator) waitForOrder(ctx context.Context, id string) ([]*order.Order, error) {
	deadline := time.Now().Add(o.cfg.OrderWait)
	for {
		ord, err := o.deps.Store.Get(ctx, id)
		if err == nil {
			return []*order.Order{ord}, nil
		}
		if !errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			log.Info().Str("order_id", id).Dur("waited", o.cfg.OrderWait).Msg("target order does not exist yet")
			return nil, nil
		}
		if err := sleep(ctx, minDuration(o.cfg.OrderPoll, time.Until(deadline))); err != nil {
			return nil, err
		}
	}
}
