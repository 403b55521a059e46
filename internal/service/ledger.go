package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"product_inventory/internal/logging"
	"product_inventory/internal/metrics"
	"product_inventory/internal/model"
)

// StockStore applies a signed delta inside one store transaction.
type StockStore interface {
	UpdateStock(ctx context.Context, id, delta int, reason string) (*model.Product, error)
}

// StockEventPublisher receives committed adjustments. Implementations must not
// block for long; the adjustment is already durable when they are called.
type StockEventPublisher interface {
	PublishStockChange(ctx context.Context, p model.Product, delta int, reason string) error
}

// StockLedger applies signed deltas to product stock. It is direction-agnostic:
// callers pass a negative delta to decrement.
type StockLedger struct {
	store     StockStore
	publisher StockEventPublisher
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func NewStockLedger(store StockStore, publisher StockEventPublisher, log zerolog.Logger, m *metrics.Metrics) *StockLedger {
	return &StockLedger{
		store:     store,
		publisher: publisher,
		log:       log.With().Str("component", "stock_ledger").Logger(),
		metrics:   m,
	}
}

// AdjustStock returns the updated product, a *model.NotFoundError, a
// *model.InsufficientStockError, or the store's own failure. On any error the
// stored product is unchanged.
func (l *StockLedger) AdjustStock(ctx context.Context, id, delta int, reason string) (*model.Product, error) {
	log := logging.FromContext(ctx, l.log)

	p, err := l.store.UpdateStock(ctx, id, delta, reason)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			l.metrics.ObserveAdjustment(reason, "not_found")
		case errors.Is(err, model.ErrInsufficientStock):
			l.metrics.ObserveAdjustment(reason, "insufficient")
			log.Info().Int("product_id", id).Int("delta", delta).Msg("stock adjustment rejected: insufficient stock")
		case errors.Is(err, model.ErrStockOverflow):
			l.metrics.ObserveAdjustment(reason, "overflow")
			log.Info().Int("product_id", id).Int("delta", delta).Msg("stock adjustment rejected: stock ceiling")
		default:
			l.metrics.ObserveAdjustment(reason, "error")
			log.Error().Err(err).Int("product_id", id).Int("delta", delta).Msg("stock adjustment failed")
		}
		return nil, err
	}
	l.metrics.ObserveAdjustment(reason, "ok")
	log.Info().Int("product_id", id).Int("delta", delta).Int("stock_available", p.StockAvailable).Msg("stock adjusted")

	if l.publisher != nil {
		// 事件发布失败不回滚已提交的库存，只记录日志。
		if err := l.publisher.PublishStockChange(ctx, *p, delta, reason); err != nil {
			log.Warn().Err(err).Int("product_id", id).Msg("publish stock event failed")
		}
	}
	return p, nil
}
