package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"

	"product_inventory/internal/metrics"
	"product_inventory/internal/model"
	"product_inventory/internal/reqid"
)

// StreamPublisher appends committed stock changes to a Redis stream. The Relay
// forwards the stream to Kafka.
type StreamPublisher struct {
	rdb     rd.Cmdable
	stream  string
	maxLen  int64
	metrics *metrics.Metrics
}

func NewStreamPublisher(rdb rd.Cmdable, stream string, m *metrics.Metrics) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: 100000, metrics: m}
}

// PublishStockChange implements service.StockEventPublisher.
func (p *StreamPublisher) PublishStockChange(ctx context.Context, prod model.Product, delta int, reason string) error {
	ev := NewStockEvent(reqid.FromCtx(ctx), prod, delta, reason)
	err := p.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: ev.streamValues(),
	}).Err()
	p.metrics.ObserveEvent("redis", err)
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// NewStockEvent builds the event for a committed adjustment.
func NewStockEvent(requestID string, prod model.Product, delta int, reason string) StockEvent {
	return StockEvent{
		EventID:    uuid.NewString(),
		RequestID:  requestID,
		ProductID:  prod.ID,
		Delta:      delta,
		StockAfter: prod.StockAvailable,
		Reason:     reason,
		OccurredAt: prod.UpdatedAt,
	}
}
