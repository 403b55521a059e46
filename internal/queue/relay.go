package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"product_inventory/internal/metrics"
)

// EventSink is where the relay forwards stream entries; *Producer in production.
type EventSink interface {
	Publish(ctx context.Context, ev StockEvent) error
}

// Relay 将 Redis Stream 事件异步转发到 Kafka。
// 语义：发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb  rd.Cmdable
	sink EventSink
	log  zerolog.Logger

	metrics *metrics.Metrics

	stream   string
	group    string
	consumer string

	batch        int64
	block        time.Duration
	retryDelay   time.Duration
	publishTries uint
}

func NewRelay(rdb rd.Cmdable, sink EventSink, stream, group, consumer string, log zerolog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		rdb:          rdb,
		sink:         sink,
		log:          log.With().Str("component", "stock_event_relay").Str("stream", stream).Logger(),
		metrics:      m,
		stream:       stream,
		group:        group,
		consumer:     consumer,
		batch:        16,
		block:        2 * time.Second,
		retryDelay:   300 * time.Millisecond,
		publishTries: 5,
	}
}

// Run blocks until ctx is cancelled. Entries are forwarded in stream order;
// the first one that cannot be published stops the batch and is read again
// from the pending list on the next pass.
func (r *Relay) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := r.ensureGroup(ctx); err != nil {
			r.log.Error().Err(err).Msg("relay ensure group")
			sleep(ctx, r.retryDelay)
			continue
		}
		break
	}

	for ctx.Err() == nil {
		msgs, err := r.next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("relay read")
				sleep(ctx, r.retryDelay)
			}
			continue
		}
		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				r.log.Error().Err(err).Str("stream_id", xm.ID).Msg("relay process message")
				sleep(ctx, r.retryDelay)
				break
			}
		}
	}
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !rd.HasErrorPrefix(err, "BUSYGROUP") {
		return err
	}
	return nil
}

// next returns this consumer's unacked entries first, and only when there are
// none blocks for new ones.
func (r *Relay) next(ctx context.Context) ([]rd.XMessage, error) {
	cursors := []struct {
		id    string
		block time.Duration
	}{
		{"0", -1},
		{">", r.block},
	}
	for _, cur := range cursors {
		res, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, cur.id},
			Count:    r.batch,
			Block:    cur.block,
		}).Result()
		if errors.Is(err, rd.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(res) > 0 && len(res[0].Messages) > 0 {
			return res[0].Messages, nil
		}
	}
	return nil, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	ev, err := parseStockEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		r.log.Warn().Err(err).Str("stream_id", xm.ID).Msg("dropping malformed stock event")
		if ackErr := r.settle(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("drop malformed entry: %w", ackErr)
		}
		return nil
	}

	if err := r.publish(ctx, ev); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.EventID, err)
	}
	return r.settle(ctx, xm.ID)
}

// publish retries the sink with exponential backoff before giving the entry
// back to the stream.
func (r *Relay) publish(ctx context.Context, ev StockEvent) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := r.sink.Publish(pubCtx, ev)
		r.metrics.ObserveEvent("kafka", err)
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.publishTries),
	)
	return err
}

// settle acks the entry and trims it from the stream in one MULTI.
func (r *Relay) settle(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p rd.Pipeliner) error {
		p.XAck(ctx, r.stream, r.group, id)
		p.XDel(ctx, r.stream, id)
		return nil
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
