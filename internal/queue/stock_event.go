package queue

import (
	"fmt"
	"strconv"
	"time"
)

// StockEvent 是写入 Redis Stream / Kafka 的库存变更事件。
type StockEvent struct {
	EventID    string    `json:"event_id"`
	RequestID  string    `json:"request_id,omitempty"`
	ProductID  int       `json:"product_id"`
	Delta      int       `json:"delta"`
	StockAfter int       `json:"stock_after"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate 做最小字段校验，防止 Relay 转发脏消息。
func (e StockEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.ProductID <= 0 {
		return fmt.Errorf("product_id is required")
	}
	if e.Delta == 0 {
		return fmt.Errorf("delta must not be 0")
	}
	if e.StockAfter < 0 {
		return fmt.Errorf("stock_after must be >= 0")
	}
	if e.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// streamValues flattens the event for XADD.
func (e StockEvent) streamValues() map[string]any {
	return map[string]any{
		"event_id":    e.EventID,
		"request_id":  e.RequestID,
		"product_id":  e.ProductID,
		"delta":       e.Delta,
		"stock_after": e.StockAfter,
		"reason":      e.Reason,
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseStockEvent(values map[string]interface{}) (StockEvent, error) {
	f := streamFields{values: values}
	ev := StockEvent{
		EventID:    f.str("event_id"),
		ProductID:  f.integer("product_id"),
		Delta:      f.integer("delta"),
		StockAfter: f.integer("stock_after"),
		Reason:     f.str("reason"),
		OccurredAt: f.timestamp("occurred_at"),
		// request_id 可选
		RequestID: f.optional("request_id"),
	}
	if f.err != nil {
		return StockEvent{}, f.err
	}
	if err := ev.Validate(); err != nil {
		return StockEvent{}, err
	}
	return ev, nil
}

// streamFields reads typed values out of an XMessage. The first failure
// sticks and later reads become no-ops.
type streamFields struct {
	values map[string]interface{}
	err    error
}

func (f *streamFields) raw(key string, required bool) string {
	if f.err != nil {
		return ""
	}
	switch v := f.values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		if required {
			f.err = fmt.Errorf("missing field %s", key)
		}
		return ""
	default:
		f.err = fmt.Errorf("unsupported field type %s: %T", key, v)
		return ""
	}
}

func (f *streamFields) str(key string) string      { return f.raw(key, true) }
func (f *streamFields) optional(key string) string { return f.raw(key, false) }

func (f *streamFields) integer(key string) int {
	s := f.raw(key, true)
	if f.err != nil {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f.err = fmt.Errorf("invalid %s %q", key, s)
	}
	return n
}

func (f *streamFields) timestamp(key string) time.Time {
	s := f.raw(key, true)
	if f.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		f.err = fmt.Errorf("invalid %s %q", key, s)
	}
	return t
}
