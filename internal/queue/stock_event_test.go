package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product_inventory/internal/model"
)

func sampleEvent() StockEvent {
	return NewStockEvent("req-9", model.Product{
		ID:             123456,
		StockAvailable: 35,
		UpdatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC),
	}, -25, model.ReasonDecrement)
}

func TestNewStockEvent(t *testing.T) {
	ev := sampleEvent()
	require.NoError(t, ev.Validate())
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "req-9", ev.RequestID)
	assert.Equal(t, 123456, ev.ProductID)
	assert.Equal(t, -25, ev.Delta)
	assert.Equal(t, 35, ev.StockAfter)
}

func TestParseStockEventRoundTrip(t *testing.T) {
	ev := sampleEvent()

	// Redis returns every field value as a string.
	values := map[string]interface{}{}
	for k, v := range ev.streamValues() {
		switch x := v.(type) {
		case int:
			values[k] = strconv.Itoa(x)
		default:
			values[k] = x
		}
	}

	got, err := parseStockEvent(values)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, ev.ProductID, got.ProductID)
	assert.Equal(t, ev.Delta, got.Delta)
	assert.Equal(t, ev.StockAfter, got.StockAfter)
	assert.True(t, ev.OccurredAt.Equal(got.OccurredAt))
}

func TestParseStockEventRejectsBadFields(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"event_id":    "e1",
			"product_id":  "123456",
			"delta":       "3",
			"stock_after": "7",
			"reason":      "increment",
			"occurred_at": "2024-05-01T12:00:00Z",
		}
	}
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		want   string
	}{
		{"missing event id", func(m map[string]interface{}) { delete(m, "event_id") }, "missing field event_id"},
		{"bad product id", func(m map[string]interface{}) { m["product_id"] = "abc" }, "invalid product_id"},
		{"zero delta", func(m map[string]interface{}) { m["delta"] = "0" }, "delta must not be 0"},
		{"negative stock", func(m map[string]interface{}) { m["stock_after"] = "-1" }, "stock_after must be >= 0"},
		{"bad time", func(m map[string]interface{}) { m["occurred_at"] = "yesterday" }, "invalid occurred_at"},
		{"odd type", func(m map[string]interface{}) { m["reason"] = []int{1} }, "unsupported field type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			_, err := parseStockEvent(m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestKafkaMessageKeyedByProduct(t *testing.T) {
	ev := sampleEvent()
	msg, err := kafkaMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, "123456", string(msg.Key))

	var decoded StockEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.EventID, decoded.EventID)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, ev.EventID, string(msg.Headers[0].Value))
}

type flakySink struct {
	failures int
	calls    int
}

func (s *flakySink) Publish(context.Context, StockEvent) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestRelayPublishRetries(t *testing.T) {
	sink := &flakySink{failures: 2}
	r := NewRelay(nil, sink, "s", "g", "c", zerolog.Nop(), nil)

	require.NoError(t, r.publish(context.Background(), sampleEvent()))
	assert.Equal(t, 3, sink.calls)
}

func TestRelayPublishGivesUp(t *testing.T) {
	sink := &flakySink{failures: 100}
	r := NewRelay(nil, sink, "s", "g", "c", zerolog.Nop(), nil)
	r.publishTries = 2

	err := r.publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Equal(t, 2, sink.calls)
}
