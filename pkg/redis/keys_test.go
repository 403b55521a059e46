package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "inventory:rate_limit:product:123456", ProductRateLimitKey(123456))
	assert.Equal(t, "inventory:rate_limit:ip:10.0.0.1", IPRateLimitKey("10.0.0.1"))
	assert.Equal(t, "inventory:idem:123456:decrement:abc", IdempotencyKey(123456, "decrement", "abc"))
}
