package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// IdemPending 表示请求已占用幂等键，库存调整尚未结束。
	IdemPending = "pending"
	// IdemApplied 表示库存调整已提交。
	IdemApplied = "applied"
)

// IdempotencyState 对应 Redis 内的幂等记录。
type IdempotencyState struct {
	RequestID string
	Status    string
	Stock     string
}

// luaClaimIdempotency：key 不存在时写入 pending 记录并设置 TTL。
// KEYS[1]=幂等 key，ARGV[1]=request_id，ARGV[2]=TTL 秒；返回 1 表示占用成功。
const luaClaimIdempotency = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'request_id', ARGV[1], 'status', 'pending')
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
return 1
`

// luaReleaseIfMatch 仅当记录仍属于 request_id 时才删除，避免误删新请求的占用。
const luaReleaseIfMatch = `
if redis.call('HGET', KEYS[1], 'request_id') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// ClaimIdempotency 原子占用幂等键。claimed=false 表示键已被其他请求占用。
func ClaimIdempotency(ctx context.Context, rdb rd.Scripter, key, requestID string, ttl time.Duration) (bool, error) {
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}
	n, err := rdb.Eval(ctx, luaClaimIdempotency, []string{key}, requestID, ttlSec).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkApplied 记录库存调整已提交及提交后的库存，并刷新 TTL。
func MarkApplied(ctx context.Context, rdb rd.Cmdable, key, requestID string, stock int, ttl time.Duration) error {
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"request_id", requestID,
		"status", IdemApplied,
		"stock", stock,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ReleaseIfMatch 调整失败时释放占用，客户端可用同一幂等键重试。
func ReleaseIfMatch(ctx context.Context, rdb rd.Scripter, key, requestID string) error {
	_, err := rdb.Eval(ctx, luaReleaseIfMatch, []string{key}, requestID).Int()
	return err
}

// GetIdempotencyState 查询幂等记录。found=false 表示 key 不存在。
func GetIdempotencyState(ctx context.Context, rdb rd.Cmdable, key string) (IdempotencyState, bool, error) {
	m, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return IdempotencyState{}, false, err
	}
	if len(m) == 0 {
		return IdempotencyState{}, false, nil
	}

	out := IdempotencyState{
		RequestID: m["request_id"],
		Status:    m["status"],
		Stock:     m["stock"],
	}
	if out.Status == "" {
		out.Status = IdemPending
	}
	return out, true, nil
}
