package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"product_inventory/internal/logging"
	"product_inventory/internal/reqid"
	rediskey "product_inventory/pkg/redis"

	"github.com/rs/zerolog"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳，ARGV[2]=窗口开始时间戳，ARGV[3]=窗口秒数，
// ARGV[4]=本次请求成员，ARGV[5]=上限
// 返回：当前窗口内的请求数（如果 >= limit 则返回 -1 表示限流）
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

-- 删除窗口外的旧记录
redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

-- 统计当前窗口内的请求数
local count = redis.call('ZCARD', key)

-- 添加当前请求（如果还没超限）
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// ProductRateLimit 按商品做 Redis 分布式限流，保护单行热点的库存事务。
func ProductRateLimit(rdb rd.Scripter, limit int, window time.Duration, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if id, err := strconv.Atoi(c.Param("id")); err == nil && id > 0 {
			key = rediskey.ProductRateLimitKey(id)
		} else {
			// 解析失败时降级：按 IP 限流
			key = rediskey.IPRateLimitKey(c.ClientIP())
		}

		now := time.Now()
		windowMs := window.Milliseconds()
		windowSec := int64(window.Seconds())
		if windowSec < 1 {
			windowSec = 1
		}
		member := fmt.Sprintf("%d-%s", now.UnixNano(), reqid.FromCtx(c.Request.Context()))

		// Lua 原子操作：删除旧记录 + 统计 + 添加 + 设置过期
		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.UnixMilli(), now.UnixMilli()-windowMs, windowSec, member, limit).Int()
		if err != nil {
			// Redis 出错时放行（降级策略）
			logging.FromContext(c.Request.Context(), log).Warn().Err(err).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "Too many stock requests for this product, please retry later",
			})
			return
		}
		c.Next()
	}
}
