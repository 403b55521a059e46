package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"product_inventory/internal/logging"
	"product_inventory/internal/reqid"
	rediskey "product_inventory/pkg/redis"
)

// IdempotencyHeader carries the client's retry key for stock adjustments.
const IdempotencyHeader = "Idempotency-Key"

// StockAfterKey is the gin context key handlers set after a committed adjustment.
const StockAfterKey = "stock_after"

// Idempotency makes stock adjustments carrying an Idempotency-Key apply at
// most once per key: the first request claims the key, replays get 409, and a
// failed adjustment releases the key so the client may retry.
func Idempotency(rdb rd.Cmdable, operation string, ttl time.Duration, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := c.GetHeader(IdempotencyHeader)
		if idemKey == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		l := logging.FromContext(ctx, log)
		if len(idemKey) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "Idempotency-Key must be at most 128 characters"})
			return
		}

		productID, _ := strconv.Atoi(c.Param("id"))
		key := rediskey.IdempotencyKey(productID, operation, idemKey)
		requestID := reqid.FromCtx(ctx)

		claimed, err := rediskey.ClaimIdempotency(ctx, rdb, key, requestID, ttl)
		if err != nil {
			// Redis 不可用时放行，库存事务本身仍然正确。
			l.Warn().Err(err).Msg("idempotency claim failed, proceeding without guard")
			c.Next()
			return
		}
		if !claimed {
			state, found, err := rediskey.GetIdempotencyState(ctx, rdb, key)
			data := gin.H{}
			if err == nil && found {
				data["request_id"] = state.RequestID
				data["status"] = state.Status
				if state.Stock != "" {
					data["stock_available"] = state.Stock
				}
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"code": 409,
				"msg":  "Duplicate request: this Idempotency-Key was already used",
				"data": data,
			})
			return
		}

		// 提交成功前任何退出（失败响应或 panic）都释放占用，客户端可用同一幂等键重试。
		applied := false
		defer func() {
			if applied {
				return
			}
			bg, cancel := detached(ctx)
			defer cancel()
			if err := rediskey.ReleaseIfMatch(bg, rdb, key, requestID); err != nil {
				l.Warn().Err(err).Msg("idempotency release failed")
			}
		}()

		c.Next()

		stock, ok := c.Get(StockAfterKey)
		if !ok || c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		// 库存已提交：即使落状态失败也不能释放，否则重试会重复扣减。
		applied = true
		bg, cancel := detached(ctx)
		defer cancel()
		if err := rediskey.MarkApplied(bg, rdb, key, requestID, stock.(int), ttl); err != nil {
			l.Warn().Err(err).Msg("idempotency mark applied failed")
		}
	}
}

// detached 使用独立 context：请求超时或取消后仍需落幂等状态。
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
}

