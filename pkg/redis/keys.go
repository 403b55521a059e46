package redis

import "fmt"

// ProductRateLimitKey 库存接口按商品限流的 key。
func ProductRateLimitKey(productID int) string {
	return fmt.Sprintf("inventory:rate_limit:product:%d", productID)
}

// IPRateLimitKey 解析不到商品 ID 时按客户端 IP 降级限流。
func IPRateLimitKey(ip string) string {
	return fmt.Sprintf("inventory:rate_limit:ip:%s", ip)
}

// IdempotencyKey 将客户端幂等键映射到首个占用它的 request_id。
func IdempotencyKey(productID int, operation, idemKey string) string {
	return fmt.Sprintf("inventory:idem:%d:%s:%s", productID, operation, idemKey)
}
