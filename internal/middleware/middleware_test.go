package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product_inventory/internal/reqid"
	rediskey "product_inventory/pkg/redis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// unreachableRedis fails every command fast, which exercises the fail-open paths.
func unreachableRedis(t *testing.T) *rd.Client {
	t.Helper()
	rdb := rd.NewClient(&rd.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(zerolog.Nop()))
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = reqid.FromCtx(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(reqid.Header))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(reqid.Header, "upstream-1")
	w = serve(r, req)
	assert.Equal(t, "upstream-1", seen)
	assert.Equal(t, "upstream-1", w.Header().Get(reqid.Header))
}

func TestRecoveryReturnsGenericError(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(zerolog.Nop()), Recovery(zerolog.Nop()))
	r.GET("/", func(*gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "An error occurred while processing your request")
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestTimeoutSetsDeadline(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(time.Second))
	var deadline time.Time
	var has bool
	r.GET("/", func(c *gin.Context) {
		deadline, has = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, has)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

func TestRateLimitFailsOpenWithoutRedis(t *testing.T) {
	r := gin.New()
	r.PUT("/stock/:id", ProductRateLimit(unreachableRedis(t), 1, time.Second, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPut, "/stock/123456", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestIdempotencyPassThrough(t *testing.T) {
	r := gin.New()
	calls := 0
	r.PUT("/stock/:id", Idempotency(unreachableRedis(t), "increment", time.Hour, zerolog.Nop()), func(c *gin.Context) {
		calls++
		c.Set(StockAfterKey, 5)
		c.Status(http.StatusOK)
	})

	// No key: guard is skipped entirely.
	w := serve(r, httptest.NewRequest(http.MethodPut, "/stock/123456", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Key present but redis down: the adjustment still goes through.
	req := httptest.NewRequest(http.MethodPut, "/stock/123456", nil)
	req.Header.Set(IdempotencyHeader, "k1")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	r := gin.New()
	r.PUT("/stock/:id", Idempotency(unreachableRedis(t), "increment", time.Hour, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPut, "/stock/123456", nil)
	key := make([]byte, 129)
	for i := range key {
		key[i] = 'a'
	}
	req.Header.Set(IdempotencyHeader, string(key))
	w := serve(r, req.WithContext(context.Background()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func stockRequest(id, idemKey string) *http.Request {
	req := httptest.NewRequest(http.MethodPut, "/stock/"+id, nil)
	if idemKey != "" {
		req.Header.Set(IdempotencyHeader, idemKey)
	}
	return req
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	_, rdb := newRedis(t)
	r := gin.New()
	r.PUT("/stock/:id", ProductRateLimit(rdb, 2, time.Minute, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, stockRequest("123456", "")).Code)
	assert.Equal(t, http.StatusOK, serve(r, stockRequest("123456", "")).Code)
	w := serve(r, stockRequest("123456", ""))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Too many stock requests")

	// The window is per product.
	assert.Equal(t, http.StatusOK, serve(r, stockRequest("654321", "")).Code)
}

func TestIdempotencyReplayIsRejected(t *testing.T) {
	mr, rdb := newRedis(t)
	r := gin.New()
	r.Use(RequestID(zerolog.Nop()))
	calls := 0
	r.PUT("/stock/:id", Idempotency(rdb, "decrement", time.Hour, zerolog.Nop()), func(c *gin.Context) {
		calls++
		c.Set(StockAfterKey, 35)
		c.Status(http.StatusOK)
	})

	first := serve(r, stockRequest("123456", "order-1"))
	require.Equal(t, http.StatusOK, first.Code)

	key := rediskey.IdempotencyKey(123456, "decrement", "order-1")
	assert.Equal(t, rediskey.IdemApplied, mr.HGet(key, "status"))
	assert.Equal(t, "35", mr.HGet(key, "stock"))
	assert.Equal(t, first.Header().Get(reqid.Header), mr.HGet(key, "request_id"))
	assert.Greater(t, mr.TTL(key), 59*time.Minute)

	replay := serve(r, stockRequest("123456", "order-1"))
	assert.Equal(t, http.StatusConflict, replay.Code)
	assert.Contains(t, replay.Body.String(), `"status":"applied"`)
	assert.Contains(t, replay.Body.String(), `"stock_available":"35"`)
	assert.Equal(t, 1, calls)

	// Same client key on another product is a different request.
	assert.Equal(t, http.StatusOK, serve(r, stockRequest("654321", "order-1")).Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyReleasedAfterFailure(t *testing.T) {
	mr, rdb := newRedis(t)
	r := gin.New()
	r.Use(RequestID(zerolog.Nop()))
	fail := true
	r.PUT("/stock/:id", Idempotency(rdb, "decrement", time.Hour, zerolog.Nop()), func(c *gin.Context) {
		if fail {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "Insufficient stock available"})
			return
		}
		c.Set(StockAfterKey, 0)
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusBadRequest, serve(r, stockRequest("123456", "retry-me")).Code)
	assert.False(t, mr.Exists(rediskey.IdempotencyKey(123456, "decrement", "retry-me")))

	fail = false
	assert.Equal(t, http.StatusOK, serve(r, stockRequest("123456", "retry-me")).Code)
	assert.Equal(t, http.StatusConflict, serve(r, stockRequest("123456", "retry-me")).Code)
}

func TestIdempotencyReleasedAfterPanic(t *testing.T) {
	mr, rdb := newRedis(t)
	r := gin.New()
	r.Use(RequestID(zerolog.Nop()), Recovery(zerolog.Nop()))
	panicking := true
	r.PUT("/stock/:id", Idempotency(rdb, "increment", time.Hour, zerolog.Nop()), func(c *gin.Context) {
		if panicking {
			panic("store exploded")
		}
		c.Set(StockAfterKey, 7)
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusInternalServerError, serve(r, stockRequest("123456", "k-panic")).Code)
	assert.False(t, mr.Exists(rediskey.IdempotencyKey(123456, "increment", "k-panic")))

	panicking = false
	assert.Equal(t, http.StatusOK, serve(r, stockRequest("123456", "k-panic")).Code)
}

func TestReleaseIfMatchKeepsOtherOwner(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	key := rediskey.IdempotencyKey(123456, "increment", "shared")

	claimed, err := rediskey.ClaimIdempotency(ctx, rdb, key, "req-a", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = rediskey.ClaimIdempotency(ctx, rdb, key, "req-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, rediskey.ReleaseIfMatch(ctx, rdb, key, "req-b"))
	assert.Equal(t, "req-a", mr.HGet(key, "request_id"))

	state, found, err := rediskey.GetIdempotencyState(ctx, rdb, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rediskey.IdemPending, state.Status)

	require.NoError(t, rediskey.ReleaseIfMatch(ctx, rdb, key, "req-a"))
	assert.False(t, mr.Exists(key))
}
