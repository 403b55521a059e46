package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"product_inventory/internal/config"
	"product_inventory/internal/logging"
	"product_inventory/internal/metrics"
	"product_inventory/internal/middleware"
	"product_inventory/internal/model"
	"product_inventory/internal/service"
)

// Deps are the collaborators the HTTP layer needs. Redis is optional: a nil
// client disables rate limiting and idempotency keys.
type Deps struct {
	Products *service.ProductService
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Redis    rd.Cmdable
	Config   config.AppConfig
}

const invalidIDMsg = "Invalid product ID format. ID must be 6 digits."

// Setup 注册全部中间件与 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.Use(
		middleware.RequestID(d.Log),
		middleware.Recovery(d.Log),
		middleware.AccessLog(),
		d.Metrics.Middleware(),
	)
	if d.Config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.Config.RequestTimeout))
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	api := r.Group("/api/products")
	api.GET("", listProducts(d))
	api.GET("/:id", getProduct(d))
	api.POST("", createProduct(d))
	api.PUT("/:id", updateProduct(d))
	api.DELETE("/:id", deleteProduct(d))
	api.GET("/:id/movements", listMovements(d))

	// 库存接口：按商品限流 + 幂等键，二者都依赖 Redis。
	decr := []gin.HandlerFunc{}
	incr := []gin.HandlerFunc{}
	if d.Redis != nil {
		limit := middleware.ProductRateLimit(d.Redis, d.Config.StockRateLimit, d.Config.StockRateWindow, d.Log)
		decr = append(decr, limit, middleware.Idempotency(d.Redis, model.ReasonDecrement, d.Config.IdempotencyTTL, d.Log))
		incr = append(incr, limit, middleware.Idempotency(d.Redis, model.ReasonIncrement, d.Config.IdempotencyTTL, d.Log))
	}
	api.PUT("/decrement-stock/:id/:quantity", append(decr, adjustStock(d, model.ReasonDecrement))...)
	api.PUT("/add-to-stock/:id/:quantity", append(incr, adjustStock(d, model.ReasonIncrement))...)
}

func listProducts(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Products.List(c.Request.Context())
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, "Products retrieved successfully", list)
	}
}

func getProduct(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := productID(c)
		if !valid {
			return
		}
		p, err := d.Products.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, "Product retrieved successfully", p)
	}
}

func createProduct(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields model.ProductFields
		if !bindFields(c, &fields) {
			return
		}
		p, err := d.Products.Create(c.Request.Context(), fields)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		c.Header("Location", fmt.Sprintf("/api/products/%d", p.ID))
		ok(c, http.StatusCreated, "Product created successfully", p)
	}
}

func updateProduct(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := productID(c)
		if !valid {
			return
		}
		var fields model.ProductFields
		if !bindFields(c, &fields) {
			return
		}
		p, err := d.Products.Replace(c.Request.Context(), id, fields)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, "Product updated successfully", p)
	}
}

func deleteProduct(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := productID(c)
		if !valid {
			return
		}
		deleted, err := d.Products.Delete(c.Request.Context(), id)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		if !deleted {
			writeError(c, d.Log, &model.NotFoundError{ID: id})
			return
		}
		ok(c, http.StatusOK, "Product deleted successfully", nil)
	}
}

func listMovements(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := productID(c)
		if !valid {
			return
		}
		moves, err := d.Products.Movements(c.Request.Context(), id)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, "Stock movements retrieved successfully", moves)
	}
}

// adjustStock 处理加/减库存。成功后把最新库存写入 gin context，供幂等中间件落状态。
func adjustStock(d Deps, reason string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := productID(c)
		if !valid {
			return
		}
		qty, valid := quantity(c)
		if !valid {
			return
		}

		var (
			p   *model.Product
			err error
			msg string
		)
		if reason == model.ReasonDecrement {
			p, err = d.Products.DecrementStock(c.Request.Context(), id, qty)
			msg = fmt.Sprintf("Stock decremented by %d successfully", qty)
		} else {
			p, err = d.Products.IncrementStock(c.Request.Context(), id, qty)
			msg = fmt.Sprintf("Stock increased by %d successfully", qty)
		}
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		c.Set(middleware.StockAfterKey, p.StockAvailable)
		ok(c, http.StatusOK, msg, p)
	}
}

// productID 解析并校验 6 位商品 ID，失败时已写回 400。
func productID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || !model.ValidProductID(id) {
		fail(c, http.StatusBadRequest, invalidIDMsg, nil)
		return 0, false
	}
	return id, true
}

// quantity 解析数量：必须为正数且不超过 32 位整数范围，失败时已写回 400。
func quantity(c *gin.Context) (int, bool) {
	q, err := strconv.ParseInt(c.Param("quantity"), 10, 32)
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(c.Param("quantity"), "-") {
		fail(c, http.StatusBadRequest, fmt.Sprintf("Quantity must be at most %d", model.MaxStock), nil)
		return 0, false
	}
	if err != nil || q <= 0 {
		fail(c, http.StatusBadRequest, "Quantity must be greater than 0", nil)
		return 0, false
	}
	return int(q), true
}

// bindFields 绑定 JSON 并做字段级校验，失败时已写回 400。
func bindFields(c *gin.Context, fields *model.ProductFields) bool {
	if err := c.ShouldBindJSON(fields); err != nil {
		fail(c, http.StatusBadRequest, "Validation failed", bindingMessages(err))
		return false
	}
	if err := fields.Validate(); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			fail(c, http.StatusBadRequest, "Validation failed", ve.Errors)
			return false
		}
		fail(c, http.StatusBadRequest, "Validation failed", []string{err.Error()})
		return false
	}
	return true
}

func bindingMessages(err error) []string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []string{"Request body is not valid JSON for a product"}
	}
	out := make([]string, 0, len(ves))
	for _, fe := range ves {
		field := jsonName(fe.Field())
		switch fe.Tag() {
		case "required":
			out = append(out, field+" is required")
		case "min":
			if fe.Kind().String() == "string" {
				out = append(out, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
			} else {
				out = append(out, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
			}
		case "max":
			out = append(out, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s is invalid", field))
		}
	}
	return out
}

var jsonNames = map[string]string{
	"StockAvailable": "stock_available",
	"SKU":            "sku",
}

func jsonName(field string) string {
	if n, ok := jsonNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}

// writeError 将领域错误翻译为 HTTP 状态码；未知错误只记录日志，返回通用信息。
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	var (
		ve *model.ValidationError
		nf *model.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, "Validation failed", ve.Errors)
	case errors.As(err, &nf):
		fail(c, http.StatusNotFound, nf.Error(), nil)
	case errors.Is(err, model.ErrInsufficientStock):
		fail(c, http.StatusBadRequest, "Insufficient stock available", nil)
	case errors.Is(err, model.ErrStockOverflow):
		fail(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, model.ErrIDSpaceExhausted):
		logging.FromContext(c.Request.Context(), log).Error().Err(err).Msg("product id allocation exhausted")
		fail(c, http.StatusServiceUnavailable, "Unable to allocate a product ID, please retry later", nil)
	default:
		logging.FromContext(c.Request.Context(), log).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "An error occurred while processing your request", []string{"Internal server error"})
	}
}

func ok(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, gin.H{"code": 0, "msg": msg, "data": data})
}

func fail(c *gin.Context, status int, msg string, errs []string) {
	body := gin.H{"code": status, "msg": msg, "data": nil}
	if len(errs) > 0 {
		body["errors"] = errs
	}
	c.AbortWithStatusJSON(status, body)
}
