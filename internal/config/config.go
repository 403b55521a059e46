package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	// DBDriver is "sqlite" or "postgres"; DBDSN is a file path or a postgres DSN.
	DBDriver string
	DBDSN    string
	DBDebug  bool

	// Redis 为空则关闭限流、幂等与事件流。
	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔），为空则不启动 Relay。
	KafkaBrokers []string
	KafkaTopic   string

	// Redis Stream outbox（库存调整提交后入流，Relay 异步转 Kafka）
	StockEventStream   string
	StockEventGroup    string
	StockEventConsumer string

	// 库存接口限流与幂等键保留时间
	StockRateLimit  int
	StockRateWindow time.Duration
	IdempotencyTTL  time.Duration

	IDMaxAttempts  int
	RequestTimeout time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		AppEnv:             getEnv("APP_ENV", "development"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:              getEnv("DB_DSN", "inventory.db"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "inventory-stock-events"),
		StockEventStream:   getEnv("STOCK_EVENT_STREAM", "inventory:stock_events"),
		StockEventGroup:    getEnv("STOCK_EVENT_GROUP", "inventory-relay-group"),
		StockEventConsumer: getEnv("STOCK_EVENT_CONSUMER", "inventory-relay-1"),
		StockRateLimit:     100,
		StockRateWindow:    time.Second,
		IdempotencyTTL:     24 * time.Hour,
		IDMaxAttempts:      100,
		RequestTimeout:     10 * time.Second,
	}

	debug, err := getEnvBool("DB_DEBUG", false)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid DB_DEBUG: %w", err)
	}
	cfg.DBDebug = debug

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("STOCK_RATE_LIMIT", cfg.StockRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STOCK_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("STOCK_RATE_LIMIT must be > 0")
	}
	cfg.StockRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("STOCK_RATE_WINDOW_SEC", int(cfg.StockRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STOCK_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("STOCK_RATE_WINDOW_SEC must be > 0")
	}
	cfg.StockRateWindow = time.Duration(rateWindowSec) * time.Second

	idemTTLHour, err := getEnvInt("IDEMPOTENCY_TTL_HOUR", int(cfg.IdempotencyTTL.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid IDEMPOTENCY_TTL_HOUR: %w", err)
	}
	if idemTTLHour <= 0 {
		return AppConfig{}, fmt.Errorf("IDEMPOTENCY_TTL_HOUR must be > 0")
	}
	cfg.IdempotencyTTL = time.Duration(idemTTLHour) * time.Hour

	maxAttempts, err := getEnvInt("ID_MAX_ATTEMPTS", cfg.IDMaxAttempts)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ID_MAX_ATTEMPTS: %w", err)
	}
	if maxAttempts <= 0 {
		return AppConfig{}, fmt.Errorf("ID_MAX_ATTEMPTS must be > 0")
	}
	cfg.IDMaxAttempts = maxAttempts

	timeoutSec, err := getEnvInt("REQUEST_TIMEOUT_SEC", int(cfg.RequestTimeout.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REQUEST_TIMEOUT_SEC: %w", err)
	}
	if timeoutSec <= 0 {
		return AppConfig{}, fmt.Errorf("REQUEST_TIMEOUT_SEC must be > 0")
	}
	cfg.RequestTimeout = time.Duration(timeoutSec) * time.Second

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.DBDSN == "" {
		return AppConfig{}, fmt.Errorf("DB_DSN must not be empty")
	}
	if len(cfg.KafkaBrokers) > 0 {
		if cfg.RedisAddr == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS requires REDIS_ADDR (events are relayed from a redis stream)")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
	}
	if cfg.RedisAddr != "" {
		if cfg.StockEventStream == "" {
			return AppConfig{}, fmt.Errorf("STOCK_EVENT_STREAM must not be empty")
		}
		if cfg.StockEventGroup == "" {
			return AppConfig{}, fmt.Errorf("STOCK_EVENT_GROUP must not be empty")
		}
		if cfg.StockEventConsumer == "" {
			return AppConfig{}, fmt.Errorf("STOCK_EVENT_CONSUMER must not be empty")
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with developer defaults.
func (c AppConfig) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

// RedisEnabled reports whether a redis address was configured.
func (c AppConfig) RedisEnabled() bool { return c.RedisAddr != "" }

// KafkaEnabled reports whether stock events should be relayed to kafka.
func (c AppConfig) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
