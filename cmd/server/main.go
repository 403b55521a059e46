package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"product_inventory/internal/config"
	"product_inventory/internal/database"
	"product_inventory/internal/logging"
	"product_inventory/internal/metrics"
	"product_inventory/internal/queue"
	"product_inventory/internal/repository"
	"product_inventory/internal/router"
	"product_inventory/internal/service"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Product inventory service",
	// 不带子命令时默认启动 HTTP 服务。
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the products and stock_movements tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openDB(cfg, log)
		if err != nil {
			return err
		}
		log.Info().Str("driver", cfg.DBDriver).Msg("migration complete")
		return closeDB(db)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func bootstrap() (config.AppConfig, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.AppEnv, cfg.LogLevel), nil
}

// openDB 连接数据库并自动建表。
func openDB(cfg config.AppConfig, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Open(database.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN, Debug: cfg.DBDebug}, log)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func serve(parent context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 数据库
	db, err := openDB(cfg, log)
	if err != nil {
		return err
	}
	defer closeDB(db)

	m := metrics.NewDefault()
	repo := repository.NewProductRepository(db)

	// 2. Redis（可选）：限流、幂等键、库存事件流
	var rdb *rd.Client
	var publisher service.StockEventPublisher
	if cfg.RedisEnabled() {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// 启动时不可达不致命，中间件会降级放行。
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed")
		}
		cancel()
		publisher = queue.NewStreamPublisher(rdb, cfg.StockEventStream, m)
	}

	// 3. Kafka Relay（可选）：Redis Stream -> Kafka
	relayDone := make(chan struct{})
	if cfg.KafkaEnabled() {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		relay := queue.NewRelay(rdb, producer, cfg.StockEventStream, cfg.StockEventGroup, cfg.StockEventConsumer, log, m)
		go func() {
			defer close(relayDone)
			relay.Run(ctx)
		}()
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("stock event relay started")
	} else {
		close(relayDone)
	}

	// 4. 领域服务
	allocator := service.NewIDAllocator(repo, log,
		service.WithMaxAttempts(cfg.IDMaxAttempts),
		service.WithAllocatorMetrics(m))
	ledger := service.NewStockLedger(repo, publisher, log, m)
	products := service.NewProductService(repo, allocator, ledger, log)

	// 5. HTTP
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	deps := router.Deps{Products: products, Log: log, Metrics: m, Config: cfg}
	if rdb != nil {
		deps.Redis = rdb
	}
	router.Setup(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBDriver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	stop()
	<-relayDone
	return nil
}
