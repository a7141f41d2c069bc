package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tavolino/internal/orderservice/db"
	"tavolino/internal/orderservice/events"
	"tavolino/internal/orderservice/handler"
	"tavolino/internal/orderservice/metrics"
	"tavolino/internal/orderservice/platform"
	"tavolino/internal/orderservice/pricing"
	"tavolino/internal/orderservice/service"
	"tavolino/internal/orderservice/validation"
	"tavolino/pkg/config"
	pkgdb "tavolino/pkg/db"
	"tavolino/pkg/logger"
	"tavolino/pkg/rabbitmq"
)

func main() {
	port := flag.Int("port", 3000, "HTTP listen port")
	flag.Parse()

	log := logger.NewLogger("order-service")
	defer log.Sync()

	if err := run(*port, log); err != nil {
		log.Error("startup", "fatal", "Order service exited", err)
		os.Exit(1)
	}
}

func run(port int, log *logger.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pkgdb.ConnectDB(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	rmq, err := rabbitmq.ConnectRabbitMQ(&cfg.RabbitMQ, log)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer rmq.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	log.Info("startup", "redis_connected", "Connected to Redis")

	m := metrics.New()
	store := db.NewStore(pool, log)
	hub := events.NewHub(log, m.Subscribers)
	calc := pricing.NewCalculator(store, cfg.Pricing, log)
	svc := service.NewOrderService(store, calc, hub, rmq, m, log)
	validator := validation.NewOrderValidator()
	ingestor := platform.NewIngestor(store, platform.NewRedisDeduper(redisClient), svc, validator,
		cfg.Platform, cfg.Pricing, log)

	h := handler.NewHandler(svc, ingestor, validator, hub, store, m, log)

	go hub.Run(ctx, events.HeartbeatInterval)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     h.Router(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: SSE connections stay open indefinitely.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("startup", "http_listening", fmt.Sprintf("Order service listening on :%d", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown", "shutting_down", "Shutting down order service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	log.Info("shutdown", "stopped", "Order service stopped")
	return nil
}
