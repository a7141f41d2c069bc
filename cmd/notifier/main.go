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

	"tavolino/internal/notifier"
	"tavolino/pkg/config"
	pkgdb "tavolino/pkg/db"
	"tavolino/pkg/logger"
	"tavolino/pkg/rabbitmq"
)

func main() {
	metricsPort := flag.Int("metrics-port", 9465, "Prometheus metrics listen port")
	flag.Parse()

	log := logger.NewLogger("notifier")
	defer log.Sync()

	if err := run(*metricsPort, log); err != nil {
		log.Error("startup", "fatal", "Notifier exited", err)
		os.Exit(1)
	}
}

func run(metricsPort int, log *logger.Logger) error {
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

	m := notifier.NewMetrics()
	store := notifier.NewPostgresStore(pool, log)
	providers := notifier.NewLogProviders(log)
	dispatcher := notifier.NewDispatcher(store, providers, providers, providers, m, log)
	subscriber := notifier.NewSubscriber(rmq, dispatcher, log)

	metricsServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", metricsPort),
		Handler:     m.Handler(),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("startup", "metrics_listening", fmt.Sprintf("Metrics listening on :%d", metricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("startup", "metrics_server_failed", "Metrics server stopped", err)
		}
	}()

	if err := subscriber.Run(ctx); err != nil {
		return fmt.Errorf("consume events: %w", err)
	}

	log.Info("shutdown", "shutting_down", "Shutting down notifier")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info("shutdown", "stopped", "Notifier stopped")
	return nil
}
