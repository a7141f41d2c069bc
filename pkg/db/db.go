package db

import (
	"context"
	"fmt"
	"time"

	"tavolino/pkg/config"
	"tavolino/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDB opens a pgx pool sized per configuration and verifies the
// connection with a ping before handing it out.
func ConnectDB(cfg *config.DatabaseConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("startup", "db_connected",
		fmt.Sprintf("Connected to PostgreSQL at %s:%d/%s", cfg.Host, cfg.Port, cfg.Database))
	return pool, nil
}
