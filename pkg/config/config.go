package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Pricing  PricingConfig
	Platform PlatformConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	MaxConns int
}

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PricingConfig struct {
	DeliveryMinimum        float64
	BaseMinutesDelivery    int
	BaseMinutesPickup      int
	BusyModeExtraMinutes   int
	LoyaltyRedeemThreshold int
	LoyaltyRedeemValue     float64
	LoyaltyEarnRate        float64
}

type PlatformConfig struct {
	// SentinelMenuItemID is the catalog entry platform items fall back to
	// when no menu item matches their name.
	SentinelMenuItemID int64
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DBNAME", "tavolino"),
			MaxConns: getEnvInt("POSTGRES_MAX_CONNS", 10),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnvInt("RABBITMQ_PORT", 5672),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Pricing: PricingConfig{
			DeliveryMinimum:        getEnvFloat("DELIVERY_MINIMUM", 15.00),
			BaseMinutesDelivery:    getEnvInt("BASE_MINUTES_DELIVERY", 45),
			BaseMinutesPickup:      getEnvInt("BASE_MINUTES_PICKUP", 20),
			BusyModeExtraMinutes:   getEnvInt("BUSY_MODE_EXTRA_MINUTES", 20),
			LoyaltyRedeemThreshold: getEnvInt("LOYALTY_REDEEM_THRESHOLD", 50),
			LoyaltyRedeemValue:     getEnvFloat("LOYALTY_REDEEM_VALUE", 5.00),
			LoyaltyEarnRate:        getEnvFloat("LOYALTY_EARN_RATE", 1.0),
		},
		Platform: PlatformConfig{
			SentinelMenuItemID: int64(getEnvInt("PLATFORM_SENTINEL_ITEM_ID", 0)),
		},
	}

	if cfg.Pricing.DeliveryMinimum < 0 {
		return nil, fmt.Errorf("DELIVERY_MINIMUM must not be negative")
	}
	if cfg.Pricing.LoyaltyRedeemThreshold <= 0 {
		return nil, fmt.Errorf("LOYALTY_REDEEM_THRESHOLD must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
