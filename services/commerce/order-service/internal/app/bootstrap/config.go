package bootstrap

import (
	"fmt"
	"time"

	"github.com/viralforge/commerce-mesh/platform/config"
)

type Config struct {
	config.Common

	ReservationTTL      time.Duration
	ConflictRetries     int
	ExpirationInterval  time.Duration
	ExpirationBatchSize int
}

type orderFile struct {
	Orders struct {
		ReservationTTL      string `yaml:"reservation_ttl"`
		ConflictRetries     int    `yaml:"conflict_retries"`
		ExpirationInterval  string `yaml:"expiration_interval"`
		ExpirationBatchSize int    `yaml:"expiration_batch_size"`
	} `yaml:"orders"`
}

func LoadConfig(path string) (Config, error) {
	var f orderFile
	common, err := config.Load(path, config.Defaults("order-service", 8083, 9083), &f)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Common:              common,
		ReservationTTL:      15 * time.Minute,
		ConflictRetries:     3,
		ExpirationInterval:  30 * time.Second,
		ExpirationBatchSize: 100,
	}
	if d, err := time.ParseDuration(f.Orders.ReservationTTL); err == nil && d > 0 {
		cfg.ReservationTTL = d
	}
	if f.Orders.ConflictRetries > 0 {
		cfg.ConflictRetries = f.Orders.ConflictRetries
	}
	if d, err := time.ParseDuration(f.Orders.ExpirationInterval); err == nil && d > 0 {
		cfg.ExpirationInterval = d
	}
	if f.Orders.ExpirationBatchSize > 0 {
		cfg.ExpirationBatchSize = f.Orders.ExpirationBatchSize
	}
	cfg.ReservationTTL = config.EnvDuration("ORDER_RESERVATION_TTL", cfg.ReservationTTL)
	cfg.ConflictRetries = config.EnvInt("ORDER_CONFLICT_RETRIES", cfg.ConflictRetries)
	cfg.ExpirationInterval = config.EnvDuration("ORDER_EXPIRATION_INTERVAL", cfg.ExpirationInterval)
	cfg.ExpirationBatchSize = config.EnvInt("ORDER_EXPIRATION_BATCH_SIZE", cfg.ExpirationBatchSize)

	if cfg.ReservationTTL <= 0 {
		return Config{}, fmt.Errorf("reservation ttl must be positive")
	}
	return cfg, nil
}
