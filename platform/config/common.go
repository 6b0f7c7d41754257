package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Common is the part of a service's configuration that the shared runtime consumes.
type Common struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL   string
	MaxDBConns    int32
	RedisURL      string
	KafkaBrokers  []string
	KafkaClientID string

	KafkaDialAttempts int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxRetries   int
	OutboxMaxBackoff   time.Duration

	ConsumerMaxDeliveries int
	ConsumerRetryBackoff  time.Duration
	EventDedupTTL         time.Duration

	ReplicaMaxParked   int
	GapMonitorInterval time.Duration
	GapMaxAge          time.Duration

	ShutdownTimeout time.Duration
}

// Defaults returns the settings a service starts from before file and env overrides.
func Defaults(serviceID string, httpPort, grpcPort int) Common {
	return Common{
		ServiceID:             serviceID,
		HTTPPort:              httpPort,
		GRPCPort:              grpcPort,
		MaxDBConns:            20,
		KafkaClientID:         serviceID,
		KafkaDialAttempts:     8,
		OutboxPollInterval:    2 * time.Second,
		OutboxBatchSize:       100,
		OutboxMaxRetries:      5,
		OutboxMaxBackoff:      time.Minute,
		ConsumerMaxDeliveries: 5,
		ConsumerRetryBackoff:  200 * time.Millisecond,
		EventDedupTTL:         7 * 24 * time.Hour,
		ReplicaMaxParked:      64,
		GapMonitorInterval:    time.Minute,
		GapMaxAge:             5 * time.Minute,
		ShutdownTimeout:       10 * time.Second,
	}
}

type commonFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL   string   `yaml:"postgres_url"`
		RedisURL      string   `yaml:"redis_url"`
		KafkaBrokers  []string `yaml:"kafka_brokers"`
		KafkaClientID string   `yaml:"kafka_client_id"`
	} `yaml:"dependencies"`
	Events struct {
		OutboxBatchSize       int    `yaml:"outbox_batch_size"`
		OutboxMaxRetries      int    `yaml:"outbox_max_retries"`
		OutboxMaxBackoff      string `yaml:"outbox_max_backoff"`
		ConsumerMaxDeliveries int    `yaml:"consumer_max_deliveries"`
		ReplicaMaxParked      int    `yaml:"replica_max_parked"`
		GapMaxAge             string `yaml:"gap_max_age"`
	} `yaml:"events"`
}

// Load reads path (missing files are ignored) over cfg, then applies env overrides. When
// extra is non-nil the same YAML document is decoded into it for service-specific keys.
func Load(path string, cfg Common, extra any) (Common, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f commonFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Common{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if extra != nil {
			if unmarshalErr := yaml.Unmarshal(raw, extra); unmarshalErr != nil {
				return Common{}, fmt.Errorf("parse config file: %w", unmarshalErr)
			}
		}
		cfg = overlay(cfg, f)
	case path != "" && !errors.Is(err, fs.ErrNotExist):
		return Common{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = EnvOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.DatabaseURL = EnvOrDefault("DB_URL", EnvOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = EnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = EnvCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaClientID = EnvOrDefault("KAFKA_CLIENT_ID", cfg.KafkaClientID)
	cfg.KafkaDialAttempts = EnvInt("KAFKA_DIAL_ATTEMPTS", cfg.KafkaDialAttempts)
	cfg.HTTPPort = EnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = EnvInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(EnvInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.OutboxPollInterval = EnvDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = EnvInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = EnvInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.OutboxMaxBackoff = EnvDuration("OUTBOX_MAX_BACKOFF", cfg.OutboxMaxBackoff)
	cfg.ConsumerMaxDeliveries = EnvInt("CONSUMER_MAX_DELIVERIES", cfg.ConsumerMaxDeliveries)
	cfg.ConsumerRetryBackoff = EnvDuration("CONSUMER_RETRY_BACKOFF", cfg.ConsumerRetryBackoff)
	cfg.EventDedupTTL = time.Duration(EnvInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour
	cfg.ReplicaMaxParked = EnvInt("REPLICA_MAX_PARKED", cfg.ReplicaMaxParked)
	cfg.GapMonitorInterval = EnvDuration("GAP_MONITOR_INTERVAL", cfg.GapMonitorInterval)
	cfg.GapMaxAge = EnvDuration("GAP_MAX_AGE", cfg.GapMaxAge)
	cfg.ShutdownTimeout = EnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	if cfg.ServiceID == "" {
		return Common{}, fmt.Errorf("missing SERVICE_ID")
	}
	if cfg.ConsumerMaxDeliveries <= 0 || cfg.OutboxMaxRetries <= 0 || cfg.ReplicaMaxParked <= 0 {
		return Common{}, fmt.Errorf("delivery, retry and parking limits must be positive")
	}
	return cfg, nil
}

func overlay(cfg Common, f commonFile) Common {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = TrimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaClientID != "" {
		cfg.KafkaClientID = f.Dependencies.KafkaClientID
	}
	if f.Events.OutboxBatchSize > 0 {
		cfg.OutboxBatchSize = f.Events.OutboxBatchSize
	}
	if f.Events.OutboxMaxRetries > 0 {
		cfg.OutboxMaxRetries = f.Events.OutboxMaxRetries
	}
	if d, err := time.ParseDuration(f.Events.OutboxMaxBackoff); err == nil && d > 0 {
		cfg.OutboxMaxBackoff = d
	}
	if f.Events.ConsumerMaxDeliveries > 0 {
		cfg.ConsumerMaxDeliveries = f.Events.ConsumerMaxDeliveries
	}
	if f.Events.ReplicaMaxParked > 0 {
		cfg.ReplicaMaxParked = f.Events.ReplicaMaxParked
	}
	if d, err := time.ParseDuration(f.Events.GapMaxAge); err == nil && d > 0 {
		cfg.GapMaxAge = d
	}
	return cfg
}
