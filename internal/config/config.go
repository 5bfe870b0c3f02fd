package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort      string
	DatabaseURL     string
	RedisURL        string
	SyncBatchSize   int
	SyncWorkers     int
	SyncInterval    time.Duration
	MinSyncInterval time.Duration
}

func LoadConfig() (*Config, error) {
	batchSize, err := getEnvInt("SYNC_BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("SYNC_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	syncInterval, err := getEnvDuration("SYNC_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	minSyncInterval, err := getEnvDuration("MIN_SYNC_INTERVAL", "5s")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		SyncBatchSize:   batchSize,
		SyncWorkers:     workers,
		SyncInterval:    syncInterval,
		MinSyncInterval: minSyncInterval,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SyncBatchSize <= 0 {
		return nil, errors.New("SYNC_BATCH_SIZE must be positive")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}
