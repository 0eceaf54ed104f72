package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName     string
	CoordinatorPort int
	Database        DatabaseConfig
	RabbitMQ        RabbitMQConfig
	ThinQ           ThinQConfig
	Sync            SyncConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL   string
	Queue string
}

// ThinQConfig holds LG ThinQ API credentials
type ThinQConfig struct {
	BaseURL  string
	Country  string
	APIKey   string
	ClientID string
	Token    string
}

// SyncConfig holds incremental sync settings
type SyncConfig struct {
	// DefaultStartDate is where history begins for devices with no read log.
	DefaultStartDate time.Time
	// MaxSpanDays bounds a single vendor request; the API rejects ranges
	// longer than 30 days.
	MaxSpanDays int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:     getEnv("SERVICE_NAME", "thinq-energy-sync"),
		CoordinatorPort: getEnvAsInt("COORDINATOR_PORT", 8000),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   getEnv("RABBITMQ_URL", ""),
			Queue: getEnv("RABBITMQ_QUEUE", "energy-sync.device.queue"),
		},
		ThinQ: ThinQConfig{
			BaseURL:  getEnv("LG_BASE_URL", "https://api-aic.lgthinq.com"),
			Country:  getEnv("LG_COUNTRY", ""),
			APIKey:   getEnv("LG_API_KEY", ""),
			ClientID: getEnv("LG_CLIENT_ID", ""),
			Token:    getEnv("LG_API_TOKEN", ""),
		},
		Sync: SyncConfig{
			MaxSpanDays: getEnvAsInt("SYNC_MAX_SPAN_DAYS", 30),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	required := []struct {
		name  string
		value string
	}{
		{"LG_COUNTRY", cfg.ThinQ.Country},
		{"LG_API_KEY", cfg.ThinQ.APIKey},
		{"LG_CLIENT_ID", cfg.ThinQ.ClientID},
		{"LG_API_TOKEN", cfg.ThinQ.Token},
	}
	for _, v := range required {
		if v.value == "" {
			return nil, fmt.Errorf("%s is required but not set in environment variables", v.name)
		}
	}

	startDate, err := getEnvAsDate("SYNC_DEFAULT_START_DATE", "2025-01-01")
	if err != nil {
		return nil, err
	}
	cfg.Sync.DefaultStartDate = startDate

	if cfg.Sync.MaxSpanDays < 1 || cfg.Sync.MaxSpanDays > 30 {
		return nil, fmt.Errorf("SYNC_MAX_SPAN_DAYS must be between 1 and 30, got %d", cfg.Sync.MaxSpanDays)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDate(key, defaultValue string) (time.Time, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := time.Parse("2006-01-02", valueStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date in YYYY-MM-DD format: %w", key, err)
	}
	return value, nil
}
