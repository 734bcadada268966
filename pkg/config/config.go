package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Environment string
	ServerPort  int
	LogLevel    string

	DatabaseURL string
	RedisURL    string // empty disables Redis; idempotency falls back to memory

	JWTSecret             string
	JWTIssuer             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLHours  int

	SuperadminEmail        string
	SuperadminPasswordHash string // bcrypt

	OperatorEmail string

	CORSAllowedOrigins []string

	LoginRatePerSecond  float64
	LoginRateBurst      int
	MaxBodyBytes        int64
	IdempotencyTTLHours int

	NotifyQueueSize            int
	MaintenanceIntervalMinutes int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	accessTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid ACCESS_TOKEN_TTL_MINUTES: %w", err)
	}

	refreshTTL, err := strconv.Atoi(getEnv("REFRESH_TOKEN_TTL_HOURS", "168"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TOKEN_TTL_HOURS: %w", err)
	}

	loginRate, err := strconv.ParseFloat(getEnv("LOGIN_RATE_PER_SECOND", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_RATE_PER_SECOND: %w", err)
	}

	loginBurst, err := strconv.Atoi(getEnv("LOGIN_RATE_BURST", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOGIN_RATE_BURST: %w", err)
	}

	maxBody, err := strconv.ParseInt(getEnv("MAX_BODY_BYTES", "1048576"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_BODY_BYTES: %w", err)
	}

	idempotencyTTL, err := strconv.Atoi(getEnv("IDEMPOTENCY_TTL_HOURS", "24"))
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL_HOURS: %w", err)
	}

	notifyQueue, err := strconv.Atoi(getEnv("NOTIFY_QUEUE_SIZE", "128"))
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_QUEUE_SIZE: %w", err)
	}

	maintenanceInterval, err := strconv.Atoi(getEnv("MAINTENANCE_INTERVAL_MINUTES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAINTENANCE_INTERVAL_MINUTES: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/firmdesk?sslmode=disable"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret:             os.Getenv("JWT_SECRET"),
		JWTIssuer:             getEnv("JWT_ISSUER", "firmdesk"),
		AccessTokenTTLMinutes: accessTTL,
		RefreshTokenTTLHours:  refreshTTL,

		SuperadminEmail:        os.Getenv("SUPERADMIN_EMAIL"),
		SuperadminPasswordHash: os.Getenv("SUPERADMIN_PASSWORD_HASH"),

		OperatorEmail: getEnv("OPERATOR_EMAIL", "ops@firmdesk.local"),

		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
		}),

		LoginRatePerSecond:  loginRate,
		LoginRateBurst:      loginBurst,
		MaxBodyBytes:        maxBody,
		IdempotencyTTLHours: idempotencyTTL,

		NotifyQueueSize:            notifyQueue,
		MaintenanceIntervalMinutes: maintenanceInterval,
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Environment != "development" {
		if cfg.SuperadminEmail == "" || cfg.SuperadminPasswordHash == "" {
			return nil, fmt.Errorf("SUPERADMIN_EMAIL and SUPERADMIN_PASSWORD_HASH are required outside development")
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
