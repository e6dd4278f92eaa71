// Package config loads the service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// DatabaseURL is the shared Postgres DSN. Empty selects the in-memory
	// store, for development only.
	DatabaseURL string

	// MigrationsDir holds the schema migration files.
	MigrationsDir string

	// EncryptionKey is the base64 key material for the field codec.
	// Mandatory; the process refuses to start without it.
	EncryptionKey string

	// Timezone names the cafeteria's IANA zone for window classification and
	// schedules.
	Timezone string

	// PlanCatalogPath optionally overrides the built-in plan table with a
	// YAML file.
	PlanCatalogPath string

	// ResetCronSpec schedules the daily wipe.
	ResetCronSpec string

	// SummaryCronSpec schedules the afternoon summary post.
	SummaryCronSpec string

	// SummaryURL is the telemetry sink. Empty disables posting.
	SummaryURL string

	// AuditRetention bounds the audit trail age for the weekly sweep.
	AuditRetention time.Duration

	// ScanDebounce suppresses repeat scans per station within this window.
	ScanDebounce time.Duration

	// AdminSecret signs admin bearer tokens. Empty disables /admin.
	AdminSecret string

	// LogLevel sets the zerolog level for every component.
	LogLevel string
}

// Load reads the environment, consulting .env first when present.
func Load() (Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "migrations"),
		EncryptionKey:   os.Getenv("ENCRYPTION_KEY"),
		Timezone:        getEnv("CAFETERIA_TIMEZONE", "America/Panama"),
		PlanCatalogPath: os.Getenv("PLAN_CATALOG_PATH"),
		ResetCronSpec:   getEnv("RESET_CRON", "0 0 * * *"),
		SummaryCronSpec: getEnv("SUMMARY_CRON", "0 14 * * *"),
		SummaryURL:      os.Getenv("SUMMARY_URL"),
		AuditRetention:  getDuration("AUDIT_RETENTION", 90*24*time.Hour),
		ScanDebounce:    getDuration("SCAN_DEBOUNCE", 2*time.Second),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service must not start with.
func (c Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required; generate one and keep it stable across restarts")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}
	if c.AuditRetention <= 0 {
		return fmt.Errorf("AUDIT_RETENTION must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	// Plain integers are treated as seconds, matching the old deployment's
	// convention.
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
