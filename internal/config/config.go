// Package config provides configuration management functionality.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     int
	LogLevel string
	DevMode  bool

	// Store (Supabase Postgres). SupabaseURL is the database connection string.
	// Writes require the service-role key; the anon key is a read-only fallback.
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseAnonKey        string

	// LLM endpoint. Empty key means agents always hold.
	OpenRouterAPIKey string

	// Poll loop cadence for the funding pipeline.
	PollInterval time.Duration

	// CEX venue set polled alongside the primary venue.
	CexVenues []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnvAsInt("PORT", 3001),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DevMode:                getEnvAsBool("DEV_MODE", false),
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseAnonKey:        getEnv("SUPABASE_ANON_KEY", ""),
		OpenRouterAPIKey:       getEnv("OPENROUTER_API_KEY", ""),
		PollInterval:           time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 30)) * time.Second,
		CexVenues:              getEnvAsList("CEX_VENUES", []string{"binance", "bybit", "okx"}),
	}

	return cfg, nil
}

// StoreReadable reports whether the store can serve reads.
func (c *Config) StoreReadable() bool {
	return c.SupabaseURL != "" && (c.SupabaseServiceRoleKey != "" || c.SupabaseAnonKey != "")
}

// StoreWritable reports whether simulation persistence is enabled.
func (c *Config) StoreWritable() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceRoleKey != ""
}

// LLMEnabled reports whether the OpenRouter endpoint is configured.
func (c *Config) LLMEnabled() bool {
	return c.OpenRouterAPIKey != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToLower(trimmed))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
