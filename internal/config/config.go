package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	// HTTP Server
	Port string

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP
	AMQPURL          string
	AMQPExchange     string
	AMQPTriggerQueue string
	AMQPEventsQueue  string

	// Generation
	GenerationInterval      time.Duration
	GenerationHorizonMonths int
	OverflowPolicy          string
	Timezone                string
	LeaseTTL                time.Duration

	// Occurrence mirror
	SyncSink            string
	GoogleSpreadsheetID string
	GoogleSheetName     string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/paytrack.db"),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "paytrack"),
		AMQPTriggerQueue: getEnv("AMQP_TRIGGER_QUEUE", "generation_requests"),
		AMQPEventsQueue:  getEnv("AMQP_EVENTS_QUEUE", "occurrence_events"),

		GenerationInterval:      getEnvDuration("GENERATION_INTERVAL", time.Hour),
		GenerationHorizonMonths: getEnvInt("GENERATION_HORIZON_MONTHS", 6),
		OverflowPolicy:          getEnv("OVERFLOW_POLICY", "clamp"),
		Timezone:                getEnv("TIMEZONE", "UTC"),
		LeaseTTL:                getEnvDuration("LEASE_TTL", 5*time.Minute),

		SyncSink:            getEnv("SYNC_SINK", "log"),
		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Occurrences"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Location resolves Timezone, falling back to UTC when it is empty.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	if !contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// AMQP is optional; when set it needs a usable URL and names
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPTriggerQueue == "" {
			errors = append(errors, "AMQP trigger queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventsQueue == "" {
			errors = append(errors, "AMQP events queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Generation
	if c.GenerationInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid generation interval %v: must be at least 1 minute", c.GenerationInterval))
	} else if c.GenerationInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid generation interval %v: must be at most 24 hours", c.GenerationInterval))
	}

	if c.GenerationHorizonMonths < 1 || c.GenerationHorizonMonths > 60 {
		errors = append(errors, fmt.Sprintf("invalid generation horizon %d: must be between 1 and 60 months", c.GenerationHorizonMonths))
	}

	validPolicies := []string{"clamp", "roll"}
	if !contains(validPolicies, c.OverflowPolicy) {
		errors = append(errors, fmt.Sprintf("invalid overflow policy '%s': must be one of %v", c.OverflowPolicy, validPolicies))
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.LeaseTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid lease TTL %v: must be at least 1 second", c.LeaseTTL))
	}

	// Occurrence mirror
	validSinks := []string{"log", "memory", "sheets"}
	if !contains(validSinks, c.SyncSink) {
		errors = append(errors, fmt.Sprintf("invalid sync sink '%s': must be one of %v", c.SyncSink, validSinks))
	}
	if c.SyncSink == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets sink")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets sink")
		}
	}

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
