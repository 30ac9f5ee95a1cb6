package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"garbanzo/internal/core"
)

type Config struct {
	// HTTP Server
	Port string

	// Ledger
	LedgerPath     string
	DefaultGrain   string
	AccountDepth   int
	StackSegments  int
	ReloadInterval time.Duration

	// Database
	SQLiteDBPath string
	// Snapshots kept after each new one is stored; 0 keeps all of them.
	SnapshotRetention int

	// AMQP (optional; empty URL disables events)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Query cache
	CacheSize int
	CacheTTL  time.Duration

	// Worker
	ExportInterval time.Duration

	// Backend selection
	DataBackend string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		LedgerPath:     getEnv("LEDGER_PATH", ""),
		DefaultGrain:   getEnv("DEFAULT_GRAIN", string(core.Monthly)),
		AccountDepth:   getEnvInt("ACCOUNT_DEPTH", 3),
		StackSegments:  getEnvInt("STACK_SEGMENTS", 6),
		ReloadInterval: getEnvDuration("RELOAD_INTERVAL", 0),

		SQLiteDBPath:      getEnv("SQLITE_DB_PATH", "./data/garbanzo.db"),
		SnapshotRetention: getEnvInt("SNAPSHOT_RETENTION", 20),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "garbanzo"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "snapshot_exports"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Garbanzo"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		CacheSize: getEnvInt("CACHE_SIZE", 100),
		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),

		ExportInterval: getEnvDuration("EXPORT_INTERVAL", time.Hour),

		DataBackend: getEnv("DATA_BACKEND", "file"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// SheetsEnabled reports whether exports go to Google Sheets rather than the
// in-memory writer.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
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
	validBackends := []string{"file", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "file" {
		if c.LedgerPath == "" {
			errors = append(errors, "LEDGER_PATH is required when using file backend")
		} else if _, err := os.Stat(c.LedgerPath); err != nil {
			errors = append(errors, fmt.Sprintf("ledger file is not readable: %v", err))
		}
	}

	// The store is used by both backends: snapshots are saved on every load.
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
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

	if c.SnapshotRetention < 0 {
		errors = append(errors, fmt.Sprintf("invalid snapshot retention %d: must not be negative", c.SnapshotRetention))
	}

	if _, err := core.ParseGrain(c.DefaultGrain); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default grain '%s': must be one of %v", c.DefaultGrain, core.Grains()))
	}
	if c.AccountDepth < 0 {
		errors = append(errors, fmt.Sprintf("invalid account depth %d: must not be negative", c.AccountDepth))
	}
	if c.StackSegments < 1 || c.StackSegments > 20 {
		errors = append(errors, fmt.Sprintf("invalid stack segments %d: must be between 1 and 20", c.StackSegments))
	}
	if c.ReloadInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid reload interval %v: must not be negative", c.ReloadInterval))
	} else if c.ReloadInterval > 0 && c.ReloadInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid reload interval %v: must be at least 1 second", c.ReloadInterval))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}

	if c.ExportInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at least 1 minute", c.ExportInterval))
	} else if c.ExportInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at most 24 hours", c.ExportInterval))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
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
