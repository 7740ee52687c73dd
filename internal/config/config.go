// Package config provides environment-driven configuration for docmigrate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Dangling reference policies.
const (
	DanglingNull   = "null"
	DanglingReject = "reject"
)

// Backup artifact stores.
const (
	BackupStoreS3    = "s3"
	BackupStoreLocal = "local"
)

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret
	DataDir     string
	OutputDir   string
	RulesFile   string

	BatchSize           int
	HighVolumeThreshold int
	HighVolumeBatchSize int
	LoadConcurrency     int
	DBMaxConns          int
	MaxBatchesPerSecond float64
	RelaxForeignKeys    bool
	DanglingPolicy      string

	LogLevel  string
	LogFormat string

	BackupEncryptionKey     Secret
	BackupRequireEncryption bool
	BackupAdminURL          Secret
	BackupStore             string
	BackupLocalDir          string
	BackupSmokeTables       []string
	S3Endpoint              string
	S3AccessKey             Secret
	S3SecretKey             Secret
	S3Bucket                string
	S3Region                string
	S3UseSSL                bool
	AlertWebhookURL         string
	PushgatewayURL          string

	Port        string
	ListenHost  string
	CORSOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:             Secret(envOrDefault("DATABASE_URL", "")),
		DataDir:                 envOrDefault("DATA_DIR", "data"),
		OutputDir:               envOrDefault("OUTPUT_DIR", "migration-output"),
		RulesFile:               envOrDefault("RULES_FILE", ""),
		RelaxForeignKeys:        envBool("RELAX_FOREIGN_KEYS"),
		DanglingPolicy:          envOrDefault("DANGLING_POLICY", DanglingNull),
		LogLevel:                envOrDefault("LOG_LEVEL", "info"),
		LogFormat:               envOrDefault("LOG_FORMAT", "text"),
		BackupEncryptionKey:     Secret(envOrDefault("BACKUP_ENCRYPTION_KEY", "")),
		BackupRequireEncryption: envBool("BACKUP_REQUIRE_ENCRYPTION"),
		BackupAdminURL:          Secret(envOrDefault("BACKUP_ADMIN_URL", "")),
		BackupStore:             envOrDefault("BACKUP_STORE", BackupStoreLocal),
		BackupLocalDir:          envOrDefault("BACKUP_LOCAL_DIR", "backups"),
		S3Endpoint:              envOrDefault("S3_ENDPOINT", ""),
		S3AccessKey:             Secret(envOrDefault("S3_ACCESS_KEY", "")),
		S3SecretKey:             Secret(envOrDefault("S3_SECRET_KEY", "")),
		S3Bucket:                envOrDefault("S3_BUCKET", "backups"),
		S3Region:                envOrDefault("S3_REGION", ""),
		S3UseSSL:                envBool("S3_USE_SSL"),
		AlertWebhookURL:         envOrDefault("ALERT_WEBHOOK_URL", ""),
		PushgatewayURL:          envOrDefault("PUSHGATEWAY_URL", ""),
		Port:                    envOrDefault("PORT", "3040"),
		ListenHost:              envOrDefault("LISTEN_HOST", "127.0.0.1"),
	}

	if cfg.BackupAdminURL == "" {
		cfg.BackupAdminURL = cfg.DatabaseURL
	}

	var err error

	if cfg.BatchSize, err = envInt("BATCH_SIZE", 500, 1, 5000); err != nil {
		return nil, err
	}

	if cfg.HighVolumeThreshold, err = envInt("HIGH_VOLUME_THRESHOLD", 50000, 1, 1<<30); err != nil {
		return nil, err
	}

	if cfg.HighVolumeBatchSize, err = envInt("HIGH_VOLUME_BATCH_SIZE", 5000, 1, 100000); err != nil {
		return nil, err
	}

	if cfg.LoadConcurrency, err = envInt("LOAD_CONCURRENCY", 1, 1, 16); err != nil {
		return nil, err
	}

	if cfg.DBMaxConns, err = envInt("DB_MAX_CONNS", 8, 2, 200); err != nil {
		return nil, err
	}

	rate, err := strconv.ParseFloat(envOrDefault("MAX_BATCHES_PER_SECOND", "0"), 64)
	if err != nil || rate < 0 {
		return nil, fmt.Errorf("MAX_BATCHES_PER_SECOND must be a non-negative number")
	}
	cfg.MaxBatchesPerSecond = rate

	cfg.BackupSmokeTables = splitList(envOrDefault("BACKUP_SMOKE_TABLES", "users,accounts,transactions"))
	cfg.CORSOrigins = splitList(envOrDefault("CORS_ORIGINS", "http://localhost:3002"))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Override applies command-line values on top of the environment and
// re-validates. Empty arguments leave the environment value in place.
func (c *Config) Override(dataDir, outputDir, databaseURL string) error {
	if dataDir != "" {
		c.DataDir = dataDir
	}

	if outputDir != "" {
		c.OutputDir = outputDir
	}

	if databaseURL != "" {
		if c.BackupAdminURL == c.DatabaseURL {
			c.BackupAdminURL = Secret(databaseURL)
		}

		c.DatabaseURL = Secret(databaseURL)
	}

	return c.validate()
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

// RequireDatabase reports an error when no destination connection string is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, fallback, lo, hi int) (int, error) {
	v, err := strconv.Atoi(envOrDefault(key, strconv.Itoa(fallback)))
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, lo, hi)
	}

	return v, nil
}

func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}

	return out
}
