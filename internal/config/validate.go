package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

func (c *Config) validate() error {
	if err := c.validateDatabase("DATABASE_URL", c.DatabaseURL); err != nil {
		return err
	}

	if err := c.validateDatabase("BACKUP_ADMIN_URL", c.BackupAdminURL); err != nil {
		return err
	}

	if err := c.validateLoad(); err != nil {
		return err
	}

	if err := c.validateBackup(); err != nil {
		return err
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	return c.validateCORS()
}

// validateDatabase checks a Postgres connection string when one is set.
// Whether a connection string is required depends on the command.
func (c *Config) validateDatabase(name string, raw Secret) error {
	if raw.Value() == "" {
		return nil
	}

	dbURL, err := url.Parse(raw.Value())
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("%s scheme must be postgres:// or postgresql://", name)
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("%s must include a host", name)
	}

	dbHost := dbURL.Hostname()
	if !isLoopback(dbHost) && dbURL.Query().Get("sslmode") == "disable" {
		return fmt.Errorf("%s sslmode=disable is not allowed for non-local host %q", name, dbHost)
	}

	return nil
}

func (c *Config) validateLoad() error {
	if c.HighVolumeBatchSize < c.BatchSize {
		return fmt.Errorf("HIGH_VOLUME_BATCH_SIZE must be at least BATCH_SIZE")
	}

	if c.LoadConcurrency >= c.DBMaxConns {
		return fmt.Errorf("LOAD_CONCURRENCY must be lower than DB_MAX_CONNS")
	}

	switch c.DanglingPolicy {
	case DanglingNull, DanglingReject:
	default:
		return fmt.Errorf("DANGLING_POLICY must be 'null' or 'reject', got %q", c.DanglingPolicy)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'text' or 'json', got %q", c.LogFormat)
	}

	return nil
}

func (c *Config) validateBackup() error {
	if key := c.BackupEncryptionKey.Value(); key != "" {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("BACKUP_ENCRYPTION_KEY must be valid hex: %w", err)
		}

		if len(keyBytes) != 32 {
			return fmt.Errorf("BACKUP_ENCRYPTION_KEY must be 64 hex characters (32 bytes), got %d chars", len(key))
		}
	} else if c.BackupRequireEncryption {
		return fmt.Errorf("BACKUP_ENCRYPTION_KEY is required when BACKUP_REQUIRE_ENCRYPTION is set")
	}

	switch c.BackupStore {
	case BackupStoreLocal:
		if c.BackupLocalDir == "" {
			return fmt.Errorf("BACKUP_LOCAL_DIR is required when BACKUP_STORE is local")
		}
	case BackupStoreS3:
		if c.S3Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when BACKUP_STORE is s3")
		}

		if c.S3AccessKey.Value() == "" || c.S3SecretKey.Value() == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when BACKUP_STORE is s3")
		}
	default:
		return fmt.Errorf("BACKUP_STORE must be 's3' or 'local', got %q", c.BackupStore)
	}

	if c.AlertWebhookURL != "" {
		u, err := url.Parse(c.AlertWebhookURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ALERT_WEBHOOK_URL is not a valid URL")
		}

		if u.Scheme != "https" && !isLoopback(u.Hostname()) {
			return fmt.Errorf("ALERT_WEBHOOK_URL must use HTTPS for non-localhost hosts")
		}
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	if !isLoopback(c.ListenHost) && c.ListenHost != "0.0.0.0" && c.ListenHost != "::" {
		return fmt.Errorf("LISTEN_HOST must be a loopback address or 0.0.0.0/:: for containers, got %q", c.ListenHost)
	}

	return nil
}

func (c *Config) validateCORS() error {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}

		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
