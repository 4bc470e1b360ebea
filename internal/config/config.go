// Package config centralizes how LinkVault reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	Address     string
	DatabaseURL string
	// DevMode swaps Postgres/MinIO/Redis for in-memory stores and surfaces
	// raw upstream diagnostics in error responses.
	DevMode bool

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret        []byte
	DefaultTTL        time.Duration
	SweepInterval     time.Duration
	MaxFileSize       int64
	BlobTimeout       time.Duration
	WorkerConcurrency int
}

const (
	defaultAddress       = ":8080"
	defaultMaxFileSize   = 25 << 20 // 25 MiB
	defaultTTL           = 10 * time.Minute
	defaultSweepInterval = time.Minute
	defaultBlobTimeout   = 30 * time.Second
	defaultWorkerCount   = 2
	defaultBucket        = "linkvault"
)

// Load reads configuration from environment variables falling back to
// defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Address:           readEnv("LINKVAULT_ADDRESS", defaultAddress),
		DatabaseURL:       readEnv("LINKVAULT_DATABASE_URL", ""),
		DevMode:           parseBool("LINKVAULT_DEV_MODE", false),
		S3Endpoint:        readEnv("LINKVAULT_S3_ENDPOINT", ""),
		S3AccessKey:       readEnv("LINKVAULT_S3_ACCESS_KEY", ""),
		S3SecretKey:       readEnv("LINKVAULT_S3_SECRET_KEY", ""),
		S3Bucket:          readEnv("LINKVAULT_S3_BUCKET", defaultBucket),
		S3Region:          readEnv("LINKVAULT_S3_REGION", ""),
		S3UseSSL:          parseBool("LINKVAULT_S3_USE_SSL", false),
		RedisAddr:         readEnv("LINKVAULT_REDIS_ADDR", ""),
		RedisPassword:     readEnv("LINKVAULT_REDIS_PASSWORD", ""),
		RedisDB:           parseInt("LINKVAULT_REDIS_DB", 0),
		AuthSecret:        parseSecret("LINKVAULT_AUTH_SECRET"),
		DefaultTTL:        parseDuration("LINKVAULT_DEFAULT_TTL", defaultTTL),
		SweepInterval:     parseDuration("LINKVAULT_SWEEP_INTERVAL", defaultSweepInterval),
		MaxFileSize:       parseInt64("LINKVAULT_MAX_FILE_BYTES", defaultMaxFileSize),
		BlobTimeout:       parseDuration("LINKVAULT_BLOB_TIMEOUT", defaultBlobTimeout),
		WorkerConcurrency: parseInt("LINKVAULT_WORKERS", defaultWorkerCount),
	}
	if cfg.AuthSecret == nil {
		// Tokens minted against a random secret die with the process; fine
		// for dev, set the variable for real deployments.
		cfg.AuthSecret = randomSecret()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
