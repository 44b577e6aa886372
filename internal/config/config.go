package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string

	KeyServerURL string

	VaultAddr  string
	VaultToken string
	VaultMount string
	ServiceEnv string

	BlobStorePath string

	RootTTL      time.Duration
	TargetsTTL   time.Duration
	SnapshotTTL  time.Duration
	TimestampTTL time.Duration

	RSAMinBits      int
	KeyGenBatchSize int
	KeyGenInterval  time.Duration

	PageLimitDefault int
	PageLimitMax     int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		KeyServerURL:           os.Getenv("KEYSERVER_URL"),
		VaultAddr:              os.Getenv("VAULT_ADDR"),
		VaultToken:             os.Getenv("VAULT_TOKEN"),
		VaultMount:             envDefault("VAULT_MOUNT", "secret"),
		ServiceEnv:             envDefault("TUFSERV_ENV", "dev"),
		BlobStorePath:          envDefault("BLOB_STORE_PATH", "/var/lib/tufserv/blobs"),
		RootTTL:                envDurationDefault("ROOT_TTL", 365*24*time.Hour),
		TargetsTTL:             envDurationDefault("TARGETS_TTL", 31*24*time.Hour),
		SnapshotTTL:            envDurationDefault("SNAPSHOT_TTL", 24*time.Hour),
		TimestampTTL:           envDurationDefault("TIMESTAMP_TTL", 24*time.Hour),
		RSAMinBits:             envIntDefault("RSA_MIN_BITS", 2048),
		KeyGenBatchSize:        envIntDefault("KEYGEN_BATCH_SIZE", 1024),
		KeyGenInterval:         envDurationDefault("KEYGEN_INTERVAL", 3*time.Second),
		PageLimitDefault:       envIntDefault("PAGE_LIMIT_DEFAULT", 50),
		PageLimitMax:           envIntDefault("PAGE_LIMIT_MAX", 1000),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
