package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Session  SessionConfig
	Cache    CacheConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the content assets bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	AssetsBucket         string
	PresignExpireMinutes int
}

// SessionConfig holds live session tuning. These are thresholds, not
// constants: deployments adjust them to their network conditions.
type SessionConfig struct {
	HeartbeatTimeoutSec int // connection swept after this much silence
	SweepIntervalSec    int // fixed sweep period
	DriftGraceSec       int // participant lag tolerated before a targeted resend
	MoodWindowSec       int // maximum mood aggregation window
	DepartureGraceSec   int // in-flight mood tolerance after disconnect
	SendBuffer          int // per-connection outbound frame buffer
}

// CacheConfig holds offline cache client defaults.
type CacheConfig struct {
	Dir             string   // cache directory; empty = os temp dir
	FetchTimeoutSec int      // live fetch bound before falling back
	OriginURL       string   // content origin the cache proxies
	LiveEndpoint    string   // request prefix that always bypasses the cache
	ShellKeys       []string // resource set required to render offline; first is the entry point
	ListenAddr      string   // local address the cache proxy serves on
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "presenta"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AssetsBucket:         getEnv("AWS_S3_ASSETS_BUCKET", "presenta-assets"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Session: SessionConfig{
			HeartbeatTimeoutSec: getEnvInt("SESSION_HEARTBEAT_TIMEOUT_SEC", 60),
			SweepIntervalSec:    getEnvInt("SESSION_SWEEP_INTERVAL_SEC", 15),
			DriftGraceSec:       getEnvInt("SESSION_DRIFT_GRACE_SEC", 10),
			MoodWindowSec:       getEnvInt("SESSION_MOOD_WINDOW_SEC", 300),
			DepartureGraceSec:   getEnvInt("SESSION_DEPARTURE_GRACE_SEC", 10),
			SendBuffer:          getEnvInt("SESSION_SEND_BUFFER", 256),
		},
		Cache: CacheConfig{
			Dir:             getEnv("CACHE_DIR", ""),
			FetchTimeoutSec: getEnvInt("CACHE_FETCH_TIMEOUT_SEC", 10),
			OriginURL:       getEnv("CACHE_ORIGIN_URL", "http://localhost:8080"),
			LiveEndpoint:    getEnv("CACHE_LIVE_ENDPOINT", "/ws"),
			ShellKeys:       getEnvList("CACHE_SHELL_KEYS", []string{"index.html", "app.js", "app.css"}),
			ListenAddr:      getEnv("CACHE_LISTEN_ADDR", "127.0.0.1:8090"),
		},
	}
	return cfg, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
