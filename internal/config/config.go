package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// EngineConfig holds settings for the analysis engine (OpenAI-compatible API).
type EngineConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// PipelineConfig holds the orchestrator policy knobs: worker count, retry
// budget, backoff step, claim lease, and the per-call timeout applied to
// extraction and engine calls.
type PipelineConfig struct {
	Workers         int
	MaxAttempts     int
	RetryBackoff    time.Duration
	Lease           time.Duration
	CallTimeout     time.Duration
	ClaimInterval   time.Duration
	JanitorInterval time.Duration
}

// StatsConfig holds settings for the aggregation reader.
// Timezone is the IANA zone used to truncate upload timestamps to calendar
// days; it is explicit so activity histograms are deterministic across hosts.
type StatsConfig struct {
	Timezone    string
	RecentLimit int
	DownloadTTL time.Duration
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	Database DatabaseConfig
	MinIO    MinIOConfig
	Engine   EngineConfig
	Pipeline PipelineConfig
	Stats    StatsConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"), // default only for non-sensitive value
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Engine: EngineConfig{
			APIKey:  getEnv("ENGINE_API_KEY", ""),
			BaseURL: getEnv("ENGINE_BASE_URL", ""),
			Model:   getEnv("ENGINE_MODEL", "gpt-4o-mini"),
		},
		Pipeline: PipelineConfig{
			Workers:         getEnvInt("PIPELINE_WORKERS", 4),
			MaxAttempts:     getEnvInt("PIPELINE_MAX_ATTEMPTS", 3),
			RetryBackoff:    getEnvSeconds("PIPELINE_RETRY_BACKOFF_SEC", 30*time.Second),
			Lease:           getEnvSeconds("PIPELINE_LEASE_SEC", 120*time.Second),
			CallTimeout:     getEnvSeconds("PIPELINE_CALL_TIMEOUT_SEC", 60*time.Second),
			ClaimInterval:   getEnvSeconds("PIPELINE_CLAIM_INTERVAL_SEC", 2*time.Second),
			JanitorInterval: getEnvSeconds("PIPELINE_JANITOR_INTERVAL_SEC", 30*time.Second),
		},
		Stats: StatsConfig{
			Timezone:    getEnv("STATS_TIMEZONE", "UTC"),
			RecentLimit: getEnvInt("STATS_RECENT_LIMIT", 10),
			DownloadTTL: getEnvSeconds("STATS_DOWNLOAD_TTL_SEC", 900*time.Second),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// getEnvSeconds reads an integer number of seconds into a time.Duration.
func getEnvSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return def
}
