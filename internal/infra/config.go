package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UseSSL        bool
	S3PublicBaseURL string

	FreepikAPIKey  string
	FreepikBaseURL string

	ShopifyAPISecret  string
	ShopifyAPIVersion string

	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	ProviderSubmitTimeout time.Duration
	ProviderStatusTimeout time.Duration

	PollInterval    time.Duration
	PollConcurrency int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnv("MONGO_DATABASE", "mediastudio"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		S3Endpoint:      getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        getEnv("S3_BUCKET", "media-uploads"),
		S3UseSSL:        getEnvBool("S3_USE_SSL", false),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		FreepikAPIKey:  os.Getenv("FREEPIK_API_KEY"),
		FreepikBaseURL: getEnv("FREEPIK_BASE_URL", "https://api.freepik.com/v1"),

		ShopifyAPISecret:  os.Getenv("SHOPIFY_API_SECRET"),
		ShopifyAPIVersion: getEnv("SHOPIFY_API_VERSION", "2024-07"),

		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "https://admin.shopify.com")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		ProviderSubmitTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_SUBMIT_TIMEOUT_SECONDS", 30)),
		ProviderStatusTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_STATUS_TIMEOUT_SECONDS", 10)),

		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 15)),
		PollConcurrency: getEnvInt("POLL_CONCURRENCY", 4),
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}

	if cfg.ShopifyAPISecret == "" {
		return nil, fmt.Errorf("SHOPIFY_API_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
