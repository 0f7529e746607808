package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default ceiling for accepted input images; anything larger is rejected
// before resolution.
const DefaultMaxImageBytes = 8 << 20

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// Provider selection and credentials.
	ImageProvider        string
	GoogleAIAPIKey       string
	GoogleAIModel        string
	GoogleAIBaseURL      string
	OpenRouterAPIKey     string
	OpenRouterImageModel string
	OpenRouterBaseURL    string

	// Input resolution limits.
	MaxImageBytes int64
	FetchTimeout  time.Duration

	// Blob storage.
	StorageBackend   string // "s3" or "filesystem"
	StoragePath      string
	S3Bucket         string
	S3PublicBaseURL  string
	AWSRegion        string
	GeoIPDBPath      string
	AllowedOrigins   []string
	DefaultLocale    string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		ImageProvider:        getEnv("IMAGE_PROVIDER", "google"),
		GoogleAIAPIKey:       os.Getenv("GOOGLE_AI_API_KEY"),
		GoogleAIModel:        getEnv("GOOGLE_AI_MODEL", "gemini-2.5-flash-image-preview"),
		GoogleAIBaseURL:      getEnv("GOOGLE_AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterImageModel: getEnv("OPENROUTER_IMAGE_MODEL", "fal-ai/flux-pro"),
		OpenRouterBaseURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),

		MaxImageBytes: getEnvInt64("MAX_IMAGE_BYTES", DefaultMaxImageBytes),
		FetchTimeout:  time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 15)),

		StorageBackend:   getEnv("STORAGE_BACKEND", "filesystem"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		S3Bucket:         os.Getenv("AWS_S3_BUCKET"),
		S3PublicBaseURL:  os.Getenv("AWS_S3_PUBLIC_BASE_URL"),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins:   splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "fr"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.ImageProvider {
	case "google", "openrouter":
	default:
		return nil, fmt.Errorf("IMAGE_PROVIDER must be google or openrouter, got %q", cfg.ImageProvider)
	}

	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("AWS_S3_BUCKET is required when STORAGE_BACKEND=s3")
	}

	return cfg, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}
