/**
 * Configuration for the Document Analysis Worker
 *
 * Loads configuration from environment variables (see .env.docanalysis).
 * Unparseable numeric or boolean values fall back to their defaults.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Queue backends
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Collaborator modes
const (
	ClassifierModeRemote = "remote"
	ClassifierModeLocal  = "local"
	LayoutModeRemote     = "remote"
	LayoutModeTesseract  = "tesseract"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue and classification cache)
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration; empty QdrantURL disables it
	QdrantURL        string
	QdrantCollection string

	// Queue configuration
	QueueBackend      string
	QueueName         string
	WorkerConcurrency int
	MaxRetries        int
	ProcessingTimeout int // milliseconds

	// Input handling
	MaxFileSize int64
	TempDir     string

	// Collaborators
	ClassifierMode       string
	ClassificationAPIURL string
	ClassificationAPIKey string
	LayoutMode           string
	LayoutAPIURL         string
	OCRLanguage          string
	ClientTimeout        int // milliseconds
	ClientMaxRetries     int

	// Classification cache
	EnableCache     bool
	CacheTTLSeconds int

	// Pipeline
	TargetCategory      string
	MinWords            int
	ExpectedParagraphs  int
	TopNWords           int
	ReportTemplatePath  string
	EnablePreprocessing bool

	// Operations
	HealthAddr string
	LogLevel   string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:            getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:     getEnvOrDefault("QDRANT_COLLECTION", "docanalysis_vocabulary"),
		QueueBackend:         strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis)),
		QueueName:            getEnvOrDefault("QUEUE_NAME", "docanalysis:jobs"),
		WorkerConcurrency:    getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxRetries:           getEnvAsIntOrDefault("MAX_RETRIES", 3),
		ProcessingTimeout:    getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		MaxFileSize:          getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800),  // 50MB
		TempDir:              getEnvOrDefault("TEMP_DIR", "/tmp/docanalysis"),
		ClassifierMode:       strings.ToLower(getEnvOrDefault("CLASSIFIER_MODE", ClassifierModeLocal)),
		ClassificationAPIURL: strings.TrimRight(getEnvOrDefault("CLASSIFICATION_API_URL", ""), "/"),
		ClassificationAPIKey: getEnvOrDefault("CLASSIFICATION_API_KEY", ""),
		LayoutMode:           strings.ToLower(getEnvOrDefault("LAYOUT_MODE", LayoutModeRemote)),
		LayoutAPIURL:         strings.TrimRight(getEnvOrDefault("LAYOUT_API_URL", "http://localhost:8001"), "/"),
		OCRLanguage:          getEnvOrDefault("OCR_LANGUAGE", "eng"),
		ClientTimeout:        getEnvAsIntOrDefault("CLIENT_TIMEOUT", 60000),
		ClientMaxRetries:     getEnvAsIntOrDefault("CLIENT_MAX_RETRIES", 3),
		EnableCache:          getEnvAsBoolOrDefault("ENABLE_CACHE", true),
		CacheTTLSeconds:      getEnvAsIntOrDefault("CACHE_TTL_SECONDS", 86400),
		TargetCategory:       getEnvOrDefault("TARGET_CATEGORY", "scientific_publication"),
		MinWords:             getEnvAsIntOrDefault("MIN_WORDS", 2000),
		ExpectedParagraphs:   getEnvAsIntOrDefault("EXPECTED_PARAGRAPHS", 8),
		TopNWords:            getEnvAsIntOrDefault("TOP_N_WORDS", 10),
		ReportTemplatePath:   getEnvOrDefault("REPORT_TEMPLATE_PATH", ""), // empty: embedded template
		EnablePreprocessing:  getEnvAsBoolOrDefault("ENABLE_PREPROCESSING", true),
		HealthAddr:           getEnvOrDefault("HEALTH_ADDR", ":8080"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	switch c.ClassifierMode {
	case ClassifierModeLocal:
	case ClassifierModeRemote:
		if c.ClassificationAPIURL == "" {
			return fmt.Errorf("CLASSIFICATION_API_URL is required when CLASSIFIER_MODE=remote")
		}
	default:
		return fmt.Errorf("CLASSIFIER_MODE must be %q or %q, got %q", ClassifierModeRemote, ClassifierModeLocal, c.ClassifierMode)
	}

	switch c.LayoutMode {
	case LayoutModeTesseract:
	case LayoutModeRemote:
		if c.LayoutAPIURL == "" {
			return fmt.Errorf("LAYOUT_API_URL is required when LAYOUT_MODE=remote")
		}
	default:
		return fmt.Errorf("LAYOUT_MODE must be %q or %q, got %q", LayoutModeRemote, LayoutModeTesseract, c.LayoutMode)
	}

	if c.ClientMaxRetries < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}

	if c.TargetCategory == "" {
		return fmt.Errorf("TARGET_CATEGORY is required")
	}

	if c.MinWords < 0 || c.ExpectedParagraphs < 0 {
		return fmt.Errorf("MIN_WORDS and EXPECTED_PARAGRAPHS must not be negative")
	}

	if c.TopNWords < 1 {
		return fmt.Errorf("TOP_N_WORDS must be positive, got %d", c.TopNWords)
	}

	return nil
}

// ProcessingTimeoutDuration returns ProcessingTimeout as a duration
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// ClientTimeoutDuration returns ClientTimeout as a duration
func (c *Config) ClientTimeoutDuration() time.Duration {
	return time.Duration(c.ClientTimeout) * time.Millisecond
}

// CacheTTL returns CacheTTLSeconds as a duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault accepts the strconv.ParseBool spellings
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
