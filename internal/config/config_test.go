package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		RedisURL:           "redis://localhost:6379",
		DatabaseURL:        "postgres://localhost/docanalysis",
		QueueBackend:       QueueBackendRedis,
		WorkerConcurrency:  4,
		ProcessingTimeout:  300000,
		MaxFileSize:        52428800,
		ClassifierMode:     ClassifierModeLocal,
		LayoutMode:         LayoutModeRemote,
		LayoutAPIURL:       "http://layout:8001",
		TargetCategory:     "scientific_publication",
		MinWords:           2000,
		ExpectedParagraphs: 8,
		TopNWords:          10,
		ReportTemplatePath: "templates/compliance_report.md",
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docanalysis")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, "docanalysis:jobs", cfg.QueueName)
	assert.Equal(t, ClassifierModeLocal, cfg.ClassifierMode)
	assert.Equal(t, LayoutModeRemote, cfg.LayoutMode)
	assert.Equal(t, "scientific_publication", cfg.TargetCategory)
	assert.Equal(t, 2000, cfg.MinWords)
	assert.Equal(t, 8, cfg.ExpectedParagraphs)
	assert.Equal(t, 10, cfg.TopNWords)
	assert.True(t, cfg.EnableCache)
	assert.True(t, cfg.EnablePreprocessing)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingTimeoutDuration())
	assert.Equal(t, time.Minute, cfg.ClientTimeoutDuration())
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/docanalysis")
	t.Setenv("QUEUE_BACKEND", "ASYNQ")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("CLASSIFIER_MODE", "remote")
	t.Setenv("CLASSIFICATION_API_URL", "http://classifier:8000/")
	t.Setenv("ENABLE_CACHE", "false")
	t.Setenv("MIN_WORDS", "1500")
	t.Setenv("TOP_N_WORDS", "not-a-number")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, QueueBackendAsynq, cfg.QueueBackend)
	assert.Equal(t, 12, cfg.WorkerConcurrency)
	assert.Equal(t, "http://classifier:8000", cfg.ClassificationAPIURL)
	assert.False(t, cfg.EnableCache)
	assert.Equal(t, 1500, cfg.MinWords)
	assert.Equal(t, 10, cfg.TopNWords)
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.QueueBackend = "kafka" }, "QUEUE_BACKEND"},
		{"concurrency too high", func(c *Config) { c.WorkerConcurrency = 500 }, "WORKER_CONCURRENCY"},
		{"timeout too short", func(c *Config) { c.ProcessingTimeout = 10 }, "PROCESSING_TIMEOUT"},
		{"file size too small", func(c *Config) { c.MaxFileSize = 10 }, "MAX_FILE_SIZE"},
		{"remote classifier without url", func(c *Config) { c.ClassifierMode = ClassifierModeRemote }, "CLASSIFICATION_API_URL"},
		{"unknown classifier mode", func(c *Config) { c.ClassifierMode = "magic" }, "CLASSIFIER_MODE"},
		{"remote layout without url", func(c *Config) { c.LayoutAPIURL = "" }, "LAYOUT_API_URL"},
		{"tesseract layout needs no url", func(c *Config) { c.LayoutMode = LayoutModeTesseract; c.LayoutAPIURL = "" }, ""},
		{"unknown layout mode", func(c *Config) { c.LayoutMode = "yolo" }, "LAYOUT_MODE"},
		{"negative retries", func(c *Config) { c.ClientMaxRetries = -1 }, "retry"},
		{"empty target", func(c *Config) { c.TargetCategory = "" }, "TARGET_CATEGORY"},
		{"negative min words", func(c *Config) { c.MinWords = -1 }, "MIN_WORDS"},
		{"zero top n", func(c *Config) { c.TopNWords = 0 }, "TOP_N_WORDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
