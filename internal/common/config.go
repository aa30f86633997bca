package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Rules      RulesConfig
	Pipeline   PipelineConfig
	Extraction ExtractionConfig
	Classifier ClassifierConfig
	Worker     WorkerConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN string
}

// RulesConfig holds the routing rule file location
type RulesConfig struct {
	Path string
}

// PipelineConfig holds the routing decision knobs
type PipelineConfig struct {
	ConfidenceThreshold float64
	ForceReviewDocTypes map[string]struct{}
	UrgencyHighKeywords []string
}

// ExtractionConfig holds remote text-extraction provider configuration
type ExtractionConfig struct {
	Provider string // "local" or "remote"
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// RatePerSecond bounds calls to the remote provider.
	RatePerSecond float64
}

// ClassifierConfig holds classification provider configuration
type ClassifierConfig struct {
	Provider    string // "keywords" or "openai"
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// WorkerConfig holds durable job worker configuration
type WorkerConfig struct {
	Enabled      bool
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	LeaseTTL     time.Duration
	RunTimeout   time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN: getEnv("TRIAGE_DB_DSN", "file:triage.db"),
		},
		Rules: RulesConfig{
			Path: getEnv("TRIAGE_RULES_PATH", "data/document_rules.yaml"),
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: getEnvAsFloat64("TRIAGE_CONFIDENCE_THRESHOLD", 0.82),
			ForceReviewDocTypes: getEnvAsSet("TRIAGE_FORCE_REVIEW_DOC_TYPES"),
			UrgencyHighKeywords: getEnvAsList("TRIAGE_URGENCY_KEYWORDS",
				[]string{"urgent", "immediate", "emergency", "deadline", "hearing date", "time sensitive"}),
		},
		Extraction: ExtractionConfig{
			Provider:      getEnv("TRIAGE_OCR_PROVIDER", "local"),
			Endpoint:      getEnv("TRIAGE_OCR_ENDPOINT", ""),
			APIKey:        getEnv("TRIAGE_OCR_API_KEY", ""),
			Timeout:       getEnvAsDuration("TRIAGE_OCR_TIMEOUT", 60*time.Second),
			RatePerSecond: getEnvAsFloat64("TRIAGE_OCR_RATE_PER_SECOND", 2),
		},
		Classifier: ClassifierConfig{
			Provider:    getEnv("TRIAGE_CLASSIFIER_PROVIDER", "keywords"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Worker: WorkerConfig{
			Enabled:      getEnvAsBool("TRIAGE_WORKER_ENABLED", true),
			Workers:      getEnvAsInt("TRIAGE_WORKER_COUNT", 4),
			PollInterval: getEnvAsDuration("TRIAGE_WORKER_POLL_INTERVAL", 2*time.Second),
			MaxAttempts:  getEnvAsInt("TRIAGE_WORKER_MAX_ATTEMPTS", 3),
			BackoffBase:  getEnvAsDuration("TRIAGE_WORKER_BACKOFF_BASE", 10*time.Second),
			BackoffCap:   getEnvAsDuration("TRIAGE_WORKER_BACKOFF_CAP", 10*time.Minute),
			LeaseTTL:     getEnvAsDuration("TRIAGE_WORKER_LEASE_TTL", 5*time.Minute),
			RunTimeout:   getEnvAsDuration("TRIAGE_WORKER_RUN_TIMEOUT", 3*time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsSet(key string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, item := range strings.Split(os.Getenv(key), ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.ToLower(item))
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "TRIAGE_DB_DSN is required", ErrInvalidInput)
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "TRIAGE_CONFIDENCE_THRESHOLD must be within [0,1]", ErrInvalidInput)
	}
	if c.Extraction.Provider == "remote" && c.Extraction.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "TRIAGE_OCR_ENDPOINT is required for the remote extraction provider", ErrInvalidInput)
	}
	if c.Classifier.Provider == "openai" && c.Classifier.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required for the openai classifier", ErrInvalidInput)
	}
	if c.Worker.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "TRIAGE_WORKER_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	return nil
}
