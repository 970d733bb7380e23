package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Generation provider selection: "openai" or "bedrock"
	LLMProvider string

	// OpenAI configuration (generation and embeddings)
	OpenAI OpenAIConfig

	// AWS Bedrock configuration (alternate generation backend)
	Bedrock BedrockConfig

	// API key issuance defaults
	Keys KeyConfig

	// Retrieval pipeline configuration
	RAG RAGConfig

	// HTTP configuration
	HTTP HTTPConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	// EmbeddingDims is the fixed output dimensionality of the embedding
	// model. Every stored chunk vector must have exactly this size.
	EmbeddingDims int
	MaxTokens     int
}

// BedrockConfig holds AWS Bedrock configuration
type BedrockConfig struct {
	Region           string
	ModelID          string
	MaxTokens        int
	AnthropicVersion string
}

// KeyConfig holds server-controlled defaults applied to newly issued keys.
// Limits are never client-supplied.
type KeyConfig struct {
	DefaultRatePerMinute int
	DefaultMonthlyLimit  int
}

// RAGConfig holds chunking and retrieval configuration
type RAGConfig struct {
	ChunkSize          int
	TopK               int
	CandidatePool      int
	HistoryTurns       int
	UpstreamTimeoutSec int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port               int
	CORSAllowedOrigins string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		LLMProvider: getEnvString("LLM_PROVIDER", "openai"),
		OpenAI: OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			Model:          getEnvString("OPENAI_MODEL", "gpt-4o"),
			EmbeddingModel: getEnvString("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDims:  getEnvInt("OPENAI_EMBEDDING_DIMS", 1536),
			MaxTokens:      getEnvInt("OPENAI_MAX_TOKENS", 4096),
		},
		Bedrock: BedrockConfig{
			Region:           os.Getenv("AWS_REGION"),
			ModelID:          os.Getenv("BEDROCK_MODEL_ID"),
			MaxTokens:        getEnvInt("BEDROCK_MAX_TOKENS", 4096),
			AnthropicVersion: getEnvString("BEDROCK_ANTHROPIC_VERSION", "bedrock-2023-05-31"),
		},
		Keys: KeyConfig{
			DefaultRatePerMinute: getEnvInt("API_KEY_RATE_PER_MINUTE", 60),
			DefaultMonthlyLimit:  getEnvInt("API_KEY_MONTHLY_LIMIT", 10000),
		},
		RAG: RAGConfig{
			ChunkSize:          getEnvInt("RAG_CHUNK_SIZE", 1000),
			TopK:               getEnvInt("RAG_TOP_K", 5),
			CandidatePool:      getEnvInt("RAG_CANDIDATE_POOL", 50),
			HistoryTurns:       getEnvInt("RAG_HISTORY_TURNS", 6),
			UpstreamTimeoutSec: getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 60),
		},
		HTTP: HTTPConfig{
			Port:               getEnvInt("HTTP_PORT", 8080),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.LLMProvider != "openai" && c.LLMProvider != "bedrock" {
		return fmt.Errorf("LLM_PROVIDER must be openai or bedrock, got %q", c.LLMProvider)
	}
	if c.OpenAI.EmbeddingDims <= 0 {
		return fmt.Errorf("OPENAI_EMBEDDING_DIMS must be positive, got %d", c.OpenAI.EmbeddingDims)
	}
	if c.Keys.DefaultRatePerMinute < 0 {
		return fmt.Errorf("API_KEY_RATE_PER_MINUTE must not be negative, got %d", c.Keys.DefaultRatePerMinute)
	}
	if c.Keys.DefaultMonthlyLimit < 0 {
		return fmt.Errorf("API_KEY_MONTHLY_LIMIT must not be negative, got %d", c.Keys.DefaultMonthlyLimit)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("RAG_CHUNK_SIZE must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("RAG_TOP_K must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.CandidatePool < c.RAG.TopK {
		return fmt.Errorf("RAG_CANDIDATE_POOL must be at least RAG_TOP_K, got %d < %d", c.RAG.CandidatePool, c.RAG.TopK)
	}
	if c.RAG.UpstreamTimeoutSec <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT_SECONDS must be positive, got %d", c.RAG.UpstreamTimeoutSec)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be a valid port, got %d", c.HTTP.Port)
	}
	return nil
}

// HasDatabase returns true if a database URL is configured
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// getEnvString returns the environment variable value or a default
func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL: "",
		},
		LLMProvider: "openai",
		OpenAI: OpenAIConfig{
			APIKey:         "",
			Model:          "gpt-4o",
			EmbeddingModel: "text-embedding-3-small",
			EmbeddingDims:  1536,
			MaxTokens:      4096,
		},
		Bedrock: BedrockConfig{
			MaxTokens:        4096,
			AnthropicVersion: "bedrock-2023-05-31",
		},
		Keys: KeyConfig{
			DefaultRatePerMinute: 60,
			DefaultMonthlyLimit:  10000,
		},
		RAG: RAGConfig{
			ChunkSize:          1000,
			TopK:               5,
			CandidatePool:      50,
			HistoryTurns:       6,
			UpstreamTimeoutSec: 60,
		},
		HTTP: HTTPConfig{
			Port:               8080,
			CORSAllowedOrigins: "*",
		},
	}
}
