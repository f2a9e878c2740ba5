package config

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "CREDITRUST"

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPgVector = "pgvector"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	GenerationModel     string `envconfig:"GENERATION_MODEL" default:"gpt-4o-mini"`
	GenerationMaxTokens int    `envconfig:"GENERATION_MAX_TOKENS" default:"300"`

	// Client-side throttle for the model endpoint; zero disables it.
	OpenAIRequestsPerSecond float64 `envconfig:"OPENAI_REQUESTS_PER_SECOND" default:"0"`
	OpenAIBurst             int     `envconfig:"OPENAI_BURST" default:"1"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"300"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"50"`
	BatchSize    int `envconfig:"BATCH_SIZE" default:"3000"`
	TopK         int `envconfig:"TOP_K" default:"5"`

	ChunkedPath     string `envconfig:"CHUNKED_PATH" default:"data/processed/chunked/chunked_narratives.csv"`
	StoreBackend    string `envconfig:"STORE_BACKEND" default:"sqlite"`
	VectorStorePath string `envconfig:"VECTOR_STORE_PATH" default:"vector_store/index"`
	Collection      string `envconfig:"COLLECTION" default:"complaints"`
	CheckpointPath  string `envconfig:"CHECKPOINT_PATH" default:"vector_store/embedded_ids.txt"`
	DatabaseURL     string `envconfig:"DATABASE_URL"`
	MigrationsPath  string `envconfig:"MIGRATIONS_PATH" default:"migrations"`

	// Product enumeration offered to interactive callers; "All" is implied.
	Products []string `envconfig:"PRODUCTS" default:"Credit card,Savings account,Mortgage,Debt collection,Payday loan"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeConfiguration, "failed to process config", err)
	}

	return &cfg, nil
}

// Validate reports the first invalid setting as a ConfigurationError.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.EmbeddingModel) == "":
		return domain.NewConfigurationError("EMBEDDING_MODEL", "must be set")
	case strings.TrimSpace(c.GenerationModel) == "":
		return domain.NewConfigurationError("GENERATION_MODEL", "must be set")
	case c.EmbeddingDimensions <= 0:
		return domain.NewConfigurationError("EMBEDDING_DIMENSIONS", "must be positive")
	case c.ChunkSize <= 0:
		return domain.NewConfigurationError("CHUNK_SIZE", "must be positive")
	case c.ChunkOverlap < 0:
		return domain.NewConfigurationError("CHUNK_OVERLAP", "must not be negative")
	case c.ChunkOverlap >= c.ChunkSize:
		return domain.NewConfigurationError("CHUNK_OVERLAP", "must be smaller than CHUNK_SIZE")
	case c.BatchSize <= 0:
		return domain.NewConfigurationError("BATCH_SIZE", "must be positive")
	case c.OpenAIRequestsPerSecond < 0:
		return domain.NewConfigurationError("OPENAI_REQUESTS_PER_SECOND", "must not be negative")
	case c.TopK < 0:
		return domain.NewConfigurationError("TOP_K", "must not be negative")
	case strings.TrimSpace(c.CheckpointPath) == "":
		return domain.NewConfigurationError("CHECKPOINT_PATH", "must be set")
	case strings.TrimSpace(c.Collection) == "":
		return domain.NewConfigurationError("COLLECTION", "must be set")
	}

	switch c.StoreBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.VectorStorePath) == "" {
			return domain.NewConfigurationError("VECTOR_STORE_PATH", "must be set for the sqlite backend")
		}
	case BackendPgVector:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return domain.NewConfigurationError("DATABASE_URL", "must be set for the pgvector backend")
		}
	default:
		return domain.NewConfigurationError("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.StoreBackend))
	}

	return nil
}

// RequireOpenAI checks that the model endpoint can be reached with credentials.
func (c *Config) RequireOpenAI() error {
	if !c.HasOpenAI() {
		return domain.NewConfigurationError("OPENAI_API_KEY", "must be set unless OPENAI_BASE_URL points at a local server")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != "" || c.OpenAIBaseURL != ""
}

// ProductChoices lists the filter options with "All" first.
func (c *Config) ProductChoices() []string {
	choices := make([]string, 0, len(c.Products)+1)
	choices = append(choices, domain.AllProducts)
	for _, p := range c.Products {
		if p = strings.TrimSpace(p); p != "" {
			choices = append(choices, p)
		}
	}
	return choices
}
