package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration, populated from the environment.
// A .env file in the working directory is loaded first when present.
type Config struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8080"`

	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	ImageFetchTimeout time.Duration `envconfig:"IMAGE_FETCH_TIMEOUT" default:"15s"`
	GenerateTimeout   time.Duration `envconfig:"GENERATE_TIMEOUT" default:"30s"`

	// MaxImageBytes caps a fetched image payload. Defaults to 15 MiB.
	MaxImageBytes      int64 `envconfig:"MAX_IMAGE_BYTES" default:"15728640"`
	MaxRequestBodySize int64 `envconfig:"MAX_REQUEST_BODY_SIZE" default:"1048576"`

	ModelPath         string `envconfig:"MODEL_PATH" default:"models/skin_condition.onnx"`
	ModelMetadataPath string `envconfig:"MODEL_METADATA_PATH" default:"models/skin_condition.json"`

	CorpusDir  string `envconfig:"CORPUS_DIR" default:"knowledge/corpus"`
	IndexDir   string `envconfig:"INDEX_DIR" default:"knowledge/index"`
	RetrievalK int    `envconfig:"RETRIEVAL_K" default:"4"`

	DataDir string `envconfig:"DATA_DIR" default:"data"`

	GeneratorURL   string `envconfig:"GENERATOR_URL" default:"http://localhost:11434"`
	GeneratorModel string `envconfig:"GENERATOR_MODEL" default:"llama3"`

	// Optional shared-key credentials for fetching images out of Azure
	// Blob Storage. When unset, only plain HTTP fetching is available.
	AzureAccountName string `envconfig:"AZURE_ACCOUNT_NAME"`
	AzureAccountKey  string `envconfig:"AZURE_ACCOUNT_KEY"`
}

func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0 (got %d)", c.MaxImageBytes)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.ImageFetchTimeout <= 0 || c.GenerateTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, generate=%s)",
			c.RequestTimeout, c.ImageFetchTimeout, c.GenerateTimeout)
	}
	if c.RetrievalK < 1 {
		return fmt.Errorf("RETRIEVAL_K must be >= 1 (got %d)", c.RetrievalK)
	}
	return nil
}
