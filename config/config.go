package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the deck generation system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Renderer  RendererConfig  `mapstructure:"renderer"`
	Refine    RefineConfig    `mapstructure:"refine"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	MaxJobTime     time.Duration `mapstructure:"max_job_time"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai, mock
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name         string   `mapstructure:"name"`
	APIName      string   `mapstructure:"api_name"`
	MaxTokens    int      `mapstructure:"max_tokens"`
	Temperature  float64  `mapstructure:"temperature"`
	Thinking     bool     `mapstructure:"thinking"` // thinking models get the long timeout
	Vision       bool     `mapstructure:"vision"`
	Capabilities []string `mapstructure:"capabilities"` // pipeline roles this model can serve
}

// LLMRoutingConfig defines which model to use for different pipeline stages
type LLMRoutingConfig struct {
	Storyline string `mapstructure:"storyline"`
	Review    string `mapstructure:"review"`
	Fallback  string `mapstructure:"fallback"`
}

// ResearchConfig contains web research provider settings
type ResearchConfig struct {
	Provider        string        `mapstructure:"provider"` // brave, serper, mock
	BraveAPIKey     string        `mapstructure:"brave_api_key"`
	SerperAPIKey    string        `mapstructure:"serper_api_key"`
	ResultsPerQuery int           `mapstructure:"results_per_query"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// RendererConfig contains deck rendering and screenshot settings
type RendererConfig struct {
	OutputDir        string        `mapstructure:"output_dir"`
	ConverterCommand string        `mapstructure:"converter_command"`
	ConverterTimeout time.Duration `mapstructure:"converter_timeout"`
	MaxSourceEntries int           `mapstructure:"max_source_entries"`
}

// RefineConfig controls the quality refinement loop
type RefineConfig struct {
	MaxIterations   int           `mapstructure:"max_iterations"`
	PassThreshold   int           `mapstructure:"pass_threshold"`
	StandardTimeout time.Duration `mapstructure:"standard_timeout"`
	ThinkingTimeout time.Duration `mapstructure:"thinking_timeout"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings for the progress relay
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("deckgen")
	viper.SetConfigType("json")
	if path != "" {
		viper.AddConfigPath(path)
	}
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("DECKGEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file (optional - will use defaults if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables for sensitive data
	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// research calls fall back to the general timeout when no
	// section-specific one is set
	if config.Research.Timeout == 0 {
		config.Research.Timeout = config.General.DefaultTimeout
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_job_time", "30m")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("server.address", ":10010")

	viper.SetDefault("llm.routing.storyline", "gpt-5")
	viper.SetDefault("llm.routing.review", "gpt-5")
	viper.SetDefault("llm.routing.fallback", "gpt-5-nano")

	viper.SetDefault("research.provider", "mock")
	viper.SetDefault("research.results_per_query", 5)

	viper.SetDefault("renderer.output_dir", "./data/presentations")
	viper.SetDefault("renderer.converter_command", "soffice")
	viper.SetDefault("renderer.converter_timeout", "2m")
	viper.SetDefault("renderer.max_source_entries", 15)

	viper.SetDefault("refine.max_iterations", 5)
	viper.SetDefault("refine.pass_threshold", 70)
	viper.SetDefault("refine.standard_timeout", "2m")
	viper.SetDefault("refine.thinking_timeout", "10m")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

	viper.SetDefault("storage.postgres.host", "")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.db", 0)
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.openai.api_key", apiKey)
	}
	if apiKey := os.Getenv("BRAVE_SEARCH_KEY"); apiKey != "" {
		viper.Set("research.brave_api_key", apiKey)
	}
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		viper.Set("research.serper_api_key", apiKey)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		viper.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.postgres.port", port)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		viper.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		viper.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		viper.Set("storage.postgres.dbname", db)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		viper.Set("storage.redis.addr", addr)
	}
	if secret := os.Getenv("DECKGEN_JWT_SECRET"); secret != "" {
		viper.Set("server.jwt_secret", secret)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Refine.MaxIterations < 1 {
		return fmt.Errorf("refine.max_iterations must be at least 1")
	}
	if config.Refine.PassThreshold < 0 || config.Refine.PassThreshold > 100 {
		return fmt.Errorf("refine.pass_threshold must be in [0,100]")
	}

	// Validate that routing models exist in providers when any are configured
	if len(config.LLM.Providers) == 0 {
		return nil
	}
	routingModels := []string{
		config.LLM.Routing.Storyline,
		config.LLM.Routing.Review,
		config.LLM.Routing.Fallback,
	}
	for _, model := range routingModels {
		if model == "" {
			continue
		}
		found := false
		for _, provider := range config.LLM.Providers {
			for _, providerModel := range provider.Models {
				if providerModel.Name == model {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("routing model '%s' not found in any provider", model)
		}
	}

	return nil
}
