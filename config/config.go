package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the askrepo service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Env       string `mapstructure:"env"`
}

// DatabasesConfig groups the backing stores.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// ProvidersConfig contains external AI provider settings.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// OpenAIConfig configures the embedding provider.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KTokens float64       `mapstructure:"cost_per_1k_tokens"`
}

// GeminiConfig configures the generative provider.
type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
	UploadPollEvery time.Duration `mapstructure:"upload_poll_every"`
	UploadMaxChecks int           `mapstructure:"upload_max_checks"`
}

// CrawlerConfig bounds repository crawling.
type CrawlerConfig struct {
	GitHubToken string        `mapstructure:"github_token"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxFiles    int           `mapstructure:"max_files"`
	Workers     int           `mapstructure:"workers"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// IndexerConfig tunes chunking.
type IndexerConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

// RetrievalConfig tunes similarity search defaults.
type RetrievalConfig struct {
	MinQueryLen int     `mapstructure:"min_query_len"`
	Threshold   float64 `mapstructure:"threshold"`
	Limit       int     `mapstructure:"limit"`
}

// AppConfig is the process-wide configuration, populated by LoadConfig.
var AppConfig Config

// LoadConfig reads configuration from file and ASKREPO_* environment
// variables. Panics on unreadable or invalid config, matching startup-only use.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.env", "dev")
	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.timeout", "30s")
	viper.SetDefault("providers.openai.cost_per_1k_tokens", 0.00002)
	viper.SetDefault("providers.gemini.model", "gemini-1.5-flash")
	viper.SetDefault("providers.gemini.cost_per_1k_input", 0.000075)
	viper.SetDefault("providers.gemini.cost_per_1k_output", 0.0003)
	viper.SetDefault("providers.gemini.upload_poll_every", "2s")
	viper.SetDefault("providers.gemini.upload_max_checks", 60)
	viper.SetDefault("crawler.base_url", "https://api.github.com")
	viper.SetDefault("crawler.max_files", 200)
	viper.SetDefault("crawler.workers", 8)
	viper.SetDefault("crawler.timeout", "30s")
	viper.SetDefault("indexer.chunk_size", 20000)
	viper.SetDefault("retrieval.min_query_len", 12)
	viper.SetDefault("retrieval.threshold", 0.3)
	viper.SetDefault("retrieval.limit", 10)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ASKREPO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// env-only operation is allowed; a missing file is not fatal
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	AppConfig = cfg
	return &cfg
}
