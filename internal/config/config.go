package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the silo API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Redis     RedisConfig     `yaml:"redis"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Retry     RetryConfig     `yaml:"retry"`
	Search    SearchConfig    `yaml:"search"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds bearer token settings.
// An empty JWTSecret disables authentication; the requester is then taken from X-User-ID.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Claim     string `yaml:"claim"` // claim holding the user id (default: _id)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// RedisConfig holds the vector index connection and schema settings.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
	CacheEmbeddings  bool     `yaml:"cache_embeddings"`
	CallTimeoutSec   int      `yaml:"call_timeout_sec"`
}

// MongoConfig holds the entity store connection settings.
type MongoConfig struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	ConnectTimeout int    `yaml:"connect_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	CallTimeoutSec int    `yaml:"call_timeout_sec"`
}

// LLMConfig holds chat model settings for keyword extraction and explanations.
type LLMConfig struct {
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	KeywordModel     string `yaml:"keyword_model"`
	ExplanationModel string `yaml:"explanation_model"`
	KeywordCacheSize int    `yaml:"keyword_cache_size"`
	CallTimeoutSec   int    `yaml:"call_timeout_sec"`
}

// JobsConfig holds job-board ingestion settings.
type JobsConfig struct {
	BoardURL        string        `yaml:"board_url"`
	APIKey          string        `yaml:"api_key"`
	APIHost         string        `yaml:"api_host"`
	CountryCode     string        `yaml:"country_code"`
	MaxPages        int           `yaml:"max_pages"`
	TTL             time.Duration `yaml:"ttl"`
	ForceRefresh    bool          `yaml:"force_refresh"`
	RefreshSchedule string        `yaml:"refresh_schedule"` // cron spec, empty = on demand only
	CallTimeoutSec  int           `yaml:"call_timeout_sec"`
}

// RetryConfig holds the shared retry policy for provider and index calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// SearchConfig holds retrieval pipeline settings.
type SearchConfig struct {
	DefaultTopK     int `yaml:"default_top_k"`
	MaxTopK         int `yaml:"max_top_k"`
	CandidateTopK   int `yaml:"candidate_top_k"`
	ExplainTopN     int `yaml:"explain_top_n"`
	CleanupTimeoutS int `yaml:"cleanup_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes raw YAML (with ${VAR} expansion), applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	c.applyStoreDefaults()
	c.applyProviderDefaults()
	c.applyJobsDefaults()

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 4
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 8 * time.Second
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = 0.2
	}

	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 10
	}
	if c.Search.MaxTopK <= 0 {
		c.Search.MaxTopK = 100
	}
	if c.Search.CandidateTopK <= 0 {
		c.Search.CandidateTopK = 50
	}
	// A negative value disables explanations.
	if c.Search.ExplainTopN < 0 {
		c.Search.ExplainTopN = 0
	} else if c.Search.ExplainTopN == 0 {
		c.Search.ExplainTopN = 3
	}
	if c.Search.CleanupTimeoutS <= 0 {
		c.Search.CleanupTimeoutS = 5
	}
	if c.Auth.Claim == "" {
		c.Auth.Claim = "_id"
	}
}

func (c *Config) applyStoreDefaults() {
	if c.Redis.ReadinessTimeout <= 0 {
		c.Redis.ReadinessTimeout = 10
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "silo:"
	}
	if c.Redis.HNSWM <= 0 {
		c.Redis.HNSWM = 16
	}
	if c.Redis.HNSWEFConstruct <= 0 {
		c.Redis.HNSWEFConstruct = 200
	}
	if c.Redis.CallTimeoutSec <= 0 {
		c.Redis.CallTimeoutSec = 5
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "silo"
	}
	if c.Mongo.ConnectTimeout <= 0 {
		c.Mongo.ConnectTimeout = 10
	}
}

func (c *Config) applyProviderDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-ada-002"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.CallTimeoutSec <= 0 {
		c.Embedding.CallTimeoutSec = 15
	}
	// LLM falls back to the embedding credentials when not set separately.
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = c.Embedding.APIKey
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = c.Embedding.BaseURL
	}
	if c.LLM.KeywordModel == "" {
		c.LLM.KeywordModel = "gpt-4o-mini"
	}
	if c.LLM.ExplanationModel == "" {
		c.LLM.ExplanationModel = c.LLM.KeywordModel
	}
	if c.LLM.KeywordCacheSize <= 0 {
		c.LLM.KeywordCacheSize = 512
	}
	if c.LLM.CallTimeoutSec <= 0 {
		c.LLM.CallTimeoutSec = 30
	}
}

func (c *Config) applyJobsDefaults() {
	if c.Jobs.TTL <= 0 {
		c.Jobs.TTL = 24 * time.Hour
	}
	if c.Jobs.MaxPages <= 0 {
		c.Jobs.MaxPages = 1
	}
	if c.Jobs.CountryCode == "" {
		c.Jobs.CountryCode = "us"
	}
	if c.Jobs.CallTimeoutSec <= 0 {
		c.Jobs.CallTimeoutSec = 30
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs is required")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0, 1], got %g", c.Retry.Jitter)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay (%s) must not be less than retry.base_delay (%s)",
			c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if c.Jobs.RefreshSchedule != "" && c.Jobs.BoardURL == "" {
		return fmt.Errorf("jobs.board_url is required when jobs.refresh_schedule is set")
	}
	return nil
}

// Seconds converts a config integer of seconds into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
