package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the marqo-haystack service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Marqo     MarqoConfig     `yaml:"marqo"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// MarqoConfig holds the Marqo connection and index settings.
type MarqoConfig struct {
	URL               string         `yaml:"url"`
	APIKey            string         `yaml:"api_key"`
	Index             string         `yaml:"index"`
	ClientBatchSize   int            `yaml:"client_batch_size"`
	RequestTimeoutSec int            `yaml:"request_timeout_sec"`
	SearchMethod      string         `yaml:"search_method"` // TENSOR, LEXICAL, HYBRID
	Settings          map[string]any `yaml:"settings"`      // used only when the index is created
}

// RetrieverConfig holds retrieval defaults.
type RetrieverConfig struct {
	TopK              int            `yaml:"top_k"`
	SearchConcurrency int            `yaml:"search_concurrency"`
	Filters           map[string]any `yaml:"filters"`
}

// Load reads configuration from config/<env>.yaml (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Substitute env variables of the form ${VAR}
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
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Marqo.URL == "" {
		c.Marqo.URL = "http://localhost:8882"
	}
	if c.Marqo.Index == "" {
		c.Marqo.Index = "documents"
	}
	if c.Marqo.ClientBatchSize <= 0 {
		c.Marqo.ClientBatchSize = 4
	}
	if c.Marqo.RequestTimeoutSec <= 0 {
		c.Marqo.RequestTimeoutSec = 60
	}
	if c.Marqo.SearchMethod == "" {
		c.Marqo.SearchMethod = "TENSOR"
	}
	c.Marqo.SearchMethod = strings.ToUpper(c.Marqo.SearchMethod)
	if c.Retriever.TopK <= 0 {
		c.Retriever.TopK = 10
	}
	if c.Retriever.SearchConcurrency <= 0 {
		c.Retriever.SearchConcurrency = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !strings.HasPrefix(c.Marqo.URL, "http://") && !strings.HasPrefix(c.Marqo.URL, "https://") {
		return fmt.Errorf("marqo.url must be an http(s) URL, got %q", c.Marqo.URL)
	}
	switch c.Marqo.SearchMethod {
	case "TENSOR", "LEXICAL", "HYBRID":
		// ok
	default:
		return fmt.Errorf(
			"marqo.search_method must be \"TENSOR\", \"LEXICAL\" or \"HYBRID\", got %q",
			c.Marqo.SearchMethod,
		)
	}
	for i, k := range c.Auth.APIKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("auth.api_keys[%d] is empty", i)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
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

// Default returns the configuration used when no config file exists.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}
