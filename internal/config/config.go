// Package config provides file and environment based configuration for citegraph.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// LLM providers.
const (
	ProviderAuto   = ""
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config holds the citegraph configuration.
type Config struct {
	MaxDepth  int `toml:"max_depth"`
	Workers   int `toml:"workers"`
	Threshold int `toml:"threshold"`

	LLMProvider    string `toml:"llm_provider"`
	LLMModel       string `toml:"llm_model"`
	GeminiAPIKey   string `toml:"gemini_api_key"`
	OpenAIAPIKey   string `toml:"openai_api_key"`
	OpenAIBaseURL  string `toml:"openai_base_url"`
	ScoreCacheSize int    `toml:"score_cache_size"`

	CacheDir          string   `toml:"cache_dir"`
	NoCache           bool     `toml:"no_cache"`
	CacheTTL          duration `toml:"cache_ttl"`
	FetchTimeout      duration `toml:"fetch_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	UserAgent         string   `toml:"user_agent"`
	Insecure          bool     `toml:"insecure"`

	ListenAddr        string   `toml:"listen_addr"`
	AllowedOrigins    []string `toml:"allowed_origins"`
	APIRequestsPerSec float64  `toml:"api_requests_per_second"`

	LogFormat string `toml:"log_format"`
	LogLevel  string `toml:"log_level"`
}

// duration decodes TOML strings such as "10s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cacheDir := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "citegraph")
	}
	return &Config{
		MaxDepth:          2,
		Workers:           1,
		Threshold:         40,
		ScoreCacheSize:    1024,
		CacheDir:          cacheDir,
		CacheTTL:          duration{24 * time.Hour},
		FetchTimeout:      duration{10 * time.Second},
		RequestsPerSecond: 2,
		ListenAddr:        ":5001",
		AllowedOrigins:    []string{"https://isaacamar.github.io", "http://localhost:8000"},
		LogFormat:         "text",
		LogLevel:          "info",
	}
}

// NewConfig loads configuration. A .env file in the working directory is
// loaded first, then the TOML file named by CITEGRAPH_CONFIG, then variables
// prefixed with CITEGRAPH_. Later sources win.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	// A broken file is reported after the environment has been applied.
	var fileErr error
	if path := getEnv("CITEGRAPH_CONFIG", ""); path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			fileErr = fmt.Errorf("load config %s: %w", path, err)
		}
	}

	config.MaxDepth = getEnvAsInt("CITEGRAPH_MAX_DEPTH", config.MaxDepth)
	config.Workers = getEnvAsInt("CITEGRAPH_WORKERS", config.Workers)
	config.Threshold = getEnvAsInt("CITEGRAPH_THRESHOLD", config.Threshold)

	config.LLMProvider = strings.ToLower(getEnv("CITEGRAPH_LLM_PROVIDER", config.LLMProvider))
	config.LLMModel = getEnv("CITEGRAPH_LLM_MODEL", config.LLMModel)
	config.GeminiAPIKey = getEnv("CITEGRAPH_GEMINI_API_KEY", getEnv("GEMINI_API_KEY", config.GeminiAPIKey))
	config.OpenAIAPIKey = getEnv("CITEGRAPH_OPENAI_API_KEY", getEnv("OPENAI_API_KEY", config.OpenAIAPIKey))
	config.OpenAIBaseURL = getEnv("CITEGRAPH_OPENAI_BASE_URL", config.OpenAIBaseURL)
	config.ScoreCacheSize = getEnvAsInt("CITEGRAPH_SCORE_CACHE_SIZE", config.ScoreCacheSize)

	config.CacheDir = getEnv("CITEGRAPH_CACHE_DIR", config.CacheDir)
	config.NoCache = getEnvAsBool("CITEGRAPH_NO_CACHE", config.NoCache)
	config.CacheTTL.Duration = getEnvAsDuration("CITEGRAPH_CACHE_TTL", config.CacheTTL.Duration)
	config.FetchTimeout.Duration = getEnvAsDuration("CITEGRAPH_FETCH_TIMEOUT", config.FetchTimeout.Duration)
	config.RequestsPerSecond = getEnvAsFloat("CITEGRAPH_REQUESTS_PER_SECOND", config.RequestsPerSecond)
	config.UserAgent = getEnv("CITEGRAPH_USER_AGENT", config.UserAgent)
	config.Insecure = getEnvAsBool("CITEGRAPH_INSECURE", config.Insecure)

	config.ListenAddr = getEnv("CITEGRAPH_LISTEN_ADDR", config.ListenAddr)
	if port := getEnv("PORT", ""); port != "" && getEnv("CITEGRAPH_LISTEN_ADDR", "") == "" {
		config.ListenAddr = ":" + port
	}
	if origins := getEnv("CITEGRAPH_ALLOWED_ORIGINS", ""); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	config.APIRequestsPerSec = getEnvAsFloat("CITEGRAPH_API_REQUESTS_PER_SECOND", config.APIRequestsPerSec)

	config.LogFormat = getEnv("CITEGRAPH_LOG_FORMAT", config.LogFormat)
	config.LogLevel = getEnv("CITEGRAPH_LOG_LEVEL", config.LogLevel)

	if fileErr != nil {
		return config, fileErr
	}

	switch config.LLMProvider {
	case ProviderAuto, ProviderGemini, ProviderOpenAI, ProviderNone:
	default:
		return config, fmt.Errorf("unknown llm provider %q", config.LLMProvider)
	}

	return config, nil
}

// Provider resolves ProviderAuto to the first backend with an API key, or
// ProviderNone.
func (c *Config) Provider() string {
	if c.LLMProvider != ProviderAuto {
		return c.LLMProvider
	}
	switch {
	case c.GeminiAPIKey != "":
		return ProviderGemini
	case c.OpenAIAPIKey != "":
		return ProviderOpenAI
	}
	return ProviderNone
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
