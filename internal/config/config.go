// Copyright 2024 Korena Digital Solutions
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the website backend configuration from a YAML file,
// a local .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Inference InferenceConfig `mapstructure:"inference"`
	Chroma    ChromaConfig    `mapstructure:"chroma"`
	KV        KVConfig        `mapstructure:"kv"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Leads     LeadsConfig     `mapstructure:"leads"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
	AllowedOrigin  string `mapstructure:"allowed_origin"`
}

// InferenceConfig contains the embedding, chat and speech service settings.
// Any OpenAI-compatible endpoint works, including Workers AI's /ai/v1 gateway.
type InferenceConfig struct {
	APIKey         string  `mapstructure:"apikey"`
	BaseURL        string  `mapstructure:"base_url"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	ChatModel      string  `mapstructure:"chat_model"`
	SpeechModel    string  `mapstructure:"speech_model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
}

// ChromaConfig contains vector index configuration
type ChromaConfig struct {
	URL            string `mapstructure:"url"`
	CollectionName string `mapstructure:"collection_name"`
	TopK           int    `mapstructure:"top_k"`
}

// KVConfig selects the counter store backend
type KVConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// RateLimitConfig holds the fixed-window thresholds
type RateLimitConfig struct {
	ChatLimit           int `mapstructure:"chat_limit"`
	ChatWindowSeconds   int `mapstructure:"chat_window_seconds"`
	SpeechLimit         int `mapstructure:"speech_limit"`
	SpeechWindowSeconds int `mapstructure:"speech_window_seconds"`
}

// ChatWindow returns the chat window as a duration
func (r RateLimitConfig) ChatWindow() time.Duration {
	return time.Duration(r.ChatWindowSeconds) * time.Second
}

// SpeechWindow returns the speech window as a duration
func (r RateLimitConfig) SpeechWindow() time.Duration {
	return time.Duration(r.SpeechWindowSeconds) * time.Second
}

// LeadsConfig contains webhook delivery settings
type LeadsConfig struct {
	WebhookURL       string `mapstructure:"webhook_url"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BaseDelayMillis  int    `mapstructure:"base_delay_ms"`
	ClientIdentifier string `mapstructure:"client_identifier"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// BaseDelay returns the first backoff delay
func (l LeadsConfig) BaseDelay() time.Duration {
	return time.Duration(l.BaseDelayMillis) * time.Millisecond
}

// CatalogConfig contains the ingestion catalog location
type CatalogConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	EnvFile          string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		EnvFile:          ".env",
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		// A missing .env is normal outside local development.
		_ = godotenv.Load(opts.EnvFile)
	}

	v := viper.New()
	setDefaults(v)

	if err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("KORENA")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.allowed_origin", "*")

	v.SetDefault("inference.base_url", "https://api.openai.com/v1")
	v.SetDefault("inference.embedding_model", "@cf/baai/bge-base-en-v1.5")
	v.SetDefault("inference.chat_model", "@cf/meta/llama-3.1-8b-instruct")
	v.SetDefault("inference.speech_model", "tts-1")
	v.SetDefault("inference.max_tokens", 512)
	v.SetDefault("inference.temperature", 0.7)

	v.SetDefault("chroma.url", "http://localhost:8000")
	v.SetDefault("chroma.collection_name", "korena_docs")
	v.SetDefault("chroma.top_k", 5)

	v.SetDefault("kv.backend", "memory")
	v.SetDefault("kv.redis_addr", "localhost:6379")
	v.SetDefault("kv.redis_db", 0)

	v.SetDefault("ratelimit.chat_limit", 10)
	v.SetDefault("ratelimit.chat_window_seconds", 60)
	v.SetDefault("ratelimit.speech_limit", 20)
	v.SetDefault("ratelimit.speech_window_seconds", 3600)

	v.SetDefault("leads.max_attempts", 3)
	v.SetDefault("leads.base_delay_ms", 1000)
	v.SetDefault("leads.client_identifier", "Korena-Website/1.0")
	v.SetDefault("leads.timeout_seconds", 10)

	v.SetDefault("catalog.db_path", "./catalog.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// setConfigFile sets the configuration file path with fallback logic.
// Running purely from environment variables is allowed.
func setConfigFile(v *viper.Viper, configPath string) error {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":             "inference.apikey",
		"INFERENCE_BASE_URL":         "inference.base_url",
		"CHROMA_URL":                 "chroma.url",
		"KV_BACKEND":                 "kv.backend",
		"REDIS_ADDR":                 "kv.redis_addr",
		"REDIS_PASSWORD":             "kv.redis_password",
		"POWER_AUTOMATE_WEBHOOK_URL": "leads.webhook_url",
		"CATALOG_DB_PATH":            "catalog.db_path",
		"LOG_LEVEL":                  "logging.level",
		"LOG_FORMAT":                 "logging.format",
		"LOG_OUTPUT":                 "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		v.Set("server.port", port)
	}
}

// validateConfig validates the configuration for required fields and valid values.
// The webhook URL is deliberately not required: lead submissions answer with a
// configuration error instead of the whole service refusing to start.
func validateConfig(config *Config) error {
	var errs []ValidationError

	if config.Inference.APIKey == "" {
		errs = append(errs, ValidationError{
			Field:   "inference.apikey",
			Message: "inference API key is required. Set via config file or OPENAI_API_KEY environment variable",
		})
	}

	if config.Chroma.URL == "" {
		errs = append(errs, ValidationError{Field: "chroma.url", Message: "vector index URL is required"})
	}

	if config.Chroma.TopK <= 0 {
		errs = append(errs, ValidationError{Field: "chroma.top_k", Message: "top_k must be greater than 0"})
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: "port must be between 1 and 65535"})
	}

	if config.Inference.MaxTokens <= 0 {
		errs = append(errs, ValidationError{Field: "inference.max_tokens", Message: "max_tokens must be greater than 0"})
	}

	if config.Inference.Temperature < 0 || config.Inference.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "inference.temperature", Message: "temperature must be between 0 and 2"})
	}

	rl := config.RateLimit
	if rl.ChatLimit <= 0 || rl.SpeechLimit <= 0 {
		errs = append(errs, ValidationError{Field: "ratelimit", Message: "limits must be greater than 0"})
	}
	if rl.ChatWindowSeconds <= 0 || rl.SpeechWindowSeconds <= 0 {
		errs = append(errs, ValidationError{Field: "ratelimit", Message: "windows must be greater than 0"})
	}

	if config.Leads.MaxAttempts <= 0 {
		errs = append(errs, ValidationError{Field: "leads.max_attempts", Message: "max_attempts must be greater than 0"})
	}
	if config.Leads.BaseDelayMillis < 0 {
		errs = append(errs, ValidationError{Field: "leads.base_delay_ms", Message: "base_delay_ms must not be negative"})
	}

	validBackends := []string{"memory", "redis"}
	if !contains(validBackends, config.KV.Backend) {
		errs = append(errs, ValidationError{
			Field:   "kv.backend",
			Message: fmt.Sprintf("backend must be one of: %s", strings.Join(validBackends, ", ")),
		})
	}
	if config.KV.Backend == "redis" && config.KV.RedisAddr == "" {
		errs = append(errs, ValidationError{Field: "kv.redis_addr", Message: "redis address is required for the redis backend"})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if config.Catalog.DBPath != "" {
		if err := validateDirectoryExists(filepath.Dir(config.Catalog.DBPath)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "catalog.db_path",
				Message: fmt.Sprintf("catalog directory does not exist: %s", filepath.Dir(config.Catalog.DBPath)),
			})
		}
	}

	if len(errs) > 0 {
		var errorMessages []string
		for _, err := range errs {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.Inference.APIKey != "" {
		masked.Inference.APIKey = maskValue(masked.Inference.APIKey)
	}
	if masked.Leads.WebhookURL != "" {
		masked.Leads.WebhookURL = maskValue(masked.Leads.WebhookURL)
	}
	if masked.KV.RedisPassword != "" {
		masked.KV.RedisPassword = maskValue(masked.KV.RedisPassword)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// WatchConfig reloads the configuration whenever the file changes and hands
// the validated result to callback. Invalid edits are reported through onError
// and the previous configuration stays in effect.
func WatchConfig(configPath string, callback func(*Config), onError func(error)) error {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		return fmt.Errorf("%w: config path is required for watching", ErrMissingRequiredField)
	}

	v := viper.New()
	if err := setConfigFile(v, configPath); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			ValidateRequired: true,
		})
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to reload %s: %w", e.Name, err))
			}
			return
		}
		callback(config)
	})
	v.WatchConfig()

	return nil
}
