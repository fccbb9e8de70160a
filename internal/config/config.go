// Package config loads application configuration from .pulse.yaml, the
// environment and .env files, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	AI        AI        `mapstructure:"ai"`
	Server    Server    `mapstructure:"server"`
	Ingest    Ingest    `mapstructure:"ingest"`
	Sources   []Source  `mapstructure:"sources"`
	Tags      Tags      `mapstructure:"tags"`
	Analytics Analytics `mapstructure:"analytics"`
}

// App holds general application configuration.
type App struct {
	Debug               bool   `mapstructure:"debug"`
	LogLevel            string `mapstructure:"log_level"`
	DataDir             string `mapstructure:"data_dir"`
	DisplayTimeZone     string `mapstructure:"display_time_zone"`
	DebugClassification bool   `mapstructure:"debug_classification"`
}

// AI holds LLM and embedding configuration.
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration.
type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
	MaxTokens           int32   `mapstructure:"max_tokens"`
	Temperature         float32 `mapstructure:"temperature"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORS         CORS          `mapstructure:"cors"`
}

// CORS holds cross-origin settings for the HTTP server.
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Ingest holds orchestrator settings.
type Ingest struct {
	CalendarChunkDays int `mapstructure:"calendar_chunk_days"`
	FeedChunkDays     int `mapstructure:"feed_chunk_days"`
	LookbackDays      int `mapstructure:"lookback_days"`
	LookaheadDays     int `mapstructure:"lookahead_days"`
}

// Source configures one external calendar or feed backend.
type Source struct {
	ID         string `mapstructure:"id"`
	Type       string `mapstructure:"type"` // google-calendar, json-feed, webpage
	URL        string `mapstructure:"url"`
	CalendarID string `mapstructure:"calendar_id"`
	Label      string `mapstructure:"label"`
	APIKey     string `mapstructure:"api_key"`
	TimeZone   string `mapstructure:"time_zone"`
}

// Tags holds the per-deployment tag blocklist.
type Tags struct {
	Blocked []string `mapstructure:"blocked"`
}

// Analytics holds optional PostHog settings.
type Analytics struct {
	PostHog PostHogConfig `mapstructure:"posthog"`
}

// PostHogConfig holds PostHog analytics configuration.
type PostHogConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads configuration from .env, config file and environment.
// Environment variables use the PULSE_ prefix with underscores, e.g.
// PULSE_SERVER_PORT; provider keys keep their conventional names.
func Load() (*Config, error) {
	// .env is optional; real deployments use plain environment variables.
	_ = godotenv.Load()

	v := viper.GetViper()
	v.SetConfigName(".pulse")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.data_dir", ".pulse-data")
	v.SetDefault("app.display_time_zone", "America/Los_Angeles")

	v.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	v.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("ai.gemini.embedding_dimensions", 768)
	v.SetDefault("ai.gemini.max_tokens", 2048)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.cors.enabled", true)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})

	v.SetDefault("ingest.calendar_chunk_days", 7)
	v.SetDefault("ingest.feed_chunk_days", 15)
	v.SetDefault("ingest.lookback_days", 1)
	v.SetDefault("ingest.lookahead_days", 30)
}

// applyEnvOverrides honors the conventional un-prefixed variable names used
// by deployments alongside the PULSE_* scheme.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.AI.Gemini.APIKey = key
	}
	if key := os.Getenv("API_KEY"); key != "" && cfg.Server.APIKey == "" {
		cfg.Server.APIKey = key
	}
	if tz := os.Getenv("DISPLAY_TIME_ZONE"); tz != "" {
		cfg.App.DisplayTimeZone = tz
	}
	if os.Getenv("DEBUG_CLASSIFICATION") == "true" {
		cfg.App.DebugClassification = true
	}
	if key := os.Getenv("POSTHOG_API_KEY"); key != "" {
		cfg.Analytics.PostHog.APIKey = key
		cfg.Analytics.PostHog.Enabled = true
	}
}

// ValidateForServe checks the configuration needed to run the HTTP server.
// Missing keys are a startup-time fatal, not a request-time error.
func (c *Config) ValidateForServe() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("server API key is required: set API_KEY or server.api_key")
	}
	return nil
}

// ValidateForIngest checks the configuration needed to run ingestion.
func (c *Config) ValidateForIngest() error {
	if c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("gemini API key is required: set GEMINI_API_KEY or ai.gemini.api_key")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("no sources configured: add a sources entry to .pulse.yaml")
	}
	return nil
}

// GetPostHogConfig returns analytics settings for the observability layer.
func GetPostHogConfig() PostHogConfig {
	return PostHogConfig{
		Enabled:  viper.GetBool("analytics.posthog.enabled") || os.Getenv("POSTHOG_API_KEY") != "",
		APIKey:   firstNonEmpty(os.Getenv("POSTHOG_API_KEY"), viper.GetString("analytics.posthog.api_key")),
		Endpoint: viper.GetString("analytics.posthog.endpoint"),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
