// Package config loads service settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type Config struct {
	Port             int           `yaml:"port"`
	DatabaseURL      string        `yaml:"database_url"`
	LogLevel         string        `yaml:"log_level"`
	QuickBooksPath   string        `yaml:"quickbooks_path"`
	RootfiPath       string        `yaml:"rootfi_path"`
	PrimarySource    string        `yaml:"primary_source"`
	MergeTolerance   float64       `yaml:"merge_tolerance"`
	LLMProvider      string        `yaml:"llm_provider"`
	AnthropicAPIKey  string        `yaml:"anthropic_api_key"`
	AnthropicModel   string        `yaml:"anthropic_model"`
	GeminiAPIKey     string        `yaml:"gemini_api_key"`
	GeminiModel      string        `yaml:"gemini_model"`
	NLQTimeout       time.Duration `yaml:"nlq_timeout"`
	ChatHistoryLimit int           `yaml:"chat_history_limit"`
	NatsURL          string        `yaml:"nats_url"`
	NatsToken        string        `yaml:"nats_token"`
	SlackBotToken    string        `yaml:"slack_bot_token"`
	SlackChannel     string        `yaml:"slack_issues_channel"`
	APIToken         string        `yaml:"api_token"`
}

func defaults() Config {
	return Config{
		Port:             8760,
		LogLevel:         "info",
		QuickBooksPath:   "data1.json",
		RootfiPath:       "data2.json",
		PrimarySource:    string(ledger.SourceRootfi),
		MergeTolerance:   1.0,
		LLMProvider:      ProviderAnthropic,
		AnthropicModel:   "claude-sonnet-4-20250514",
		GeminiModel:      "gemini-2.0-flash",
		NLQTimeout:       30 * time.Second,
		ChatHistoryLimit: 20,
	}
}

// Load returns the defaults overlaid with the environment.
func Load() Config {
	return overlayEnv(defaults())
}

// LoadFile overlays a YAML file on the defaults, then the environment.
// An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return overlayEnv(cfg), nil
}

func overlayEnv(c Config) Config {
	return Config{
		Port:             envInt("FINLEDGER_PORT", c.Port),
		DatabaseURL:      envStr("DATABASE_URL", c.DatabaseURL),
		LogLevel:         envStr("LOG_LEVEL", c.LogLevel),
		QuickBooksPath:   envStr("QUICKBOOKS_PATH", c.QuickBooksPath),
		RootfiPath:       envStr("ROOTFI_PATH", c.RootfiPath),
		PrimarySource:    envStr("PRIMARY_SOURCE", c.PrimarySource),
		MergeTolerance:   envFloat("MERGE_TOLERANCE", c.MergeTolerance),
		LLMProvider:      envStr("LLM_PROVIDER", c.LLMProvider),
		AnthropicAPIKey:  envStr("ANTHROPIC_API_KEY", c.AnthropicAPIKey),
		AnthropicModel:   envStr("FINLEDGER_MODEL", c.AnthropicModel),
		GeminiAPIKey:     envStr("GEMINI_API_KEY", c.GeminiAPIKey),
		GeminiModel:      envStr("GEMINI_MODEL", c.GeminiModel),
		NLQTimeout:       envDuration("NLQ_TIMEOUT", c.NLQTimeout),
		ChatHistoryLimit: envInt("CHAT_HISTORY_LIMIT", c.ChatHistoryLimit),
		NatsURL:          envStr("NATS_URL", c.NatsURL),
		NatsToken:        envStr("NATS_TOKEN", c.NatsToken),
		SlackBotToken:    envStr("SLACK_BOT_TOKEN", c.SlackBotToken),
		SlackChannel:     envStr("SLACK_ISSUES_CHANNEL", c.SlackChannel),
		APIToken:         envStr("FINLEDGER_API_TOKEN", c.APIToken),
	}
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := ledger.ParseSource(c.PrimarySource); err != nil {
		errs = append(errs, fmt.Errorf("primary_source: %w", err))
	}
	if c.MergeTolerance < 0 || math.IsNaN(c.MergeTolerance) || math.IsInf(c.MergeTolerance, 0) {
		errs = append(errs, fmt.Errorf("merge_tolerance %v must be a finite value >= 0", c.MergeTolerance))
	}
	switch c.LLMProvider {
	case ProviderAnthropic, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown llm_provider %q", c.LLMProvider))
	}
	if c.NLQTimeout <= 0 {
		errs = append(errs, errors.New("nlq_timeout must be positive"))
	}
	if c.ChatHistoryLimit < 0 {
		errs = append(errs, errors.New("chat_history_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// LLMConfigured reports whether the selected provider has a key.
func (c Config) LLMConfigured() bool {
	switch c.LLMProvider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey != ""
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	}
	return false
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
