// Package config loads configuration from an optional YAML file with
// environment variable overrides (CHATGRAPH_ prefix).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	History   HistoryConfig    `koanf:"history"`
	Providers []ProviderConfig `koanf:"providers"`
	Tools     []ToolConfig     `koanf:"tools"`
	Pipeline  PipelineConfig   `koanf:"pipeline"`
	Webhook   WebhookConfig    `koanf:"webhook"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// HistoryConfig selects and tunes the history store backend.
type HistoryConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `koanf:"backend"`
	// Path is the sqlite database path (ignored for memory).
	Path string `koanf:"path"`
	// MaxMessages is the retention limit per session; oldest evicted first.
	MaxMessages int `koanf:"max_messages"`
	// TTL is how long an idle session is retained.
	TTL time.Duration `koanf:"ttl"`
}

// ProviderConfig declares one named completion backend.
type ProviderConfig struct {
	// Name is the handle used in provider_config.provider at request time.
	Name string `koanf:"name"`
	// Type selects the registered factory: openai, deepseek, langchain.
	Type    string `koanf:"type"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	// Model is the default model when the request does not name one.
	Model string `koanf:"model"`
}

// ToolConfig declares one external HTTP tool the model may invoke.
type ToolConfig struct {
	Name        string        `koanf:"name"`
	Description string        `koanf:"description"`
	URL         string        `koanf:"url"`
	Method      string        `koanf:"method"`
	Timeout     time.Duration `koanf:"timeout"`
}

type PipelineConfig struct {
	// MaxToolIterations caps the generate -> call_tool cycle.
	MaxToolIterations int `koanf:"max_tool_iterations"`
	// MaxResponseTokens truncates the final response when positive.
	MaxResponseTokens int `koanf:"max_response_tokens"`
}

type WebhookConfig struct {
	// MaxAttempts is the delivery attempt budget per job.
	MaxAttempts int `koanf:"max_attempts"`
	// BaseDelay is the first retry delay; it doubles per attempt.
	BaseDelay time.Duration `koanf:"base_delay"`
	// AttemptTimeout bounds each delivery HTTP call.
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
	// Retention is how long terminal tracking records are kept.
	Retention time.Duration `koanf:"retention"`
}

// Load reads configuration. The file is optional; environment variables
// (CHATGRAPH_SERVER_PORT and friends) win over file values.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("CHATGRAPH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHATGRAPH_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("server.port", 8080)
	k.Set("server.request_timeout", "60s")
	k.Set("history.backend", "memory")
	k.Set("history.max_messages", 50)
	k.Set("history.ttl", "72h")
	k.Set("pipeline.max_tool_iterations", 3)
	k.Set("pipeline.max_response_tokens", 0)
	k.Set("webhook.max_attempts", 3)
	k.Set("webhook.base_delay", "1s")
	k.Set("webhook.attempt_timeout", "10s")
	k.Set("webhook.retention", "24h")
}
