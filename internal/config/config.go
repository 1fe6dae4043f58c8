// Package config loads curatord configuration from defaults, a YAML file
// and CURATORD_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete curatord configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Storage      StorageConfig      `koanf:"storage"`
	LLM          LLMConfig          `koanf:"llm"`
	NATS         NATSConfig         `koanf:"nats"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	Heartbeat       Duration `koanf:"heartbeat"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	Provider        string   `koanf:"provider"`
	Model           string   `koanf:"model"`
	BaseURL         string   `koanf:"base_url"`
	APIKey          Secret   `koanf:"api_key"`
	MaxTokens       int      `koanf:"max_tokens"`
	Temperature     float64  `koanf:"temperature"`
	RateLimit       float64  `koanf:"rate_limit"`
	Burst           int      `koanf:"burst"`
	MaxRetries      int      `koanf:"max_retries"`
	Timeout         Duration `koanf:"timeout"`
	CostPer1KTokens float64  `koanf:"cost_per_1k_tokens"`
}

// NATSConfig configures the optional event bridge.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// OrchestratorConfig tunes workflow execution.
type OrchestratorConfig struct {
	TemplatesDir      string `koanf:"templates_dir"`
	WatchTemplates    bool   `koanf:"watch_templates"`
	ActionHistorySize int    `koanf:"action_history_size"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8420,
			ShutdownTimeout: Duration(10 * time.Second),
			Heartbeat:       Duration(15 * time.Second),
		},
		Storage: StorageConfig{Path: "~/.local/share/curatord/curatord.db"},
		LLM: LLMConfig{
			Provider:    "stub",
			MaxTokens:   2048,
			Temperature: 0.4,
			RateLimit:   2,
			Burst:       4,
			MaxRetries:  3,
			Timeout:     Duration(60 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "curatord.events",
		},
		Orchestrator: OrchestratorConfig{ActionHistorySize: 100},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "curatord",
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

var validProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true, "stub": true}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("unknown llm provider %q (want openai, anthropic, ollama or stub)", c.LLM.Provider)
	}
	if (c.LLM.Provider == "openai" || c.LLM.Provider == "anthropic") && !c.LLM.APIKey.IsSet() {
		return fmt.Errorf("llm api key is required for provider %s", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}
	if c.LLM.CostPer1KTokens < 0 {
		return errors.New("llm cost per 1k tokens cannot be negative")
	}
	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.SubjectPrefix == "") {
		return errors.New("nats url and subject prefix are required when nats is enabled")
	}
	if c.Orchestrator.WatchTemplates && c.Orchestrator.TemplatesDir == "" {
		return errors.New("orchestrator templates_dir is required to watch templates")
	}
	if c.Orchestrator.ActionHistorySize < 0 {
		return errors.New("orchestrator action history size cannot be negative")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" || c.Telemetry.ServiceName == "" {
			return errors.New("telemetry endpoint and service name are required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry protocol must be grpc or http, got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample rate must be within [0, 1], got %v", c.Telemetry.SampleRate)
		}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
