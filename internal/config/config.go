// Package config handles switchboard configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/switchboard/internal/email"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/switchboard/config.yaml, /etc/switchboard/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "switchboard", "config.yaml"))
	}

	paths = append(paths, "/etc/switchboard/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all switchboard configuration.
type Config struct {
	Listen      ListenConfig             `yaml:"listen"`
	LogLevel    string                   `yaml:"log_level"`
	LogFormat   string                   `yaml:"log_format"` // text or json
	DataDir     string                   `yaml:"data_dir"`
	LLM         LLMConfig                `yaml:"llm"`
	Router      RouterConfig             `yaml:"router"`
	Handlers    map[string]HandlerConfig `yaml:"handlers"`
	MQTT        MQTTConfig               `yaml:"mqtt"`
	SMTP        email.Config             `yaml:"smtp"`
	Notify      NotifyConfig             `yaml:"notify"`
	CRM         CRMConfig                `yaml:"crm"`
	Diagnostics DiagnosticsConfig        `yaml:"diagnostics"`
	Audit       AuditConfig              `yaml:"audit"`
}

// ListenConfig is the HTTP API listener.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Addr returns the host:port the API listens on.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider  string        `yaml:"provider"` // ollama or openai
	Model     string        `yaml:"model"`    // default model for the supervisor and handlers
	OllamaURL string        `yaml:"ollama_url"`
	OpenAI    OpenAIConfig  `yaml:"openai"`
	Models    []ModelConfig `yaml:"models"`
}

// OpenAIConfig holds credentials for OpenAI or a compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelConfig maps a model name to the provider that serves it, so
// handlers overridden to a different model reach the right backend.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
}

// RouterConfig tunes the supervisor and the conversation loop.
type RouterConfig struct {
	HistoryWindow int `yaml:"history_window"`
	MaxSteps      int `yaml:"max_steps"`
	MaxAuditLog   int `yaml:"max_audit_log"`
}

// HandlerConfig overrides one built-in handler.
type HandlerConfig struct {
	Model    string `yaml:"model"`
	Prompt   string `yaml:"prompt"`
	Sentinel string `yaml:"sentinel"`
	MaxIter  int    `yaml:"max_iter"`
	Disabled bool   `yaml:"disabled"`
}

// MQTTConfig is the broker connection for event ingestion and outcome
// publishing.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TopicPrefix        string `yaml:"topic_prefix"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"` // dispatches per minute; excess waits
	Workers            int    `yaml:"workers"`               // concurrent event dispatches
	StatusIntervalSec  int    `yaml:"status_interval_sec"`
}

// Configured reports whether a broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// NotifyConfig controls customer email notifications.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CRMConfig is the CRM REST API.
type CRMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Configured reports whether the CRM is reachable.
func (c CRMConfig) Configured() bool {
	return c.BaseURL != ""
}

// DiagnosticsConfig points the diagnostic handler at its backends.
type DiagnosticsConfig struct {
	KnowledgeBaseURL string `yaml:"knowledge_base_url"`
	LogSearchURL     string `yaml:"log_search_url"`
	EngineeringEmail string `yaml:"engineering_email"`
}

// AuditConfig is the conversation audit store.
type AuditConfig struct {
	Driver string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	Path   string `yaml:"path"`
}

// LoadDotEnv loads KEY=value pairs from the .env file next to path and
// from the working directory. Variables already set in the environment
// win. A missing file is not an error.
func LoadDotEnv(path string) error {
	candidates := []string{".env"}
	if path != "" {
		if p := filepath.Join(filepath.Dir(path), ".env"); p != ".env" {
			candidates = append([]string{p}, candidates...)
		}
	}
	for _, p := range candidates {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file. A .env file is loaded first
// and ${VAR} references in the YAML are expanded from the environment.
// Defaults fill anything the file leaves unset.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.LLM.Provider == "" {
		if c.LLM.OpenAI.APIKey != "" {
			c.LLM.Provider = "openai"
		} else {
			c.LLM.Provider = "ollama"
		}
	}
	if c.LLM.Model == "" {
		if c.LLM.Provider == "openai" {
			c.LLM.Model = "gpt-4o-mini"
		} else {
			c.LLM.Model = "qwen3:4b"
		}
	}
	if c.LLM.OllamaURL == "" {
		c.LLM.OllamaURL = "http://localhost:11434"
	}
	if c.Router.HistoryWindow == 0 {
		c.Router.HistoryWindow = 5
	}
	if c.Router.MaxSteps == 0 {
		c.Router.MaxSteps = 25
	}
	if c.Router.MaxAuditLog == 0 {
		c.Router.MaxAuditLog = 1000
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "switchboard"
	}
	if c.MQTT.StatusIntervalSec == 0 {
		c.MQTT.StatusIntervalSec = 60
	}
	if c.SMTP.Configured() {
		c.SMTP.ApplyDefaults()
	}
	if c.Audit.Driver == "" {
		c.Audit.Driver = "sqlite3"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataDir, "conversations.db")
	}
}

// Validate checks the configuration for values that cannot work. It
// assumes defaults have been applied.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: must be text or json", c.LogFormat))
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}

	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("llm.openai.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q: must be ollama or openai", c.LLM.Provider))
	}
	for _, m := range c.LLM.Models {
		if m.Provider != "ollama" && m.Provider != "openai" {
			errs = append(errs, fmt.Errorf("llm.models %q: unknown provider %q", m.Name, m.Provider))
		}
	}

	if c.Router.HistoryWindow < 1 {
		errs = append(errs, fmt.Errorf("router.history_window %d: must be at least 1", c.Router.HistoryWindow))
	}
	if c.Router.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("router.max_steps %d: must be at least 1", c.Router.MaxSteps))
	}

	if c.SMTP.Configured() {
		if err := c.SMTP.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("smtp: %w", err))
		}
	}
	if c.Notify.Enabled && !c.SMTP.Configured() {
		errs = append(errs, errors.New("notify.enabled requires smtp.host and smtp.from"))
	}
	if c.MQTT.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("mqtt.rate_limit_per_minute must not be negative"))
	}

	switch c.Audit.Driver {
	case "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q: must be sqlite3 or sqlite", c.Audit.Driver))
	}

	return errors.Join(errs...)
}
