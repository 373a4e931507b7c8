package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's config.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("crm:\n  api_key: ${SWITCHBOARD_TEST_TOKEN}\n"), 0600)
	t.Setenv("SWITCHBOARD_TEST_TOKEN", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.CRM.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.CRM.APIKey, "secret123")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("llm:\n  openai:\n    api_key: ${SWITCHBOARD_DOTENV_KEY}\n"), 0600)
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SWITCHBOARD_DOTENV_KEY=sk-from-dotenv\n"), 0600)
	t.Cleanup(func() { os.Unsetenv("SWITCHBOARD_DOTENV_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-from-dotenv" {
		t.Errorf("api_key = %q, want %q", cfg.LLM.OpenAI.APIKey, "sk-from-dotenv")
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider = %q, want openai when an api key is set", cfg.LLM.Provider)
	}
}

func TestLoad_InlineValuesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
listen:
  port: 9090
router:
  history_window: 8
handlers:
  diagnostic:
    model: gpt-4o
    max_iter: 3
mqtt:
  broker: mqtt://localhost:1883
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 9090 || cfg.Router.HistoryWindow != 8 {
		t.Errorf("listen.port = %d, history_window = %d", cfg.Listen.Port, cfg.Router.HistoryWindow)
	}
	if cfg.Router.MaxSteps != 25 || cfg.Router.MaxAuditLog != 1000 {
		t.Errorf("router defaults = %+v", cfg.Router)
	}
	if h := cfg.Handlers["diagnostic"]; h.Model != "gpt-4o" || h.MaxIter != 3 {
		t.Errorf("handlers.diagnostic = %+v", h)
	}
	if !cfg.MQTT.Configured() || cfg.MQTT.TopicPrefix != "switchboard" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Audit.Path != filepath.Join("./db", "conversations.db") {
		t.Errorf("audit.path = %q", cfg.Audit.Path)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen: [\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load with invalid YAML should error")
	}
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model == "" {
		t.Errorf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Listen.Addr() != ":8080" {
		t.Errorf("Addr() = %q, want :8080", cfg.Listen.Addr())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad port", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }, "api_key"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.provider"},
		{"zero window", func(c *Config) { c.Router.HistoryWindow = -1 }, "history_window"},
		{"notify without smtp", func(c *Config) { c.Notify.Enabled = true }, "notify.enabled"},
		{"bad audit driver", func(c *Config) { c.Audit.Driver = "postgres" }, "audit.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q", a.Value.String())
	}
	a = ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if a.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level changed to %v", a.Value)
	}
}
