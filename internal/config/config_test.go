package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"slack": {"botToken": "xoxb-test", "appToken": "xapp-test"},
		"vault": {"path": "/tmp/creds.json", "encryptionKey": "secret"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Harvest.BaseURL != "https://api.harvestapp.com/v2" {
		t.Errorf("harvest base url default = %q", cfg.Harvest.BaseURL)
	}
	if cfg.Currency.BaseCurrency != "USD" || cfg.Currency.CacheTTLMinutes != 60 {
		t.Errorf("currency defaults = %+v", cfg.Currency)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("log level default = %q", cfg.General.LogLevel)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "xoxb-from-env")
	path := writeConfig(t, `{
		"slack": {"botToken": "${TEST_BOT_TOKEN}", "appToken": "${MISSING_TOKEN:-xapp-default}"},
		"vault": {"path": "/tmp/creds.json", "encryptionKey": "secret"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Slack.BotToken != "xoxb-from-env" {
		t.Errorf("botToken = %q, want expanded env value", cfg.Slack.BotToken)
	}
	if cfg.Slack.AppToken != "xapp-default" {
		t.Errorf("appToken = %q, want fallback default", cfg.Slack.AppToken)
	}
}

func TestLoadRejectsUnexpandedTokens(t *testing.T) {
	path := writeConfig(t, `{
		"slack": {"botToken": "${UNSET_VAR_FOR_TEST}", "appToken": "xapp-test"},
		"vault": {"path": "/tmp/creds.json"}
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for unexpanded token")
	}
	if !strings.Contains(err.Error(), "slack.botToken") {
		t.Errorf("error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Slack.BotToken = "xoxb-test"
		cfg.Slack.AppToken = "xapp-test"
		cfg.Vault.EncryptionKey = "secret"
		return cfg
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.General.LogLevel = "verbose" }, "logLevel"},
		{"missing bot token", func(c *Config) { c.Slack.BotToken = "" }, "botToken"},
		{"zero harvest timeout", func(c *Config) { c.Harvest.TimeoutSeconds = 0 }, "timeoutSeconds"},
		{"empty base currency", func(c *Config) { c.Currency.BaseCurrency = "" }, "baseCurrency"},
		{"empty vault path", func(c *Config) { c.Vault.Path = "" }, "vault.path"},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "metrics.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %v does not mention %s", err, tt.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Defaults()
	cfg.Slack.BotToken = "xoxb-save"
	cfg.Slack.AppToken = "xapp-save"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Slack.BotToken != "xoxb-save" {
		t.Errorf("round trip botToken = %q", loaded.Slack.BotToken)
	}
}
