// Package config loads and validates the bot's JSON configuration, with
// ${VAR} / ${VAR:-default} environment expansion.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for dhuBot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Slack    SlackConfig    `json:"slack"`
	Harvest  HarvestConfig  `json:"harvest"`
	Receipt  ReceiptConfig  `json:"receipt"`
	Currency CurrencyConfig `json:"currency"`
	Vault    VaultConfig    `json:"vault"`
	History  HistoryConfig  `json:"history"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	// TempDir holds transient receipt files; empty means the OS default.
	TempDir string `json:"tempDir,omitempty"`
}

type SlackConfig struct {
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type HarvestConfig struct {
	BaseURL        string `json:"baseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type ReceiptConfig struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model,omitempty"`
}

type CurrencyConfig struct {
	BaseCurrency    string `json:"baseCurrency"`
	CacheTTLMinutes int    `json:"cacheTtlMinutes"`
}

type VaultConfig struct {
	Path          string `json:"path"`
	EncryptionKey string `json:"encryptionKey"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
}

// Defaults returns a Config with sensible defaults; Load overlays the file on
// top of it.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Slack: SlackConfig{
			BotToken: "${SLACK_BOT_TOKEN}",
			AppToken: "${SLACK_APP_TOKEN}",
		},
		Harvest: HarvestConfig{
			BaseURL:        "https://api.harvestapp.com/v2",
			TimeoutSeconds: 30,
		},
		Receipt: ReceiptConfig{
			APIKey: "${ANTHROPIC_API_KEY}",
		},
		Currency: CurrencyConfig{
			BaseCurrency:    "USD",
			CacheTTLMinutes: 60,
		},
		Vault: VaultConfig{
			Path:          "~/.dhubot/credentials.json",
			EncryptionKey: "${ENCRYPTION_KEY}",
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "~/.dhubot/history.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
			Path:    "/metrics",
		},
	}
}

// DefaultConfigDir returns the default config directory (~/.dhubot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dhubot"
	}
	return filepath.Join(home, ".dhubot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Vault.Path = ExpandPath(cfg.Vault.Path)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.TempDir = ExpandPath(cfg.General.TempDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Unexpanded ${VAR}
// placeholders are reported so a missing environment variable fails early
// instead of reaching Slack as a literal token.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Slack.BotToken == "" || isUnexpanded(cfg.Slack.BotToken) {
		errs = append(errs, "slack.botToken is required (set SLACK_BOT_TOKEN)")
	}
	if cfg.Slack.AppToken == "" || isUnexpanded(cfg.Slack.AppToken) {
		errs = append(errs, "slack.appToken is required (set SLACK_APP_TOKEN)")
	}
	if cfg.Harvest.TimeoutSeconds < 1 {
		errs = append(errs, "harvest.timeoutSeconds must be >= 1")
	}
	if cfg.Currency.BaseCurrency == "" {
		errs = append(errs, "currency.baseCurrency is required")
	}
	if cfg.Currency.CacheTTLMinutes < 1 {
		errs = append(errs, "currency.cacheTtlMinutes must be >= 1")
	}
	if cfg.Vault.Path == "" {
		errs = append(errs, "vault.path is required")
	}
	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isUnexpanded(value string) bool {
	return strings.HasPrefix(value, "${")
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
