package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/henry-yukit-rp/dhuBot/internal/channel"
	"github.com/henry-yukit-rp/dhuBot/internal/config"
	"github.com/henry-yukit-rp/dhuBot/internal/currency"
	"github.com/henry-yukit-rp/dhuBot/internal/domain"
	"github.com/henry-yukit-rp/dhuBot/internal/harvest"
	"github.com/henry-yukit-rp/dhuBot/internal/history"
	"github.com/henry-yukit-rp/dhuBot/internal/metrics"
	"github.com/henry-yukit-rp/dhuBot/internal/receipt"
	"github.com/henry-yukit-rp/dhuBot/internal/store"
	"github.com/henry-yukit-rp/dhuBot/internal/vault"
	"github.com/henry-yukit-rp/dhuBot/internal/workflow"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "dhubot",
		Short: "dhuBot: Slack expense reimbursement bot",
		Long:  "dhuBot submits expense reimbursements to Harvest from Slack, with AI receipt extraction.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.dhubot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(genkeyCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("dhubot", version)
		},
	}
}

func genkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a fresh credential encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Re-encrypt any plaintext-stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			v := vault.New(cfg.Vault.Path, vault.NewCipher(cfg.Vault.EncryptionKey), logger)
			n, err := v.MigrateLegacy()
			if err != nil {
				return err
			}
			logger.Info("credential migration complete", "migrated", n)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Slack gateway",
		RunE:  run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Credential vault, with a startup pass over any plaintext leftovers.
	credVault := vault.New(cfg.Vault.Path, vault.NewCipher(cfg.Vault.EncryptionKey), logger)
	if n, err := credVault.MigrateLegacy(); err != nil {
		logger.Warn("legacy credential migration failed", "error", err)
	} else if n > 0 {
		logger.Info("re-encrypted legacy credentials", "count", n)
	}

	converter := currency.New(currency.Config{
		BaseCurrency: cfg.Currency.BaseCurrency,
		CacheTTL:     time.Duration(cfg.Currency.CacheTTLMinutes) * time.Minute,
		Logger:       logger,
	})

	ledger := harvest.NewClient(harvest.ClientConfig{
		BaseURL: cfg.Harvest.BaseURL,
		Timeout: time.Duration(cfg.Harvest.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	parser := receipt.NewParser(receipt.ParserConfig{
		APIKey: cfg.Receipt.APIKey,
		Model:  cfg.Receipt.Model,
		Logger: logger,
	})

	var submissionLog domain.SubmissionLog
	if cfg.History.Enabled {
		hist, err := history.Open(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer hist.Close()
		submissionLog = hist
	}

	slackGW := channel.NewSlack(channel.SlackConfig{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Logger:   logger,
	})

	engine := workflow.New(workflow.Config{
		Store:       store.New(logger),
		Messenger:   slackGW,
		Files:       slackGW,
		Modals:      slackGW,
		Credentials: credVault,
		Parser:      parser,
		Converter:   converter,
		Ledger:      ledger,
		History:     submissionLog,
		Clock:       domain.SystemClock{},
		TempDir:     cfg.General.TempDir,
		Logger:      logger,
	})
	slackGW.SetEngine(engine)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Metrics.Path, metrics.Collector.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	logger.Info("starting dhubot", "version", version)
	return slackGW.Start(ctx)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
