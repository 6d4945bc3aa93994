package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/foxzi/chainmail/internal/config"
	"github.com/foxzi/chainmail/internal/metrics"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chainmail",
	Short: "Chainmail - campaign mail toolkit",
	Long: `Chainmail converts a contact sheet into personalised campaign mails,
writes them to disk with a tracking ledger and sends them with paced SMTP delivery.`,
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chainmail version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when omitted)")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}

// loadConfig loads the configuration and the logger it describes
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg.Logging), nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Campaign: %s (%d waves)\n", cfg.Campaign.Name, cfg.Campaign.TotalWaves)
	fmt.Printf("  Sender:   %s\n", cfg.Campaign.Sender)
	fmt.Printf("  Contacts: %s\n", cfg.Paths.Contacts)
	fmt.Printf("  Data:     %s\n", cfg.Paths.Campaign)
	fmt.Printf("  Output:   %s\n", cfg.Paths.Output)
	fmt.Printf("  Pacing:   %s between mails, %s between waves\n", cfg.Dispatch.MessageDelay, cfg.Dispatch.WaveDelay)
	if cfg.DKIM.Enabled {
		fmt.Printf("  DKIM:     %s._domainkey.%s\n", cfg.DKIM.Selector, cfg.DKIM.Domain)
	}

	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	return slog.New(handler)
}

// enableMetrics installs the global registry when a textfile is configured
func enableMetrics(cfg *config.Config) *metrics.Metrics {
	if cfg.Metrics.Textfile == "" {
		return nil
	}
	m := metrics.New()
	metrics.SetGlobal(m)
	return m
}

// flushMetrics writes the textfile, failures are only logged
func flushMetrics(m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) {
	if m == nil {
		return
	}
	if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		return
	}
	logger.Debug("metrics written", "path", cfg.Metrics.Textfile)
}
