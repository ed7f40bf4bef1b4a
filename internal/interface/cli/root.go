package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neilberkman/chatsync/internal/core/app"
	"github.com/neilberkman/chatsync/internal/core/config"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

var (
	configPath  string
	dbPath      string
	backendName string
	logLevel    string
	versionInfo string
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI. Interrupts cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Terminal chat client with live transcript sync",
	Long: `chatsync - chat with an automated responder from your terminal

Manage conversations, send messages and watch transcripts update live,
against a local SQLite store or a hosted GraphQL backend.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to TUI if no subcommand specified
		return tuiCmd.RunE(cmd, args)
	},
}

func init() {
	defaultConfig := filepath.Join(config.Dir(), "config.toml")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (local backend)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Backend: local or hosted")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig reads the config file, then applies command-line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(filepath.Dir(configPath), configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if backendName != "" {
		cfg.Backend = backendName
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads config, wires the backend and resolves the stored session
func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := telemetry.NewLogger(os.Stderr, cfg.LogLevel)
	a, err := app.Open(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.Init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}
