package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slurrr/trade-journal/config"
	"github.com/slurrr/trade-journal/internal/adapters/notify"
	"github.com/slurrr/trade-journal/internal/adapters/storage"
)

// rootOptions son los flags persistentes compartidos por todos los comandos.
type rootOptions struct {
	configPath string
	verbose    bool
	logFormat  string
	dsn        string

	cfg *config.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "journal",
		Short:         "Sync perp fills from venues and rebuild a trade ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Log.Level = "debug"
			}
			if opts.logFormat != "" {
				cfg.Log.Format = opts.logFormat
			}
			if opts.dsn != "" {
				cfg.Storage.DSN = opts.dsn
			}
			setupLogger(cfg.Log)
			opts.cfg = cfg
			slog.Debug("config loaded", "config", opts.configPath, "accounts", len(cfg.Accounts), "dsn", cfg.Storage.DSN)
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "config/config.yaml", "path to config file")
	f.BoolVar(&opts.verbose, "verbose", false, "set log level to debug")
	f.StringVar(&opts.logFormat, "format", "", "log format: text|json (overrides config)")
	f.StringVar(&opts.dsn, "db", "", "sqlite path (overrides config)")

	cmd.AddCommand(
		newSyncCmd(opts),
		newRebuildCmd(opts),
		newTradesCmd(opts),
		newTradeCmd(opts),
		newStatusCmd(opts),
		newBarsCmd(opts),
		newLiquidationsCmd(opts),
		newReconcileCmd(opts),
	)
	return cmd
}

// openStore abre el SQLite configurado. El caller cierra.
func (o *rootOptions) openStore() (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(o.cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", o.cfg.Storage.DSN, err)
	}
	return store, nil
}

func (o *rootOptions) console() *notify.Console {
	return notify.NewConsole()
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Los logs van a stderr para no mezclarse con las tablas.
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
