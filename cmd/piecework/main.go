package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/djedi/piecework/internal/config"
	"github.com/djedi/piecework/internal/images"
	"github.com/djedi/piecework/internal/store"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "piecework",
		Short: "Piecework: track piece-rate work records",
		Long:  "Piecework keeps a local store of work records, the processes and styles they belong to, and the colors they were made in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "", "Set log level. Available: trace, debug, info, warn, error, fatal (default from config)")
	cmd.PersistentFlags().String("config", "", "config file")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newStyleCmd())
	cmd.AddCommand(newRecordCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newColorCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newWatchCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "piecework %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store and print its schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", a.cfg.DBPath(), v)
			return nil
		},
	}
}

// app is what a command needs once configuration is resolved.
type app struct {
	cfg    *config.Config
	store  *store.Store
	images *images.Store
}

// openApp loads the configuration named by the --config flag, applies the
// log level and opens the store.
func openApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	levelStr, _ := cmd.Flags().GetString("log")
	if levelStr == "" {
		levelStr = cfg.LogLevel
	}
	setLevel(levelStr)

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s, err := store.New(cfg.DBPath(), store.Options{
		BusyTimeout: cfg.BusyTimeout(),
		JournalMode: cfg.JournalMode,
		Logger:      log.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: s, images: images.New(fs, cfg.ImagesDir())}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// Set the global log level
func setLevel(levelStr string) {
	switch levelStr {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Setup the logger
func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	setupLogger()
	root := newRootCmd()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
