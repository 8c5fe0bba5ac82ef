// Package main provides the entry point for the s2mosaic pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/s2mosaic/internal/app"
	"github.com/jobrunner/s2mosaic/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "s2mosaic",
	Short: "s2mosaic - Sentinel-2 acquisition and mosaic pipeline",
	Long: `s2mosaic downloads Sentinel-2 products from a hosted archive and
converts each one into a single 10 m multi-band GeoTIFF.

Features:
  - Parallel downloads over a pool of archive accounts
  - Bounded retries with a fixed delay
  - Idempotent re-runs: existing outputs are skipped
  - L1C and L2A products, optional SCL band
  - Publishing to local storage, AWS S3 or Azure Blob Storage
  - Batch history in SQLite
  - Status server with Prometheus metrics`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <product-list> <credentials> <staging-dir> <output-dir>",
	Short: "Download and convert every product in the list once",
	Args:  cobra.ExactArgs(4),
	RunE:  runBatch,
}

var watchCmd = &cobra.Command{
	Use:   "watch <product-list> <credentials> <staging-dir> <output-dir>",
	Short: "Run the batch and re-run it whenever the product list changes",
	Args:  cobra.ExactArgs(4),
	RunE:  runWatch,
}

var convertCmd = &cobra.Command{
	Use:   "convert <safe-dir> <output.tif>",
	Short: "Convert one staged SAFE product into a mosaic",
	Args:  cobra.ExactArgs(2),
	RunE:  runConvert,
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded batch runs or the outcomes of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("s2mosaic %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().Bool("save-scl", false, "append the SCL band to L2A mosaics")
	rootCmd.PersistentFlags().Int("workers", 4, "number of concurrent downloads")

	// History flags
	historyCmd.Flags().Int("limit", 20, "number of runs to list")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("pipeline.save_scl", rootCmd.PersistentFlags().Lookup("save-scl"))
	_ = viper.BindPFlag("pipeline.workers", rootCmd.PersistentFlags().Lookup("workers"))

	rootCmd.AddCommand(runCmd, watchCmd, convertCmd, historyCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// setPaths binds the positional batch arguments to their config keys.
func setPaths(args []string) {
	viper.Set("archive.credentials_file", args[1])
	viper.Set("pipeline.staging_dir", args[2])
	viper.Set("pipeline.output_dir", args[3])
}

// load reads the configuration and installs the logger.
func load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runBatch(_ *cobra.Command, args []string) error {
	setPaths(args)
	cfg, logger, err := load()
	if err != nil {
		return err
	}

	products, err := app.ReadProductList(args[0])
	if err != nil {
		return err
	}

	logger.Info("starting s2mosaic",
		"version", version,
		"products", len(products),
		"workers", cfg.Pipeline.Workers,
		"archive", cfg.Archive.Type,
		"publish", cfg.Publish.Type,
	)

	ctx, cancel := signalContext()
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer shutdown(application, cfg, logger)

	application.Start()

	report, err := application.RunBatch(ctx, products)
	if err != nil {
		return fmt.Errorf("%d of %d products failed: %w", len(report.Failures()), report.Total, err)
	}
	return nil
}

func runWatch(_ *cobra.Command, args []string) error {
	setPaths(args)
	cfg, logger, err := load()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer shutdown(application, cfg, logger)

	application.Start()
	return application.Watch(ctx, args[0])
}

func runConvert(_ *cobra.Command, args []string) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	compositor := app.NewCompositor(logger)
	if err := compositor.Compose(ctx, args[0], args[1], cfg.Pipeline.SaveSCL); err != nil {
		return fmt.Errorf("converting %s: %w", args[0], err)
	}

	logger.Info("mosaic written", "path", args[1], "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := load()
	if err != nil {
		return err
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return printHistory(ctx, os.Stdout, cfg.Ledger.Path, args, limit)
}

func shutdown(application *app.App, cfg *config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
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

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
