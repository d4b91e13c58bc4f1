package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-shop/config"
	"github.com/aluiziolira/go-scrape-shop/models"
	"github.com/aluiziolira/go-scrape-shop/pipeline"
	"github.com/aluiziolira/go-scrape-shop/scraper"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("scrape failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "scraper [url]",
		Short: "Scrape product listings from a WooCommerce shop",
		Long: `Walks the paginated product listing of a WordPress/WooCommerce shop one
page at a time and writes every distinct product to CSV and/or JSON Lines.

Settings come from flags, SCRAPER_* environment variables and an optional
YAML config file, in that order of priority.`,
		Example: `  scraper https://shop.example.com/shop/ -o products.csv
  scraper --url https://shop.example.com/shop/ --format dual --delay 2s
  SCRAPER_MAX_PAGES=5 scraper --config scraper.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if len(args) == 1 && !cmd.Flags().Changed("url") {
				cfg.TargetURL = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopShutdownLog := logOnShutdown(ctx, logger)

	s, err := scraper.NewScraper(cfg,
		scraper.WithLogger(logger),
		scraper.WithRunID(uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	summary, runErr := s.Run(ctx, writer)
	stopShutdownLog()

	if err := writer.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close writer: %w", err))
	} else if err := writer.Validate(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("output validation failed: %w", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(summary, cfg)

	if runErr != nil {
		return runErr
	}
	if summary.Reason.Fatal() {
		return fmt.Errorf("run ended with %s", summary.Reason)
	}
	return nil
}

// logOnShutdown logs once when ctx is cancelled by a signal. Calling the
// returned stop before the deferred signal cleanup keeps a normal exit quiet.
func logOnShutdown(ctx context.Context, logger *slog.Logger) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		logger.Info("shutdown signal received, finishing current page")
	})
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		csvFilename, jsonFilename := pipeline.DualPaths(filename)
		return pipeline.NewDualWriter(csvFilename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(summary *models.RunSummary, cfg *config.Config) {
	if summary == nil {
		return
	}

	duration := summary.Duration()
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(summary.ProductsFound) / duration.Seconds()
	}
	output := cfg.OutputFile
	if cfg.OutputFormat == "dual" {
		csvFilename, jsonFilename := pipeline.DualPaths(cfg.OutputFile)
		output = csvFilename + ", " + jsonFilename
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Scrape complete")
	t.AppendRows([]table.Row{
		{"Run ID", summary.RunID},
		{"Stopped", summary.Reason.String()},
		{"Pages", summary.PagesVisited},
		{"Products", summary.ProductsFound},
		{"Duplicates", summary.DuplicatesSkipped},
		{"Invalid", summary.InvalidDropped},
		{"Requests", summary.RequestCount},
		{"Retries", summary.RetryCount},
		{"Errors", len(summary.Errors)},
		{"Duration", duration.Round(time.Millisecond)},
		{"Items/sec", fmt.Sprintf("%.2f", itemsPerSec)},
		{"Output", output},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(summary.Errors) == 0 {
		return
	}
	et := table.NewWriter()
	et.SetOutputMirror(os.Stdout)
	et.AppendHeader(table.Row{"Page", "URL", "Kind", "Status", "Attempts"})
	for _, pe := range summary.Errors {
		status := "-"
		if pe.StatusCode != 0 {
			status = fmt.Sprint(pe.StatusCode)
		}
		et.AppendRow(table.Row{pe.Page, pe.URL, pe.Kind, status, pe.Attempts})
	}
	et.SetStyle(table.StyleRounded)
	et.Render()
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
