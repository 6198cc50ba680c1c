// Command poefixer ingests the Path of Exile public stash stream, prices the
// currency sales it finds and serves the resulting rates over HTTP. It loads
// configuration, applies command-line overrides, wires dependencies and runs
// the selected mode until it finishes or receives SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/poefixer/internal/app"
	"github.com/alanyoungcy/poefixer/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	mode := flag.String("mode", "", "run mode: ingest, price, serve, replay or full")
	start := flag.String("start", "", "pricing start time, RFC 3339 or unix seconds")
	continuous := flag.Bool("continuous", false, "keep pricing after the first pass")
	limit := flag.Int("limit", 0, "maximum item rows per pricing pass")
	replayFrom := flag.String("replay-from", "", "archive sub-prefix to replay, e.g. 2018/03")
	flag.Parse()

	logger := app.NewLogger(os.Stdout, "info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Flags given explicitly win over the file and the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "start":
			cfg.Pricing.StartTime = *start
		case "continuous":
			cfg.Pricing.Continuous = *continuous
		case "limit":
			cfg.Pricing.Limit = *limit
		case "replay-from":
			cfg.S3.ReplayFrom = *replayFrom
		}
	})

	logger = app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("poefixer starting",
		slog.String("mode", cfg.Mode),
		slog.Any("config", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("poefixer stopped")
}
