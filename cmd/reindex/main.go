// Command reindex rebuilds the search index from the authoritative
// filesystem tree.
//
// The filesystem is the source of truth; this batch walks every space (or
// one, with -space), recreates the meta index and one index per schema
// document, and re-projects every entity. It is safe to re-run at any
// time, including after bulk filesystem edits that bypassed the API.
//
// Usage:
//
//	reindex [-config path] [-space name]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmartio/datamart/internal/logger"
	"github.com/dmartio/datamart/pkg/config"
	"github.com/dmartio/datamart/pkg/metrics"
	"github.com/dmartio/datamart/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: $XDG_CONFIG_HOME/datamart/config.yaml)")
	space := flag.String("space", "", "rebuild a single space instead of all")
	initConfig := flag.Bool("init-config", false, "write a commented starter config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := writeStarterConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reindex: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", path)
		return
	}

	if err := run(*configPath, *space); err != nil {
		fmt.Fprintf(os.Stderr, "reindex: %v\n", err)
		os.Exit(1)
	}
}

func writeStarterConfig(configPath string) (string, error) {
	if configPath != "" {
		return configPath, config.InitConfigToPath(configPath, false)
	}
	return config.InitConfig(false)
}

func run(configPath, space string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: logOutput(cfg.Logging.Output),
	})
	log := logger.Component("reindex")

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payloads, err := config.CreatePayloadStore(ctx, cfg)
	if err != nil {
		return err
	}
	projector, err := config.CreateProjector(ctx, cfg)
	if err != nil {
		_ = payloads.Close()
		return err
	}

	core := store.New(cfg.Spaces.Root, payloads, projector, metrics.NewStoreMetrics(cfg.Payload.Type))
	defer func() {
		if closeErr := core.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close storage core")
		}
	}()

	start := time.Now()
	var stats store.ReindexStats
	if space != "" {
		stats, err = core.ReindexSpace(ctx, space)
	} else {
		stats, err = core.ReindexAll(ctx)
	}
	if err != nil {
		return err
	}

	log.Info().
		Int("spaces", stats.Spaces).
		Int("indexed", stats.Indexed).
		Int("skipped", stats.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("reindex complete")
	return nil
}

// logOutput resolves the configured log destination. Unwritable file paths
// fall back to stderr rather than aborting a rebuild over logging.
func logOutput(output string) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reindex: cannot open log file %s: %v\n", output, err)
			return os.Stderr
		}
		return f
	}
}
