// Package main provides the room-progress CLI entry point.
//
// room-progress replays a day at a time of room join/leave/status events,
// records how far each meeting attempt got before the room emptied again,
// and publishes the per-day histograms for the dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-room-progress/internal/config"
	"github.com/randomizedcoder/go-room-progress/internal/events"
	"github.com/randomizedcoder/go-room-progress/internal/logging"
	"github.com/randomizedcoder/go-room-progress/internal/metrics"
	"github.com/randomizedcoder/go-room-progress/internal/orchestrator"
	"github.com/randomizedcoder/go-room-progress/internal/preflight"
	"github.com/randomizedcoder/go-room-progress/internal/source"
	"github.com/randomizedcoder/go-room-progress/internal/storage"
	"github.com/randomizedcoder/go-room-progress/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/room-progress
var version = "dev"

// exportTimeout bounds the textfile and Pushgateway exports at exit.
const exportTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("room-progress %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	domain, err := config.LoadDomain(cfg.MilestonesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}

	start, err := cfg.StartDate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}
	end, err := cfg.EndDate(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, pinger, err := buildSource(cfg, logger)
	if err != nil {
		logger.Error("source_setup_failed", "error", err)
		return 1
	}

	var metricsStore *storage.MetricsStore
	var worldStore *storage.WorldStore
	if !cfg.NoPublish {
		metricsStore, worldStore, err = buildStores(ctx, cfg, logger)
		if err != nil {
			logger.Error("storage_setup_failed", "error", err)
			return 1
		}
	}

	// Run preflight checks
	if !cfg.SkipPreflight {
		result := preflight.RunAll(ctx, preflightOptions(cfg, pinger))
		preflight.PrintResults(os.Stdout, result)
		if !result.Passed {
			logger.Error("preflight_failed")
			fmt.Fprintln(os.Stderr, "preflight checks failed (use -skip-preflight to override)")
			return 1
		}
	}

	logger.Info("starting",
		"version", version,
		"source", cfg.Source,
		"storage", cfg.Storage,
		"no_publish", cfg.NoPublish,
		"beginning_of_time", cfg.BeginningOfTime,
		"until", end.Format(config.DateLayout),
	)

	// Metrics
	collector := metrics.NewCollector()
	var server *metrics.Server
	if cfg.MetricsAddr != "" {
		server = metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, logger)
		if err := server.Start(); err != nil {
			logger.Error("metrics_server_failed", "error", err)
			return 1
		}
	}

	anomalies := logging.NewAnomalyLog(logger, cfg.Verbose)

	out := io.Writer(os.Stdout)
	if cfg.TUIEnabled {
		out = io.Discard
	}

	deps := orchestrator.Deps{
		Source:     src,
		Classifier: events.NewClassifier(domain.Order, domain.Roles),
		Channels:   domain.Channels,
		Metrics:    metricsStore,
		World:      worldStore,
		Anomalies:  anomalies,
		Observers:  []orchestrator.Observer{collector},
		Out:        out,
	}
	runCfg := orchestrator.Config{
		Start:     start,
		End:       end,
		NoPublish: cfg.NoPublish,
		Durations: cfg.Durations,
	}

	var res *orchestrator.Result
	var runErr error
	if cfg.TUIEnabled {
		res, runErr = runWithTUI(ctx, cfg, runCfg, deps, logger)
	} else {
		res, runErr = orchestrator.New(runCfg, deps, logger).Run(ctx)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics_server_shutdown_error", "error", err)
		}
		cancel()
	}

	orchestrator.PrintExitSummary(os.Stdout, res, anomalies)

	summary := collector.GenerateSummary()
	logger.Info("metrics_summary",
		"days_planned", summary.DaysPlanned,
		"days_processed", summary.DaysProcessed,
		"days_skipped", summary.DaysSkipped,
		"segments", summary.Segments,
	)

	exportMetrics(cfg, logger)

	if runErr != nil {
		logger.Error("run_failed", "error", runErr)
		return 1
	}
	return 0
}

// runWithTUI runs the orchestrator in the background while the dashboard
// owns the terminal. Quitting the dashboard cancels the run, which still
// publishes the days it completed.
func runWithTUI(ctx context.Context, cfg *config.Config, runCfg orchestrator.Config, deps orchestrator.Deps, logger *slog.Logger) (*orchestrator.Result, error) {
	model := tui.New(tui.Config{
		Order:       deps.Classifier.Order(),
		Source:      sourceLabel(cfg),
		MetricsAddr: cfg.MetricsAddr,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	observer := tui.NewProgramObserver(p)
	deps.Observers = append(deps.Observers, observer)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var res *orchestrator.Result
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, runErr = orchestrator.New(runCfg, deps, logger).Run(runCtx)
		observer.Done(runErr)
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Warn("tui_failed", "error", err)
	}
	cancel()
	<-done

	return res, runErr
}

// buildSource creates the configured event source. The pinger is nil when
// the source has nothing to probe.
func buildSource(cfg *config.Config, logger *slog.Logger) (source.Source, preflight.Pinger, error) {
	switch cfg.Source {
	case config.SourceFile:
		return source.NewFileSource(cfg.SourceDir), nil, nil
	default:
		esCfg := source.DefaultElasticConfig()
		esCfg.URL = cfg.ESURL
		esCfg.Username = cfg.ESUsername
		esCfg.Password = cfg.ESPassword
		esCfg.IndexPrefix = cfg.IndexPrefix
		esCfg.PageSize = cfg.PageSize
		esCfg.Timeout = cfg.ESTimeout
		esCfg.MaxRetries = cfg.MaxRetries

		es, err := source.NewElasticSource(esCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return es, es, nil
	}
}

// buildStores creates the metrics and world stores on the configured
// storage. Each S3 object gets its own credentials.
func buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.MetricsStore, *storage.WorldStore, error) {
	if cfg.Storage == config.StorageFile {
		mb := storage.NewFileBucket(filepath.Join(cfg.StateDir, path.Base(cfg.MetricsKey)))
		wb := storage.NewFileBucket(filepath.Join(cfg.StateDir, path.Base(cfg.StateKey)))
		return storage.NewMetricsStore(mb), storage.NewWorldStore(wb), nil
	}

	mb, err := storage.NewS3Bucket(ctx, storage.S3Config{
		Bucket:          cfg.MetricsBucket,
		Key:             cfg.MetricsKey,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.MetricsAccessKeyID,
		SecretAccessKey: cfg.MetricsSecretAccessKey,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics bucket: %w", err)
	}

	wb, err := storage.NewS3Bucket(ctx, storage.S3Config{
		Bucket:          cfg.StateBucket,
		Key:             cfg.StateKey,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.StateAccessKeyID,
		SecretAccessKey: cfg.StateSecretAccessKey,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("state bucket: %w", err)
	}

	return storage.NewMetricsStore(mb), storage.NewWorldStore(wb), nil
}

// preflightOptions selects the checks that apply to cfg.
func preflightOptions(cfg *config.Config, pinger preflight.Pinger) preflight.Options {
	opts := preflight.Options{Pinger: pinger}
	if cfg.Source == config.SourceFile {
		opts.SourceDir = cfg.SourceDir
	}
	if cfg.NoPublish {
		return opts
	}
	switch cfg.Storage {
	case config.StorageFile:
		opts.StateDir = cfg.StateDir
	case config.StorageS3:
		opts.S3 = []preflight.Credentials{
			{Name: "metrics", AccessKeyID: cfg.MetricsAccessKeyID, SecretAccessKey: cfg.MetricsSecretAccessKey},
			{Name: "state", AccessKeyID: cfg.StateAccessKeyID, SecretAccessKey: cfg.StateSecretAccessKey},
		}
	}
	return opts
}

// exportMetrics writes the textfile and pushes to the gateway, if
// configured. Failures are logged; they never change the exit code.
func exportMetrics(cfg *config.Config, logger *slog.Logger) {
	if cfg.TextfilePath != "" {
		if err := metrics.WriteTextfile(cfg.TextfilePath, prometheus.DefaultGatherer); err != nil {
			logger.Warn("textfile_failed", "path", cfg.TextfilePath, "error", err)
		} else {
			logger.Info("textfile_written", "path", cfg.TextfilePath)
		}
	}

	if cfg.PushgatewayURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := metrics.Push(ctx, cfg.PushgatewayURL, prometheus.DefaultGatherer); err != nil {
			logger.Warn("push_failed", "url", cfg.PushgatewayURL, "error", err)
		} else {
			logger.Info("pushed", "url", cfg.PushgatewayURL, "job", metrics.PushJob)
		}
	}
}

func sourceLabel(cfg *config.Config) string {
	if cfg.Source == config.SourceFile {
		return "file:" + cfg.SourceDir
	}
	return cfg.ESURL
}
