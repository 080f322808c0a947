package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/api"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/assembler"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/downstream"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/ingestion"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/quota"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/server"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/sink"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/storage"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/telemetry"
)

const (
	exitFailure = 1
	exitUsage   = 2

	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		slog.Error("harvester failed", "error", err)
		os.Exit(exitFailure)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "harvester",
		Usage:     "Harvest tagged question/answer pairs from the StackExchange API",
		UsageText: "harvester [--config FILE] [--log-level LEVEL] <quota_floor>",
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML, YAML or JSON config file",
				EnvVars: []string{"HARVEST_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Action: run,
		// main decides the exit code
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// parseFloor reads the single required positional argument.
func parseFloor(args cli.Args) (int, error) {
	if args.Len() != 1 {
		return 0, fmt.Errorf("expected exactly one argument <quota_floor>, got %d", args.Len())
	}
	floor, err := strconv.Atoi(strings.TrimSpace(args.First()))
	if err != nil {
		return 0, fmt.Errorf("quota_floor must be an integer: %q", args.First())
	}
	if floor < 0 {
		return 0, fmt.Errorf("quota_floor must not be negative: %d", floor)
	}
	return floor, nil
}

// quotaGauge feeds every reported quota value to the tracker and the gauge.
type quotaGauge struct {
	tracker *quota.Tracker
	metrics *telemetry.Metrics
}

func (q quotaGauge) Update(remaining int) {
	q.tracker.Update(remaining)
	q.metrics.RecordQuota(context.Background(), remaining)
}

func run(c *cli.Context) error {
	floor, err := parseFloor(c.Args())
	if err != nil {
		fmt.Fprintf(c.App.ErrWriter, "error: %v\nusage: %s\n", err, c.App.UsageText)
		return cli.Exit("", exitUsage)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Ingestion.QuotaFloor = floor
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	tel, err := telemetry.Init(ctx, "harvester")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownLogged(logger, "telemetry", tel.Shutdown)

	tracker := quota.New(floor)
	client, err := api.NewClient(cfg.API,
		api.WithLogger(logger),
		api.WithQuotaRecorder(quotaGauge{tracker: tracker, metrics: tel.Metrics}),
		api.WithRequestRecorder(tel.Metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}

	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	out, err := sink.New(ctx, cfg.Sink, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize sink: %w", err)
	}
	defer out.Close()

	load, err := downstream.NewLoad(ctx, cfg.Downstream, cfg.Sink,
		downstream.WithMetrics(tel.Metrics),
		downstream.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize load steps: %w", err)
	}
	defer load.Close()

	transform, err := downstream.NewTransform(ctx, cfg.Downstream,
		downstream.WithMetrics(tel.Metrics),
		downstream.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize transform steps: %w", err)
	}
	defer transform.Close()

	ingestor, err := ingestion.NewService(cfg.Ingestion, store, client,
		assembler.New(client, assembler.WithLogger(logger)),
		out, tracker,
		ingestion.WithLoader(load),
		ingestion.WithTrigger(transform),
		ingestion.WithMetrics(tel.Metrics),
		ingestion.WithTracer(tel.Tracer("harvester/ingestion")),
		ingestion.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create ingestion service: %w", err)
	}

	if cfg.Server.Port > 0 {
		opts := []server.Option{server.WithMetrics(tel), server.WithQuota(tracker)}
		if idx, ok := sink.Searchable(out); ok {
			opts = append(opts, server.WithSearch(idx))
		}
		httpServer := server.NewServer(cfg.Server, store, opts...)
		go func() {
			logger.Info("starting HTTP server", "port", cfg.Server.Port)
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
			}
		}()
		defer shutdownLogged(logger, "HTTP server", httpServer.Shutdown)
	}

	logger.Info("starting ingestion",
		"quota_floor", floor,
		"storage", cfg.Storage.Type,
		"sinks", cfg.Sink.Types,
		"load", load.Steps(),
		"transform", transform.Steps())
	if err := ingestor.Run(ctx); err != nil {
		return err
	}
	logger.Info("ingestion finished")
	return nil
}

// shutdownLogged runs shutdown bounded by shutdownTimeout and logs its error.
func shutdownLogged(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn(name+" shutdown error", "error", err)
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
