// Package main provides the Conveyor pipeline CLI.
//
// One invocation drives either a single input or a whole input directory
// through the production pipeline: preflight, extraction, quality gating,
// schema evolution, transformation, warehouse load, and post-processing.
// The -status flag prints the operator snapshot instead of running anything.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/conveyor-io/conveyor/internal/config"
	"github.com/conveyor-io/conveyor/internal/extract"
	"github.com/conveyor-io/conveyor/internal/monitoring"
	"github.com/conveyor-io/conveyor/internal/notify"
	"github.com/conveyor-io/conveyor/internal/pipeline"
	"github.com/conveyor-io/conveyor/internal/quality"
	"github.com/conveyor-io/conveyor/internal/quarantine"
	"github.com/conveyor-io/conveyor/internal/schema"
	"github.com/conveyor-io/conveyor/internal/storage"
	"github.com/conveyor-io/conveyor/internal/transform"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "conveyor"
)

// registryDocumentPath is the schema registry location on the data filesystem.
const registryDocumentPath = "schemas/registry.json"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	statusFlag := flag.Bool("status", false, "print the pipeline status snapshot and exit")
	inputFlag := flag.String("input", "", "run a single input file (relative to the data dir)")
	patternFlag := flag.String("pattern", "", "glob filter for directory runs, e.g. 'users_*.csv'")
	noQualityGate := flag.Bool("no-quality-gate", false, "disable artifact and dataset quality gating")
	noEvolution := flag.Bool("no-schema-evolution", false, "disable schema drift detection and migration")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("CONVEYOR_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting Conveyor pipeline",
		slog.String("service", name),
		slog.String("version", version),
	)

	pipelineConfig := pipeline.LoadConfig()
	if err := pipelineConfig.Validate(); err != nil {
		logger.Error("Invalid pipeline configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Loaded pipeline configuration",
		slog.String("data_dir", pipelineConfig.DataDir),
		slog.String("input_dir", pipelineConfig.InputDir),
		slog.Int("max_concurrent_runs", pipelineConfig.MaxConcurrentRuns),
		slog.String("load_strategy", pipelineConfig.LoadStrategy),
		slog.Duration("stage_timeout", pipelineConfig.StageTimeout),
		slog.Int("retry_max_attempts", pipelineConfig.RetryMaxAttempts),
		slog.Duration("retry_base_delay", pipelineConfig.RetryBaseDelay),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataFS := osfs.New(pipelineConfig.DataDir)

	storageConfig := storage.LoadConfig()

	conn, err := storage.Connect(ctx, storageConfig, logger)
	if err != nil {
		logger.Error("Failed to connect to warehouse",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close() // Ensure connection closes on normal shutdown
	}()

	warehouse, err := storage.NewWarehouse(conn, logger)
	if err != nil {
		logger.Error("Failed to initialize warehouse", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry, err := schema.NewRegistry(dataFS, registryDocumentPath, logger)
	if err != nil {
		logger.Error("Failed to load schema registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Schema registry loaded",
		slog.String("document", registryDocumentPath),
		slog.Int("current_version", registry.CurrentVersion()),
	)

	qualityConfig := quality.LoadConfig()
	if err := qualityConfig.Validate(); err != nil {
		logger.Error("Invalid quality configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rules, err := quality.LoadRules(dataFS, qualityConfig.RulesPath)
	if err != nil {
		logger.Error("Failed to load quality rules", slog.String("error", err.Error()))
		os.Exit(1)
	}

	aliases, err := transform.LoadAliases(dataFS, transform.DefaultAliasesPath)
	if err != nil {
		logger.Error("Failed to load column aliases", slog.String("error", err.Error()))
		os.Exit(1)
	}

	monitoringConfig := monitoring.LoadConfig()
	if err := monitoringConfig.Validate(); err != nil {
		logger.Error("Invalid monitoring configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var notifier monitoring.Notifier

	notifyConfig := notify.LoadConfig()
	if err := notifyConfig.Validate(); err != nil {
		logger.Error("Invalid notification configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if notifyConfig.Enabled() {
		kafkaNotifier, err := notify.NewKafkaNotifier(notifyConfig, logger)
		if err != nil {
			logger.Error("Failed to initialize Kafka notifier", slog.String("error", err.Error()))
			os.Exit(1)
		}

		defer func() {
			_ = kafkaNotifier.Close()
		}()

		notifier = kafkaNotifier

		logger.Info("Kafka alert forwarding enabled",
			slog.String("topic", notifyConfig.Topic))
	} else {
		logger.Info("Kafka alert forwarding disabled, alerts stay local",
			slog.String("note", "Set KAFKA_BROKERS to enable alert forwarding"))
	}

	var mirror *quarantine.Mirror

	mirrorConfig := quarantine.LoadMirrorConfig()
	if mirrorConfig.Enabled() {
		mirror, err = quarantine.NewMirror(mirrorConfig, logger)
		if err != nil {
			logger.Error("Failed to initialize quarantine mirror", slog.String("error", err.Error()))
			os.Exit(1)
		}

		if err := mirror.EnsureBucket(ctx); err != nil {
			logger.Error("Failed to ensure quarantine mirror bucket", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	quarantineStore := quarantine.NewStore(dataFS, mirror, logger)
	sink := monitoring.NewSink(dataFS, logger)
	router := monitoring.NewRouter(monitoringConfig, dataFS, notifier, logger)
	probe := monitoring.NewProbe(monitoringConfig, warehouse, dataFS, pipelineConfig.InputDir, quarantineStore, logger)

	evolver := schema.NewEvolver(
		registry,
		schema.NewReconciler(logger),
		schema.NewMigrator(warehouse, logger),
		pipeline.LoadCoercions(dataFS, transform.DefaultAliasesPath),
		logger,
	)

	orchestrator, err := pipeline.New(pipelineConfig, pipeline.Deps{
		FS:          dataFS,
		Extractor:   extract.New(dataFS, logger),
		Gate:        quality.NewGate(qualityConfig, rules, dataFS, logger),
		Registry:    registry,
		Evolver:     evolver,
		Transformer: transform.NewTransformer(transform.NewResolver(aliases), logger),
		Loader:      warehouse,
		Quarantine:  quarantineStore,
		Sink:        sink,
		Alerts:      router,
		Probe:       probe,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	options := pipeline.Options{
		QualityGate:     !*noQualityGate,
		SchemaEvolution: !*noEvolution,
	}

	switch {
	case *statusFlag:
		printJSON(logger, orchestrator.Status(ctx))
	case *inputFlag != "":
		result := orchestrator.Run(ctx, *inputFlag, options)
		printJSON(logger, result)

		if !result.Succeeded {
			os.Exit(1)
		}
	default:
		batch, err := orchestrator.RunDirectory(ctx, pipelineConfig.InputDir, *patternFlag, options)
		if err != nil {
			logger.Error("Batch run failed to start", slog.String("error", err.Error()))
			os.Exit(1)
		}

		printJSON(logger, batch)

		if batch.Failed > 0 {
			os.Exit(1)
		}
	}

	logger.Info("Conveyor pipeline stopped")
}

// printJSON writes the outcome to stdout for operators and scripts; the
// structured log remains the machine-readable channel.
func printJSON(logger *slog.Logger, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Error("Failed to encode output", slog.String("error", err.Error()))

		return
	}

	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
}
