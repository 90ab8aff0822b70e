// Package pipeline sequences one ETL run from input artifact to warehouse:
// preflight, extraction, quality gating, schema evolution, transformation,
// load, and post-processing bookkeeping.
//
// The orchestrator owns each run's state exclusively and never returns an
// error from Run: every failure is classified, quarantined once, and reported
// on the sealed RunResult. Stage transitions go through an explicit validated
// state machine, so a run's stage history is monotonic and terminal stages
// are absorbing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/conveyor-io/conveyor/internal/dataset"
	"github.com/conveyor-io/conveyor/internal/extract"
	"github.com/conveyor-io/conveyor/internal/monitoring"
	"github.com/conveyor-io/conveyor/internal/quality"
	"github.com/conveyor-io/conveyor/internal/quarantine"
	"github.com/conveyor-io/conveyor/internal/retry"
	"github.com/conveyor-io/conveyor/internal/schema"
	"github.com/conveyor-io/conveyor/internal/storage"
	"github.com/conveyor-io/conveyor/internal/transform"
)

// statusWindow is the metrics window Status summarizes.
const statusWindow = 24 * time.Hour

// ErrMissingDependency indicates the orchestrator was constructed without one
// of its required collaborators.
var ErrMissingDependency = errors.New("missing pipeline dependency")

// Extractor produces a dataset from an input reference.
type Extractor interface {
	Extract(ctx context.Context, inputRef string) (*dataset.Dataset, error)
}

// Loader persists transformed datasets to the durable store.
type Loader interface {
	EnsureTable(ctx context.Context, version schema.Version) error
	Load(ctx context.Context, ds *dataset.Dataset, version schema.Version, strategy string) (int, error)
}

// Compile-time interface checks.
var (
	_ Extractor = (*extract.Extractor)(nil)
	_ Loader    = (*storage.Warehouse)(nil)
)

// Deps carries the orchestrator's collaborators. Every field is required
// except Probe; a nil probe skips the preflight health check.
type Deps struct {
	FS          billy.Filesystem
	Extractor   Extractor
	Gate        *quality.Gate
	Registry    *schema.Registry
	Evolver     *schema.Evolver
	Transformer *transform.Transformer
	Loader      Loader
	Quarantine  *quarantine.Store
	Sink        *monitoring.Sink
	Alerts      *monitoring.Router
	Probe       *monitoring.Probe
}

func (d Deps) validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"filesystem", d.FS != nil},
		{"extractor", d.Extractor != nil},
		{"quality gate", d.Gate != nil},
		{"schema registry", d.Registry != nil},
		{"schema evolver", d.Evolver != nil},
		{"transformer", d.Transformer != nil},
		{"loader", d.Loader != nil},
		{"quarantine store", d.Quarantine != nil},
		{"metrics sink", d.Sink != nil},
		{"alert router", d.Alerts != nil},
	}

	for _, dep := range required {
		if !dep.ok {
			return fmt.Errorf("%w: %s", ErrMissingDependency, dep.name)
		}
	}

	return nil
}

// Orchestrator executes pipeline runs. It is safe for concurrent use; each
// run's state is owned by the goroutine executing it, and the shared
// collaborators serialize their own critical sections.
type Orchestrator struct {
	cfg           *Config
	deps          Deps
	extractPolicy retry.Policy
	loadPolicy    retry.Policy
	logger        *slog.Logger
}

// New creates an orchestrator after validating configuration and dependencies.
func New(cfg *Config, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := deps.validate(); err != nil {
		return nil, err
	}

	// Append loads get a single attempt: a failed attempt may already have
	// written rows, and a blind re-run would duplicate them. Upsert loads
	// are idempotent on the primary key and retry transient failures.
	loadAttempts := cfg.RetryMaxAttempts
	if cfg.LoadStrategy == storage.LoadStrategyAppend {
		loadAttempts = 1
	}

	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		extractPolicy: retry.New(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, logger,
			retry.WithClassifier(extractRetryable)),
		loadPolicy: retry.New(loadAttempts, cfg.RetryBaseDelay, logger,
			retry.WithClassifier(loadRetryable)),
		logger: logger.With(slog.String("component", "orchestrator")),
	}, nil
}

// Run executes one pipeline run over inputRef. It never returns an error:
// every failure is recorded on the result with its failing stage and
// classified kind.
func (o *Orchestrator) Run(ctx context.Context, inputRef string, opts Options) *RunResult {
	run := newRun(inputRef)
	log := o.logger.With(slog.String("run_id", run.ID), slog.String("input", inputRef))

	o.deps.Sink.Start(run.ID, inputRef)
	o.deps.Sink.UpdateStage(run.ID, string(StageInitializing), 0)

	log.Info("pipeline run started",
		slog.Bool("quality_gate", opts.QualityGate),
		slog.Bool("schema_evolution", opts.SchemaEvolution))

	if err := o.execute(ctx, log, run, opts); err != nil {
		return o.finishFailed(ctx, log, run, err)
	}

	return o.finishSucceeded(ctx, log, run)
}

// execute drives the run through its stages and returns the first fatal error.
func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, run *Run, opts Options) error {
	if err := o.enter(ctx, log, run, StagePreflight, 0); err != nil {
		return err
	}

	if err := o.preflight(ctx, log, run, opts); err != nil {
		return err
	}

	if err := o.enter(ctx, log, run, StageExtracting, 0); err != nil {
		return err
	}

	ds, err := o.extractInput(ctx, log, run)
	if err != nil {
		return err
	}

	if opts.QualityGate {
		if err := o.enter(ctx, log, run, StageQualityCheck, ds.RowCount()); err != nil {
			return err
		}

		if err := o.gateDataset(ctx, log, run, ds); err != nil {
			return err
		}
	}

	if opts.SchemaEvolution {
		if err := o.enter(ctx, log, run, StageSchemaEvolution, ds.RowCount()); err != nil {
			return err
		}

		if err := o.evolveSchema(ctx, log, run, ds); err != nil {
			return err
		}
	}

	if err := o.enter(ctx, log, run, StageTransforming, ds.RowCount()); err != nil {
		return err
	}

	ds, err = o.transformDataset(ctx, run, ds)
	if err != nil {
		return err
	}

	if err := o.enter(ctx, log, run, StageLoading, ds.RowCount()); err != nil {
		return err
	}

	if err := o.loadDataset(ctx, log, run, ds); err != nil {
		return err
	}

	if err := o.enter(ctx, log, run, StagePostProcessing, run.RowsLoaded); err != nil {
		return err
	}

	return o.postProcess(ctx, log, run)
}

// enter checks for cancellation, validates the transition, and reports the
// new stage with the latest known row count for live progress polling.
func (o *Orchestrator) enter(ctx context.Context, log *slog.Logger, run *Run, to Stage, rows int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := run.advance(to); err != nil {
		return err
	}

	run.RowsByStage[to] = rows
	o.deps.Sink.UpdateStage(run.ID, string(to), rows)

	log.Debug("stage started", slog.String("stage", string(to)), slog.Int("rows", rows))

	return nil
}

// recordRows records the stage's output row count on the run and the sink.
func (o *Orchestrator) recordRows(run *Run, stage Stage, rows int) {
	run.RowsByStage[stage] = rows
	o.deps.Sink.UpdateStage(run.ID, string(stage), rows)
}

// preflight vetoes the run before any stateful work: dependency health first,
// then the artifact gate on the raw input.
func (o *Orchestrator) preflight(ctx context.Context, log *slog.Logger, run *Run, opts Options) error {
	if o.deps.Probe != nil {
		if health := o.deps.Probe.Check(ctx); !health.Healthy {
			return fmt.Errorf("%w: %s", ErrPreflightUnhealthy, firstFailedCheck(health))
		}
	}

	if !opts.QualityGate {
		return nil
	}

	report, err := o.deps.Gate.CheckArtifact(ctx, run.InputRef)
	if err != nil {
		return err
	}

	o.recordWarnings(log, run, report.Warnings)

	if !report.Passed() {
		return fmt.Errorf("%w: %s", ErrArtifactRejected, report.Issues[0].Detail)
	}

	return nil
}

func firstFailedCheck(health *monitoring.Health) string {
	for _, check := range health.Checks {
		if check.Status == monitoring.CheckFailed {
			return fmt.Sprintf("%s: %s", check.Name, check.Message)
		}
	}

	return "unknown check failed"
}

// recordWarnings appends non-blocking findings to the run.
func (o *Orchestrator) recordWarnings(log *slog.Logger, run *Run, warnings []quality.Finding) {
	if len(warnings) == 0 {
		return
	}

	run.Warnings = append(run.Warnings, warnings...)

	for _, warning := range warnings {
		log.Warn("quality warning recorded",
			slog.String("check", warning.Check),
			slog.String("column", warning.Column),
			slog.String("detail", warning.Detail))
	}
}

// extractInput pulls the dataset out of the input artifact under the retry
// policy, then canonicalizes its column names so alias variants do not read
// as schema drift downstream.
func (o *Orchestrator) extractInput(ctx context.Context, log *slog.Logger, run *Run) (*dataset.Dataset, error) {
	run.attempts = 0

	ds, err := retry.Do(ctx, o.extractPolicy, "extract "+run.InputRef, func(ctx context.Context) (*dataset.Dataset, error) {
		run.attempts++

		return bounded(ctx, o.cfg.StageTimeout, func(ctx context.Context) (*dataset.Dataset, error) {
			return o.deps.Extractor.Extract(ctx, run.InputRef)
		})
	})
	if err != nil {
		return nil, err
	}

	o.recordRows(run, StageExtracting, ds.RowCount())

	if renames := o.deps.Transformer.Canonicalize(ds); len(renames) > 0 {
		log.Info("column aliases resolved",
			slog.Int("count", len(renames)),
			slog.Any("renames", renames))
	}

	return ds, nil
}

// gateDataset runs the dataset-level quality gate, records its score and
// warnings on the run, and fails the run on any blocking issue.
func (o *Orchestrator) gateDataset(ctx context.Context, log *slog.Logger, run *Run, ds *dataset.Dataset) error {
	report, err := o.deps.Gate.CheckDataset(ctx, ds, o.deps.Registry.Current())
	if err != nil {
		return err
	}

	run.QualityScore = report.Score
	o.deps.Sink.SetQualityScore(run.ID, report.Score)
	o.recordWarnings(log, run, report.Warnings)

	if !report.Passed() {
		return fmt.Errorf("%w: %s", ErrDatasetRejected, report.Issues[0].Detail)
	}

	return nil
}

// evolveSchema reconciles the dataset against the registry and applies the
// outcome. The report is kept even when evolution fails, so the result shows
// what was detected before the run stopped.
func (o *Orchestrator) evolveSchema(ctx context.Context, log *slog.Logger, run *Run, ds *dataset.Dataset) error {
	report, err := bounded(ctx, o.cfg.StageTimeout, func(ctx context.Context) (*schema.Report, error) {
		return o.deps.Evolver.Evolve(ctx, ds, run.ID)
	})

	run.Evolution = report

	if err != nil {
		return err
	}

	if report.Evolved {
		log.Info("schema evolved",
			slog.Int("from_version", report.InitialVersion),
			slog.Int("to_version", report.FinalVersion),
			slog.Int("actions", len(report.Actions)))
	}

	return nil
}

// transformDataset conforms the dataset to the current registry version.
func (o *Orchestrator) transformDataset(ctx context.Context, run *Run, ds *dataset.Dataset) (*dataset.Dataset, error) {
	out, err := o.deps.Transformer.Transform(ctx, ds, o.deps.Registry.Current())
	if err != nil {
		return nil, err
	}

	o.recordRows(run, StageTransforming, out.RowCount())

	return out, nil
}

// loadDataset writes the dataset to the warehouse under the load retry policy.
func (o *Orchestrator) loadDataset(ctx context.Context, log *slog.Logger, run *Run, ds *dataset.Dataset) error {
	version := o.deps.Registry.Current()

	run.SchemaVersion = version.Number
	run.attempts = 0

	rows, err := retry.Do(ctx, o.loadPolicy, "load "+run.InputRef, func(ctx context.Context) (int, error) {
		run.attempts++

		return bounded(ctx, o.cfg.StageTimeout, func(ctx context.Context) (int, error) {
			if err := o.deps.Loader.EnsureTable(ctx, version); err != nil {
				return 0, err
			}

			return o.deps.Loader.Load(ctx, ds, version, o.cfg.LoadStrategy)
		})
	})
	if err != nil {
		return err
	}

	run.RowsLoaded = rows
	o.recordRows(run, StageLoading, rows)

	log.Info("dataset loaded",
		slog.Int("rows", rows),
		slog.String("strategy", o.cfg.LoadStrategy),
		slog.Int("schema_version", version.Number))

	return nil
}

// postProcess archives the processed input with its sidecar. Metrics sealing
// and alert evaluation happen in the finishers, which cover failed runs too.
func (o *Orchestrator) postProcess(ctx context.Context, log *slog.Logger, run *Run) error {
	rec, err := o.deps.Quarantine.Archive(ctx, run.InputRef, quarantine.ArchiveRecord{
		RunID:           run.ID,
		RowsLoaded:      run.RowsLoaded,
		SchemaVersion:   run.SchemaVersion,
		QualityScore:    run.QualityScore,
		DurationSeconds: time.Since(run.StartTime).Seconds(),
	})
	if err != nil {
		return err
	}

	run.ArchivePath = rec.ArtifactPath
	log.Info("input archived", slog.String("artifact", rec.ArtifactPath))

	return nil
}

// finishSucceeded seals a successful run: terminal stage, metrics, alerts.
func (o *Orchestrator) finishSucceeded(ctx context.Context, log *slog.Logger, run *Run) *RunResult {
	// Terminal bookkeeping still runs when the caller's context has ended.
	ctx = context.WithoutCancel(ctx)

	run.EndTime = time.Now().UTC()

	if err := run.advance(StageSucceeded); err != nil {
		log.Error("terminal transition rejected", slog.String("error", err.Error()))
	}

	rec := o.deps.Sink.Finish(run.ID, monitoring.StatusSucceeded, "")
	run.Alerts = o.deps.Alerts.Evaluate(ctx, rec)

	log.Info("pipeline run succeeded",
		slog.Int("rows_loaded", run.RowsLoaded),
		slog.Float64("quality_score", run.QualityScore),
		slog.Duration("duration", run.EndTime.Sub(run.StartTime)))

	return run.seal()
}

// finishFailed seals a failed run: classify, quarantine exactly once, then
// metrics and alerts. The original error always wins; a quarantine failure is
// reported as a secondary note, never as the cause.
func (o *Orchestrator) finishFailed(ctx context.Context, log *slog.Logger, run *Run, cause error) *RunResult {
	// Terminal bookkeeping still runs when the caller's context has ended.
	ctx = context.WithoutCancel(ctx)

	run.EndTime = time.Now().UTC()
	run.FailedStage = run.Stage
	run.ErrorKind = Classify(cause)
	run.ErrorMessage = cause.Error()

	o.quarantineInput(ctx, log, run)

	if err := run.advance(StageFailed); err != nil {
		log.Error("terminal transition rejected", slog.String("error", err.Error()))
	}

	rec := o.deps.Sink.Finish(run.ID, monitoring.StatusFailed, run.ErrorMessage)
	run.Alerts = o.deps.Alerts.Evaluate(ctx, rec)

	log.Error("pipeline run failed",
		slog.String("stage", string(run.FailedStage)),
		slog.String("error_kind", string(run.ErrorKind)),
		slog.String("error", run.ErrorMessage))

	return run.seal()
}

// quarantineInput makes the run's single best-effort quarantine attempt.
func (o *Orchestrator) quarantineInput(ctx context.Context, log *slog.Logger, run *Run) {
	rec, err := o.deps.Quarantine.Quarantine(ctx, run.InputRef, quarantine.Record{
		RunID:        run.ID,
		FailingStage: string(run.FailedStage),
		ErrorKind:    string(run.ErrorKind),
		ErrorMessage: run.ErrorMessage,
		RetryCount:   run.retries(),
	})
	if err != nil {
		run.QuarantineNote = fmt.Sprintf("quarantine failed: %v", err)
		log.Error("quarantine attempt failed", slog.String("error", err.Error()))

		return
	}

	run.QuarantinePath = rec.ArtifactPath
}

// RunDirectory discovers pending inputs under dir matching pattern and runs
// each as an independent pipeline, at most MaxConcurrentRuns at a time. The
// per-input results come back in discovery order. An empty pattern matches
// every extractable file.
func (o *Orchestrator) RunDirectory(ctx context.Context, dir, pattern string, opts Options) (*BatchResult, error) {
	if pattern == "" {
		pattern = "*"
	}

	names, err := o.pendingInputs(dir, pattern)
	if err != nil {
		return nil, err
	}

	o.logger.Info("batch run started",
		slog.String("dir", dir),
		slog.String("pattern", pattern),
		slog.Int("inputs", len(names)),
		slog.Int("max_concurrent", o.cfg.MaxConcurrentRuns))

	results := make([]*RunResult, len(names))
	sem := make(chan struct{}, o.cfg.MaxConcurrentRuns)

	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)

		go func(i int, inputRef string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = o.Run(ctx, inputRef, opts)
		}(i, path.Join(dir, name))
	}

	wg.Wait()

	batch := &BatchResult{Dir: dir, Pattern: pattern, Processed: len(results), Results: results}

	for _, result := range results {
		if result.Succeeded {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}

	o.logger.Info("batch run finished",
		slog.Int("processed", batch.Processed),
		slog.Int("succeeded", batch.Succeeded),
		slog.Int("failed", batch.Failed))

	return batch, nil
}

// pendingInputs lists extractable files under dir matching pattern, sorted
// for a deterministic batch order.
func (o *Orchestrator) pendingInputs(dir, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	entries, err := o.deps.FS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan input directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !extract.Supported(entry.Name()) {
			continue
		}

		if matched, _ := path.Match(pattern, entry.Name()); matched {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// Status assembles the operator's one-call snapshot: dependency health,
// current schema version, pending and quarantined backlogs, and the rolling
// 24-hour run summary. Sub-collector failures are logged and leave their
// fields zeroed; status never refuses to answer.
func (o *Orchestrator) Status(ctx context.Context) *PipelineStatus {
	status := &PipelineStatus{
		CheckedAt:     time.Now().UTC(),
		SchemaVersion: o.deps.Registry.CurrentVersion(),
		ActiveRuns:    o.deps.Sink.ActiveRuns(),
	}

	if o.deps.Probe != nil {
		status.Health = o.deps.Probe.Check(ctx)
	}

	backlog, err := monitoring.Backlog(o.deps.FS, o.cfg.InputDir)
	if err != nil {
		o.logger.Warn("input backlog unavailable", slog.String("error", err.Error()))
	} else {
		status.InputBacklog = backlog
	}

	quarantined, err := o.deps.Quarantine.ListQuarantined()
	if err != nil {
		o.logger.Warn("quarantine backlog unavailable", slog.String("error", err.Error()))
	} else {
		status.QuarantineBacklog = len(quarantined)
	}

	summary, err := o.deps.Sink.Summary(statusWindow)
	if err != nil {
		o.logger.Warn("metrics summary unavailable", slog.String("error", err.Error()))
	} else {
		status.Today = summary
	}

	return status
}

// bounded runs fn under the stage timeout. A timeout that fires while the
// run's own context is still live reports as ErrStageTimeout, so it
// classifies as transient rather than cancelled.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(stageCtx)
	if err != nil && stageCtx.Err() != nil && ctx.Err() == nil {
		return result, fmt.Errorf("%w after %s: %v", ErrStageTimeout, timeout, err)
	}

	return result, err
}
