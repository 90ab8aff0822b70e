package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/time/rate"
)

// AlertsDir is the directory on the data filesystem holding emitted alert
// files.
const AlertsDir = "alerts"

const alertTimestampLayout = "20060102_150405"

// Alert types emitted by the router.
const (
	AlertPipelineFailure     = "pipeline_failure"
	AlertSlowExecution       = "slow_execution"
	AlertLowQualityScore     = "low_quality_score"
	AlertConsecutiveFailures = "consecutive_failures"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AlertEvent is one threshold breach detected on a finished run.
type AlertEvent struct {
	Type      string      `json:"alert_type"`
	Severity  string      `json:"severity"`
	Message   string      `json:"message"`
	RunID     string      `json:"run_id"`
	InputRef  string      `json:"input_ref,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Run       *RunMetrics `json:"run_metrics,omitempty"`
}

// Notifier forwards alert events to an external channel. Implementations must
// be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event AlertEvent) error
}

// Router evaluates finished runs against the configured thresholds and emits
// AlertEvents. Every event is logged and written as a JSON file under
// AlertsDir; forwarding to the notifier passes through a token bucket so an
// alert storm degrades to local files instead of flooding the channel. The
// consecutive-failure streak is one atomic counter shared across every run
// the router sees.
type Router struct {
	cfg      *Config
	fs       billy.Filesystem
	notifier Notifier
	limiter  *rate.Limiter
	logger   *slog.Logger

	failures atomic.Int64

	mu sync.Mutex // serializes alert file writes
}

// NewRouter creates an alert router. A nil notifier keeps alerts local:
// logged and written to the data filesystem only.
func NewRouter(cfg *Config, fs billy.Filesystem, notifier Notifier, logger *slog.Logger) *Router {
	return &Router{
		cfg:      cfg,
		fs:       fs,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(cfg.NotifyRate), cfg.NotifyBurst),
		logger:   logger.With(slog.String("component", "alert_router")),
	}
}

// Evaluate checks one finished run against every threshold and emits an alert
// per breach. A failed run grows the shared failure streak; any other
// finished status resets it.
func (r *Router) Evaluate(ctx context.Context, run *RunMetrics) []AlertEvent {
	if run == nil {
		return nil
	}

	var events []AlertEvent

	if run.Status == StatusFailed {
		streak := r.failures.Add(1)

		events = append(events, r.emit(ctx, run, AlertPipelineFailure, SeverityCritical,
			fmt.Sprintf("run failed at stage %s: %s", run.Stage, run.ErrorMessage)))

		if streak >= int64(r.cfg.MaxConsecutiveFailures) {
			events = append(events, r.emit(ctx, run, AlertConsecutiveFailures, SeverityCritical,
				fmt.Sprintf("%d consecutive run failures (threshold %d)", streak, r.cfg.MaxConsecutiveFailures)))
		}
	} else {
		r.failures.Store(0)
	}

	if run.DurationSeconds > r.cfg.MaxExecutionTime.Seconds() {
		events = append(events, r.emit(ctx, run, AlertSlowExecution, SeverityWarning,
			fmt.Sprintf("run took %.2fs (threshold %s)", run.DurationSeconds, r.cfg.MaxExecutionTime)))
	}

	if run.QualityScore < r.cfg.MinQualityScore {
		events = append(events, r.emit(ctx, run, AlertLowQualityScore, SeverityWarning,
			fmt.Sprintf("quality score %.1f below threshold %.1f", run.QualityScore, r.cfg.MinQualityScore)))
	}

	return events
}

// ConsecutiveFailures reports the current shared failure streak.
func (r *Router) ConsecutiveFailures() int64 {
	return r.failures.Load()
}

// emit logs the event, persists it under AlertsDir, and forwards it to the
// notifier when the limiter grants a token. File and notifier failures are
// logged and tolerated; an alert that only made it into the log is still an
// alert.
func (r *Router) emit(ctx context.Context, run *RunMetrics, alertType, severity, message string) AlertEvent {
	event := AlertEvent{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		RunID:     run.RunID,
		InputRef:  run.InputRef,
		Timestamp: time.Now().UTC(),
		Run:       run,
	}

	r.log(event)

	if err := r.writeAlertFile(event); err != nil {
		r.logger.Error("failed to write alert file",
			slog.String("alert_type", event.Type),
			slog.String("error", err.Error()))
	}

	r.forward(ctx, event)

	return event
}

func (r *Router) log(event AlertEvent) {
	attrs := []any{
		slog.String("alert_type", event.Type),
		slog.String("severity", event.Severity),
		slog.String("run_id", event.RunID),
		slog.String("message", event.Message),
	}

	if event.Severity == SeverityCritical {
		r.logger.Error("alert raised", attrs...)

		return
	}

	r.logger.Warn("alert raised", attrs...)
}

func (r *Router) writeAlertFile(event AlertEvent) error {
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fs.MkdirAll(AlertsDir, 0o755); err != nil {
		return fmt.Errorf("create alerts directory: %w", err)
	}

	return util.WriteFile(r.fs, path.Join(AlertsDir, alertFileName(event)), data, 0o644)
}

func (r *Router) forward(ctx context.Context, event AlertEvent) {
	if r.notifier == nil {
		return
	}

	if !r.limiter.Allow() {
		r.logger.Warn("alert notification throttled",
			slog.String("alert_type", event.Type),
			slog.String("run_id", event.RunID))

		return
	}

	if err := r.notifier.Notify(ctx, event); err != nil {
		r.logger.Error("alert notification failed",
			slog.String("alert_type", event.Type),
			slog.String("error", err.Error()))
	}
}

// alertFileName builds the collision-free alert file name:
// alert_<timestamp>_<run id>_<type>.json. Two alerts for the same run in the
// same second still land in distinct files.
func alertFileName(event AlertEvent) string {
	return fmt.Sprintf("alert_%s_%s_%s.json",
		event.Timestamp.Format(alertTimestampLayout), event.RunID, event.Type)
}
