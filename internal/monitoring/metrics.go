// Package monitoring observes pipeline execution. The Sink tracks per-run
// metrics while a run is live and persists finished runs to day-partitioned
// NDJSON history; the Router turns threshold breaches on finished runs into
// alert events; the Probe answers whether the pipeline's dependencies are fit
// to accept a run.
package monitoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"gonum.org/v1/gonum/stat"
)

// MetricsDir is the directory on the data filesystem holding per-date run
// metrics files.
const MetricsDir = "metrics"

const (
	metricsFilePrefix = "pipeline_metrics_"
	metricsDateLayout = "20060102"
)

// Run statuses recorded in metrics.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunMetrics is the execution record of one pipeline run. While the run is
// live the sink mutates it in place; once finished it is immutable history.
type RunMetrics struct {
	RunID           string         `json:"run_id"`
	InputRef        string         `json:"input_ref"`
	Status          string         `json:"status"`
	Stage           string         `json:"stage"`
	RowsByStage     map[string]int `json:"rows_by_stage,omitempty"`
	RowsProcessed   int            `json:"rows_processed"`
	QualityScore    float64        `json:"quality_score"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	Throughput      float64        `json:"throughput_rows_per_second"`
}

func (m *RunMetrics) clone() *RunMetrics {
	out := *m
	out.RowsByStage = maps.Clone(m.RowsByStage)

	return &out
}

// Summary aggregates finished runs over a rolling time window.
type Summary struct {
	TotalRuns          int     `json:"total_runs"`
	SucceededRuns      int     `json:"succeeded_runs"`
	FailedRuns         int     `json:"failed_runs"`
	SuccessRate        float64 `json:"success_rate"`
	TotalRows          int     `json:"total_rows_processed"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	P95DurationSeconds float64 `json:"p95_duration_seconds"`
	AvgThroughput      float64 `json:"avg_throughput_rows_per_second"`
	AvgQualityScore    float64 `json:"avg_quality_score"`
}

// Sink tracks live run metrics and appends finished runs to per-date NDJSON
// files under MetricsDir. All methods are safe for concurrent use; filesystem
// access stays under the sink's lock so concurrent finishes never interleave
// writes.
type Sink struct {
	fs     billy.Filesystem
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*RunMetrics
}

// NewSink creates a metrics sink persisting to fs.
func NewSink(fs billy.Filesystem, logger *slog.Logger) *Sink {
	return &Sink{
		fs:     fs,
		logger: logger.With(slog.String("component", "metrics_sink")),
		active: make(map[string]*RunMetrics),
	}
}

// Start begins tracking a run. The quality score starts at 100 and stands
// until the gate reports a measured score, so runs failing before the gate
// never read as quality incidents.
func (s *Sink) Start(runID, inputRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active[runID] = &RunMetrics{
		RunID:        runID,
		InputRef:     inputRef,
		Status:       StatusRunning,
		QualityScore: 100,
		RowsByStage:  make(map[string]int),
		StartTime:    time.Now().UTC(),
	}

	s.logger.Info("run tracking started",
		slog.String("run_id", runID),
		slog.String("input", inputRef))
}

// UpdateStage records the run's current stage and the row count it carries.
// A zero rows value marks a stage without its own count and leaves the run's
// last known row count untouched.
func (s *Sink) UpdateStage(runID, stage string, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.active[runID]
	if !ok {
		return
	}

	rec.Stage = stage
	rec.RowsByStage[stage] = rows

	if rows > 0 {
		rec.RowsProcessed = rows
	}

	s.logger.Debug("run stage updated",
		slog.String("run_id", runID),
		slog.String("stage", stage),
		slog.Int("rows", rows))
}

// SetQualityScore records the gate's measured score for a live run.
func (s *Sink) SetQualityScore(runID string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.active[runID]
	if !ok {
		return
	}

	rec.QualityScore = score

	s.logger.Debug("run quality score recorded",
		slog.String("run_id", runID),
		slog.Float64("score", score))
}

// Snapshot returns a copy of a live run's record for external pollers.
func (s *Sink) Snapshot(runID string) (*RunMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.active[runID]
	if !ok {
		return nil, false
	}

	return rec.clone(), true
}

// ActiveRuns reports how many runs the sink is currently tracking.
func (s *Sink) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}

// Finish closes the run record, appends it to the per-date metrics file, and
// returns the finished record. Persistence failures are logged, never
// propagated; losing one metrics line must not fail the run it describes.
func (s *Sink) Finish(runID, status, errorMessage string) *RunMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.active[runID]
	if !ok {
		s.logger.Warn("finish for unknown run", slog.String("run_id", runID))

		return nil
	}

	delete(s.active, runID)

	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.EndTime = time.Now().UTC()
	rec.DurationSeconds = rec.EndTime.Sub(rec.StartTime).Seconds()

	if rec.DurationSeconds > 0 && rec.RowsProcessed > 0 {
		rec.Throughput = float64(rec.RowsProcessed) / rec.DurationSeconds
	}

	if err := s.appendMetrics(rec); err != nil {
		s.logger.Error("failed to persist run metrics",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
	}

	s.logger.Info("run tracking finished",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Int("rows", rec.RowsProcessed),
		slog.Float64("duration_seconds", rec.DurationSeconds))

	return rec
}

// Summary aggregates the finished runs whose start time falls inside the
// trailing window. History is read back from the per-date files, so the
// aggregates survive process restarts and are visible to a status call from
// a fresh process.
func (s *Sink) Summary(window time.Duration) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-window)

	var records []RunMetrics

	first := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if err := s.readDay(day, cutoff, &records); err != nil {
			return nil, err
		}
	}

	return summarize(records), nil
}

// readDay appends the day's in-window records to out. A missing file means no
// runs finished that day; a corrupt line abandons the rest of that file so one
// truncated write cannot hide every other day's history.
func (s *Sink) readDay(day, cutoff time.Time, out *[]RunMetrics) error {
	name := path.Join(MetricsDir, metricsFileName(day))

	file, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("open metrics file %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()

	dec := json.NewDecoder(file)

	for {
		var rec RunMetrics

		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			s.logger.Warn("skipping corrupt metrics file tail",
				slog.String("file", name),
				slog.String("error", err.Error()))

			return nil
		}

		if rec.StartTime.Before(cutoff) {
			continue
		}

		*out = append(*out, rec)
	}
}

func summarize(records []RunMetrics) *Summary {
	sum := &Summary{TotalRuns: len(records)}
	if len(records) == 0 {
		return sum
	}

	durations := make([]float64, 0, len(records))
	scores := make([]float64, 0, len(records))

	var totalDuration float64

	for _, rec := range records {
		switch rec.Status {
		case StatusSucceeded:
			sum.SucceededRuns++
		case StatusFailed:
			sum.FailedRuns++
		}

		sum.TotalRows += rec.RowsProcessed
		totalDuration += rec.DurationSeconds

		durations = append(durations, rec.DurationSeconds)
		scores = append(scores, rec.QualityScore)
	}

	sum.SuccessRate = float64(sum.SucceededRuns) / float64(sum.TotalRuns) * 100
	sum.AvgDurationSeconds = stat.Mean(durations, nil)
	sum.AvgQualityScore = stat.Mean(scores, nil)

	sort.Float64s(durations)
	sum.P95DurationSeconds = stat.Quantile(0.95, stat.Empirical, durations, nil)

	if totalDuration > 0 {
		sum.AvgThroughput = float64(sum.TotalRows) / totalDuration
	}

	return sum
}

func (s *Sink) appendMetrics(rec *RunMetrics) error {
	if err := s.fs.MkdirAll(MetricsDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}

	name := path.Join(MetricsDir, metricsFileName(rec.StartTime))

	file, err := s.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(true)

	if err := enc.Encode(rec); err != nil {
		_ = file.Close()

		return fmt.Errorf("encode metrics record: %w", err)
	}

	return file.Close()
}

// metricsFileName returns the per-date file holding runs started on day.
func metricsFileName(day time.Time) string {
	return metricsFilePrefix + day.Format(metricsDateLayout) + ".ndjson"
}
