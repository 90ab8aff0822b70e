package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/conveyor-io/conveyor/internal/monitoring"
	"github.com/conveyor-io/conveyor/internal/quality"
	"github.com/conveyor-io/conveyor/internal/schema"
)

// Options selects the optional stages of a run.
type Options struct {
	// QualityGate enables the artifact gate during preflight and the dataset
	// gate after extraction.
	QualityGate bool

	// SchemaEvolution enables drift reconciliation, in-memory remediation,
	// and additive store migration.
	SchemaEvolution bool
}

// DefaultOptions enables every optional stage.
func DefaultOptions() Options {
	return Options{QualityGate: true, SchemaEvolution: true}
}

// Run is the state of one pipeline run. It is created when the run starts,
// mutated only by the owning orchestrator, and immutable once the run
// reaches a terminal stage.
type Run struct {
	ID             string                  `json:"run_id"`
	InputRef       string                  `json:"input_ref"`
	Stage          Stage                   `json:"stage"`
	FailedStage    Stage                   `json:"failed_stage,omitempty"`
	StartTime      time.Time               `json:"start_time"`
	EndTime        time.Time               `json:"end_time"`
	RowsByStage    map[Stage]int           `json:"rows_by_stage"`
	RowsLoaded     int                     `json:"rows_loaded"`
	SchemaVersion  int                     `json:"schema_version,omitempty"`
	QualityScore   float64                 `json:"quality_score"`
	Warnings       []quality.Finding       `json:"warnings,omitempty"`
	Evolution      *schema.Report          `json:"evolution,omitempty"`
	Alerts         []monitoring.AlertEvent `json:"alerts,omitempty"`
	ErrorKind      ErrorKind               `json:"error_kind,omitempty"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
	QuarantinePath string                  `json:"quarantine_path,omitempty"`
	QuarantineNote string                  `json:"quarantine_note,omitempty"`
	ArchivePath    string                  `json:"archive_path,omitempty"`

	// attempts counts the tries of the most recent retried operation.
	attempts int
}

// newRun creates a run in the initializing stage.
func newRun(inputRef string) *Run {
	return &Run{
		ID:           "run_" + uuid.New().String(),
		InputRef:     inputRef,
		Stage:        StageInitializing,
		StartTime:    time.Now().UTC(),
		RowsByStage:  make(map[Stage]int),
		QualityScore: 100,
	}
}

// advance moves the run to the next stage after validating the transition.
func (r *Run) advance(to Stage) error {
	if err := ValidateTransition(r.Stage, to); err != nil {
		return err
	}

	r.Stage = to

	return nil
}

// retries reports how many retries the most recent retried operation burned.
func (r *Run) retries() int {
	if r.attempts <= 1 {
		return 0
	}

	return r.attempts - 1
}

// seal freezes the run into its result.
func (r *Run) seal() *RunResult {
	return &RunResult{
		RunID:           r.ID,
		InputRef:        r.InputRef,
		Succeeded:       r.Stage == StageSucceeded,
		FailedStage:     r.FailedStage,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
		RowsByStage:     r.RowsByStage,
		RowsLoaded:      r.RowsLoaded,
		SchemaVersion:   r.SchemaVersion,
		QualityScore:    r.QualityScore,
		Warnings:        r.Warnings,
		Evolution:       r.Evolution,
		Alerts:          r.Alerts,
		QuarantinePath:  r.QuarantinePath,
		QuarantineNote:  r.QuarantineNote,
		ArchivePath:     r.ArchivePath,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: r.EndTime.Sub(r.StartTime).Seconds(),
	}
}

// RunResult is the sealed outcome of one pipeline run. A failed run is
// reported here, never as a returned error: the failing stage, classified
// kind, and quarantine disposition ride along with whatever the run produced
// before it stopped.
type RunResult struct {
	RunID           string                  `json:"run_id"`
	InputRef        string                  `json:"input_ref"`
	Succeeded       bool                    `json:"succeeded"`
	FailedStage     Stage                   `json:"failed_stage,omitempty"`
	ErrorKind       ErrorKind               `json:"error_kind,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	RowsByStage     map[Stage]int           `json:"rows_by_stage,omitempty"`
	RowsLoaded      int                     `json:"rows_loaded"`
	SchemaVersion   int                     `json:"schema_version,omitempty"`
	QualityScore    float64                 `json:"quality_score"`
	Warnings        []quality.Finding       `json:"warnings,omitempty"`
	Evolution       *schema.Report          `json:"evolution,omitempty"`
	Alerts          []monitoring.AlertEvent `json:"alerts,omitempty"`
	QuarantinePath  string                  `json:"quarantine_path,omitempty"`
	QuarantineNote  string                  `json:"quarantine_note,omitempty"`
	ArchivePath     string                  `json:"archive_path,omitempty"`
	StartTime       time.Time               `json:"start_time"`
	EndTime         time.Time               `json:"end_time"`
	DurationSeconds float64                 `json:"duration_seconds"`
}

// BatchResult summarizes one RunDirectory invocation.
type BatchResult struct {
	Dir       string       `json:"dir"`
	Pattern   string       `json:"pattern"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []*RunResult `json:"results"`
}

// PipelineStatus is the operator's one-call view of the pipeline.
type PipelineStatus struct {
	CheckedAt         time.Time           `json:"checked_at"`
	Health            *monitoring.Health  `json:"health,omitempty"`
	SchemaVersion     int                 `json:"schema_version"`
	ActiveRuns        int                 `json:"active_runs"`
	InputBacklog      int                 `json:"input_backlog"`
	QuarantineBacklog int                 `json:"quarantine_backlog"`
	Today             *monitoring.Summary `json:"today,omitempty"`
}
