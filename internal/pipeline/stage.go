package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies one phase of a pipeline run.
type Stage string

// Run stages, in execution order. A run may skip a disabled optional stage
// but never visits one out of order.
const (
	StageInitializing    Stage = "initializing"
	StagePreflight       Stage = "preflight"
	StageExtracting      Stage = "extracting"
	StageQualityCheck    Stage = "quality_check"
	StageSchemaEvolution Stage = "schema_evolution"
	StageTransforming    Stage = "transforming"
	StageLoading         Stage = "loading"
	StagePostProcessing  Stage = "post_processing"

	// Terminal stages. A run that reaches one of these never moves again.
	StageSucceeded Stage = "succeeded"
	StageFailed    Stage = "failed"
)

// Sentinel errors for stage transition validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrUnknownStage indicates a stage name outside the run lifecycle.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrInvalidTransition indicates a transition the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrTerminalStageImmutable indicates an attempt to leave a terminal stage.
	ErrTerminalStageImmutable = errors.New("terminal stage is immutable")

	// ErrBackwardTransition indicates an attempt to move to an earlier stage.
	ErrBackwardTransition = errors.New("cannot transition to an earlier stage")
)

// stageRank orders the lifecycle. Both terminal stages share the final rank;
// Succeeded is additionally reachable only from PostProcessing.
var stageRank = map[Stage]int{
	StageInitializing:    0,
	StagePreflight:       1,
	StageExtracting:      2,
	StageQualityCheck:    3,
	StageSchemaEvolution: 4,
	StageTransforming:    5,
	StageLoading:         6,
	StagePostProcessing:  7,
	StageSucceeded:       8,
	StageFailed:          8,
}

// IsTerminal returns true if the stage ends the run.
func (s Stage) IsTerminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// IsValid checks if the stage belongs to the run lifecycle.
func (s Stage) IsValid() bool {
	_, ok := stageRank[s]

	return ok
}

// ValidateTransition validates one stage transition of a run.
//
// Valid transitions:
//   - any forward move, including skips over disabled optional stages
//   - re-entry into the same non-terminal stage (retried work)
//   - any non-terminal stage → Failed
//   - PostProcessing → Succeeded
//   - terminal → same terminal (idempotent)
//
// Invalid transitions:
//   - leaving a terminal stage
//   - moving backward
//   - reaching Succeeded from anywhere but PostProcessing
func ValidateTransition(from, to Stage) error {
	fromRank, ok := stageRank[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, from)
	}

	toRank, ok := stageRank[to]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, to)
	}

	if from.IsTerminal() {
		if from != to {
			return fmt.Errorf("%w: %s → %s", ErrTerminalStageImmutable, from, to)
		}

		return nil // Idempotent terminal stage
	}

	if to == StageSucceeded && from != StagePostProcessing {
		return fmt.Errorf("%w: %s → %s (runs succeed only after post-processing)", ErrInvalidTransition, from, to)
	}

	if toRank < fromRank {
		return fmt.Errorf("%w: %s → %s", ErrBackwardTransition, from, to)
	}

	return nil
}
