package pipeline

import (
	"context"
	"errors"

	"github.com/conveyor-io/conveyor/internal/extract"
	"github.com/conveyor-io/conveyor/internal/schema"
	"github.com/conveyor-io/conveyor/internal/storage"
	"github.com/conveyor-io/conveyor/internal/transform"
)

// ErrorKind classifies a fatal run failure. Callers distinguish
// fatal-after-retry from fatal-immediately by kind, not by retry count.
type ErrorKind string

// Failure classifications carried on a failed run.
const (
	// KindInputError marks a missing, malformed, or oversized input, or data
	// the target store's constraints reject. Never retried.
	KindInputError ErrorKind = "input_error"

	// KindQualityError marks a blocking dataset validation issue. Never retried.
	KindQualityError ErrorKind = "quality_error"

	// KindSchemaIncompatibility marks unrecoverable schema drift.
	KindSchemaIncompatibility ErrorKind = "schema_incompatibility"

	// KindTransientStoreError marks a connection or timeout failure. Extract
	// and load retry these and go fatal only after exhausting their attempts.
	KindTransientStoreError ErrorKind = "transient_store_error"

	// KindMigrationError marks failed evolution DDL; the registry was not advanced.
	KindMigrationError ErrorKind = "migration_error"

	// KindCancelled marks a run aborted by its context.
	KindCancelled ErrorKind = "cancelled"
)

// Failures raised by the orchestrator itself.
var (
	// ErrPreflightUnhealthy indicates the health probe vetoed the run.
	ErrPreflightUnhealthy = errors.New("pipeline dependencies unhealthy")

	// ErrArtifactRejected indicates the input failed the artifact gate.
	ErrArtifactRejected = errors.New("input artifact rejected")

	// ErrDatasetRejected indicates the extracted dataset failed the quality gate.
	ErrDatasetRejected = errors.New("dataset rejected by quality gate")

	// ErrStageTimeout indicates a stage exceeded its configured time budget
	// while the run itself was still live.
	ErrStageTimeout = errors.New("stage timed out")
)

// Classify maps an error to its failure kind. Unrecognized errors classify
// as transient store failures.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, extract.ErrNotFound),
		errors.Is(err, extract.ErrUnparseable),
		errors.Is(err, extract.ErrMalformed),
		errors.Is(err, ErrArtifactRejected),
		errors.Is(err, storage.ErrConstraintViolation):
		return KindInputError
	case errors.Is(err, ErrDatasetRejected):
		return KindQualityError
	case errors.Is(err, schema.ErrIncompatible),
		errors.Is(err, transform.ErrSchemaViolation):
		return KindSchemaIncompatibility
	case errors.Is(err, schema.ErrMigrationFailed):
		return KindMigrationError
	case errors.Is(err, ErrStageTimeout):
		return KindTransientStoreError
	default:
		return KindTransientStoreError
	}
}

// extractRetryable reports whether a failed extract attempt is worth another
// try. Missing and structurally bad inputs never heal on their own.
func extractRetryable(err error) bool {
	return !errors.Is(err, extract.ErrNotFound) &&
		!errors.Is(err, extract.ErrUnparseable) &&
		!errors.Is(err, extract.ErrMalformed)
}

// loadRetryable reports whether a failed load attempt is worth another try.
// Constraint violations repeat deterministically.
func loadRetryable(err error) bool {
	return !errors.Is(err, storage.ErrConstraintViolation) &&
		!errors.Is(err, storage.ErrUnknownLoadStrategy)
}
