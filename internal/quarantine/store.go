// Package quarantine owns the holding areas for finished inputs: failed inputs
// move to the dead-letter directory with an .error.json sidecar, successfully
// processed inputs move to the archive with a .processed.json sidecar. The two
// outcomes are mutually exclusive for one input within a run. File names embed
// the timestamp and run id, so concurrent runs never collide on a path.
package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Holding area directories under the data root.
const (
	DeadLetterDir = "deadletter"
	ArchiveDir    = "archive"
)

// Sidecar file suffixes.
const (
	errorSidecarSuffix     = ".error.json"
	processedSidecarSuffix = ".processed.json"
)

const artifactTimestampLayout = "20060102_150405"

// Record is the immutable metadata written alongside a quarantined artifact.
type Record struct {
	InputRef      string    `json:"input_ref"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	RunID         string    `json:"run_id"`
	FailingStage  string    `json:"failing_stage"`
	ErrorKind     string    `json:"error_kind"`
	ErrorMessage  string    `json:"error_message"`
	RetryCount    int       `json:"retry_count"`
	ArtifactPath  string    `json:"artifact_path,omitempty"`
	Checksum      string    `json:"checksum,omitempty"`
}

// ArchiveRecord is the immutable metadata written alongside an archived artifact.
type ArchiveRecord struct {
	InputRef        string    `json:"input_ref"`
	ArchivedAt      time.Time `json:"archived_at"`
	RunID           string    `json:"run_id"`
	RowsLoaded      int       `json:"rows_loaded"`
	SchemaVersion   int       `json:"schema_version,omitempty"`
	QualityScore    float64   `json:"quality_score"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	ArtifactPath    string    `json:"artifact_path"`
	Checksum        string    `json:"checksum"`
}

// Store moves inputs into the dead-letter and archive holding areas on the
// data filesystem, optionally mirroring dead-lettered artifacts to an object
// store bucket.
type Store struct {
	fs     billy.Filesystem
	mirror *Mirror
	logger *slog.Logger
}

// NewStore creates a quarantine store. A nil mirror disables object-store mirroring.
func NewStore(fs billy.Filesystem, mirror *Mirror, logger *slog.Logger) *Store {
	return &Store{
		fs:     fs,
		mirror: mirror,
		logger: logger.With(slog.String("component", "quarantine_store")),
	}
}

// Quarantine moves the failing input into the dead-letter directory and writes
// the record as its .error.json sidecar. When the input itself cannot be read
// (it may be the reason the run failed), the sidecar is still written so the
// failure stays inspectable. Returns the completed record.
func (s *Store) Quarantine(ctx context.Context, inputRef string, rec Record) (*Record, error) {
	rec.InputRef = inputRef
	rec.QuarantinedAt = time.Now().UTC()

	dest := path.Join(DeadLetterDir, artifactName(rec.QuarantinedAt, rec.RunID, inputRef))

	checksum, err := s.moveArtifact(inputRef, dest)

	switch {
	case err == nil:
		rec.ArtifactPath = dest
		rec.Checksum = checksum
	case errors.Is(err, os.ErrNotExist):
		s.logger.Warn("input artifact unreadable, quarantining metadata only",
			slog.String("input", inputRef))
	default:
		return nil, fmt.Errorf("quarantine artifact: %w", err)
	}

	sidecar := dest + errorSidecarSuffix
	if err := s.writeSidecar(sidecar, rec); err != nil {
		return nil, fmt.Errorf("write quarantine sidecar: %w", err)
	}

	s.mirrorArtifacts(ctx, rec.ArtifactPath, sidecar)

	s.logger.Info("input quarantined",
		slog.String("input", inputRef),
		slog.String("run_id", rec.RunID),
		slog.String("stage", rec.FailingStage),
		slog.String("error_kind", rec.ErrorKind),
		slog.String("artifact", rec.ArtifactPath),
	)

	return &rec, nil
}

// Archive moves a successfully processed input into the archive directory with
// its .processed.json sidecar. Returns the completed record.
func (s *Store) Archive(_ context.Context, inputRef string, rec ArchiveRecord) (*ArchiveRecord, error) {
	rec.InputRef = inputRef
	rec.ArchivedAt = time.Now().UTC()

	dest := path.Join(ArchiveDir, artifactName(rec.ArchivedAt, rec.RunID, inputRef))

	checksum, err := s.moveArtifact(inputRef, dest)
	if err != nil {
		return nil, fmt.Errorf("archive artifact: %w", err)
	}

	rec.ArtifactPath = dest
	rec.Checksum = checksum

	if err := s.writeSidecar(dest+processedSidecarSuffix, rec); err != nil {
		return nil, fmt.Errorf("write archive sidecar: %w", err)
	}

	s.logger.Info("input archived",
		slog.String("input", inputRef),
		slog.String("run_id", rec.RunID),
		slog.Int("rows_loaded", rec.RowsLoaded),
		slog.String("artifact", dest),
	)

	return &rec, nil
}

// ListQuarantined reads every .error.json sidecar in the dead-letter
// directory, newest first.
func (s *Store) ListQuarantined() ([]Record, error) {
	entries, err := s.fs.ReadDir(DeadLetterDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read dead-letter directory: %w", err)
	}

	records := make([]Record, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), errorSidecarSuffix) {
			continue
		}

		data, err := util.ReadFile(s.fs, path.Join(DeadLetterDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read sidecar %s: %w", entry.Name(), err)
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse sidecar %s: %w", entry.Name(), err)
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].QuarantinedAt.After(records[j].QuarantinedAt)
	})

	return records, nil
}

// Writable verifies the dead-letter directory accepts writes. The health probe
// calls this so a full or read-only data disk surfaces before a run needs to
// quarantine.
func (s *Store) Writable() error {
	probe := path.Join(DeadLetterDir, ".writable")

	if err := util.WriteFile(s.fs, probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("dead-letter directory not writable: %w", err)
	}

	if err := s.fs.Remove(probe); err != nil {
		return fmt.Errorf("remove writability probe: %w", err)
	}

	return nil
}

// moveArtifact copies src into dest, hashes the copy, then removes the source.
// A failed removal is logged and tolerated; the copy is already safe.
func (s *Store) moveArtifact(src, dest string) (string, error) {
	checksum, err := s.copyArtifact(src, dest)
	if err != nil {
		return "", err
	}

	if err := s.fs.Remove(src); err != nil {
		s.logger.Warn("failed to remove original after copy",
			slog.String("input", src),
			slog.String("error", err.Error()))
	}

	return checksum, nil
}

func (s *Store) copyArtifact(src, dest string) (string, error) {
	in, err := s.fs.Open(src)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	if err := s.fs.MkdirAll(path.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create holding directory: %w", err)
	}

	out, err := s.fs.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return "", fmt.Errorf("copy %s: %w", src, err)
	}

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("flush %s: %w", dest, err)
	}

	return FileChecksum(s.fs, dest)
}

func (s *Store) writeSidecar(name string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}

	return util.WriteFile(s.fs, name, data, 0o644)
}

// mirrorArtifacts uploads the artifact and sidecar to the object-store mirror.
// Mirroring is best-effort: failures are logged, never propagated.
func (s *Store) mirrorArtifacts(ctx context.Context, names ...string) {
	if s.mirror == nil {
		return
	}

	for _, name := range names {
		if name == "" {
			continue
		}

		if err := s.mirror.UploadFile(ctx, s.fs, name); err != nil {
			s.logger.Warn("mirror upload failed",
				slog.String("artifact", name),
				slog.String("error", err.Error()))
		}
	}
}

// artifactName builds the collision-free holding-area file name:
// <timestamp>_<runID>_<original base name>.
func artifactName(ts time.Time, runID, inputRef string) string {
	return fmt.Sprintf("%s_%s_%s", ts.Format(artifactTimestampLayout), runID, path.Base(inputRef))
}
