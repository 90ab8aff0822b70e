package monitoring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/conveyor-io/conveyor/internal/extract"
)

// Health check names.
const (
	CheckStore      = "store"
	CheckDisk       = "disk_headroom"
	CheckBacklog    = "input_backlog"
	CheckQuarantine = "quarantine_writable"
)

// Check statuses. Warning and skipped checks leave the probe healthy; only a
// failed check marks it unhealthy.
const (
	CheckOK      = "ok"
	CheckWarning = "warning"
	CheckFailed  = "failed"
	CheckSkipped = "skipped"
)

// errDiskStatsUnsupported marks platforms without a free-space syscall; the
// probe skips the disk check there instead of failing it.
var errDiskStatsUnsupported = errors.New("disk statistics unsupported on this platform")

// CheckResult is one health check's outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Health aggregates the probe battery's results.
type Health struct {
	Healthy   bool          `json:"healthy"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckResult `json:"checks"`
}

// StorePinger reports warehouse reachability.
type StorePinger interface {
	HealthCheck(ctx context.Context) error
}

// QuarantineStore reports whether the dead-letter area accepts writes.
type QuarantineStore interface {
	Writable() error
}

// Probe runs the fixed dependency battery consumed by preflight: warehouse
// reachability, disk headroom on the data filesystem, pending-input backlog,
// and quarantine writability.
type Probe struct {
	cfg        *Config
	store      StorePinger
	fs         billy.Filesystem
	inputDir   string
	quarantine QuarantineStore
	logger     *slog.Logger

	diskFree func(path string) (uint64, error)
}

// NewProbe creates a health probe over the data filesystem. A nil store or
// quarantine skips the corresponding check.
func NewProbe(cfg *Config, store StorePinger, fs billy.Filesystem, inputDir string, quarantine QuarantineStore, logger *slog.Logger) *Probe {
	return &Probe{
		cfg:        cfg,
		store:      store,
		fs:         fs,
		inputDir:   inputDir,
		quarantine: quarantine,
		logger:     logger.With(slog.String("component", "health_probe")),
		diskFree:   platformDiskFree,
	}
}

// Check runs the battery and reports per-check detail plus the aggregate.
func (p *Probe) Check(ctx context.Context) *Health {
	health := &Health{
		Healthy:   true,
		CheckedAt: time.Now().UTC(),
	}

	checks := []func(context.Context) CheckResult{
		p.checkStore,
		p.checkDisk,
		p.checkBacklog,
		p.checkQuarantine,
	}

	for _, check := range checks {
		result := check(ctx)
		health.Checks = append(health.Checks, result)

		switch result.Status {
		case CheckFailed:
			health.Healthy = false

			p.logger.Warn("health check failed",
				slog.String("check", result.Name),
				slog.String("message", result.Message))
		case CheckWarning:
			p.logger.Warn("health check degraded",
				slog.String("check", result.Name),
				slog.String("message", result.Message))
		}
	}

	return health
}

func (p *Probe) checkStore(ctx context.Context) CheckResult {
	if p.store == nil {
		return CheckResult{Name: CheckStore, Status: CheckSkipped, Message: "no store configured"}
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout)
	defer cancel()

	if err := p.store.HealthCheck(cctx); err != nil {
		return CheckResult{
			Name:    CheckStore,
			Status:  CheckFailed,
			Message: fmt.Sprintf("store unreachable: %v", err),
		}
	}

	return CheckResult{Name: CheckStore, Status: CheckOK, Message: "store reachable"}
}

func (p *Probe) checkDisk(_ context.Context) CheckResult {
	free, err := p.diskFree(p.fs.Root())

	switch {
	case errors.Is(err, errDiskStatsUnsupported):
		return CheckResult{Name: CheckDisk, Status: CheckSkipped, Message: err.Error()}
	case err != nil:
		return CheckResult{
			Name:    CheckDisk,
			Status:  CheckFailed,
			Message: fmt.Sprintf("disk statistics failed: %v", err),
		}
	case free < uint64(p.cfg.MinDiskBytes):
		return CheckResult{
			Name:    CheckDisk,
			Status:  CheckFailed,
			Message: fmt.Sprintf("low disk space: %d bytes free, %d required", free, p.cfg.MinDiskBytes),
		}
	}

	return CheckResult{Name: CheckDisk, Status: CheckOK, Message: fmt.Sprintf("%d bytes free", free)}
}

// checkBacklog counts extractable inputs waiting in the input directory. A
// backlog over threshold degrades to a warning; it needs draining, not
// blocking the runs that would drain it.
func (p *Probe) checkBacklog(_ context.Context) CheckResult {
	entries, err := p.fs.ReadDir(p.inputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Name:    CheckBacklog,
				Status:  CheckFailed,
				Message: fmt.Sprintf("input directory %s does not exist", p.inputDir),
			}
		}

		return CheckResult{
			Name:    CheckBacklog,
			Status:  CheckFailed,
			Message: fmt.Sprintf("read input directory: %v", err),
		}
	}

	pending := countPending(entries)

	if pending > p.cfg.MaxInputBacklog {
		return CheckResult{
			Name:    CheckBacklog,
			Status:  CheckWarning,
			Message: fmt.Sprintf("large backlog: %d files waiting (threshold %d)", pending, p.cfg.MaxInputBacklog),
		}
	}

	return CheckResult{Name: CheckBacklog, Status: CheckOK, Message: fmt.Sprintf("%d files pending", pending)}
}

func (p *Probe) checkQuarantine(_ context.Context) CheckResult {
	if p.quarantine == nil {
		return CheckResult{Name: CheckQuarantine, Status: CheckSkipped, Message: "no quarantine store configured"}
	}

	if err := p.quarantine.Writable(); err != nil {
		return CheckResult{Name: CheckQuarantine, Status: CheckFailed, Message: err.Error()}
	}

	return CheckResult{Name: CheckQuarantine, Status: CheckOK, Message: "dead-letter directory writable"}
}

// Backlog counts extractable inputs currently waiting in dir. The status view
// uses it directly, outside a full probe run; a missing directory counts as
// an empty backlog there.
func Backlog(dataFS billy.Filesystem, dir string) (int, error) {
	entries, err := dataFS.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("read input directory: %w", err)
	}

	return countPending(entries), nil
}

func countPending(entries []fs.FileInfo) int {
	pending := 0

	for _, entry := range entries {
		if entry.IsDir() || !extract.Supported(entry.Name()) {
			continue
		}

		pending++
	}

	return pending
}
