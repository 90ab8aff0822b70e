package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"gopkg.in/yaml.v3"

	"github.com/conveyor-io/conveyor/internal/config"
	"github.com/conveyor-io/conveyor/internal/schema"
	"github.com/conveyor-io/conveyor/internal/storage"
)

// Data layout defaults.
const (
	// DefaultDataDir is the root of the pipeline's file state: registry
	// document, metrics, alerts, dead-letter and archive areas, inputs.
	DefaultDataDir = "data"

	// DefaultInputDir is the pending-input directory, relative to the data root.
	DefaultInputDir = "inputs"
)

const (
	defaultMaxConcurrentRuns = 4
	defaultStageTimeout      = 2 * time.Minute
	defaultRetryMaxAttempts  = 3
	defaultRetryBaseDelay    = time.Second
)

// Sentinel errors for pipeline configuration validation.
var (
	// ErrDirEmpty indicates a blank directory setting.
	ErrDirEmpty = errors.New("pipeline directory cannot be empty")

	// ErrLimitNotPositive indicates a bound that must be greater than zero.
	ErrLimitNotPositive = errors.New("pipeline limit must be greater than zero")
)

// Config holds orchestrator settings loaded from environment variables.
type Config struct {
	// DataDir is the root of the pipeline's data filesystem.
	DataDir string

	// InputDir is the pending-input directory, relative to DataDir.
	InputDir string

	// MaxConcurrentRuns bounds how many runs RunDirectory executes at once.
	MaxConcurrentRuns int

	// LoadStrategy is how rows reach the warehouse: upsert or append.
	// Append loads are never retried; a failed attempt may already have
	// written rows.
	LoadStrategy string

	// StageTimeout bounds each stage's external calls.
	StageTimeout time.Duration

	// RetryMaxAttempts is the attempt budget for extract and load.
	RetryMaxAttempts int

	// RetryBaseDelay is the backoff base between attempts.
	RetryBaseDelay time.Duration
}

// LoadConfig loads pipeline configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		DataDir:           config.GetEnvStr("CONVEYOR_DATA_DIR", DefaultDataDir),
		InputDir:          config.GetEnvStr("CONVEYOR_INPUT_DIR", DefaultInputDir),
		MaxConcurrentRuns: config.GetEnvInt("CONVEYOR_MAX_CONCURRENT_RUNS", defaultMaxConcurrentRuns),
		LoadStrategy:      config.GetEnvStr("CONVEYOR_LOAD_STRATEGY", storage.LoadStrategyUpsert),
		StageTimeout:      config.GetEnvDuration("CONVEYOR_STAGE_TIMEOUT", defaultStageTimeout),
		RetryMaxAttempts:  config.GetEnvInt("RETRY_MAX_ATTEMPTS", defaultRetryMaxAttempts),
		RetryBaseDelay:    config.GetEnvDuration("RETRY_BASE_DELAY", defaultRetryBaseDelay),
	}
}

// Validate checks if the pipeline configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data dir", ErrDirEmpty)
	}

	if c.InputDir == "" {
		return fmt.Errorf("%w: input dir", ErrDirEmpty)
	}

	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("%w: max concurrent runs, got %d", ErrLimitNotPositive, c.MaxConcurrentRuns)
	}

	if c.LoadStrategy != storage.LoadStrategyUpsert && c.LoadStrategy != storage.LoadStrategyAppend {
		return fmt.Errorf("%w: %q", storage.ErrUnknownLoadStrategy, c.LoadStrategy)
	}

	if c.StageTimeout <= 0 {
		return fmt.Errorf("%w: stage timeout, got %s", ErrLimitNotPositive, c.StageTimeout)
	}

	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("%w: retry attempts, got %d", ErrLimitNotPositive, c.RetryMaxAttempts)
	}

	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("%w: retry base delay, got %s", ErrLimitNotPositive, c.RetryBaseDelay)
	}

	return nil
}

// coercionSection is the pipeline's slice of the shared rules file; other
// packages decode their own sections from the same document.
//
//nolint:tagliatelle // snake_case is intentional for YAML config files
type coercionSection struct {
	CoercionPairs []string `yaml:"coercion_pairs"`
}

// LoadCoercions loads the type-coercion policy from the rules file. A missing
// file, an unreadable document, or a malformed pair list degrades to the
// default policy; coercions are tuning, a pipeline must be able to start
// without them.
func LoadCoercions(fs billy.Filesystem, path string) schema.CoercionPolicy {
	fallback := schema.DefaultCoercionPolicy()

	file, err := fs.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read rules file, using default coercions",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}

		return fallback
	}

	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Warn("Failed to read rules file, using default coercions",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return fallback
	}

	var section coercionSection
	if err := yaml.Unmarshal(data, &section); err != nil {
		slog.Warn("Failed to parse rules file, using default coercions",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return fallback
	}

	if len(section.CoercionPairs) == 0 {
		return fallback
	}

	policy, err := schema.ParseCoercionPolicy(section.CoercionPairs)
	if err != nil {
		slog.Warn("Invalid coercion pairs, using default coercions",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return fallback
	}

	return policy
}
