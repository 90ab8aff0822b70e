package quality

import (
	"errors"
	"fmt"

	"github.com/conveyor-io/conveyor/internal/config"
)

const (
	defaultMaxFileSizeBytes    = int64(100 * 1024 * 1024)
	defaultMaxRowCount         = 1_000_000
	defaultMaxNullPercent      = 10.0
	defaultMaxDuplicatePercent = 5.0
)

// ErrThresholdOutOfRange is returned when a percentage threshold falls outside 0-100.
var ErrThresholdOutOfRange = errors.New("quality threshold out of range")

// Config holds gate thresholds loaded from environment variables. Every
// numeric threshold is configuration; none of the gate's policy is hardcoded.
type Config struct {
	RulesPath           string
	MaxFileSizeBytes    int64
	MaxRowCount         int
	MaxNullPercent      float64
	MaxDuplicatePercent float64
}

// LoadConfig loads gate configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		RulesPath:           config.GetEnvStr("QUALITY_RULES_PATH", DefaultRulesPath),
		MaxFileSizeBytes:    config.GetEnvInt64("QUALITY_MAX_FILE_SIZE_BYTES", defaultMaxFileSizeBytes),
		MaxRowCount:         config.GetEnvInt("QUALITY_MAX_ROW_COUNT", defaultMaxRowCount),
		MaxNullPercent:      config.GetEnvFloat("QUALITY_MAX_NULL_PERCENT", defaultMaxNullPercent),
		MaxDuplicatePercent: config.GetEnvFloat("QUALITY_MAX_DUPLICATE_PERCENT", defaultMaxDuplicatePercent),
	}
}

// Validate checks if the gate configuration is valid.
func (c *Config) Validate() error {
	if c.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("%w: max file size must be positive, got %d", ErrThresholdOutOfRange, c.MaxFileSizeBytes)
	}

	if c.MaxRowCount <= 0 {
		return fmt.Errorf("%w: max row count must be positive, got %d", ErrThresholdOutOfRange, c.MaxRowCount)
	}

	if c.MaxNullPercent < 0 || c.MaxNullPercent > 100 {
		return fmt.Errorf("%w: max null percent must be within 0-100, got %g", ErrThresholdOutOfRange, c.MaxNullPercent)
	}

	if c.MaxDuplicatePercent < 0 || c.MaxDuplicatePercent > 100 {
		return fmt.Errorf("%w: max duplicate percent must be within 0-100, got %g", ErrThresholdOutOfRange, c.MaxDuplicatePercent)
	}

	return nil
}
