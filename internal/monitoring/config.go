package monitoring

import (
	"errors"
	"fmt"
	"time"

	"github.com/conveyor-io/conveyor/internal/config"
)

const (
	defaultMaxExecutionTime       = 5 * time.Minute
	defaultMinQualityScore        = 80.0
	defaultMaxConsecutiveFailures = 3
	defaultNotifyRate             = 1.0
	defaultNotifyBurst            = 2
	defaultMinDiskBytes           = int64(1 << 30)
	defaultMaxInputBacklog        = 100
	defaultCheckTimeout           = 5 * time.Second
)

// ErrThresholdOutOfRange is returned when a monitoring threshold is zero,
// negative, or outside its valid range.
var ErrThresholdOutOfRange = errors.New("monitoring threshold out of range")

// Config holds alerting thresholds and health probe limits loaded from
// environment variables.
type Config struct {
	// MaxExecutionTime is the run duration above which a slow-execution
	// alert fires.
	MaxExecutionTime time.Duration

	// MinQualityScore is the 0-100 score below which a low-quality alert
	// fires.
	MinQualityScore float64

	// MaxConsecutiveFailures is the shared failure streak length at which
	// the critical consecutive-failures alert fires.
	MaxConsecutiveFailures int

	// NotifyRate and NotifyBurst shape the token bucket throttling alert
	// forwarding to the notification sink, in events per second.
	NotifyRate  float64
	NotifyBurst int

	// MinDiskBytes is the free-space floor on the data filesystem below
	// which the health probe reports unhealthy.
	MinDiskBytes int64

	// MaxInputBacklog is the pending-input count above which the health
	// probe degrades to a warning.
	MaxInputBacklog int

	// CheckTimeout bounds each individual health check.
	CheckTimeout time.Duration
}

// LoadConfig loads monitoring configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		MaxExecutionTime:       config.GetEnvDuration("ALERT_MAX_EXECUTION_TIME", defaultMaxExecutionTime),
		MinQualityScore:        config.GetEnvFloat("ALERT_MIN_QUALITY_SCORE", defaultMinQualityScore),
		MaxConsecutiveFailures: config.GetEnvInt("ALERT_MAX_CONSECUTIVE_FAILURES", defaultMaxConsecutiveFailures),
		NotifyRate:             config.GetEnvFloat("ALERT_NOTIFY_RATE", defaultNotifyRate),
		NotifyBurst:            config.GetEnvInt("ALERT_NOTIFY_BURST", defaultNotifyBurst),
		MinDiskBytes:           config.GetEnvInt64("HEALTH_MIN_DISK_BYTES", defaultMinDiskBytes),
		MaxInputBacklog:        config.GetEnvInt("HEALTH_MAX_INPUT_BACKLOG", defaultMaxInputBacklog),
		CheckTimeout:           config.GetEnvDuration("HEALTH_CHECK_TIMEOUT", defaultCheckTimeout),
	}
}

// Validate checks if the monitoring configuration is valid.
func (c *Config) Validate() error {
	if c.MaxExecutionTime <= 0 {
		return fmt.Errorf("%w: max execution time must be positive, got %s", ErrThresholdOutOfRange, c.MaxExecutionTime)
	}

	if c.MinQualityScore < 0 || c.MinQualityScore > 100 {
		return fmt.Errorf("%w: min quality score must be within 0-100, got %g", ErrThresholdOutOfRange, c.MinQualityScore)
	}

	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("%w: max consecutive failures must be positive, got %d", ErrThresholdOutOfRange, c.MaxConsecutiveFailures)
	}

	if c.NotifyRate <= 0 {
		return fmt.Errorf("%w: notify rate must be positive, got %g", ErrThresholdOutOfRange, c.NotifyRate)
	}

	if c.NotifyBurst <= 0 {
		return fmt.Errorf("%w: notify burst must be positive, got %d", ErrThresholdOutOfRange, c.NotifyBurst)
	}

	if c.MinDiskBytes <= 0 {
		return fmt.Errorf("%w: min disk bytes must be positive, got %d", ErrThresholdOutOfRange, c.MinDiskBytes)
	}

	if c.MaxInputBacklog <= 0 {
		return fmt.Errorf("%w: max input backlog must be positive, got %d", ErrThresholdOutOfRange, c.MaxInputBacklog)
	}

	if c.CheckTimeout <= 0 {
		return fmt.Errorf("%w: check timeout must be positive, got %s", ErrThresholdOutOfRange, c.CheckTimeout)
	}

	return nil
}
