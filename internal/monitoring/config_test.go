package monitoring

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadConfig()

	if cfg.MaxExecutionTime != defaultMaxExecutionTime {
		t.Errorf("MaxExecutionTime = %s, want %s", cfg.MaxExecutionTime, defaultMaxExecutionTime)
	}

	if cfg.MinQualityScore != defaultMinQualityScore {
		t.Errorf("MinQualityScore = %g, want %g", cfg.MinQualityScore, defaultMinQualityScore)
	}

	if cfg.MaxConsecutiveFailures != defaultMaxConsecutiveFailures {
		t.Errorf("MaxConsecutiveFailures = %d, want %d", cfg.MaxConsecutiveFailures, defaultMaxConsecutiveFailures)
	}

	if cfg.NotifyRate != defaultNotifyRate {
		t.Errorf("NotifyRate = %g, want %g", cfg.NotifyRate, defaultNotifyRate)
	}

	if cfg.NotifyBurst != defaultNotifyBurst {
		t.Errorf("NotifyBurst = %d, want %d", cfg.NotifyBurst, defaultNotifyBurst)
	}

	if cfg.MinDiskBytes != defaultMinDiskBytes {
		t.Errorf("MinDiskBytes = %d, want %d", cfg.MinDiskBytes, defaultMinDiskBytes)
	}

	if cfg.MaxInputBacklog != defaultMaxInputBacklog {
		t.Errorf("MaxInputBacklog = %d, want %d", cfg.MaxInputBacklog, defaultMaxInputBacklog)
	}

	if cfg.CheckTimeout != defaultCheckTimeout {
		t.Errorf("CheckTimeout = %s, want %s", cfg.CheckTimeout, defaultCheckTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults returned %v", err)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("ALERT_MAX_EXECUTION_TIME", "90s")
	t.Setenv("ALERT_MIN_QUALITY_SCORE", "95.5")
	t.Setenv("ALERT_MAX_CONSECUTIVE_FAILURES", "5")
	t.Setenv("ALERT_NOTIFY_RATE", "0.5")
	t.Setenv("ALERT_NOTIFY_BURST", "4")
	t.Setenv("HEALTH_MIN_DISK_BYTES", "52428800")
	t.Setenv("HEALTH_MAX_INPUT_BACKLOG", "250")
	t.Setenv("HEALTH_CHECK_TIMEOUT", "2s")

	cfg := LoadConfig()

	if cfg.MaxExecutionTime != 90*time.Second {
		t.Errorf("MaxExecutionTime = %s, want 90s", cfg.MaxExecutionTime)
	}

	if cfg.MinQualityScore != 95.5 {
		t.Errorf("MinQualityScore = %g, want 95.5", cfg.MinQualityScore)
	}

	if cfg.MaxConsecutiveFailures != 5 {
		t.Errorf("MaxConsecutiveFailures = %d, want 5", cfg.MaxConsecutiveFailures)
	}

	if cfg.NotifyRate != 0.5 {
		t.Errorf("NotifyRate = %g, want 0.5", cfg.NotifyRate)
	}

	if cfg.NotifyBurst != 4 {
		t.Errorf("NotifyBurst = %d, want 4", cfg.NotifyBurst)
	}

	if cfg.MinDiskBytes != 52428800 {
		t.Errorf("MinDiskBytes = %d, want 52428800", cfg.MinDiskBytes)
	}

	if cfg.MaxInputBacklog != 250 {
		t.Errorf("MaxInputBacklog = %d, want 250", cfg.MaxInputBacklog)
	}

	if cfg.CheckTimeout != 2*time.Second {
		t.Errorf("CheckTimeout = %s, want 2s", cfg.CheckTimeout)
	}
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("ALERT_MAX_EXECUTION_TIME", "fast")
	t.Setenv("ALERT_MIN_QUALITY_SCORE", "very high")
	t.Setenv("ALERT_MAX_CONSECUTIVE_FAILURES", "many")
	t.Setenv("HEALTH_MIN_DISK_BYTES", "a lot")

	cfg := LoadConfig()

	if cfg.MaxExecutionTime != defaultMaxExecutionTime {
		t.Errorf("MaxExecutionTime = %s, want default %s", cfg.MaxExecutionTime, defaultMaxExecutionTime)
	}

	if cfg.MinQualityScore != defaultMinQualityScore {
		t.Errorf("MinQualityScore = %g, want default %g", cfg.MinQualityScore, defaultMinQualityScore)
	}

	if cfg.MaxConsecutiveFailures != defaultMaxConsecutiveFailures {
		t.Errorf("MaxConsecutiveFailures = %d, want default %d", cfg.MaxConsecutiveFailures, defaultMaxConsecutiveFailures)
	}

	if cfg.MinDiskBytes != defaultMinDiskBytes {
		t.Errorf("MinDiskBytes = %d, want default %d", cfg.MinDiskBytes, defaultMinDiskBytes)
	}
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "zero max execution time", mutate: func(c *Config) { c.MaxExecutionTime = 0 }, wantErr: true},
		{name: "negative quality score", mutate: func(c *Config) { c.MinQualityScore = -1 }, wantErr: true},
		{name: "quality score over 100", mutate: func(c *Config) { c.MinQualityScore = 100.5 }, wantErr: true},
		{name: "zero consecutive failures", mutate: func(c *Config) { c.MaxConsecutiveFailures = 0 }, wantErr: true},
		{name: "zero notify rate", mutate: func(c *Config) { c.NotifyRate = 0 }, wantErr: true},
		{name: "negative notify burst", mutate: func(c *Config) { c.NotifyBurst = -1 }, wantErr: true},
		{name: "zero disk floor", mutate: func(c *Config) { c.MinDiskBytes = 0 }, wantErr: true},
		{name: "zero backlog threshold", mutate: func(c *Config) { c.MaxInputBacklog = 0 }, wantErr: true},
		{name: "negative check timeout", mutate: func(c *Config) { c.CheckTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				MaxExecutionTime:       defaultMaxExecutionTime,
				MinQualityScore:        defaultMinQualityScore,
				MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
				NotifyRate:             defaultNotifyRate,
				NotifyBurst:            defaultNotifyBurst,
				MinDiskBytes:           defaultMinDiskBytes,
				MaxInputBacklog:        defaultMaxInputBacklog,
				CheckTimeout:           defaultCheckTimeout,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil && !errors.Is(err, ErrThresholdOutOfRange) {
				t.Errorf("Validate() error = %v, want ErrThresholdOutOfRange", err)
			}
		})
	}
}
