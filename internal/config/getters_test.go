package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestGetEnvStr(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name         string
		envValue     string
		defaultValue string
		expected     string
	}{
		{
			name:         "returns value when environment variable set",
			envValue:     "warehouse",
			defaultValue: "data",
			expected:     "warehouse",
		},
		{
			name:         "returns default when environment variable empty",
			envValue:     "",
			defaultValue: "data",
			expected:     "data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONVEYOR_TEST_STR", tt.envValue)

			if got := GetEnvStr("CONVEYOR_TEST_STR", tt.defaultValue); got != tt.expected {
				t.Errorf("GetEnvStr() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		expected     int
	}{
		{
			name:         "parses valid integer",
			envValue:     "42",
			defaultValue: 3,
			expected:     42,
		},
		{
			name:         "returns default for invalid integer",
			envValue:     "not-a-number",
			defaultValue: 3,
			expected:     3,
		},
		{
			name:         "returns default when unset",
			envValue:     "",
			defaultValue: 3,
			expected:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONVEYOR_TEST_INT", tt.envValue)

			if got := GetEnvInt("CONVEYOR_TEST_INT", tt.defaultValue); got != tt.expected {
				t.Errorf("GetEnvInt() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetEnvInt64(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("CONVEYOR_TEST_INT64", "104857600")

	if got := GetEnvInt64("CONVEYOR_TEST_INT64", 1); got != 104857600 {
		t.Errorf("GetEnvInt64() = %d, want %d", got, int64(104857600))
	}

	t.Setenv("CONVEYOR_TEST_INT64", "oversized")

	if got := GetEnvInt64("CONVEYOR_TEST_INT64", 512); got != 512 {
		t.Errorf("GetEnvInt64() = %d, want fallback %d", got, int64(512))
	}
}

func TestGetEnvFloat(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name         string
		envValue     string
		defaultValue float64
		expected     float64
	}{
		{
			name:         "parses valid float",
			envValue:     "12.5",
			defaultValue: 10.0,
			expected:     12.5,
		},
		{
			name:         "parses integer as float",
			envValue:     "80",
			defaultValue: 10.0,
			expected:     80.0,
		},
		{
			name:         "returns default for invalid float",
			envValue:     "ten-percent",
			defaultValue: 10.0,
			expected:     10.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONVEYOR_TEST_FLOAT", tt.envValue)

			if got := GetEnvFloat("CONVEYOR_TEST_FLOAT", tt.defaultValue); got != tt.expected {
				t.Errorf("GetEnvFloat() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		expected     bool
	}{
		{name: "true literal", envValue: "true", defaultValue: false, expected: true},
		{name: "numeric one", envValue: "1", defaultValue: false, expected: true},
		{name: "yes token", envValue: "YES", defaultValue: false, expected: true},
		{name: "false literal", envValue: "false", defaultValue: true, expected: false},
		{name: "numeric zero", envValue: "0", defaultValue: true, expected: false},
		{name: "unrecognized token falls back", envValue: "maybe", defaultValue: true, expected: true},
		{name: "unset falls back", envValue: "", defaultValue: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONVEYOR_TEST_BOOL", tt.envValue)

			if got := GetEnvBool("CONVEYOR_TEST_BOOL", tt.defaultValue); got != tt.expected {
				t.Errorf("GetEnvBool() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{
			name:         "parses valid duration",
			envValue:     "45s",
			defaultValue: 30 * time.Second,
			expected:     45 * time.Second,
		},
		{
			name:         "returns default for invalid duration",
			envValue:     "soon",
			defaultValue: 30 * time.Second,
			expected:     30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONVEYOR_TEST_DURATION", tt.envValue)

			if got := GetEnvDuration("CONVEYOR_TEST_DURATION", tt.defaultValue); got != tt.expected {
				t.Errorf("GetEnvDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		envValue string
		expected slog.Level
	}{
		{name: "debug", envValue: "debug", expected: slog.LevelDebug},
		{name: "info", envValue: "INFO", expected: slog.LevelInfo},
		{name: "warn", envValue: "warn", expected: slog.LevelWarn},
		{name: "warning alias", envValue: "warning", expected: slog.LevelWarn},
		{name: "error", envValue: "error", expected: slog.LevelError},
		{name: "unknown falls back", envValue: "verbose", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONVEYOR_TEST_LOG_LEVEL", tt.envValue)

			if got := GetEnvLogLevel("CONVEYOR_TEST_LOG_LEVEL", slog.LevelInfo); got != tt.expected {
				t.Errorf("GetEnvLogLevel() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "splits and trims entries",
			input:    "broker-1:9092, broker-2:9092 ,broker-3:9092",
			expected: []string{"broker-1:9092", "broker-2:9092", "broker-3:9092"},
		},
		{
			name:     "filters empty entries",
			input:    "a,,b,",
			expected: []string{"a", "b"},
		},
		{
			name:     "empty input yields empty slice",
			input:    "",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommaSeparatedList(tt.input)

			if len(got) != len(tt.expected) {
				t.Fatalf("ParseCommaSeparatedList() returned %d entries, want %d", len(got), len(tt.expected))
			}

			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("entry %d = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}
