package quality

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v5"
	"gopkg.in/yaml.v3"
)

// DefaultRulesPath is the default location for the optional rules file.
const DefaultRulesPath = ".conveyor.yaml"

// ColumnRule holds per-column validation overrides from the rules file. Rules
// here supplement the constraints registered on the schema version; when both
// set a bound, the rules file wins.
//
//nolint:tagliatelle // snake_case is intentional for YAML config files
type ColumnRule struct {
	Min            *float64 `yaml:"min"`
	Max            *float64 `yaml:"max"`
	MaxLength      int      `yaml:"max_length"`
	MaxNullPercent *float64 `yaml:"max_null_percent"`
}

// Rules holds column validation rules loaded from the optional YAML rules file.
//
//nolint:tagliatelle // snake_case is intentional for YAML config files
type Rules struct {
	Columns map[string]ColumnRule `yaml:"column_rules"`
}

// LoadRules loads column rules from a YAML file on the data filesystem.
//
// Behavior:
//   - Returns empty rules (not error) if the file doesn't exist - rules are optional
//   - Returns empty rules + logs warning if the YAML is invalid (graceful degradation)
//   - Returns populated rules on success
//
// The gate always runs with its registry and environment thresholds; the rules
// file only tightens or relaxes per-column bounds, so a broken file must never
// stop the pipeline from starting.
func LoadRules(fs billy.Filesystem, path string) (*Rules, error) {
	rules := &Rules{
		Columns: make(map[string]ColumnRule),
	}

	file, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("rules file not found, continuing without column rules",
				slog.String("path", path))

			return rules, nil
		}

		slog.Warn("failed to read rules file, continuing without column rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return rules, nil
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Warn("failed to read rules file, continuing without column rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return rules, nil
	}

	if len(data) == 0 {
		return rules, nil
	}

	if err := yaml.Unmarshal(data, rules); err != nil {
		slog.Warn("failed to parse rules file, continuing without column rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Rules{Columns: make(map[string]ColumnRule)}, nil
	}

	if rules.Columns == nil {
		rules.Columns = make(map[string]ColumnRule)
	}

	return rules, nil
}
