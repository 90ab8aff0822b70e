// Package transform canonicalizes extracted datasets before load: variant
// column names resolve to their registered spelling, and cell values are
// conformed to the registered column types.
//
// Different producers spell the same column differently (`signup_date`,
// `Sign Up Date`, `SIGNUP-DATE`); without canonicalization each spelling
// looks like schema drift and triggers a spurious evolution.
package transform

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v5"
	"gopkg.in/yaml.v3"
)

// DefaultAliasesPath is the default location of the rules file. The quality
// gate reads its thresholds from the same document; each package decodes only
// its own section.
const DefaultAliasesPath = ".conveyor.yaml"

// Config holds column alias configuration loaded from the rules file.
type Config struct {
	// ColumnAliases maps variant column names to canonical names.
	// Key is the variant (producer-specific), value is the canonical name.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	ColumnAliases map[string]string `yaml:"column_aliases"`
}

// LoadAliases loads alias configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if the file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if the YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// Aliasing is an optional feature; a pipeline must be able to start without it.
func LoadAliases(fs billy.Filesystem, path string) (*Config, error) {
	cfg := &Config{
		ColumnAliases: make(map[string]string),
	}

	file, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Alias file not found, continuing without aliases",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read alias file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Warn("Failed to read alias file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse alias file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{ColumnAliases: make(map[string]string)}, nil
	}

	if cfg.ColumnAliases == nil {
		cfg.ColumnAliases = make(map[string]string)
	}

	return cfg, nil
}
