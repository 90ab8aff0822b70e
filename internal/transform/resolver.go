package transform

import (
	"log/slog"
	"strings"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

// Resolver resolves variant column names to their canonical form.
// Thread-safe for concurrent use (immutable after construction).
//
// Resolution is two steps: structural normalization (lowercase, spaces and
// dashes to underscores) followed by an alias lookup. Normalization handles
// casing and separator noise; the alias table handles genuinely different
// spellings of the same column.
type Resolver struct {
	aliases map[string]string
}

// builtinAliases covers the variant spellings the original producers are
// known to emit. Config-supplied aliases extend and override these.
var builtinAliases = map[string]string{
	"signup_date": "sign_up_date",
	"signupdate":  "sign_up_date",
	"signup":      "sign_up_date",
	"active":      "is_active",
	"userid":      "user_id",
	"id":          "user_id",
}

// NewResolver creates a resolver from config with validation.
//
// Alias entries with an empty variant or canonical name are skipped with a
// warning. If config is nil or has no aliases, the resolver still carries the
// built-in table.
func NewResolver(cfg *Config) *Resolver {
	aliases := make(map[string]string, len(builtinAliases))
	for variant, canonical := range builtinAliases {
		aliases[variant] = canonical
	}

	if cfg == nil {
		return &Resolver{aliases: aliases}
	}

	for variant, canonical := range cfg.ColumnAliases {
		variant = normalizeColumn(variant)
		canonical = strings.TrimSpace(canonical)

		if variant == "" {
			slog.Warn("Skipping alias with empty variant name")

			continue
		}

		if canonical == "" {
			slog.Warn("Skipping alias with empty canonical name",
				slog.String("variant", variant))

			continue
		}

		aliases[variant] = canonical

		slog.Debug("Registered column alias",
			slog.String("variant", variant),
			slog.String("canonical", canonical))
	}

	return &Resolver{aliases: aliases}
}

// AliasCount returns the number of registered aliases.
func (r *Resolver) AliasCount() int {
	if r == nil {
		return 0
	}

	return len(r.aliases)
}

// Resolve returns the canonical form of a column name: normalized, then
// remapped through the alias table when an entry exists.
func (r *Resolver) Resolve(name string) string {
	normalized := normalizeColumn(name)

	if r == nil {
		return normalized
	}

	if canonical, ok := r.aliases[normalized]; ok {
		return canonical
	}

	return normalized
}

// CanonicalizeColumns renames every variant column in the dataset to its
// canonical form, in place. Runs before schema reconciliation so drift
// detection sees canonical names. Returns the applied renames as
// "old->new" strings for the run's evolution report.
//
// A rename whose target already exists in the dataset is skipped with a
// warning; collapsing two columns into one would silently drop data.
func (r *Resolver) CanonicalizeColumns(ds *dataset.Dataset) []string {
	renames := make([]string, 0)

	for _, name := range ds.Columns {
		canonical := r.Resolve(name)
		if canonical == name {
			continue
		}

		if ds.HasColumn(canonical) {
			slog.Warn("Skipping column rename, canonical name already present",
				slog.String("column", name),
				slog.String("canonical", canonical))

			continue
		}

		if err := ds.RenameColumn(name, canonical); err != nil {
			slog.Warn("Skipping column rename",
				slog.String("column", name),
				slog.String("error", err.Error()))

			continue
		}

		renames = append(renames, name+"->"+canonical)
	}

	if len(renames) > 0 {
		slog.Debug("Canonicalized column names",
			slog.Int("renames", len(renames)))
	}

	return renames
}

// normalizeColumn lowercases a column name and converts separator noise
// (spaces, dashes) to single underscores.
func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return '_'
		default:
			return r
		}
	}, name)

	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}

	return strings.Trim(name, "_")
}
