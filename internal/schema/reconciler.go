package schema

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

// Severity grades a compatibility issue.
type Severity string

// Issue severities, lowest to highest.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IssueKind names a class of compatibility issue.
type IssueKind string

// Compatibility issue kinds.
const (
	// IssueMissingRequired: the registry requires a column the data lacks.
	IssueMissingRequired IssueKind = "missing_required_column"

	// IssueTypeMismatch: the inferred type differs from the registered type.
	IssueTypeMismatch IssueKind = "type_mismatch"

	// IssuePrimaryKeyTypeChange: the primary-key column changed type. Never coerced.
	IssuePrimaryKeyTypeChange IssueKind = "primary_key_type_change"
)

// CompatibilityIssue is one detected incompatibility between data and registry.
type CompatibilityIssue struct {
	Kind     IssueKind    `json:"kind"`
	Column   string       `json:"column"`
	Severity Severity     `json:"severity"`
	Expected dataset.Type `json:"expected,omitempty"`
	Actual   dataset.Type `json:"actual,omitempty"`
	Detail   string       `json:"detail"`
}

// AddedColumn is a column present in the data but not yet registered.
type AddedColumn struct {
	Name string       `json:"name"`
	Type dataset.Type `json:"type"`
}

// TypeChange mirrors a type-mismatch issue in diff form.
type TypeChange struct {
	Column     string       `json:"column"`
	Registered dataset.Type `json:"registered"`
	Inferred   dataset.Type `json:"inferred"`
}

// Diff is the drift between an inferred dataset shape and a registry version.
// Computed per run; it survives only inside the run's evolution report.
type Diff struct {
	BaseVersion int                  `json:"base_version"`
	Added       []AddedColumn        `json:"added,omitempty"`
	Removed     []string             `json:"removed,omitempty"`
	TypeChanged []TypeChange         `json:"type_changed,omitempty"`
	Issues      []CompatibilityIssue `json:"issues,omitempty"`
}

// Empty reports whether the data already matches the registered version.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.TypeChanged) == 0 && len(d.Issues) == 0
}

// NeedsMigration reports whether the durable store must change. Only additive
// changes migrate; removals are proposed and skipped.
func (d Diff) NeedsMigration() bool {
	return len(d.Added) > 0
}

// HasCritical reports whether any issue is critical (unrecoverable drift).
func (d Diff) HasCritical() bool {
	for _, issue := range d.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}

	return false
}

// Reconciler computes the drift between an inferred shape and a registry
// version.
//
// Classification: a column in the data but not the registry is additive
// (non-breaking); a registry-required column absent from the data is a high
// severity issue; an inferred type differing from the registered type is a
// medium severity issue, except on the primary key where it is critical.
type Reconciler struct {
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	return &Reconciler{logger: logger.With(slog.String("component", "schema_reconciler"))}
}

// Diff compares shape against version. Output ordering is deterministic
// (column name order) regardless of map iteration.
func (r *Reconciler) Diff(version Version, shape dataset.Shape) Diff {
	diff := Diff{BaseVersion: version.Number}

	for _, name := range sortedKeys(shape.Columns) {
		stats := shape.Columns[name]

		registered, ok := version.Columns[name]
		if !ok {
			diff.Added = append(diff.Added, AddedColumn{Name: name, Type: addedType(stats.Type)})

			continue
		}

		// A fully-null column has no observable type; nothing to compare.
		if stats.Type == dataset.TypeUnknown || stats.Type == registered.Type {
			continue
		}

		if name == version.PrimaryKey {
			diff.Issues = append(diff.Issues, CompatibilityIssue{
				Kind:     IssuePrimaryKeyTypeChange,
				Column:   name,
				Severity: SeverityCritical,
				Expected: registered.Type,
				Actual:   stats.Type,
				Detail:   fmt.Sprintf("primary key %q changed type from %s to %s", name, registered.Type, stats.Type),
			})

			continue
		}

		diff.TypeChanged = append(diff.TypeChanged, TypeChange{
			Column:     name,
			Registered: registered.Type,
			Inferred:   stats.Type,
		})
		diff.Issues = append(diff.Issues, CompatibilityIssue{
			Kind:     IssueTypeMismatch,
			Column:   name,
			Severity: SeverityMedium,
			Expected: registered.Type,
			Actual:   stats.Type,
			Detail:   fmt.Sprintf("column %q inferred as %s, registered as %s", name, stats.Type, registered.Type),
		})
	}

	for _, name := range sortedKeys(version.Columns) {
		if _, ok := shape.Columns[name]; ok {
			continue
		}

		registered := version.Columns[name]
		if registered.Required {
			diff.Issues = append(diff.Issues, CompatibilityIssue{
				Kind:     IssueMissingRequired,
				Column:   name,
				Severity: SeverityHigh,
				Expected: registered.Type,
				Detail:   fmt.Sprintf("required column %q missing from data", name),
			})

			continue
		}

		diff.Removed = append(diff.Removed, name)
	}

	if !diff.Empty() {
		r.logger.Info("schema drift detected",
			slog.Int("base_version", version.Number),
			slog.Int("added", len(diff.Added)),
			slog.Int("removed", len(diff.Removed)),
			slog.Int("issues", len(diff.Issues)),
		)
	}

	return diff
}

// addedType maps an inferred type to the type registered for a new column.
// Fully-null columns register as string, the widest safe choice.
func addedType(t dataset.Type) dataset.Type {
	if t == dataset.TypeUnknown {
		return dataset.TypeString
	}

	return t
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
