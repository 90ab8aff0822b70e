package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

// ErrIncompatible indicates unrecoverable schema drift: a primary-key type
// change, or a missing required column with no default rule to synthesize it.
var ErrIncompatible = errors.New("schema incompatibility")

// ActionCoercionSkipped records a type mismatch whose conversion the coercion
// policy does not permit; the values stay unchanged.
const ActionCoercionSkipped ActionKind = "coercion_skipped"

// Report is the evolution report attached to a pipeline run: what drift was
// detected, what was remediated in memory, and what migrated durably.
type Report struct {
	InitialVersion int      `json:"initial_version"`
	FinalVersion   int      `json:"final_version"`
	Evolved        bool     `json:"evolved"`
	Diff           Diff     `json:"diff"`
	Actions        []Action `json:"actions,omitempty"`
}

// Evolver drives one run's schema-evolution stage: diff against the registry,
// remediate compatibility issues on the dataset in memory, migrate additive
// changes to the durable store, and append the next registry version.
//
// The whole sequence executes inside the registry's single-writer lock, so a
// run racing another re-computes its diff against whatever version the winner
// appended and typically finds nothing left to do.
type Evolver struct {
	registry   *Registry
	reconciler *Reconciler
	migrator   *Migrator
	coercions  CoercionPolicy
	logger     *slog.Logger
}

// NewEvolver wires the evolution stage.
func NewEvolver(registry *Registry, reconciler *Reconciler, migrator *Migrator, coercions CoercionPolicy, logger *slog.Logger) *Evolver {
	return &Evolver{
		registry:   registry,
		reconciler: reconciler,
		migrator:   migrator,
		coercions:  coercions,
		logger:     logger.With(slog.String("component", "schema_evolver")),
	}
}

// Evolve reconciles ds against the current registry version and applies the
// outcome. The returned report is non-nil even on failure, so the run can
// carry whatever was detected before the error.
func (e *Evolver) Evolve(ctx context.Context, ds *dataset.Dataset, runID string) (*Report, error) {
	report := &Report{}

	newVersion, evolved, err := e.registry.Evolve(func(current Version) (*Proposal, error) {
		report.InitialVersion = current.Number
		report.FinalVersion = current.Number

		diff := e.reconciler.Diff(current, ds.InferShape())
		report.Diff = diff

		if diff.HasCritical() {
			return nil, fmt.Errorf("%w: %s", ErrIncompatible, firstCritical(diff).Detail)
		}

		if err := e.remediate(ds, current, diff, report); err != nil {
			return nil, err
		}

		if len(diff.Added) == 0 && len(diff.Removed) == 0 {
			return nil, nil
		}

		actions, err := e.migrator.Apply(ctx, current.Table, current.Number+1, diff)
		report.Actions = append(report.Actions, actions...)

		if err != nil {
			return nil, err
		}

		if !diff.NeedsMigration() {
			// Removals alone never advance the registry.
			return nil, nil
		}

		return buildProposal(current, diff, runID), nil
	})
	if err != nil {
		return report, err
	}

	if evolved {
		report.FinalVersion = newVersion.Number
		report.Evolved = true
	}

	return report, nil
}

// remediate fixes compatibility issues on the dataset in memory: synthesizing
// missing required columns from their default rules and coercing mismatched
// types under the coercion policy. Every substitution lands in the report.
func (e *Evolver) remediate(ds *dataset.Dataset, current Version, diff Diff, report *Report) error {
	for _, issue := range diff.Issues {
		switch issue.Kind {
		case IssueMissingRequired:
			col := current.Columns[issue.Column]
			if col.Default == nil {
				return fmt.Errorf("%w: required column %q has no default rule", ErrIncompatible, issue.Column)
			}

			action, err := synthesizeColumn(ds, issue.Column, col, time.Now().UTC())
			if err != nil {
				return err
			}

			report.Actions = append(report.Actions, action)

			e.logger.Warn("synthesized missing required column",
				slog.String("column", issue.Column),
				slog.String("rule", string(col.Default.Kind)),
				slog.Int("rows", action.Rows),
			)

		case IssueTypeMismatch:
			if !e.coercions.Allows(issue.Actual, issue.Expected) {
				report.Actions = append(report.Actions, Action{
					Kind:   ActionCoercionSkipped,
					Column: issue.Column,
					Detail: fmt.Sprintf("coercion %s->%s not permitted by policy, values unchanged", issue.Actual, issue.Expected),
				})

				e.logger.Warn("type mismatch left unchanged",
					slog.String("column", issue.Column),
					slog.String("inferred", string(issue.Actual)),
					slog.String("registered", string(issue.Expected)),
				)

				continue
			}

			converted, failed := ConformColumn(ds, issue.Column, issue.Expected)

			detail := fmt.Sprintf("coerced %s->%s: %d converted", issue.Actual, issue.Expected, converted)
			if failed > 0 {
				if issue.Expected == dataset.TypeInteger {
					detail = fmt.Sprintf("%s, %d invalid mapped to sentinel 0", detail, failed)
				} else {
					detail = fmt.Sprintf("%s, %d conversion failed, value unchanged", detail, failed)
				}
			}

			report.Actions = append(report.Actions, Action{
				Kind:   ActionCoerced,
				Column: issue.Column,
				Detail: detail,
				Rows:   converted,
			})

			e.logger.Info("coerced column type",
				slog.String("column", issue.Column),
				slog.String("to", string(issue.Expected)),
				slog.Int("converted", converted),
				slog.Int("failed", failed),
			)

		case IssuePrimaryKeyTypeChange:
			// Critical issues fail before remediation runs.
		}
	}

	return nil
}

func buildProposal(current Version, diff Diff, runID string) *Proposal {
	columns := make(map[string]Column, len(current.Columns)+len(diff.Added))
	for name, col := range current.Columns {
		columns[name] = col
	}

	order := slices.Clone(current.ColumnOrder)
	changes := make([]string, 0, len(diff.Added))

	for _, added := range diff.Added {
		columns[added.Name] = Column{Type: added.Type, Required: false}
		order = append(order, added.Name)
		changes = append(changes, fmt.Sprintf("added column %s (%s)", added.Name, added.Type))
	}

	return &Proposal{
		Columns:     columns,
		ColumnOrder: order,
		Description: fmt.Sprintf("evolved: %d column(s) added", len(diff.Added)),
		RunID:       runID,
		Changes:     changes,
	}
}

func firstCritical(diff Diff) CompatibilityIssue {
	for _, issue := range diff.Issues {
		if issue.Severity == SeverityCritical {
			return issue
		}
	}

	return CompatibilityIssue{}
}
