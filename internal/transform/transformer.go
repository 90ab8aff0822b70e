package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conveyor-io/conveyor/internal/dataset"
	"github.com/conveyor-io/conveyor/internal/schema"
)

// ErrSchemaViolation is returned when a required column is still absent after
// evolution remediation had its chance to synthesize it.
var ErrSchemaViolation = errors.New("schema violation")

// Transformer conforms an extracted dataset to a registry version: registered
// types for every cell, registered column order, nothing else.
type Transformer struct {
	resolver *Resolver
	logger   *slog.Logger
}

// NewTransformer creates a transformer. A nil resolver disables aliasing but
// keeps normalization.
func NewTransformer(resolver *Resolver, logger *slog.Logger) *Transformer {
	return &Transformer{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "transformer")),
	}
}

// Canonicalize resolves variant column names in place, before reconciliation.
// Returns the applied renames for the run's evolution report.
func (t *Transformer) Canonicalize(ds *dataset.Dataset) []string {
	return t.resolver.CanonicalizeColumns(ds)
}

// Transform conforms the dataset to the registry version and returns it ready
// for load: every registered column present (required ones must already exist;
// optional ones are added null-filled), every cell the registered type, and
// the columns projected to the version's order. Unregistered columns are
// dropped by the projection.
func (t *Transformer) Transform(ctx context.Context, ds *dataset.Dataset, version schema.Version) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, name := range version.ColumnOrder {
		col := version.Columns[name]

		if !ds.HasColumn(name) {
			if col.Required {
				return nil, fmt.Errorf("%w: required column %q missing", ErrSchemaViolation, name)
			}

			if err := ds.AddColumn(name, func(int) any { return nil }); err != nil {
				return nil, err
			}

			continue
		}

		t.conformColumn(ds, name, col.Type)
	}

	dropped := make([]string, 0)

	for _, name := range ds.Columns {
		if _, ok := version.Columns[name]; !ok {
			dropped = append(dropped, name)
		}
	}

	if err := ds.Project(version.ColumnOrder); err != nil {
		return nil, err
	}

	if len(dropped) > 0 {
		t.logger.Debug("dropped unregistered columns",
			slog.Int("count", len(dropped)),
			slog.Any("columns", dropped))
	}

	return ds, nil
}

// conformColumn converts a column's cells to the registered type. Empty
// strings in non-string columns become nulls first, so the loader sends NULL
// instead of an untypeable empty literal.
func (t *Transformer) conformColumn(ds *dataset.Dataset, name string, to dataset.Type) {
	if to != dataset.TypeString {
		for _, row := range ds.Rows {
			if value, ok := row[name].(string); ok && value == "" {
				row[name] = nil
			}
		}
	}

	converted, failed := schema.ConformColumn(ds, name, to)

	if converted > 0 {
		t.logger.Debug("conformed column values",
			slog.String("column", name),
			slog.String("type", string(to)),
			slog.Int("converted", converted))
	}

	if failed > 0 {
		message := "conversion failed, value unchanged"
		if to == dataset.TypeInteger {
			message = "conversion failed, mapped to sentinel 0"
		}

		t.logger.Warn(message,
			slog.String("column", name),
			slog.String("type", string(to)),
			slog.Int("failed", failed))
	}
}
