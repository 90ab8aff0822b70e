package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

// ErrMigrationFailed indicates DDL application against the durable store
// failed. The registry is never advanced past a failed migration.
var ErrMigrationFailed = errors.New("schema migration failed")

// MigrationRecord is one applied evolution migration, persisted to the
// schema_evolution_history table. Rollback holds a reverse statement
// sufficient to undo the change; automatic rollback is out of scope.
type MigrationRecord struct {
	Version     int
	Description string
	Statement   string
	Rollback    string
	AppliedAt   time.Time
}

// Store is the narrow durable-store surface the migrator needs.
type Store interface {
	// ExecDDL executes one DDL statement.
	ExecDDL(ctx context.Context, statement string) error

	// RecordMigration appends a migration history row.
	RecordMigration(ctx context.Context, record MigrationRecord) error
}

// Migrator applies additive schema changes to the durable store.
//
// Only additions are ever executed: one nullable column per added entry.
// Column removals are never applied automatically; each is logged as a
// proposed-but-skipped action for operator review.
type Migrator struct {
	store  Store
	logger *slog.Logger
}

// NewMigrator creates a Migrator over the given store.
func NewMigrator(store Store, logger *slog.Logger) *Migrator {
	return &Migrator{
		store:  store,
		logger: logger.With(slog.String("component", "schema_migrator")),
	}
}

// Apply executes the diff's additive changes against table and records each
// statement under toVersion in the migration history. Returns the report
// actions for everything applied and skipped.
func (m *Migrator) Apply(ctx context.Context, table string, toVersion int, diff Diff) ([]Action, error) {
	actions := make([]Action, 0, len(diff.Added)+len(diff.Removed))

	for _, added := range diff.Added {
		statement := fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			pq.QuoteIdentifier(table),
			pq.QuoteIdentifier(added.Name),
			DDLType(added.Type),
		)
		rollback := fmt.Sprintf(
			"ALTER TABLE %s DROP COLUMN IF EXISTS %s",
			pq.QuoteIdentifier(table),
			pq.QuoteIdentifier(added.Name),
		)

		if err := m.store.ExecDDL(ctx, statement); err != nil {
			return actions, fmt.Errorf("%w: add column %q: %s", ErrMigrationFailed, added.Name, err)
		}

		record := MigrationRecord{
			Version:     toVersion,
			Description: fmt.Sprintf("add column %s (%s) to %s", added.Name, added.Type, table),
			Statement:   statement,
			Rollback:    rollback,
			AppliedAt:   time.Now().UTC(),
		}

		if err := m.store.RecordMigration(ctx, record); err != nil {
			return actions, fmt.Errorf("%w: record migration for column %q: %s", ErrMigrationFailed, added.Name, err)
		}

		m.logger.Info("applied additive migration",
			slog.String("table", table),
			slog.String("column", added.Name),
			slog.String("type", string(added.Type)),
			slog.Int("to_version", toVersion),
		)

		actions = append(actions, Action{
			Kind:   ActionAddedColumn,
			Column: added.Name,
			Detail: statement,
		})
	}

	for _, removed := range diff.Removed {
		m.logger.Warn("column removal proposed and skipped",
			slog.String("table", table),
			slog.String("column", removed),
		)

		actions = append(actions, Action{
			Kind:   ActionSkippedRemoval,
			Column: removed,
			Detail: fmt.Sprintf("column %q absent from data; drop proposed and skipped for operator review", removed),
		})
	}

	return actions, nil
}

// DDLType maps a column type to its PostgreSQL DDL type.
func DDLType(t dataset.Type) string {
	switch t {
	case dataset.TypeInteger:
		return "BIGINT"
	case dataset.TypeFloat:
		return "DOUBLE PRECISION"
	case dataset.TypeBoolean:
		return "BOOLEAN"
	case dataset.TypeDate:
		return "DATE"
	case dataset.TypeString, dataset.TypeUnknown:
		return "TEXT"
	default:
		return "TEXT"
	}
}
