package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/conveyor-io/conveyor/internal/dataset"
	"github.com/conveyor-io/conveyor/internal/schema"
)

// Load strategies. Upsert keys on the registered primary key and makes load
// retries idempotent; append is the legacy blind-insert behavior and is never
// retried by the orchestrator.
const (
	LoadStrategyUpsert = "upsert"
	LoadStrategyAppend = "append"
)

// loadBatchSize caps rows per INSERT statement to keep statements bounded.
const loadBatchSize = 500

// Compile-time interface assertion: the warehouse is the migrator's durable store.
var _ schema.Store = (*Warehouse)(nil)

// ErrUnknownLoadStrategy is returned for a strategy other than upsert or append.
var ErrUnknownLoadStrategy = fmt.Errorf("unknown load strategy (want %q or %q)", LoadStrategyUpsert, LoadStrategyAppend)

// Warehouse executes DDL and DML against the PostgreSQL target: ensuring the
// target table, loading datasets, and recording schema migrations.
type Warehouse struct {
	conn   *Connection
	logger *slog.Logger
}

// NewWarehouse creates a warehouse bound to an open connection.
func NewWarehouse(conn *Connection, logger *slog.Logger) (*Warehouse, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &Warehouse{
		conn:   conn,
		logger: logger.With(slog.String("component", "warehouse")),
	}, nil
}

// EnsureTable creates the version's target table when it does not exist.
// Columns are nullable except the primary key; required-ness is enforced by
// remediation before load, not by the table definition.
func (w *Warehouse) EnsureTable(ctx context.Context, version schema.Version) error {
	defs := make([]string, 0, len(version.ColumnOrder)+1)

	for _, name := range version.ColumnOrder {
		col := version.Columns[name]
		defs = append(defs, fmt.Sprintf("%s %s", pq.QuoteIdentifier(name), schema.DDLType(col.Type)))
	}

	if version.PrimaryKey != "" {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", pq.QuoteIdentifier(version.PrimaryKey)))
	}

	statement := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(version.Table), strings.Join(defs, ", "))

	if _, err := w.conn.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("ensure table %s: %w", version.Table, classifyError(err))
	}

	return nil
}

// Load inserts the dataset into the version's target table in batches and
// returns the number of rows loaded. Under the upsert strategy, conflicting
// primary keys update the existing row, so a retried load never duplicates.
func (w *Warehouse) Load(ctx context.Context, ds *dataset.Dataset, version schema.Version, strategy string) (int, error) {
	if strategy != LoadStrategyUpsert && strategy != LoadStrategyAppend {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLoadStrategy, strategy)
	}

	if ds.RowCount() == 0 {
		return 0, nil
	}

	quoted := make([]string, len(ds.Columns))
	for i, name := range ds.Columns {
		quoted[i] = pq.QuoteIdentifier(name)
	}

	conflict := ""
	if strategy == LoadStrategyUpsert && version.PrimaryKey != "" && ds.HasColumn(version.PrimaryKey) {
		conflict = upsertClause(version.PrimaryKey, ds.Columns)
	}

	table := pq.QuoteIdentifier(version.Table)
	loaded := 0

	for start := 0; start < len(ds.Rows); start += loadBatchSize {
		end := start + loadBatchSize
		if end > len(ds.Rows) {
			end = len(ds.Rows)
		}

		batch := ds.Rows[start:end]

		statement, args := buildInsert(table, quoted, ds.Columns, batch, conflict)

		result, err := w.conn.ExecContext(ctx, statement, args...)
		if err != nil {
			return loaded, fmt.Errorf("load batch at row %d: %w", start, classifyError(err))
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return loaded, fmt.Errorf("load batch at row %d: %w", start, classifyError(err))
		}

		loaded += int(affected)
	}

	w.logger.Info("dataset loaded",
		slog.String("table", version.Table),
		slog.String("strategy", strategy),
		slog.Int("rows", loaded),
	)

	return loaded, nil
}

// ExecDDL runs one DDL statement. Implements the migrator's store contract.
func (w *Warehouse) ExecDDL(ctx context.Context, statement string) error {
	if _, err := w.conn.ExecContext(ctx, statement); err != nil {
		return classifyError(err)
	}

	return nil
}

// RecordMigration appends one entry to the schema evolution history table.
// Implements the migrator's store contract.
func (w *Warehouse) RecordMigration(ctx context.Context, record schema.MigrationRecord) error {
	const statement = `
		INSERT INTO schema_evolution_history (version, description, statement, rollback_statement, applied_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := w.conn.ExecContext(ctx, statement,
		record.Version, record.Description, record.Statement, record.Rollback, record.AppliedAt)
	if err != nil {
		return classifyError(err)
	}

	return nil
}

// CountRows returns the row count of a table.
func (w *Warehouse) CountRows(ctx context.Context, table string) (int, error) {
	var count int

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table))
	if err := w.conn.QueryRowScan(ctx, query, nil, &count); err != nil {
		return 0, classifyError(err)
	}

	return count, nil
}

// HealthCheck verifies the underlying connection answers queries.
func (w *Warehouse) HealthCheck(ctx context.Context) error {
	return w.conn.HealthCheck(ctx)
}

// Close releases the underlying connection.
func (w *Warehouse) Close() error {
	return w.conn.Close()
}

// upsertClause builds the ON CONFLICT clause updating every non-key column.
func upsertClause(primaryKey string, columns []string) string {
	assignments := make([]string, 0, len(columns))

	for _, name := range columns {
		if name == primaryKey {
			continue
		}

		quoted := pq.QuoteIdentifier(name)
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", quoted, quoted))
	}

	if len(assignments) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", pq.QuoteIdentifier(primaryKey))
	}

	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		pq.QuoteIdentifier(primaryKey), strings.Join(assignments, ", "))
}

// buildInsert renders one multi-row INSERT statement with positional
// placeholders and its argument list.
func buildInsert(table string, quoted, columns []string, rows []dataset.Row, conflict string) (string, []any) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(columns))

	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteByte('(')

		for j, name := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}

			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, row[name])
		}

		sb.WriteByte(')')
	}

	sb.WriteString(conflict)

	return sb.String(), args
}
