// Package dataset defines the in-memory tabular model that flows through a
// pipeline run: ordered columns, row values, and type inference over both.
package dataset

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors for dataset operations.
var (
	// ErrColumnExists indicates an attempt to add a column that is already present.
	ErrColumnExists = errors.New("column already exists")

	// ErrColumnNotFound indicates an operation referenced a column the dataset does not have.
	ErrColumnNotFound = errors.New("column not found")
)

// Type identifies the inferred or registered type of a column.
type Type string

// Column types understood by inference, reconciliation, and coercion.
const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeFloat   Type = "float"
	TypeBoolean Type = "boolean"
	TypeDate    Type = "date"

	// TypeUnknown marks a column whose values were all null, leaving nothing to infer from.
	TypeUnknown Type = "unknown"
)

// Row holds one record's values keyed by column name. A nil value is a null cell.
type Row map[string]any

// Dataset is the unit of work a pipeline run extracts, validates, evolves,
// transforms, and loads. Rows are mutated in place as the run progresses; a
// Dataset is owned by exactly one run and is never shared across runs.
type Dataset struct {
	// Source is the input reference this dataset was extracted from.
	Source string

	// Columns is the ordered header. Every Row key is expected to appear here.
	Columns []string

	// Rows holds the records in extraction order.
	Rows []Row
}

// New returns an empty dataset with the given source reference and header.
func New(source string, columns []string) *Dataset {
	return &Dataset{
		Source:  source,
		Columns: slices.Clone(columns),
		Rows:    make([]Row, 0),
	}
}

// RowCount returns the number of rows.
func (d *Dataset) RowCount() int {
	return len(d.Rows)
}

// HasColumn reports whether the header contains name.
func (d *Dataset) HasColumn(name string) bool {
	return slices.Contains(d.Columns, name)
}

// AddColumn appends a new column and fills every existing row with the value
// produced by fill (invoked with the row index). Fails if the column exists.
func (d *Dataset) AddColumn(name string, fill func(index int) any) error {
	if d.HasColumn(name) {
		return fmt.Errorf("%w: %s", ErrColumnExists, name)
	}

	d.Columns = append(d.Columns, name)
	for i, row := range d.Rows {
		row[name] = fill(i)
	}

	return nil
}

// RenameColumn renames a header entry and rewrites the key in every row.
// Fails if the old name is absent or the new name is already taken.
func (d *Dataset) RenameColumn(oldName, newName string) error {
	if !d.HasColumn(oldName) {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, oldName)
	}

	if d.HasColumn(newName) {
		return fmt.Errorf("%w: %s", ErrColumnExists, newName)
	}

	for i, col := range d.Columns {
		if col == oldName {
			d.Columns[i] = newName

			break
		}
	}

	for _, row := range d.Rows {
		if value, ok := row[oldName]; ok {
			row[newName] = value
			delete(row, oldName)
		}
	}

	return nil
}

// Project reorders the dataset to exactly the given columns, dropping any
// extras from the header and the rows. Fails if a requested column is absent.
func (d *Dataset) Project(columns []string) error {
	for _, col := range columns {
		if !d.HasColumn(col) {
			return fmt.Errorf("%w: %s", ErrColumnNotFound, col)
		}
	}

	dropped := make([]string, 0)
	for _, col := range d.Columns {
		if !slices.Contains(columns, col) {
			dropped = append(dropped, col)
		}
	}

	for _, row := range d.Rows {
		for _, col := range dropped {
			delete(row, col)
		}
	}

	d.Columns = slices.Clone(columns)

	return nil
}

// NullCount returns the number of null cells in the named column. A cell is
// null when the key is missing, the value is nil, or the value is an empty string.
func (d *Dataset) NullCount(column string) int {
	count := 0

	for _, row := range d.Rows {
		if IsNull(row[column]) {
			count++
		}
	}

	return count
}

// IsNull reports whether a cell value represents a null: nil or empty string.
func IsNull(value any) bool {
	if value == nil {
		return true
	}

	s, ok := value.(string)

	return ok && s == ""
}
