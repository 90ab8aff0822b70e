package dataset

import (
	"strconv"
	"strings"
	"time"
)

// DateLayouts are the accepted string layouts for date classification and
// coercion, tried in order.
var DateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

// boolTokens maps accepted boolean spellings. Numeric 1/0 are classified as
// integers by inference; the boolean coercion token map accepts them anyway.
var boolTokens = map[string]bool{
	"true":  true,
	"false": false,
	"yes":   true,
	"no":    false,
}

// ColumnStats describes one column of an inferred shape.
type ColumnStats struct {
	Name      string
	Type      Type
	NullCount int
	RowCount  int
}

// NullPercent returns the percentage of null cells, 0 for an empty column.
func (c ColumnStats) NullPercent() float64 {
	if c.RowCount == 0 {
		return 0
	}

	return float64(c.NullCount) / float64(c.RowCount) * 100
}

// Shape is the inferred tabular shape of a dataset: per-column type and null
// statistics. Computed per run and compared against the registry's current
// schema version by the reconciler.
type Shape struct {
	RowCount int
	Columns  map[string]ColumnStats
}

// InferShape scans every cell once and classifies each column.
//
// A column's type is the unanimous classification of its non-null values;
// integer and float mix to float, any other mix degrades to string, and a
// fully-null column is TypeUnknown.
func (d *Dataset) InferShape() Shape {
	shape := Shape{
		RowCount: len(d.Rows),
		Columns:  make(map[string]ColumnStats, len(d.Columns)),
	}

	for _, col := range d.Columns {
		stats := ColumnStats{Name: col, RowCount: len(d.Rows), Type: TypeUnknown}

		for _, row := range d.Rows {
			value := row[col]
			if IsNull(value) {
				stats.NullCount++

				continue
			}

			stats.Type = mergeTypes(stats.Type, ClassifyValue(value))
		}

		shape.Columns[col] = stats
	}

	return shape
}

// ClassifyValue returns the type of a single non-null cell value. Typed values
// (from JSON extraction or prior coercion) classify directly; strings are sniffed.
func ClassifyValue(value any) Type {
	switch v := value.(type) {
	case int, int32, int64:
		return TypeInteger
	case float32:
		return TypeFloat
	case float64:
		// JSON numbers always decode as float64; treat integral values as integers.
		if v == float64(int64(v)) {
			return TypeInteger
		}

		return TypeFloat
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeDate
	case string:
		return classifyString(v)
	default:
		return TypeString
	}
}

func classifyString(s string) Type {
	s = strings.TrimSpace(s)

	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TypeInteger
	}

	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return TypeFloat
	}

	if _, ok := boolTokens[strings.ToLower(s)]; ok {
		return TypeBoolean
	}

	if _, ok := ParseDate(s); ok {
		return TypeDate
	}

	return TypeString
}

// ParseDate attempts to parse s with the accepted date layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)

	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// ParseBool maps an accepted boolean token (including numeric 1/0) to its value.
func ParseBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case int64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if b, ok := boolTokens[s]; ok {
			return b, true
		}

		if s == "1" || s == "0" {
			return s == "1", true
		}
	}

	return false, false
}

func mergeTypes(current, next Type) Type {
	switch {
	case current == TypeUnknown:
		return next
	case current == next:
		return current
	case current == TypeInteger && next == TypeFloat,
		current == TypeFloat && next == TypeInteger:
		return TypeFloat
	default:
		return TypeString
	}
}
