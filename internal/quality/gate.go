// Package quality implements the two-level quality gate: artifact checks that
// run during preflight, before any stateful work, and dataset checks that run
// on the extracted rows. Blocking findings stop the run; warnings are recorded
// on it. All thresholds are configuration.
package quality

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/conveyor-io/conveyor/internal/dataset"
	"github.com/conveyor-io/conveyor/internal/schema"
)

// Check names attached to findings.
const (
	CheckFileExists          = "file_exists"
	CheckFileSize            = "file_size"
	CheckWellFormed          = "well_formed"
	CheckRowCeiling          = "row_ceiling"
	CheckNullPercent         = "null_percentage"
	CheckDuplicateRows       = "duplicate_rows"
	CheckValueRange          = "value_range"
	CheckDuplicatePrimaryKey = "duplicate_primary_key"
)

// Score deduction weights. Blocking issues cost more than warnings.
const (
	issueWeight   = 20.0
	warningWeight = 5.0
)

// Finding is one validation result from a gate check.
type Finding struct {
	Check  string `json:"check"`
	Column string `json:"column,omitempty"`
	Detail string `json:"detail"`
}

// Report is the outcome of one gate evaluation. Issues are blocking and fail
// the gate; warnings are recorded on the run but never stop processing.
type Report struct {
	Issues   []Finding `json:"issues,omitempty"`
	Warnings []Finding `json:"warnings,omitempty"`
	Score    float64   `json:"score"`
}

// Passed reports whether the gate found no blocking issues.
func (r *Report) Passed() bool {
	return len(r.Issues) == 0
}

func (r *Report) issue(check, column, detail string) {
	r.Issues = append(r.Issues, Finding{Check: check, Column: column, Detail: detail})
}

func (r *Report) warning(check, column, detail string) {
	r.Warnings = append(r.Warnings, Finding{Check: check, Column: column, Detail: detail})
}

func (r *Report) computeScore() {
	score := 100.0 - issueWeight*float64(len(r.Issues)) - warningWeight*float64(len(r.Warnings))
	if score < 0 {
		score = 0
	}

	r.Score = score
}

// Gate validates input artifacts and extracted datasets against configured
// thresholds, registry constraints, and the optional rules file.
type Gate struct {
	cfg    *Config
	rules  *Rules
	fs     billy.Filesystem
	logger *slog.Logger
}

// NewGate creates a quality gate. A nil rules value means no per-column overrides.
func NewGate(cfg *Config, rules *Rules, fs billy.Filesystem, logger *slog.Logger) *Gate {
	if rules == nil {
		rules = &Rules{Columns: make(map[string]ColumnRule)}
	}

	return &Gate{
		cfg:    cfg,
		rules:  rules,
		fs:     fs,
		logger: logger.With(slog.String("component", "quality_gate")),
	}
}

// CheckArtifact validates the input file before extraction: existence, size
// ceiling, well-formedness of the header/structure, and an estimated row count
// ceiling. The returned error is non-nil only on context cancellation.
func (g *Gate) CheckArtifact(ctx context.Context, inputRef string) (*Report, error) {
	report := &Report{}
	defer report.computeScore()

	info, err := g.fs.Stat(inputRef)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			report.issue(CheckFileExists, "", fmt.Sprintf("input file %q not found", inputRef))
		} else {
			report.issue(CheckFileExists, "", fmt.Sprintf("stat input file %q: %v", inputRef, err))
		}

		return report, nil
	}

	if info.Size() > g.cfg.MaxFileSizeBytes {
		report.issue(CheckFileSize, "", fmt.Sprintf(
			"input file is %d bytes, ceiling is %d", info.Size(), g.cfg.MaxFileSizeBytes))

		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := g.fs.Open(inputRef)
	if err != nil {
		report.issue(CheckFileExists, "", fmt.Sprintf("open input file %q: %v", inputRef, err))

		return report, nil
	}
	defer func() { _ = file.Close() }()

	var rows int

	switch strings.ToLower(path.Ext(inputRef)) {
	case ".csv":
		rows, err = g.scanCSVArtifact(file)
	case ".json":
		rows, err = g.scanJSONArtifact(file)
	default:
		report.issue(CheckWellFormed, "", fmt.Sprintf("unsupported input format %q", path.Ext(inputRef)))

		return report, nil
	}

	if err != nil {
		report.issue(CheckWellFormed, "", err.Error())

		return report, nil
	}

	if rows > g.cfg.MaxRowCount {
		report.issue(CheckRowCeiling, "", fmt.Sprintf(
			"estimated %d rows, ceiling is %d", rows, g.cfg.MaxRowCount))
	}

	g.logger.Debug("artifact check complete",
		slog.String("input", inputRef),
		slog.Int64("size_bytes", info.Size()),
		slog.Int("estimated_rows", rows),
		slog.Bool("passed", report.Passed()),
	)

	return report, nil
}

// scanCSVArtifact verifies the header parses and estimates the row count by
// counting line breaks. Quoted multi-line fields inflate the estimate, which
// is acceptable for a ceiling check.
func (g *Gate) scanCSVArtifact(file billy.File) (int, error) {
	header, err := readLine(file)
	if err != nil {
		return 0, fmt.Errorf("read CSV header: %w", err)
	}

	if strings.TrimSpace(header) == "" {
		return 0, errors.New("CSV header is empty")
	}

	if _, err := csv.NewReader(strings.NewReader(header)).Read(); err != nil {
		return 0, fmt.Errorf("parse CSV header: %w", err)
	}

	rows := 0
	trailing := false
	buf := make([]byte, 32*1024)

	for {
		n, err := file.Read(buf)

		for _, b := range buf[:n] {
			if b == '\n' {
				rows++
				trailing = false
			} else {
				trailing = true
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return rows, fmt.Errorf("scan CSV body: %w", err)
		}
	}

	if trailing {
		rows++
	}

	return rows, nil
}

// scanJSONArtifact verifies the artifact is a JSON array of values and counts
// its elements, bailing out once the ceiling is exceeded.
func (g *Gate) scanJSONArtifact(file billy.File) (int, error) {
	dec := json.NewDecoder(file)

	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("read JSON opening token: %w", err)
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, errors.New("expected a JSON array of objects")
	}

	rows := 0

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return rows, fmt.Errorf("JSON element %d: %w", rows+1, err)
		}

		rows++

		if rows > g.cfg.MaxRowCount {
			return rows, nil
		}
	}

	if _, err := dec.Token(); err != nil {
		return rows, fmt.Errorf("read JSON closing token: %w", err)
	}

	return rows, nil
}

// readLine reads bytes up to the first newline without buffering past it.
func readLine(file billy.File) (string, error) {
	var sb strings.Builder

	buf := make([]byte, 1)

	for {
		n, err := file.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return sb.String(), nil
			}

			sb.WriteByte(buf[0])
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if sb.Len() > 0 {
					return sb.String(), nil
				}

				return "", errors.New("empty file")
			}

			return "", err
		}
	}
}

// CheckDataset validates the extracted rows: per-column null percentage
// (blocking), duplicate-row percentage, value ranges from registry constraints
// and the rules file, and duplicate primary keys (all warnings). The returned
// error is non-nil only on context cancellation.
func (g *Gate) CheckDataset(ctx context.Context, ds *dataset.Dataset, version schema.Version) (*Report, error) {
	report := &Report{}
	defer report.computeScore()

	shape := ds.InferShape()

	columns := make([]string, 0, len(shape.Columns))
	for name := range shape.Columns {
		columns = append(columns, name)
	}

	sort.Strings(columns)

	for _, name := range columns {
		stats := shape.Columns[name]

		limit := g.cfg.MaxNullPercent
		if rule, ok := g.rules.Columns[name]; ok && rule.MaxNullPercent != nil {
			limit = *rule.MaxNullPercent
		}

		if pct := stats.NullPercent(); pct > limit {
			report.issue(CheckNullPercent, name, fmt.Sprintf(
				"column %q is %.1f%% null, threshold is %.1f%%", name, pct, limit))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dupes, pct := duplicateRowPercent(ds); pct > g.cfg.MaxDuplicatePercent {
		report.warning(CheckDuplicateRows, "", fmt.Sprintf(
			"%d duplicate rows (%.1f%%), threshold is %.1f%%", dupes, pct, g.cfg.MaxDuplicatePercent))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.checkRanges(ds, version, report)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.checkPrimaryKey(ds, version, report)

	for _, f := range report.Issues {
		g.logger.Warn("blocking quality issue", slog.String("check", f.Check), slog.String("detail", f.Detail))
	}

	for _, f := range report.Warnings {
		g.logger.Info("quality warning", slog.String("check", f.Check), slog.String("detail", f.Detail))
	}

	return report, nil
}

// columnBounds are the merged per-column constraints: the registered schema
// constraints overridden by the rules file.
type columnBounds struct {
	min       *float64
	max       *float64
	maxLength int
}

func (g *Gate) boundsFor(name string, version schema.Version) columnBounds {
	var b columnBounds

	if col, ok := version.Columns[name]; ok {
		b.min = col.Min
		b.max = col.Max
		b.maxLength = col.MaxLength
	}

	if rule, ok := g.rules.Columns[name]; ok {
		if rule.Min != nil {
			b.min = rule.Min
		}

		if rule.Max != nil {
			b.max = rule.Max
		}

		if rule.MaxLength > 0 {
			b.maxLength = rule.MaxLength
		}
	}

	return b
}

func (g *Gate) checkRanges(ds *dataset.Dataset, version schema.Version, report *Report) {
	for _, name := range ds.Columns {
		b := g.boundsFor(name, version)
		if b.min == nil && b.max == nil && b.maxLength == 0 {
			continue
		}

		violations := 0

		for _, row := range ds.Rows {
			value := row[name]
			if dataset.IsNull(value) {
				continue
			}

			if b.min != nil || b.max != nil {
				if num, ok := numericValue(value); ok {
					if (b.min != nil && num < *b.min) || (b.max != nil && num > *b.max) {
						violations++

						continue
					}
				}
			}

			if b.maxLength > 0 {
				if s, ok := value.(string); ok && len(s) > b.maxLength {
					violations++
				}
			}
		}

		if violations > 0 {
			report.warning(CheckValueRange, name, fmt.Sprintf(
				"column %q has %d value(s) outside %s", name, violations, describeBounds(b)))
		}
	}
}

func (g *Gate) checkPrimaryKey(ds *dataset.Dataset, version schema.Version, report *Report) {
	pk := version.PrimaryKey
	if pk == "" || !ds.HasColumn(pk) {
		return
	}

	seen := make(map[string]int, len(ds.Rows))
	for _, row := range ds.Rows {
		value := row[pk]
		if dataset.IsNull(value) {
			continue
		}

		seen[fmt.Sprintf("%v", value)]++
	}

	dupes := 0

	for _, count := range seen {
		if count > 1 {
			dupes += count - 1
		}
	}

	if dupes > 0 {
		report.warning(CheckDuplicatePrimaryKey, pk, fmt.Sprintf(
			"%d duplicate value(s) in primary key column %q", dupes, pk))
	}
}

// duplicateRowPercent counts rows whose full projection equals an earlier row.
func duplicateRowPercent(ds *dataset.Dataset) (int, float64) {
	if len(ds.Rows) == 0 {
		return 0, 0
	}

	seen := make(map[string]struct{}, len(ds.Rows))
	dupes := 0

	var sb strings.Builder

	for _, row := range ds.Rows {
		sb.Reset()

		for _, col := range ds.Columns {
			fmt.Fprintf(&sb, "%v\x1f", row[col])
		}

		key := sb.String()
		if _, ok := seen[key]; ok {
			dupes++

			continue
		}

		seen[key] = struct{}{}
	}

	return dupes, float64(dupes) / float64(len(ds.Rows)) * 100
}

// numericValue extracts a comparable number from a cell. Numeric strings
// participate in range checks because the dataset gate runs before type
// coercion.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}

	return 0, false
}

func describeBounds(b columnBounds) string {
	parts := make([]string, 0, 3)

	if b.min != nil {
		parts = append(parts, fmt.Sprintf("min %g", *b.min))
	}

	if b.max != nil {
		parts = append(parts, fmt.Sprintf("max %g", *b.max))
	}

	if b.maxLength > 0 {
		parts = append(parts, fmt.Sprintf("max length %d", b.maxLength))
	}

	return strings.Join(parts, ", ")
}
