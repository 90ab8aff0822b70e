// Package extract reads input artifacts from the data filesystem into datasets.
//
// Supported formats are CSV (header row required) and JSON (top-level array of
// objects), selected by file extension. Extraction failures are classified by
// sentinel error: missing inputs, syntactically broken inputs, and structurally
// invalid inputs are permanent failures; plain I/O errors pass through
// unwrapped so the retry layer can treat them as transient.
package extract

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
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

// Sentinel errors for input classification.
var (
	// ErrNotFound indicates the input reference does not resolve to a file.
	ErrNotFound = errors.New("input not found")

	// ErrUnparseable indicates the input exists but its bytes do not parse
	// in the format its extension promises.
	ErrUnparseable = errors.New("input unparseable")

	// ErrMalformed indicates the input parses but is structurally unusable:
	// unsupported extension, missing header, duplicate columns, or a JSON
	// document that is not an array of objects.
	ErrMalformed = errors.New("input malformed")
)

// contextCheckInterval is the number of rows read between cancellation checks.
const contextCheckInterval = 1000

// Extractor reads input files from a data filesystem into datasets.
type Extractor struct {
	fs     billy.Filesystem
	logger *slog.Logger
}

// New creates an Extractor over the given data filesystem.
func New(fs billy.Filesystem, logger *slog.Logger) *Extractor {
	return &Extractor{
		fs:     fs,
		logger: logger.With(slog.String("component", "extractor")),
	}
}

// Supported reports whether the file name carries an extension the extractor
// can read. Directory scans and the health probe use it to count extractable
// inputs without duplicating the extension list.
func Supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".json":
		return true
	default:
		return false
	}
}

// Extract reads inputRef into a dataset. The format is chosen by extension:
// ".csv" and ".json" are supported, anything else fails as malformed.
func (e *Extractor) Extract(ctx context.Context, inputRef string) (*dataset.Dataset, error) {
	switch strings.ToLower(path.Ext(inputRef)) {
	case ".csv":
		return e.extractCSV(ctx, inputRef)
	case ".json":
		return e.extractJSON(ctx, inputRef)
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrMalformed, path.Ext(inputRef))
	}
}

func (e *Extractor) extractCSV(ctx context.Context, inputRef string) (*dataset.Dataset, error) {
	file, err := e.fs.Open(inputRef)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, inputRef)
		}

		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file %s", ErrMalformed, inputRef)
		}

		return nil, classifyCSVError(err)
	}

	columns, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}

	ds := dataset.New(inputRef, columns)

	for rowIndex := 0; ; rowIndex++ {
		if rowIndex%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, classifyCSVError(err)
		}

		row := make(dataset.Row, len(columns))
		for i, col := range columns {
			if record[i] == "" {
				row[col] = nil

				continue
			}

			row[col] = record[i]
		}

		ds.Rows = append(ds.Rows, row)
	}

	e.logger.Debug("extracted csv input",
		slog.String("input", inputRef),
		slog.Int("rows", ds.RowCount()),
		slog.Int("columns", len(ds.Columns)),
	)

	return ds, nil
}

func (e *Extractor) extractJSON(ctx context.Context, inputRef string) (*dataset.Dataset, error) {
	raw, err := util.ReadFile(e.fs, inputRef)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, inputRef)
		}

		return nil, fmt.Errorf("read input: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: expected a JSON array of objects: %s", ErrMalformed, err)
		}

		return nil, fmt.Errorf("%w: %s", ErrUnparseable, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty record array in %s", ErrMalformed, inputRef)
	}

	// Column order is first-seen across records, keys sorted within each
	// record, so repeated extractions of one input produce identical headers.
	columns := firstSeenColumns(records)

	ds := dataset.New(inputRef, columns)

	for i, record := range records {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row := make(dataset.Row, len(columns))
		for _, col := range columns {
			row[col] = record[col]
		}

		ds.Rows = append(ds.Rows, row)
	}

	e.logger.Debug("extracted json input",
		slog.String("input", inputRef),
		slog.Int("rows", ds.RowCount()),
		slog.Int("columns", len(ds.Columns)),
	)

	return ds, nil
}

func firstSeenColumns(records []map[string]any) []string {
	columns := make([]string, 0)
	seen := make(map[string]struct{})

	for _, record := range records {
		keys := make([]string, 0, len(record))
		for key := range record {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				columns = append(columns, key)
			}
		}
	}

	return columns
}

func normalizeHeader(header []string) ([]string, error) {
	columns := make([]string, 0, len(header))
	seen := make(map[string]struct{}, len(header))

	for _, field := range header {
		name := strings.TrimSpace(field)
		if name == "" {
			return nil, fmt.Errorf("%w: blank column name in header", ErrMalformed)
		}

		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrMalformed, name)
		}

		seen[name] = struct{}{}
		columns = append(columns, name)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: header row has no columns", ErrMalformed)
	}

	return columns, nil
}

func classifyCSVError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %s", ErrUnparseable, err)
	}

	// Not a syntax problem: underlying reader failure, leave retryable.
	return fmt.Errorf("read input: %w", err)
}
