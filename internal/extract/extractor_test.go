package extract

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T, files map[string]string) *Extractor {
	t.Helper()

	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}

	return New(fs, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractCSV(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	e := newTestExtractor(t, map[string]string{
		"input/users.csv": "user_id,age,is_active\nuser_1,34,true\nuser_2,,false\n",
	})

	ds, err := e.Extract(context.Background(), "input/users.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"user_id", "age", "is_active"}, ds.Columns)
	assert.Equal(t, 2, ds.RowCount())
	assert.Equal(t, "user_1", ds.Rows[0]["user_id"])
	assert.Nil(t, ds.Rows[1]["age"], "empty cell should extract as null")
	assert.Equal(t, "input/users.csv", ds.Source)
}

func TestExtractJSON(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	e := newTestExtractor(t, map[string]string{
		"input/users.json": `[
			{"user_id": "user_1", "age": 34, "is_active": true},
			{"user_id": "user_2", "age": null, "is_active": false, "country": "NZ"}
		]`,
	})

	ds, err := e.Extract(context.Background(), "input/users.json")
	require.NoError(t, err)

	// Keys of the first record sorted, then later-seen columns appended.
	assert.Equal(t, []string{"age", "is_active", "user_id", "country"}, ds.Columns)
	assert.Equal(t, 2, ds.RowCount())
	assert.Equal(t, float64(34), ds.Rows[0]["age"])
	assert.Nil(t, ds.Rows[1]["age"])
	assert.Nil(t, ds.Rows[0]["country"], "missing key should extract as null")
}

func TestExtractClassifiesFailures(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	e := newTestExtractor(t, map[string]string{
		"input/empty.csv":      "",
		"input/dup.csv":        "id,id\n1,2\n",
		"input/blank.csv":      "id,,name\n1,2,3\n",
		"input/broken.csv":     "id,name\n\"unclosed,quote\n",
		"input/ragged.csv":     "id,name\n1,alice,extra\n",
		"input/broken.json":    `[{"id": 1},`,
		"input/object.json":    `{"id": 1}`,
		"input/scalars.json":   `[1, 2, 3]`,
		"input/noentries.json": `[]`,
	})

	tests := []struct {
		name     string
		inputRef string
		sentinel error
	}{
		{name: "missing file", inputRef: "input/nope.csv", sentinel: ErrNotFound},
		{name: "unsupported extension", inputRef: "input/users.parquet", sentinel: ErrMalformed},
		{name: "empty csv", inputRef: "input/empty.csv", sentinel: ErrMalformed},
		{name: "duplicate header column", inputRef: "input/dup.csv", sentinel: ErrMalformed},
		{name: "blank header column", inputRef: "input/blank.csv", sentinel: ErrMalformed},
		{name: "csv syntax error", inputRef: "input/broken.csv", sentinel: ErrUnparseable},
		{name: "ragged csv row", inputRef: "input/ragged.csv", sentinel: ErrUnparseable},
		{name: "json syntax error", inputRef: "input/broken.json", sentinel: ErrUnparseable},
		{name: "json object instead of array", inputRef: "input/object.json", sentinel: ErrMalformed},
		{name: "json array of scalars", inputRef: "input/scalars.json", sentinel: ErrMalformed},
		{name: "json empty array", inputRef: "input/noentries.json", sentinel: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), tt.inputRef)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestExtractHonorsCancellation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	e := newTestExtractor(t, map[string]string{
		"input/users.csv": "user_id,age\nuser_1,34\n",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, "input/users.csv")
	assert.ErrorIs(t, err, context.Canceled)
}
