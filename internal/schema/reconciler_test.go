package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

func shapeOf(rows []dataset.Row, columns ...string) dataset.Shape {
	ds := &dataset.Dataset{Columns: columns, Rows: rows}

	return ds.InferShape()
}

func TestDiffMatchingShapeIsEmpty(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	version := DefaultUsersVersion()
	shape := shapeOf([]dataset.Row{
		{"user_id": "user_1", "age": int64(30), "sign_up_date": "2024-01-15", "is_active": true},
	}, "user_id", "age", "sign_up_date", "is_active")

	diff := NewReconciler(testLogger()).Diff(version, shape)

	assert.True(t, diff.Empty())
	assert.False(t, diff.NeedsMigration())
}

func TestDiffClassification(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	version := DefaultUsersVersion()

	t.Run("data-only column is additive", func(t *testing.T) {
		shape := shapeOf([]dataset.Row{
			{"user_id": "u1", "age": int64(3), "sign_up_date": "2024-01-15", "is_active": true, "country": "NZ"},
		}, "user_id", "age", "sign_up_date", "is_active", "country")

		diff := NewReconciler(testLogger()).Diff(version, shape)

		expected := []AddedColumn{{Name: "country", Type: dataset.TypeString}}
		if d := cmp.Diff(expected, diff.Added); d != "" {
			t.Errorf("Added mismatch (-want +got):\n%s", d)
		}

		assert.Empty(t, diff.Issues)
		assert.True(t, diff.NeedsMigration())
	})

	t.Run("missing required column is a high severity issue", func(t *testing.T) {
		shape := shapeOf([]dataset.Row{
			{"user_id": "u1", "age": int64(3), "sign_up_date": "2024-01-15"},
		}, "user_id", "age", "sign_up_date")

		diff := NewReconciler(testLogger()).Diff(version, shape)

		require.Len(t, diff.Issues, 1)
		assert.Equal(t, IssueMissingRequired, diff.Issues[0].Kind)
		assert.Equal(t, "is_active", diff.Issues[0].Column)
		assert.Equal(t, SeverityHigh, diff.Issues[0].Severity)
		assert.False(t, diff.NeedsMigration(), "missing columns never migrate the store")
	})

	t.Run("type mismatch is a medium severity issue", func(t *testing.T) {
		shape := shapeOf([]dataset.Row{
			{"user_id": "u1", "age": "thirty", "sign_up_date": "2024-01-15", "is_active": true},
		}, "user_id", "age", "sign_up_date", "is_active")

		diff := NewReconciler(testLogger()).Diff(version, shape)

		require.Len(t, diff.Issues, 1)
		assert.Equal(t, IssueTypeMismatch, diff.Issues[0].Kind)
		assert.Equal(t, "age", diff.Issues[0].Column)
		assert.Equal(t, SeverityMedium, diff.Issues[0].Severity)
		assert.Equal(t, dataset.TypeInteger, diff.Issues[0].Expected)
		assert.Equal(t, dataset.TypeString, diff.Issues[0].Actual)

		expected := []TypeChange{{Column: "age", Registered: dataset.TypeInteger, Inferred: dataset.TypeString}}
		if d := cmp.Diff(expected, diff.TypeChanged); d != "" {
			t.Errorf("TypeChanged mismatch (-want +got):\n%s", d)
		}
	})

	t.Run("primary key type change is critical", func(t *testing.T) {
		shape := shapeOf([]dataset.Row{
			{"user_id": int64(1), "age": int64(3), "sign_up_date": "2024-01-15", "is_active": true},
		}, "user_id", "age", "sign_up_date", "is_active")

		diff := NewReconciler(testLogger()).Diff(version, shape)

		require.Len(t, diff.Issues, 1)
		assert.Equal(t, IssuePrimaryKeyTypeChange, diff.Issues[0].Kind)
		assert.Equal(t, SeverityCritical, diff.Issues[0].Severity)
		assert.True(t, diff.HasCritical())
	})

	t.Run("fully null column is not a mismatch", func(t *testing.T) {
		shape := shapeOf([]dataset.Row{
			{"user_id": "u1", "age": nil, "sign_up_date": "2024-01-15", "is_active": true},
		}, "user_id", "age", "sign_up_date", "is_active")

		diff := NewReconciler(testLogger()).Diff(version, shape)

		assert.Empty(t, diff.Issues)
	})

	t.Run("missing optional column is a removal proposal", func(t *testing.T) {
		evolved := DefaultUsersVersion()
		evolved.Columns["country"] = Column{Type: dataset.TypeString, Required: false}
		evolved.ColumnOrder = append(evolved.ColumnOrder, "country")

		shape := shapeOf([]dataset.Row{
			{"user_id": "u1", "age": int64(3), "sign_up_date": "2024-01-15", "is_active": true},
		}, "user_id", "age", "sign_up_date", "is_active")

		diff := NewReconciler(testLogger()).Diff(evolved, shape)

		assert.Equal(t, []string{"country"}, diff.Removed)
		assert.Empty(t, diff.Issues)
		assert.False(t, diff.NeedsMigration())
	})
}

func TestDiffAddedColumnsAreDeterministicallyOrdered(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	version := DefaultUsersVersion()
	shape := shapeOf([]dataset.Row{
		{
			"user_id": "u1", "age": int64(3), "sign_up_date": "2024-01-15", "is_active": true,
			"zeta": "z", "alpha": "a", "mid": "m",
		},
	}, "user_id", "age", "sign_up_date", "is_active", "zeta", "alpha", "mid")

	diff := NewReconciler(testLogger()).Diff(version, shape)

	names := make([]string, 0, len(diff.Added))
	for _, added := range diff.Added {
		names = append(names, added.Name)
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}
