package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

func TestNormalizeColumn(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercases", input: "USER_ID", expected: "user_id"},
		{name: "trims whitespace", input: "  age  ", expected: "age"},
		{name: "spaces become underscores", input: "Sign Up Date", expected: "sign_up_date"},
		{name: "dashes become underscores", input: "SIGN-UP-DATE", expected: "sign_up_date"},
		{name: "collapses repeated separators", input: "sign  up--date", expected: "sign_up_date"},
		{name: "strips edge separators", input: "-user_id-", expected: "user_id"},
		{name: "already canonical passes through", input: "is_active", expected: "is_active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeColumn(tt.input))
		})
	}
}

func TestResolverBuiltinAliases(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := NewResolver(nil)

	tests := []struct {
		input    string
		expected string
	}{
		{input: "signup_date", expected: "sign_up_date"},
		{input: "SignUp_Date", expected: "sign_up_date"},
		{input: "signup", expected: "sign_up_date"},
		{input: "id", expected: "user_id"},
		{input: "Active", expected: "is_active"},
		{input: "age", expected: "age"},
		{input: "country", expected: "country"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, r.Resolve(tt.input), "Resolve(%q)", tt.input)
	}
}

func TestResolverConfigOverridesAndSkips(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := &Config{
		ColumnAliases: map[string]string{
			"Client Ref": "user_id",
			"id":         "external_id",
			"":           "ignored",
			"blank":      "  ",
		},
	}

	r := NewResolver(cfg)

	assert.Equal(t, "user_id", r.Resolve("client_ref"), "config variants are normalized at registration")
	assert.Equal(t, "external_id", r.Resolve("id"), "config overrides a builtin alias")
	assert.Equal(t, "blank", r.Resolve("blank"), "entries with empty canonical are skipped")
}

func TestResolverNilReceiver(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var r *Resolver

	assert.Equal(t, "user_id", r.Resolve("User ID"), "nil resolver still normalizes")
	assert.Equal(t, 0, r.AliasCount())
}

func TestCanonicalizeColumns(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := NewResolver(nil)

	ds := dataset.New("input.csv", []string{"id", "age", "signup"})
	ds.Rows = append(ds.Rows, dataset.Row{"id": "u_001", "age": int64(30), "signup": "2024-03-15"})

	renames := r.CanonicalizeColumns(ds)

	assert.ElementsMatch(t, []string{"id->user_id", "signup->sign_up_date"}, renames)
	assert.Equal(t, []string{"user_id", "age", "sign_up_date"}, ds.Columns)
	assert.Equal(t, "u_001", ds.Rows[0]["user_id"], "row keys follow the rename")
	assert.Equal(t, "2024-03-15", ds.Rows[0]["sign_up_date"])
}

func TestCanonicalizeColumnsSkipsCollision(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := NewResolver(nil)

	ds := dataset.New("input.csv", []string{"signup_date", "sign_up_date"})
	ds.Rows = append(ds.Rows, dataset.Row{"signup_date": "2024-01-01", "sign_up_date": "2024-02-02"})

	renames := r.CanonicalizeColumns(ds)

	assert.Empty(t, renames, "renaming onto an existing column would drop data")
	assert.Equal(t, []string{"signup_date", "sign_up_date"}, ds.Columns)
}
