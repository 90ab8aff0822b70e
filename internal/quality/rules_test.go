package quality

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRulesMissingFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rules, err := LoadRules(memfs.New(), DefaultRulesPath)
	require.NoError(t, err)
	assert.Empty(t, rules.Columns)
}

func TestLoadRulesInvalidYAML(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, DefaultRulesPath, []byte("column_rules: [not a map"), 0o644))

	rules, err := LoadRules(fs, DefaultRulesPath)
	require.NoError(t, err, "a broken rules file degrades gracefully")
	assert.Empty(t, rules.Columns)
}

func TestLoadRulesEmptyFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, DefaultRulesPath, nil, 0o644))

	rules, err := LoadRules(fs, DefaultRulesPath)
	require.NoError(t, err)
	assert.Empty(t, rules.Columns)
}

func TestLoadRulesParsesColumnRules(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	content := `
column_rules:
  age:
    min: 18
    max: 99
  user_id:
    max_length: 20
  middle_name:
    max_null_percent: 100
`

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "rules/custom.yaml", []byte(content), 0o644))

	rules, err := LoadRules(fs, "rules/custom.yaml")
	require.NoError(t, err)
	require.Len(t, rules.Columns, 3)

	age := rules.Columns["age"]
	require.NotNil(t, age.Min)
	require.NotNil(t, age.Max)
	assert.Equal(t, 18.0, *age.Min)
	assert.Equal(t, 99.0, *age.Max)

	assert.Equal(t, 20, rules.Columns["user_id"].MaxLength)

	middle := rules.Columns["middle_name"]
	require.NotNil(t, middle.MaxNullPercent)
	assert.Equal(t, 100.0, *middle.MaxNullPercent)
}
