package transform

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAliasesMissingFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg, err := LoadAliases(memfs.New(), DefaultAliasesPath)
	require.NoError(t, err)
	assert.Empty(t, cfg.ColumnAliases)
}

func TestLoadAliasesInvalidYAML(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, DefaultAliasesPath, []byte("column_aliases: [broken"), 0o644))

	cfg, err := LoadAliases(fs, DefaultAliasesPath)
	require.NoError(t, err, "a broken alias file degrades gracefully")
	assert.Empty(t, cfg.ColumnAliases)
}

func TestLoadAliasesEmptyFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, DefaultAliasesPath, nil, 0o644))

	cfg, err := LoadAliases(fs, DefaultAliasesPath)
	require.NoError(t, err)
	assert.Empty(t, cfg.ColumnAliases)
}

func TestLoadAliasesParsesEntries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	content := `
column_aliases:
  registered: sign_up_date
  client_ref: user_id
column_rules:
  age:
    min: 0
`

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, DefaultAliasesPath, []byte(content), 0o644))

	cfg, err := LoadAliases(fs, DefaultAliasesPath)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"registered": "sign_up_date",
		"client_ref": "user_id",
	}, cfg.ColumnAliases, "only the column_aliases section is decoded")
}
