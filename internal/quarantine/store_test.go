package quarantine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQuarantineMovesArtifactWithSidecar(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	content := []byte("user_id,age\nu_001,notanumber\n")
	require.NoError(t, util.WriteFile(fs, "inputs/users.csv", content, 0o644))

	store := NewStore(fs, nil, testLogger())

	rec, err := store.Quarantine(context.Background(), "inputs/users.csv", Record{
		RunID:        "run_abc",
		FailingStage: "extracting",
		ErrorKind:    "input_error",
		ErrorMessage: "row 1: parse failure",
		RetryCount:   3,
	})
	require.NoError(t, err)

	assert.Equal(t, "inputs/users.csv", rec.InputRef)
	assert.False(t, rec.QuarantinedAt.IsZero())
	require.NotEmpty(t, rec.ArtifactPath)
	assert.True(t, strings.HasPrefix(rec.ArtifactPath, DeadLetterDir+"/"))
	assert.Contains(t, rec.ArtifactPath, "_run_abc_")
	assert.True(t, strings.HasSuffix(rec.ArtifactPath, "users.csv"))

	copied, err := util.ReadFile(fs, rec.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, content, copied)

	checksum, err := FileChecksum(fs, rec.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, checksum, rec.Checksum)

	_, err = fs.Stat("inputs/users.csv")
	assert.ErrorIs(t, err, os.ErrNotExist, "the original is moved out of the inbox")

	_, err = fs.Stat(rec.ArtifactPath + ".error.json")
	require.NoError(t, err, "sidecar written next to the artifact")
}

func TestQuarantineWithUnreadableInputWritesSidecarOnly(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	store := NewStore(fs, nil, testLogger())

	rec, err := store.Quarantine(context.Background(), "inputs/missing.csv", Record{
		RunID:        "run_abc",
		FailingStage: "preflight",
		ErrorKind:    "input_error",
		ErrorMessage: "input file not found",
	})
	require.NoError(t, err)

	assert.Empty(t, rec.ArtifactPath)
	assert.Empty(t, rec.Checksum)

	records, err := store.ListQuarantined()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "inputs/missing.csv", records[0].InputRef)
	assert.Equal(t, "input_error", records[0].ErrorKind)
}

func TestArchiveMovesArtifactWithSidecar(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "inputs/users.csv", []byte("user_id\nu_001\n"), 0o644))

	store := NewStore(fs, nil, testLogger())

	rec, err := store.Archive(context.Background(), "inputs/users.csv", ArchiveRecord{
		RunID:        "run_abc",
		RowsLoaded:   1,
		QualityScore: 100,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rec.ArtifactPath, ArchiveDir+"/"))
	assert.NotEmpty(t, rec.Checksum)

	_, err = fs.Stat(rec.ArtifactPath + ".processed.json")
	require.NoError(t, err)

	_, err = fs.Stat("inputs/users.csv")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestArchiveMissingInputFails(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewStore(memfs.New(), nil, testLogger())

	_, err := store.Archive(context.Background(), "inputs/missing.csv", ArchiveRecord{RunID: "run_abc"})
	require.Error(t, err, "archiving requires the processed input to exist")
}

func TestQuarantinePathsEmbedRunID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Same base name, same second: paths stay distinct because the run id is
	// part of the file name.
	fs := memfs.New()
	store := NewStore(fs, nil, testLogger())

	paths := make(map[string]struct{})

	for _, runID := range []string{"run_a", "run_b", "run_c", "run_d"} {
		input := "inputs/" + runID + "/users.csv"
		require.NoError(t, util.WriteFile(fs, input, []byte("user_id\nu_001\n"), 0o644))

		rec, err := store.Quarantine(context.Background(), input, Record{RunID: runID})
		require.NoError(t, err)

		paths[rec.ArtifactPath] = struct{}{}
	}

	assert.Len(t, paths, 4)

	records, err := store.ListQuarantined()
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestListQuarantinedEmptyDirectory(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewStore(memfs.New(), nil, testLogger())

	records, err := store.ListQuarantined()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWritable(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewStore(memfs.New(), nil, testLogger())
	assert.NoError(t, store.Writable())
}

func TestMirrorConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("disabled when endpoint empty", func(t *testing.T) {
		cfg := &MirrorConfig{}
		assert.False(t, cfg.Enabled())
		assert.NoError(t, cfg.Validate())

		mirror, err := NewMirror(cfg, testLogger())
		require.NoError(t, err)
		assert.Nil(t, mirror, "mirroring is optional")
	})

	t.Run("enabled requires credentials", func(t *testing.T) {
		cfg := &MirrorConfig{Endpoint: "minio:9000", Bucket: "conveyor-deadletter"}
		assert.True(t, cfg.Enabled())
		assert.ErrorIs(t, cfg.Validate(), ErrMirrorCredentialsEmpty)
	})

	t.Run("enabled requires bucket", func(t *testing.T) {
		cfg := &MirrorConfig{Endpoint: "minio:9000", AccessKey: "ak", SecretKey: "sk"}
		assert.ErrorIs(t, cfg.Validate(), ErrMirrorBucketEmpty)
	})

	t.Run("loads from environment", func(t *testing.T) {
		t.Setenv("QUARANTINE_MIRROR_ENDPOINT", "minio:9000")
		t.Setenv("QUARANTINE_MIRROR_ACCESS_KEY", "ak")
		t.Setenv("QUARANTINE_MIRROR_SECRET_KEY", "sk")
		t.Setenv("QUARANTINE_MIRROR_USE_SSL", "true")

		cfg := LoadMirrorConfig()
		assert.True(t, cfg.Enabled())
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, "conveyor-deadletter", cfg.Bucket)
		assert.True(t, cfg.UseSSL)
	})
}
