package migrations

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func TestEmbeddedSetValidates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if err := Validate(); err != nil {
		t.Fatalf("Validate() on the embedded set returned %v", err)
	}
}

func TestListReturnsApplyOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	files, err := List()
	if err != nil {
		t.Fatalf("List() returned %v", err)
	}

	if len(files) == 0 {
		t.Fatal("List() returned no migrations")
	}

	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Errorf("files out of order: %q before %q", files[i-1], files[i])
		}
	}

	if !strings.HasPrefix(files[0], "001_") {
		t.Errorf("first migration = %q, want sequence 001", files[0])
	}
}

func TestContentReadsEmbeddedFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	files, err := List()
	if err != nil {
		t.Fatalf("List() returned %v", err)
	}

	for _, file := range files {
		content, err := Content(file)
		if err != nil {
			t.Fatalf("Content(%q) returned %v", file, err)
		}

		if len(content) == 0 {
			t.Errorf("Content(%q) is empty", file)
		}
	}
}

func TestParse(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	info, err := Parse("003_add_audit_table.up.sql")
	if err != nil {
		t.Fatalf("Parse() returned %v", err)
	}

	if info.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", info.Sequence)
	}

	if info.Name != "add_audit_table" {
		t.Errorf("Name = %q, want %q", info.Name, "add_audit_table")
	}

	if info.Direction != "up" {
		t.Errorf("Direction = %q, want %q", info.Direction, "up")
	}
}

func TestParseRejectsBadFilenames(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	bad := []string{
		"1_short_sequence.up.sql",
		"001_no_direction.sql",
		"001_Bad-Name.up.sql",
		"001_name.sideways.sql",
		"notes.txt",
	}

	for _, filename := range bad {
		if _, err := Parse(filename); !errors.Is(err, ErrBadFilename) {
			t.Errorf("Parse(%q) = %v, want ErrBadFilename", filename, err)
		}
	}
}

func TestValidateDetectsUnpairedMigration(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fsys := fstest.MapFS{
		"001_first.up.sql":   {Data: []byte("CREATE TABLE t (id INT);")},
		"001_first.down.sql": {Data: []byte("DROP TABLE t;")},
		"002_second.up.sql":  {Data: []byte("CREATE TABLE u (id INT);")},
	}

	if err := validate(fsys); !errors.Is(err, ErrUnpaired) {
		t.Errorf("validate() = %v, want ErrUnpaired", err)
	}
}

func TestValidateDetectsSequenceGap(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fsys := fstest.MapFS{
		"001_first.up.sql":   {Data: []byte("CREATE TABLE t (id INT);")},
		"001_first.down.sql": {Data: []byte("DROP TABLE t;")},
		"003_third.up.sql":   {Data: []byte("CREATE TABLE v (id INT);")},
		"003_third.down.sql": {Data: []byte("DROP TABLE v;")},
	}

	if err := validate(fsys); !errors.Is(err, ErrSequenceGap) {
		t.Errorf("validate() = %v, want ErrSequenceGap", err)
	}
}

func TestValidateRejectsStrayFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fsys := fstest.MapFS{
		"001_first.up.sql":   {Data: []byte("CREATE TABLE t (id INT);")},
		"001_first.down.sql": {Data: []byte("DROP TABLE t;")},
		"README.md":          {Data: []byte("stray")},
	}

	if err := validate(fsys); !errors.Is(err, ErrBadFilename) {
		t.Errorf("validate() = %v, want ErrBadFilename", err)
	}
}

func TestValidateEmptySet(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if err := validate(fstest.MapFS{}); !errors.Is(err, ErrNoMigrations) {
		t.Errorf("validate() = %v, want ErrNoMigrations", err)
	}
}
