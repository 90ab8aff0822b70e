// Package migrations embeds the warehouse baseline SQL migrations and
// validates them before anything trusts the set: strict filenames, complete
// up/down pairing, and a gapless sequence starting at 001.
//
// The baseline covers only the tables the pipeline requires before its first
// run (the schema evolution history). The target table itself is created and
// evolved at runtime by the schema migrator, not here.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// filenameRegex enforces the naming standard: 001_name.up.sql / 001_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Sentinel errors for migration set validation.
var (
	// ErrNoMigrations indicates the embedded set is empty.
	ErrNoMigrations = errors.New("no migration files found")

	// ErrBadFilename indicates a file outside the naming standard.
	ErrBadFilename = errors.New("invalid migration filename")

	// ErrUnpaired indicates an up migration without its down, or vice versa.
	ErrUnpaired = errors.New("unpaired migration")

	// ErrSequenceGap indicates missing or non-contiguous sequence numbers.
	ErrSequenceGap = errors.New("gap in migration sequence")
)

// Info is the parsed identity of one migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// FS returns the embedded migration filesystem, suitable as a golang-migrate
// iofs source.
func FS() fs.FS {
	return embedded
}

// List returns the embedded migration filenames in apply order. Files outside
// the naming standard are rejected rather than skipped; a stray file in the
// set is a packaging mistake, not noise.
func List() ([]string, error) {
	return list(embedded)
}

// Validate checks the embedded set: at least one migration, every filename
// conforming, every sequence paired up/down, and no sequence gaps. Runner
// startup calls this before touching the database.
func Validate() error {
	return validate(embedded)
}

// Content returns the raw SQL of one embedded migration file.
func Content(filename string) ([]byte, error) {
	return fs.ReadFile(embedded, filename)
}

// Parse extracts the sequence, name, and direction from a migration filename.
func Parse(filename string) (*Info, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf("%w: %q (want 001_name.up.sql or 001_name.down.sql)", ErrBadFilename, filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadFilename, filename, err)
	}

	return &Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

func list(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !filenameRegex.MatchString(entry.Name()) {
			return nil, fmt.Errorf("%w: %q", ErrBadFilename, entry.Name())
		}

		files = append(files, entry.Name())
	}

	// Lexicographic order is apply order under the naming standard.
	sort.Strings(files)

	return files, nil
}

func validate(fsys fs.FS) error {
	files, err := list(fsys)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	directions := make(map[string]map[string]bool)
	sequences := make(map[int]bool)

	for _, file := range files {
		info, err := Parse(file)
		if err != nil {
			return err
		}

		if _, err := fs.ReadFile(fsys, file); err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
		sequences[info.Sequence] = true
	}

	for key, dirs := range directions {
		if !dirs["up"] {
			return fmt.Errorf("%w: %s has no up migration", ErrUnpaired, key)
		}

		if !dirs["down"] {
			return fmt.Errorf("%w: %s has no down migration", ErrUnpaired, key)
		}
	}

	numbers := make([]int, 0, len(sequences))
	for seq := range sequences {
		numbers = append(numbers, seq)
	}

	sort.Ints(numbers)

	if numbers[0] != 1 {
		return fmt.Errorf("%w: sequence starts at %03d, want 001", ErrSequenceGap, numbers[0])
	}

	for i := 1; i < len(numbers); i++ {
		if numbers[i] != numbers[i-1]+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrSequenceGap, numbers[i-1]+1, numbers[i])
		}
	}

	return nil
}
