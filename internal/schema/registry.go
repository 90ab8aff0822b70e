package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Sentinel errors for registry operations.
var (
	// ErrRegistryCorrupt indicates the persisted registry document exists but
	// cannot be decoded. The registry is the system of record for the expected
	// schema, so this is a hard startup failure, never silently re-seeded.
	ErrRegistryCorrupt = errors.New("schema registry document corrupt")

	// ErrVersionNotFound indicates a requested version number has no entry.
	ErrVersionNotFound = errors.New("schema version not found")
)

// Proposal is the outcome of an evolution critical section: the column set for
// the next version. A nil proposal from the Evolve callback means the current
// version already matches the data and nothing is appended.
type Proposal struct {
	Columns     map[string]Column
	ColumnOrder []string
	Description string
	RunID       string
	Changes     []string
}

// Registry is the durable, append-only record of schema versions, persisted as
// a single JSON document on the data filesystem.
//
// All evolution goes through Evolve, which serializes the whole
// read-diff-append critical section under one writer lock: concurrent runs
// racing to evolve never append colliding version numbers, and the loser
// recomputes its diff against the winner's version.
type Registry struct {
	fs     billy.Filesystem
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc document
}

// NewRegistry loads the registry document at documentPath, seeding a default
// version 1 (the users column set) when no document exists yet.
func NewRegistry(fs billy.Filesystem, documentPath string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		fs:     fs,
		path:   documentPath,
		logger: logger.With(slog.String("component", "schema_registry")),
	}

	if err := r.load(); err != nil {
		return nil, err
	}

	return r, nil
}

// CurrentVersion returns the current version number.
func (r *Registry) CurrentVersion() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.doc.CurrentVersion
}

// Current returns a copy of the current schema version.
func (r *Registry) Current() Version {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copyVersion(r.doc.Schemas[strconv.Itoa(r.doc.CurrentVersion)])
}

// VersionAt returns a copy of the given version.
func (r *Registry) VersionAt(number int) (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.doc.Schemas[strconv.Itoa(number)]
	if !ok {
		return Version{}, fmt.Errorf("%w: %d", ErrVersionNotFound, number)
	}

	return copyVersion(v), nil
}

// History returns a copy of the evolution history, oldest first.
func (r *Registry) History() []Evolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := make([]Evolution, len(r.doc.EvolutionHistory))
	copy(history, r.doc.EvolutionHistory)

	return history
}

// Evolve runs fn inside the registry's single-writer critical section. fn
// receives a copy of the version that is current at that moment and may return
// a proposal for the next version; a nil proposal leaves the registry
// untouched. On a non-nil proposal the registry appends version N+1, persists
// the document, and returns the new version with evolved=true.
//
// Version numbers therefore increase strictly and are never skipped or reused,
// no matter how many runs race: the second writer's fn sees the first writer's
// appended version.
func (r *Registry) Evolve(fn func(current Version) (*Proposal, error)) (Version, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := copyVersion(r.doc.Schemas[strconv.Itoa(r.doc.CurrentVersion)])

	proposal, err := fn(current)
	if err != nil {
		return Version{}, false, err
	}

	if proposal == nil {
		return current, false, nil
	}

	next := Version{
		Number:      current.Number + 1,
		CreatedAt:   time.Now().UTC(),
		Description: proposal.Description,
		Columns:     proposal.Columns,
		ColumnOrder: proposal.ColumnOrder,
		PrimaryKey:  current.PrimaryKey,
		Table:       current.Table,
	}

	r.doc.Schemas[strconv.Itoa(next.Number)] = next
	r.doc.CurrentVersion = next.Number
	r.doc.EvolutionHistory = append(r.doc.EvolutionHistory, Evolution{
		FromVersion: current.Number,
		ToVersion:   next.Number,
		ChangedAt:   next.CreatedAt,
		Description: proposal.Description,
		RunID:       proposal.RunID,
		Changes:     proposal.Changes,
	})

	if err := r.persist(); err != nil {
		// Roll the in-memory document back so a later evolution retries cleanly.
		delete(r.doc.Schemas, strconv.Itoa(next.Number))
		r.doc.CurrentVersion = current.Number
		r.doc.EvolutionHistory = r.doc.EvolutionHistory[:len(r.doc.EvolutionHistory)-1]

		return Version{}, false, fmt.Errorf("persist schema registry: %w", err)
	}

	r.logger.Info("schema version appended",
		slog.Int("from_version", current.Number),
		slog.Int("to_version", next.Number),
		slog.String("description", proposal.Description),
	)

	return copyVersion(next), true, nil
}

func (r *Registry) load() error {
	raw, err := util.ReadFile(r.fs, r.path)
	if errors.Is(err, os.ErrNotExist) {
		return r.seed()
	}

	if err != nil {
		return fmt.Errorf("read schema registry: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %s", ErrRegistryCorrupt, err)
	}

	if doc.CurrentVersion == 0 || doc.Schemas == nil {
		return fmt.Errorf("%w: missing current version", ErrRegistryCorrupt)
	}

	if _, ok := doc.Schemas[strconv.Itoa(doc.CurrentVersion)]; !ok {
		return fmt.Errorf("%w: current version %d has no entry", ErrRegistryCorrupt, doc.CurrentVersion)
	}

	r.doc = doc

	r.logger.Info("schema registry loaded",
		slog.String("path", r.path),
		slog.Int("current_version", doc.CurrentVersion),
		slog.Int("versions", len(doc.Schemas)),
	)

	return nil
}

func (r *Registry) seed() error {
	initial := DefaultUsersVersion()

	r.doc = document{
		CurrentVersion:   initial.Number,
		Schemas:          map[string]Version{strconv.Itoa(initial.Number): initial},
		EvolutionHistory: []Evolution{},
	}

	if err := r.persist(); err != nil {
		return fmt.Errorf("seed schema registry: %w", err)
	}

	r.logger.Info("schema registry seeded with default version",
		slog.String("path", r.path),
		slog.String("table", initial.Table),
	)

	return nil
}

// persist writes the document to a temp file and renames it into place so a
// crash mid-write never leaves a truncated registry. Callers hold r.mu.
func (r *Registry) persist() error {
	raw, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return err
	}

	if dir := path.Dir(r.path); dir != "." && dir != "/" {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := r.path + ".tmp"
	if err := util.WriteFile(r.fs, tmp, raw, 0o644); err != nil {
		return err
	}

	return r.fs.Rename(tmp, r.path)
}

func copyVersion(v Version) Version {
	columns := make(map[string]Column, len(v.Columns))
	for name, col := range v.Columns {
		columns[name] = col
	}

	order := make([]string, len(v.ColumnOrder))
	copy(order, v.ColumnOrder)

	v.Columns = columns
	v.ColumnOrder = order

	return v
}
