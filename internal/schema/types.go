// Package schema manages the versioned tabular shape expected by the pipeline:
// a durable append-only registry of schema versions, drift detection between an
// incoming dataset and the current version, in-memory remediation of
// compatibility issues, and additive migration of the durable store.
package schema

import (
	"time"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

// DefaultKind names the synthesis strategy for a missing required column.
type DefaultKind string

// Default rule kinds.
const (
	// DefaultSequence fills a sequential surrogate key: <prefix>_<ordinal>.
	DefaultSequence DefaultKind = "sequence"

	// DefaultZero fills integer/float columns with zero.
	DefaultZero DefaultKind = "zero"

	// DefaultTrue fills boolean columns with true.
	DefaultTrue DefaultKind = "true"

	// DefaultToday fills date columns with the current UTC date.
	DefaultToday DefaultKind = "today"

	// DefaultConst fills every row with Value verbatim.
	DefaultConst DefaultKind = "const"
)

// DefaultRule documents how a required column is synthesized when an input
// arrives without it. A required column with no rule cannot be remediated.
type DefaultRule struct {
	Kind  DefaultKind `json:"kind"`
	Value string      `json:"value,omitempty"`
}

// Column is one registered column definition.
type Column struct {
	Type      dataset.Type `json:"type"`
	Required  bool         `json:"required"`
	MaxLength int          `json:"max_length,omitempty"`
	Min       *float64     `json:"min,omitempty"`
	Max       *float64     `json:"max,omitempty"`
	Default   *DefaultRule `json:"default,omitempty"`
}

// Version is one immutable registry entry. A new version is always appended
// with the next number; existing versions are never edited.
type Version struct {
	Number      int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Description string            `json:"description"`
	Columns     map[string]Column `json:"columns"`

	// ColumnOrder pins a deterministic projection and load order; appended
	// columns always land at the end.
	ColumnOrder []string `json:"column_order"`

	PrimaryKey string `json:"primary_key"`
	Table      string `json:"table"`
}

// Evolution is one append-only history entry recording a version transition.
type Evolution struct {
	FromVersion int       `json:"from_version"`
	ToVersion   int       `json:"to_version"`
	ChangedAt   time.Time `json:"changed_at"`
	Description string    `json:"description"`
	RunID       string    `json:"run_id,omitempty"`
	Changes     []string  `json:"changes,omitempty"`
}

// document is the persisted registry layout.
type document struct {
	CurrentVersion   int                `json:"currentVersion"`
	Schemas          map[string]Version `json:"schemas"`
	EvolutionHistory []Evolution        `json:"evolutionHistory"`
}

func float64Ptr(v float64) *float64 {
	return &v
}

// DefaultUsersVersion is the safe version 1 seeded into an empty registry.
func DefaultUsersVersion() Version {
	return Version{
		Number:      1,
		CreatedAt:   time.Now().UTC(),
		Description: "initial users schema",
		Columns: map[string]Column{
			"user_id": {
				Type:      dataset.TypeString,
				Required:  true,
				MaxLength: 50,
				Default:   &DefaultRule{Kind: DefaultSequence, Value: "user"},
			},
			"age": {
				Type:     dataset.TypeInteger,
				Required: true,
				Min:      float64Ptr(0),
				Max:      float64Ptr(150),
				Default:  &DefaultRule{Kind: DefaultZero},
			},
			"sign_up_date": {
				Type:     dataset.TypeDate,
				Required: true,
				Default:  &DefaultRule{Kind: DefaultToday},
			},
			"is_active": {
				Type:     dataset.TypeBoolean,
				Required: true,
				Default:  &DefaultRule{Kind: DefaultTrue},
			},
		},
		ColumnOrder: []string{"user_id", "age", "sign_up_date", "is_active"},
		PrimaryKey:  "user_id",
		Table:       "users",
	}
}
