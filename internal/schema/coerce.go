package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/conveyor-io/conveyor/internal/dataset"
)

// ActionKind names an evolution-report action.
type ActionKind string

// Evolution report action kinds.
const (
	ActionAddedDefault   ActionKind = "added_default"
	ActionCoerced        ActionKind = "coerced"
	ActionAddedColumn    ActionKind = "added_column"
	ActionSkippedRemoval ActionKind = "skipped_removal"
)

// Action is one entry of a run's evolution report. Every substitution,
// coercion, applied DDL statement, and skipped removal is recorded here;
// remediation is never silent.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Column string     `json:"column"`
	Detail string     `json:"detail"`
	Rows   int        `json:"rows,omitempty"`
}

// CoercionPair identifies one directed type conversion.
type CoercionPair struct {
	From dataset.Type
	To   dataset.Type
}

func (p CoercionPair) String() string {
	return fmt.Sprintf("%s->%s", p.From, p.To)
}

// CoercionPolicy is the explicit set of type mismatches the pipeline may
// repair in-memory. Mismatches outside the set leave values unchanged (and the
// report says so); a primary-key type change is never coercible.
type CoercionPolicy struct {
	allowed map[CoercionPair]struct{}
}

// DefaultCoercionPolicy allows the narrow, well-defined conversions: parsing
// strings into the scalar types, numeric widening/narrowing, and rendering
// anything back to string.
func DefaultCoercionPolicy() CoercionPolicy {
	pairs := []CoercionPair{
		{From: dataset.TypeString, To: dataset.TypeInteger},
		{From: dataset.TypeString, To: dataset.TypeFloat},
		{From: dataset.TypeString, To: dataset.TypeBoolean},
		{From: dataset.TypeString, To: dataset.TypeDate},
		{From: dataset.TypeInteger, To: dataset.TypeFloat},
		{From: dataset.TypeInteger, To: dataset.TypeBoolean},
		{From: dataset.TypeFloat, To: dataset.TypeInteger},
		{From: dataset.TypeInteger, To: dataset.TypeString},
		{From: dataset.TypeFloat, To: dataset.TypeString},
		{From: dataset.TypeBoolean, To: dataset.TypeString},
		{From: dataset.TypeDate, To: dataset.TypeString},
	}

	return newCoercionPolicy(pairs)
}

// ParseCoercionPolicy builds a policy from "from->to" pair strings, as read
// from configuration.
func ParseCoercionPolicy(specs []string) (CoercionPolicy, error) {
	pairs := make([]CoercionPair, 0, len(specs))

	for _, spec := range specs {
		from, to, ok := strings.Cut(strings.TrimSpace(spec), "->")
		if !ok {
			return CoercionPolicy{}, fmt.Errorf("invalid coercion pair %q, want \"from->to\"", spec)
		}

		pairs = append(pairs, CoercionPair{
			From: dataset.Type(strings.TrimSpace(from)),
			To:   dataset.Type(strings.TrimSpace(to)),
		})
	}

	return newCoercionPolicy(pairs), nil
}

func newCoercionPolicy(pairs []CoercionPair) CoercionPolicy {
	allowed := make(map[CoercionPair]struct{}, len(pairs))
	for _, pair := range pairs {
		allowed[pair] = struct{}{}
	}

	return CoercionPolicy{allowed: allowed}
}

// Allows reports whether the policy permits converting from → to.
func (p CoercionPolicy) Allows(from, to dataset.Type) bool {
	_, ok := p.allowed[CoercionPair{From: from, To: to}]

	return ok
}

// Pairs returns the allowed pairs in deterministic order.
func (p CoercionPolicy) Pairs() []string {
	pairs := make([]string, 0, len(p.allowed))
	for pair := range p.allowed {
		pairs = append(pairs, pair.String())
	}

	sort.Strings(pairs)

	return pairs
}

// synthesizeColumn adds a missing required column to the dataset, filled per
// its registered default rule. Callers have already checked a rule exists.
func synthesizeColumn(ds *dataset.Dataset, name string, col Column, now time.Time) (Action, error) {
	rule := *col.Default

	var fill func(index int) any

	switch rule.Kind {
	case DefaultSequence:
		prefix := rule.Value
		if prefix == "" {
			prefix = name
		}

		fill = func(index int) any { return fmt.Sprintf("%s_%06d", prefix, index+1) }
	case DefaultZero:
		var zero any = int64(0)
		if col.Type == dataset.TypeFloat {
			zero = float64(0)
		}

		fill = func(int) any { return zero }
	case DefaultTrue:
		fill = func(int) any { return true }
	case DefaultToday:
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		fill = func(int) any { return today }
	case DefaultConst:
		value := constValue(rule.Value, col.Type)
		fill = func(int) any { return value }
	default:
		return Action{}, fmt.Errorf("unknown default rule %q for column %q", rule.Kind, name)
	}

	if err := ds.AddColumn(name, fill); err != nil {
		return Action{}, err
	}

	return Action{
		Kind:   ActionAddedDefault,
		Column: name,
		Detail: fmt.Sprintf("synthesized required column %q with default rule %s", name, rule.Kind),
		Rows:   ds.RowCount(),
	}, nil
}

// ConformColumn converts the column's values to the registered type in place.
// Remediation applies it to policy-allowed type mismatches; the transform
// stage applies it to every registered column as the final gate before load.
//
// string→integer failures map to the sentinel 0; every other failed conversion
// leaves the value unchanged. Returns converted and failed counts.
func ConformColumn(ds *dataset.Dataset, name string, to dataset.Type) (converted, failed int) {
	for _, row := range ds.Rows {
		value := row[name]
		if dataset.IsNull(value) {
			continue
		}

		if alreadyTyped(value, to) {
			continue
		}

		coerced, ok := CoerceValue(value, to)
		if ok {
			row[name] = coerced
			converted++

			continue
		}

		failed++

		if to == dataset.TypeInteger {
			// Sentinel, mirroring numeric-parse-with-fallback semantics.
			row[name] = int64(0)
		}
	}

	return converted, failed
}

// alreadyTyped reports whether the value's concrete Go type already matches
// the target. Sniffed classification is not enough here: a string "34" infers
// as integer but still needs the actual conversion.
func alreadyTyped(value any, to dataset.Type) bool {
	switch to {
	case dataset.TypeInteger:
		switch value.(type) {
		case int, int32, int64:
			return true
		}
	case dataset.TypeFloat:
		switch value.(type) {
		case float32, float64:
			return true
		}
	case dataset.TypeBoolean:
		_, ok := value.(bool)

		return ok
	case dataset.TypeDate:
		_, ok := value.(time.Time)

		return ok
	case dataset.TypeString:
		_, ok := value.(string)

		return ok
	}

	return false
}

// CoerceValue converts one cell value to the target type.
func CoerceValue(value any, to dataset.Type) (any, bool) {
	switch to {
	case dataset.TypeInteger:
		return toInteger(value)
	case dataset.TypeFloat:
		return toFloat(value)
	case dataset.TypeBoolean:
		if b, ok := dataset.ParseBool(value); ok {
			return b, true
		}

		return nil, false
	case dataset.TypeDate:
		switch v := value.(type) {
		case time.Time:
			return v, true
		case string:
			if t, ok := dataset.ParseDate(v); ok {
				return t, true
			}
		}

		return nil, false
	case dataset.TypeString:
		return toString(value), true
	default:
		return nil, false
	}
}

func toInteger(value any) (any, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return int64(1), true
		}

		return int64(0), true
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}

		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}

	return nil, false
}

func toFloat(value any) (any, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}

	return nil, false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func constValue(raw string, to dataset.Type) any {
	if coerced, ok := CoerceValue(raw, to); ok {
		return coerced
	}

	return raw
}
