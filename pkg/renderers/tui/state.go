package tui

import (
	"maps"
	"reflect"
	"slices"
	"sort"

	"github.com/goliatone/go-taskforms/pkg/asyncvalidation"
)

// State tracks collected values and the feedback of the last submit attempt,
// keyed by field binding.
type State struct {
	values   map[string]any
	errors   map[string]string
	warnings map[string]string
}

// NewState seeds the state with prefilled values.
func NewState(prefill map[string]any) *State {
	values := make(map[string]any, len(prefill))
	for k, v := range prefill {
		values[k] = deepCopy(v)
	}
	return &State{
		values:   values,
		errors:   make(map[string]string),
		warnings: make(map[string]string),
	}
}

// Values returns a copy of the collected values.
func (s *State) Values() map[string]any {
	if s == nil {
		return nil
	}
	return maps.Clone(s.values)
}

// Value returns the collected value for key.
func (s *State) Value(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// SetValue stores value for key and reports whether it changed.
func (s *State) SetValue(key string, value any) bool {
	previous, had := s.values[key]
	s.values[key] = value
	return !had || !equalValues(previous, value)
}

// ErrorFor returns the error attached to key by the last attempt.
func (s *State) ErrorFor(key string) string {
	if s == nil {
		return ""
	}
	return s.errors[key]
}

// Apply replaces the feedback with the results of outcome.
func (s *State) Apply(outcome asyncvalidation.Outcome) {
	s.errors = maps.Clone(outcome.FieldErrors)
	s.warnings = maps.Clone(outcome.FieldWarnings)
	if s.errors == nil {
		s.errors = make(map[string]string)
	}
	if s.warnings == nil {
		s.warnings = make(map[string]string)
	}
}

// Blocked returns the keys with errors in sorted order.
func (s *State) Blocked() []string {
	keys := slices.Collect(maps.Keys(s.errors))
	sort.Strings(keys)
	return keys
}

// Warnings returns the keys with warnings in sorted order.
func (s *State) Warnings() []string {
	keys := slices.Collect(maps.Keys(s.warnings))
	sort.Strings(keys)
	return keys
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
