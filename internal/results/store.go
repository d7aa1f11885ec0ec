// Package results accumulates named scalar results per target during a run
// and exports them as a simple table once the run is over.
//
// The store is owned by the scheduler: collaborators write through the
// scheduler's Store/Fetch API, which keys entries by the current target.
// Values are float64 or string; fitted quantities (Psat, g2min, ODMR
// centre frequency) are floats, everything else is free text.
package results

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Untargeted is the synthetic key for runs with an empty target list.
const Untargeted = ""

// MissingResultError reports a Fetch of an absent (target, name) pair.
type MissingResultError struct {
	Target string
	Name   string
}

// Error implements the error interface.
func (e *MissingResultError) Error() string {
	if e.Target == Untargeted {
		return fmt.Sprintf("no result %q stored for untargeted run", e.Name)
	}
	return fmt.Sprintf("no result %q stored for target %q", e.Name, e.Target)
}

// IsMissingResult returns true if the error is a MissingResultError.
// Uses errors.As to handle wrapped errors.
func IsMissingResult(err error) bool {
	var me *MissingResultError
	return errors.As(err, &me)
}

// Store maps target → result name → scalar value. Target maps are created
// lazily on first write and survive until Clear.
//
// Store performs no locking: the scheduler is the single writer, and it
// serializes all access (see the engine's concurrency notes).
type Store struct {
	byTarget map[string]map[string]any
}

// NewStore creates an empty result store.
func NewStore() *Store {
	return &Store{byTarget: make(map[string]map[string]any)}
}

// canonicalKey NFC-normalizes a target key. Target names arrive from
// free-form GUI text, where "the same" POI name can be composed
// differently; normalizing keeps stores and fetches for one point of
// interest in one map.
func canonicalKey(target string) string {
	return norm.NFC.String(target)
}

// Store upserts value under (target, name). The target's result map is
// created on first store. Value should be a float64 or a string.
func (s *Store) Store(target, name string, value any) {
	key := canonicalKey(target)
	m, ok := s.byTarget[key]
	if !ok {
		m = make(map[string]any)
		s.byTarget[key] = m
	}
	m[name] = value
}

// Fetch returns the value stored under (target, name), or a
// MissingResultError if either the target or the name is absent.
func (s *Store) Fetch(target, name string) (any, error) {
	m, ok := s.byTarget[canonicalKey(target)]
	if !ok {
		return nil, &MissingResultError{Target: target, Name: name}
	}
	v, ok := m[name]
	if !ok {
		return nil, &MissingResultError{Target: target, Name: name}
	}
	return v, nil
}

// Has reports whether a value is stored under (target, name).
func (s *Store) Has(target, name string) bool {
	_, err := s.Fetch(target, name)
	return err == nil
}

// Targets returns the targets that have at least one stored result,
// sorted for deterministic iteration.
func (s *Store) Targets() []string {
	keys := make([]string, 0, len(s.byTarget))
	for k := range s.byTarget {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear discards all stored results.
func (s *Store) Clear() {
	s.byTarget = make(map[string]map[string]any)
}
