// Package dedup tracks names that have already been emitted together with a
// fingerprint of their value, so repeated identical definitions are skipped
// and conflicting ones are reported.
package dedup

import (
	"fmt"

	"github.com/arloliu/bpio/errs"
)

// Tracker records emitted names and the fingerprint of the value each was
// emitted with. The zero value is not usable; call NewTracker.
//
// Tracker is not safe for concurrent use. Each serialization session owns
// its own tracker.
type Tracker struct {
	fingerprints map[string]uint64
	names        []string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		fingerprints: make(map[string]uint64),
		names:        make([]string, 0),
	}
}

// Track registers name with fingerprint fp.
//
// Returns:
//   - bool: true when name was not seen before and must be emitted
//   - error: ErrInvalidName for empty names, ErrAttributeExists when name was
//     already emitted with a different fingerprint
func (t *Tracker) Track(name string, fp uint64) (bool, error) {
	if name == "" {
		return false, errs.ErrInvalidName
	}

	if existing, ok := t.fingerprints[name]; ok {
		if existing != fp {
			return false, fmt.Errorf("%w: %s", errs.ErrAttributeExists, name)
		}

		return false, nil
	}

	t.fingerprints[name] = fp
	t.names = append(t.names, name)

	return true, nil
}

// Check reports what Track would return for name and fp without recording
// anything.
func (t *Tracker) Check(name string, fp uint64) (bool, error) {
	if name == "" {
		return false, errs.ErrInvalidName
	}
	if existing, ok := t.fingerprints[name]; ok {
		if existing != fp {
			return false, fmt.Errorf("%w: %s", errs.ErrAttributeExists, name)
		}

		return false, nil
	}

	return true, nil
}

// Seen reports whether name was tracked.
func (t *Tracker) Seen(name string) bool {
	_, ok := t.fingerprints[name]
	return ok
}

// Names returns tracked names in the order they were first seen.
func (t *Tracker) Names() []string {
	return t.names
}

// Count returns the number of tracked names.
func (t *Tracker) Count() int {
	return len(t.names)
}

// Reset clears the tracker, keeping allocated capacity.
func (t *Tracker) Reset() {
	clear(t.fingerprints)
	t.names = t.names[:0]
}
