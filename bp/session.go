package bp

import (
	"github.com/arloliu/bpio/internal/dedup"
	"github.com/arloliu/bpio/internal/hash"
)

// Session is the state a Serializer keeps for the lifetime of one output:
// the member id of every variable and attribute, and the attributes already
// emitted.
//
// Attributes are written once, in the first process group after their
// definition. A later definition with the same value is skipped; one with a
// different value fails with ErrAttributeExists.
type Session struct {
	members    map[string]uint32
	attributes *dedup.Tracker
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		members:    make(map[string]uint32),
		attributes: dedup.NewTracker(),
	}
}

// MemberID returns the id of name, assigning the next free id on first use.
func (s *Session) MemberID(name string) uint32 {
	if id, ok := s.members[name]; ok {
		return id
	}
	id := uint32(len(s.members)) //nolint:gosec
	s.members[name] = id

	return id
}

// TrackAttribute registers an attribute and its encoded entry.
//
// Returns:
//   - bool: true when the attribute must be written
//   - error: ErrAttributeExists when name was written with another value
func (s *Session) TrackAttribute(name string, encoded []byte) (bool, error) {
	return s.attributes.Track(name, hash.Fingerprint(name, encoded))
}

// CheckAttribute reports what TrackAttribute would return without recording
// the attribute.
func (s *Session) CheckAttribute(name string, encoded []byte) (bool, error) {
	return s.attributes.Check(name, hash.Fingerprint(name, encoded))
}

// SerializedAttributes returns the emitted attribute names in emission order.
func (s *Session) SerializedAttributes() []string {
	return s.attributes.Names()
}

// Reset forgets every member id and emitted attribute.
func (s *Session) Reset() {
	clear(s.members)
	s.attributes.Reset()
}
