// Package resolver turns symbolic UI-element references into screen
// coordinates using cached snapshots.
package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// AnchorLatest selects the most recent snapshot instead of a fixed one.
const AnchorLatest = "latest"

// Reference is the parsed form of a symbolic element reference
// "<anchor>:<elementType>:<elementName>". References are parsed once at the
// boundary rather than re-split at each use site.
type Reference struct {
	// SequenceID is the anchored snapshot id; 0 means the latest snapshot.
	SequenceID  int
	ElementType string
	ElementName string
}

// IsLatest reports whether the reference is anchored to the latest snapshot.
func (r Reference) IsLatest() bool { return r.SequenceID == 0 }

// String renders the reference back to its wire form.
func (r Reference) String() string {
	anchor := AnchorLatest
	if !r.IsLatest() {
		anchor = strconv.Itoa(r.SequenceID)
	}
	return fmt.Sprintf("%s:%s:%s", anchor, r.ElementType, r.ElementName)
}

// ParseReference parses a symbolic reference string. The element name may
// itself contain colons; only the first two separators are structural.
func ParseReference(s string) (Reference, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Reference{}, false
	}

	ref := Reference{ElementType: parts[1], ElementName: parts[2]}
	if parts[0] == AnchorLatest {
		return ref, true
	}
	seq, err := strconv.Atoi(parts[0])
	if err != nil || seq < 1 {
		return Reference{}, false
	}
	ref.SequenceID = seq
	return ref, true
}
