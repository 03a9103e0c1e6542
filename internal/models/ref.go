package models

import "regexp"

// RefKind identifies which lookup endpoint resolves a reference token.
type RefKind string

// Reference kinds embedded in campaign documents.
const (
	RefGeo           RefKind = "geo"
	RefSegment       RefKind = "adSegment"
	RefCampaignGroup RefKind = "sponsoredCampaignGroup"
)

// Ref is a typed opaque identifier found in snapshot fields.
type Ref struct {
	Kind RefKind
	ID   string
}

// Token renders the ref back into its wire form.
func (r Ref) Token() string {
	return "urn:li:" + string(r.Kind) + ":" + r.ID
}

var refPattern = regexp.MustCompile(`^urn:li:([A-Za-z][A-Za-z0-9]*):([A-Za-z0-9._()-]+)$`)

// ParseRef reports whether s is a reference token and, if so, its parts.
// The whole string must be a token; tokens embedded in longer text are not
// extracted.
func ParseRef(s string) (Ref, bool) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return Ref{}, false
	}
	return Ref{Kind: RefKind(m[1]), ID: m[2]}, true
}

// RefSet is a deduplicated collection of reference tokens.
type RefSet map[Ref]struct{}

// Add inserts r into the set.
func (s RefSet) Add(r Ref) {
	s[r] = struct{}{}
}

// Merge inserts every ref from other into the set.
func (s RefSet) Merge(other RefSet) {
	for r := range other {
		s[r] = struct{}{}
	}
}
