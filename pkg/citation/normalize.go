package citation

import (
	"regexp"
	"strings"
)

// candidatePattern matches a citation candidate together with the single
// space and fused word that may precede it.
//
// Groups: 1 = leading space, 2 = fused word, 3 = raw id.
var candidatePattern = regexp.MustCompile(`(?i)( ?)([\p{L}\p{N}_]*)\[?ref[-:]([\p{L}\p{N}_-]+)\]?`)

const repairPrefix = "ref-"

// Anchor is one citation target offered to the model for a single hint request.
type Anchor struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Preview string `json:"preview"`
}

// IDSet is the set of citation ids that are valid for one stream.
type IDSet map[string]struct{}

// NewIDSet builds an IDSet from the given ids, ignoring blanks.
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// IDSetFromAnchors collects the ids of an anchor map.
func IDSetFromAnchors(anchors []Anchor) IDSet {
	ids := make([]string, 0, len(anchors))
	for _, anchor := range anchors {
		ids = append(ids, anchor.ID)
	}
	return NewIDSet(ids...)
}

// Contains reports whether id is a member of the set.
func (s IDSet) Contains(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s[id]
	return ok
}

// Resolve maps a raw candidate id onto a valid id. The second return value is
// false when the id is not recognised.
func (s IDSet) Resolve(raw string) (string, bool) {
	if s.Contains(raw) {
		return raw, true
	}
	if s.Contains(repairPrefix + raw) {
		return repairPrefix + raw, true
	}
	return "", false
}

// Normalize rewrites every citation candidate in text into the canonical
// [ref:ID] form, repairing a missing "ref-" prefix and deleting markers whose
// id is not in valid. A fused word in front of a candidate is always kept.
// A deleted marker with nothing fused to it also takes one preceding space
// with it so that "is [ref:x] done" becomes "is done".
func Normalize(text string, valid IDSet) string {
	matches := candidatePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		last = m[1]

		lead := text[m[2]:m[3]]
		fused := text[m[4]:m[5]]
		raw := text[m[6]:m[7]]

		id, ok := valid.Resolve(raw)
		switch {
		case ok:
			b.WriteString(lead)
			b.WriteString(fused)
			b.WriteString(Marker(id))
		case fused != "":
			b.WriteString(lead)
			b.WriteString(fused)
		}
	}
	b.WriteString(text[last:])

	return b.String()
}

// Marker renders the canonical marker for id.
func Marker(id string) string {
	return "[ref:" + id + "]"
}
