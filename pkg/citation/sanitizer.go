package citation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMaxPending bounds how many bytes a Sanitizer may withhold while
// waiting for a candidate to terminate.
const DefaultMaxPending = 1024

// danglingMarker matches output that ends partway through a canonical
// marker. Deletions can splice one together from surrounding text.
var danglingMarker = regexp.MustCompile(`\[(?:r(?:e(?:f(?::[^\]\s]*)?)?)?)?$`)

var bufferOverflows = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gema",
	Subsystem: "citation",
	Name:      "buffer_overflows_total",
	Help:      "Number of times a streaming sanitizer force-flushed an oversized pending buffer",
})

// Option customises a Sanitizer.
type Option func(*Sanitizer)

// WithMaxPending overrides the pending buffer bound. Values <= 0 keep the default.
func WithMaxPending(n int) Option {
	return func(s *Sanitizer) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

// Sanitizer normalises citation markers in a token stream. Output never
// contains a partial marker and, for any chunking of the same input, the
// concatenated output equals Normalize over the whole input.
//
// A Sanitizer belongs to one stream and is not safe for concurrent use.
type Sanitizer struct {
	valid      IDSet
	buf        strings.Builder
	maxPending int
	overflows  int
}

// NewSanitizer creates a stream sanitizer bound to the given valid ids.
func NewSanitizer(valid IDSet, opts ...Option) *Sanitizer {
	s := &Sanitizer{
		valid:      valid,
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed appends chunk to the stream and returns the text that is safe to emit.
func (s *Sanitizer) Feed(chunk string) string {
	if chunk == "" {
		return ""
	}
	s.buf.WriteString(chunk)
	text := s.buf.String()

	cuts := safeCuts(text)
	cut, out := 0, ""
	for i := len(cuts) - 1; i > 0; i-- {
		normalized := Normalize(text[:cuts[i]], s.valid)
		if !danglingMarker.MatchString(normalized) {
			cut, out = cuts[i], normalized
			break
		}
	}

	if len(text)-cut > s.maxPending {
		s.overflows++
		bufferOverflows.Inc()
		return s.Flush()
	}

	s.buf.Reset()
	s.buf.WriteString(text[cut:])
	return out
}

// Flush emits everything still buffered, complete or not, and resets the stream.
func (s *Sanitizer) Flush() string {
	text := s.buf.String()
	s.buf.Reset()
	if text == "" {
		return ""
	}
	return Normalize(text, s.valid)
}

// Pending returns the number of bytes currently withheld.
func (s *Sanitizer) Pending() int {
	return s.buf.Len()
}

// Overflows returns how many times the pending bound forced a flush.
func (s *Sanitizer) Overflows() int {
	return s.overflows
}

// safeCuts returns, in ascending order and starting with 0, the offsets at
// which text may be split without changing what Normalize produces.
//
// No candidate spans the point just before a space, after ']' or after a
// rune outside the candidate alphabet, so text up to such a point
// normalizes the same whatever follows. A trailing plain word may be cut
// after too unless it ends in a prefix of "ref": a later candidate can only
// fuse onto it, and fused words are kept verbatim.
func safeCuts(text string) []int {
	limit := len(text)
	if i := incompleteRuneStart(text); i >= 0 {
		limit = i
	}

	cuts := []int{0}
	mark := func(at int) {
		if at > cuts[len(cuts)-1] {
			cuts = append(cuts, at)
		}
	}
	for i := 0; i < limit; {
		r, size := utf8.DecodeRuneInString(text[i:limit])
		switch {
		case r == ' ':
			mark(i)
		case r == ']' || !inCandidateAlphabet(r):
			mark(i + size)
		}
		i += size
	}

	last := cuts[len(cuts)-1]
	if releasableWord(strings.TrimPrefix(text[last:limit], " ")) {
		mark(limit)
	}
	return cuts
}

// inCandidateAlphabet reports whether r may appear inside a candidate.
func inCandidateAlphabet(r rune) bool {
	switch r {
	case '[', ']', '-', ':', '_', ' ':
		return true
	}
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

func releasableWord(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	for _, head := range []string{"ref", "re", "r"} {
		if len(word) >= len(head) && strings.EqualFold(word[len(word)-len(head):], head) {
			return false
		}
	}
	return true
}

func incompleteRuneStart(text string) int {
	for i := len(text) - 1; i >= 0 && i >= len(text)-utf8.UTFMax; i-- {
		if utf8.RuneStart(text[i]) {
			if !utf8.FullRuneInString(text[i:]) {
				return i
			}
			return -1
		}
	}
	return -1
}
