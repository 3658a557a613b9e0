package citation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCandidateForms(t *testing.T) {
	valid := NewIDSet("ref-eq-1", "ref-p-1")

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "well formed", input: "see [ref:ref-eq-1].", want: "see [ref:ref-eq-1]."},
		{name: "missing ref prefix", input: "see [ref:eq-1].", want: "see [ref:ref-eq-1]."},
		{name: "missing colon", input: "see [ref-eq-1].", want: "see [ref:ref-eq-1]."},
		{name: "missing open bracket", input: "see ref-eq-1].", want: "see [ref:ref-eq-1]."},
		{name: "fused word", input: "wordX[ref:ref-p-1] next", want: "wordX[ref:ref-p-1] next"},
		{name: "upper case", input: "see [REF:eq-1]", want: "see [ref:ref-eq-1]"},
		{name: "fused prefix area", input: "The area is[ref:eq-1] squared", want: "The area is[ref:ref-eq-1] squared"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.input, valid))
		})
	}
}

func TestNormalizeRemovesHallucinatedMarkers(t *testing.T) {
	valid := NewIDSet("ref-eq-1")

	require.Equal(t, "The value is done", Normalize("The value is [ref:ref-x9] done", valid))
	require.Equal(t, "wordX tail", Normalize("wordX[ref:nope] tail", valid))
	require.Equal(t, "end.", Normalize("end[ref-ghost].", valid))
	require.Equal(t, "", Normalize("[ref:ghost]", valid))
}

func TestNormalizeLeavesPlainTextAlone(t *testing.T) {
	valid := NewIDSet("ref-eq-1")
	inputs := []string{
		"",
		"no markers at all",
		"a [bracket] and ref: with no id",
		"preference reflects refinement",
	}
	for _, input := range inputs {
		require.Equal(t, input, Normalize(input, valid))
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	valid := streamIDs()
	for _, input := range streamCorpus {
		once := Normalize(input, valid)
		require.Equal(t, once, Normalize(once, valid), "input %q", input)
	}
}

func TestNormalizeSplicedDeletionIsNotIdempotent(t *testing.T) {
	once := Normalize("ref[ref:e]-e", nil)
	require.Equal(t, "ref-e", once)
	require.Equal(t, "", Normalize(once, nil))
}

func TestNormalizeWithEmptySet(t *testing.T) {
	require.Equal(t, "x y", Normalize("x [ref:a] y", nil))
}

func TestIDSetFromAnchors(t *testing.T) {
	set := IDSetFromAnchors([]Anchor{
		{ID: "ref-eq-1", Type: "equation", Label: "Area", Preview: "A = r^2"},
		{ID: " ", Type: "note"},
		{ID: "ref-fig-2", Type: "figure"},
	})

	require.Len(t, set, 2)
	require.True(t, set.Contains("ref-eq-1"))

	id, ok := set.Resolve("fig-2")
	require.True(t, ok)
	require.Equal(t, "ref-fig-2", id)

	_, ok = set.Resolve("fig-3")
	require.False(t, ok)
}
