package content

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestParseLessonID(t *testing.T) {
	page, exercise, err := ParseLessonID("prml/1-exercise#ex-3")
	require.NoError(t, err)
	require.Equal(t, "prml/1-exercise", page)
	require.Equal(t, "ex-3", exercise)

	page, exercise, err = ParseLessonID("algo/v2#draft#ex-1")
	require.NoError(t, err)
	require.Equal(t, "algo/v2#draft", page)
	require.Equal(t, "ex-1", exercise)

	for _, invalid := range []string{"", "prml", "#ex", "prml#", "  ", "a#b#", "../x#ex"} {
		_, _, err := ParseLessonID(invalid)
		require.ErrorIs(t, err, ErrInvalidLessonID, invalid)
	}
}

func TestPageOfUsesLastHash(t *testing.T) {
	page, err := PageOf("algo/v2#draft#ex-1")
	require.NoError(t, err)
	require.Equal(t, "algo/v2#draft", page)

	page, err = PageOf("algo/sorting")
	require.NoError(t, err)
	require.Equal(t, "algo/sorting", page)
}

func TestParseRubricVariants(t *testing.T) {
	rubric, err := parseRubric("[{\"criterion\":\"A\",\"points\":2.6},{\"criterion\":\"A\",\"points\":1}]")
	require.NoError(t, err)
	require.Len(t, rubric, 2)
	require.Equal(t, 3, rubric[0].Points)
	require.Equal(t, "A", rubric[0].Criterion)
	require.Equal(t, "A (2)", rubric[1].Criterion)

	rubric, err = parseRubric("```\n{\"criteria\":[{\"points\":5}]}\n```")
	require.NoError(t, err)
	require.Equal(t, "Criterion 1", rubric[0].Criterion)

	rubric, err = parseRubric("   ")
	require.NoError(t, err)
	require.Nil(t, rubric)

	_, err = parseRubric("{criteria: nope}")
	require.Error(t, err)
}

func TestParseDocumentWithoutOrBrokenFrontmatter(t *testing.T) {
	doc, err := parseDocument("# Heading\nbody")
	require.NoError(t, err)
	require.Empty(t, doc.Meta.Title)
	require.Equal(t, "# Heading\nbody", doc.Body)

	doc, err = parseDocument("---\ntitle: [unclosed\n---\nbody")
	require.Error(t, err)
	require.Equal(t, "body", doc.Body)
}

func TestLessonBodyTruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("ắ", maxLessonBodyRunes+10)
	out := lessonBody(body)
	require.True(t, utf8.ValidString(out))
	require.True(t, strings.HasSuffix(out, truncatedSuffix))
	require.Equal(t, maxLessonBodyRunes, utf8.RuneCountInString(strings.TrimSuffix(out, truncatedSuffix)))

	short := lessonBody("import x from 'y'\nhello")
	require.Equal(t, "hello", short)
}

func TestExtractAnchorsSkipsMissingAndDuplicateIDs(t *testing.T) {
	anchors := extractAnchors(`<Anchor type="x">no id</Anchor><Anchor id="a" label="A">one</Anchor><Anchor id="a">two</Anchor>`)
	require.Len(t, anchors, 1)
	require.Equal(t, "one", anchors[0].Preview)
}
