package content

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/citation"
)

const (
	maxLessonBodyRunes = 4000
	maxPreviewRunes    = 160
	truncatedSuffix    = "\n\n[... lesson content truncated ...]"
)

var (
	frontmatterPattern = regexp.MustCompile(`(?s)\A\s*---\r?\n(.*?)\r?\n---[ \t]*(?:\r?\n|\z)`)
	questionPattern    = regexp.MustCompile(`(?s)<Question>(.*?)</Question>`)
	solutionPattern    = regexp.MustCompile(`(?s)<Solution>(.*?)</Solution>`)
	rubricPattern      = regexp.MustCompile(`(?s)<Rubric[^>]*>(.*?)</Rubric>`)
	anchorPattern      = regexp.MustCompile(`(?s)<Anchor\s([^>]*)>(.*?)</Anchor>`)
	attributePattern   = regexp.MustCompile(`([A-Za-z_][\w-]*)="([^"]*)"`)
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
	fencePattern       = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\n?```$")
)

type frontmatter struct {
	Title          string `yaml:"title"`
	GradingContext string `yaml:"grading_context"`
}

// document is a lesson page split into frontmatter and MDX body.
type document struct {
	Meta frontmatter
	Body string
}

// parseDocument splits the frontmatter off a page. A frontmatter block that
// is not valid YAML is reported but the body is still returned.
func parseDocument(raw string) (document, error) {
	match := frontmatterPattern.FindStringSubmatchIndex(raw)
	if match == nil {
		return document{Body: raw}, nil
	}

	doc := document{Body: raw[match[1]:]}
	if err := yaml.Unmarshal([]byte(raw[match[2]:match[3]]), &doc.Meta); err != nil {
		return doc, fmt.Errorf("parse frontmatter: %w", err)
	}
	doc.Meta.Title = strings.TrimSpace(doc.Meta.Title)
	doc.Meta.GradingContext = strings.TrimSpace(doc.Meta.GradingContext)
	return doc, nil
}

type exerciseBlock struct {
	Question string
	Solution string
	Rubric   string
}

func exercisePattern(exerciseID string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<ExerciseBlock\s[^>]*\bid="` + regexp.QuoteMeta(exerciseID) + `"[^>]*>(.*?)</ExerciseBlock>`)
}

func extractExercise(body, exerciseID string) (exerciseBlock, bool) {
	match := exercisePattern(exerciseID).FindStringSubmatch(body)
	if match == nil {
		return exerciseBlock{}, false
	}
	inner := match[1]
	return exerciseBlock{
		Question: firstGroup(questionPattern, inner),
		Solution: firstGroup(solutionPattern, inner),
		Rubric:   firstGroup(rubricPattern, inner),
	}, true
}

func firstGroup(pattern *regexp.Regexp, text string) string {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

type rawCriterion struct {
	Criterion   string  `json:"criterion"`
	Points      float64 `json:"points"`
	Description string  `json:"description"`
}

// parseRubric decodes a rubric block. Both {"criteria": [...]} and a bare
// array are accepted. Entries without a name are named after their
// description so feedback can be matched against them.
func parseRubric(raw string) ([]ai.RubricCriterion, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if match := fencePattern.FindStringSubmatch(raw); match != nil {
		raw = strings.TrimSpace(match[1])
	}

	var entries []rawCriterion
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("decode rubric: %w", err)
		}
	} else {
		var wrapper struct {
			Criteria []rawCriterion `json:"criteria"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, fmt.Errorf("decode rubric: %w", err)
		}
		entries = wrapper.Criteria
	}

	rubric := make([]ai.RubricCriterion, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		name := strings.TrimSpace(entry.Criterion)
		description := strings.TrimSpace(entry.Description)
		if name == "" {
			name = description
		}
		if name == "" {
			name = fmt.Sprintf("Criterion %d", i+1)
		}
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s (%d)", name, n+1)
		}
		seen[name]++

		rubric = append(rubric, ai.RubricCriterion{
			Criterion:   name,
			Points:      int(math.Round(entry.Points)),
			Description: description,
		})
	}
	return rubric, nil
}

// extractAnchors lists the citation targets of a page in document order.
// Later duplicates of an id are dropped.
func extractAnchors(body string) []citation.Anchor {
	matches := anchorPattern.FindAllStringSubmatch(body, -1)
	anchors := make([]citation.Anchor, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		attrs := map[string]string{}
		for _, attr := range attributePattern.FindAllStringSubmatch(match[1], -1) {
			attrs[attr[1]] = attr[2]
		}
		id := strings.TrimSpace(attrs["id"])
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		anchors = append(anchors, citation.Anchor{
			ID:      id,
			Label:   strings.TrimSpace(attrs["label"]),
			Type:    strings.TrimSpace(attrs["type"]),
			Preview: preview(match[2]),
		})
	}
	return anchors
}

func preview(inner string) string {
	text := strings.Join(strings.Fields(tagPattern.ReplaceAllString(inner, " ")), " ")
	return truncateRunes(text, maxPreviewRunes, "...")
}

// lessonBody drops MDX import lines and caps the body for prompt use.
func lessonBody(body string) string {
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "import ") {
			continue
		}
		kept = append(kept, line)
	}
	return truncateRunes(strings.TrimSpace(strings.Join(kept, "\n")), maxLessonBodyRunes, truncatedSuffix)
}

func truncateRunes(text string, limit int, suffix string) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	count := 0
	for idx := range text {
		if count == limit {
			return text[:idx] + suffix
		}
		count++
	}
	return text
}
