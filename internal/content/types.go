package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/citation"
)

var (
	// ErrInvalidLessonID is returned when a lesson id is blank, escapes the
	// notes tree or lacks the "#exercise" suffix an exercise lookup needs.
	ErrInvalidLessonID = errors.New("invalid lesson id")
	// ErrExerciseNotFound is returned when the page has no matching ExerciseBlock.
	ErrExerciseNotFound = errors.New("exercise not found")
	// ErrContentUnavailable wraps any failure to load the page itself.
	ErrContentUnavailable = errors.New("lesson content unavailable")
)

// Exercise is everything the grader needs about one exercise.
type Exercise struct {
	LessonID          string
	ExerciseID        string
	Title             string
	GradingContext    string
	Question          string
	ReferenceSolution string
	Rubric            []ai.RubricCriterion
}

// Lesson is the prompt-sized view of a lesson page used for hints.
type Lesson struct {
	LessonID       string
	Title          string
	GradingContext string
	Body           string
	Anchors        []citation.Anchor
}

// Provider loads lesson material.
type Provider interface {
	FetchExercise(ctx context.Context, lessonID string) (Exercise, error)
	FetchLesson(ctx context.Context, lessonID string) (Lesson, error)
}

// ParseLessonID splits "page#exercise" at the last '#', so the page part may
// itself contain '#'.
func ParseLessonID(lessonID string) (page, exercise string, err error) {
	lessonID = strings.TrimSpace(lessonID)
	page, exercise, found := splitLessonID(lessonID)
	if !found || exercise == "" {
		return "", "", fmt.Errorf("%w: %q must look like page#exercise", ErrInvalidLessonID, lessonID)
	}
	page, err = cleanPage(page, lessonID)
	if err != nil {
		return "", "", err
	}
	return page, exercise, nil
}

// PageOf returns the page part of a lesson id. The exercise suffix is optional.
func PageOf(lessonID string) (string, error) {
	page, _, _ := splitLessonID(strings.TrimSpace(lessonID))
	return cleanPage(page, lessonID)
}

func splitLessonID(lessonID string) (page, exercise string, found bool) {
	i := strings.LastIndex(lessonID, "#")
	if i < 0 {
		return lessonID, "", false
	}
	return lessonID[:i], lessonID[i+1:], true
}

func cleanPage(page, lessonID string) (string, error) {
	page = strings.Trim(strings.TrimSpace(page), "/")
	if page == "" || strings.Contains(page, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidLessonID, lessonID)
	}
	return page, nil
}

// DocumentPath is the repository path of a lesson page.
func DocumentPath(page string) string {
	return "note/" + page + "/index.mdx"
}
