package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/content"
	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/citation"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupSubmissionRepo(t *testing.T) repository.SubmissionRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Submission{}))
	return repository.NewSubmissionRepository(db)
}

func loadSubmission(t *testing.T, repo repository.SubmissionRepository, id string) models.Submission {
	t.Helper()
	stored, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return stored
}

func statusOf(repo repository.SubmissionRepository, id string) string {
	stored, err := repo.GetByID(context.Background(), id)
	if err != nil {
		return ""
	}
	return stored.Status
}

func seedPending(t *testing.T, repo repository.SubmissionRepository, lessonID string) models.Submission {
	t.Helper()
	submission := models.Submission{
		UserID:      "student-1",
		LessonID:    lessonID,
		Content:     "Insertion sort is O(n^2) in the worst case.",
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), &submission))
	return submission
}

type stubExercises struct {
	exercise content.Exercise
	lesson   content.Lesson
	err      error
	calls    int
}

func (s *stubExercises) FetchExercise(_ context.Context, lessonID string) (content.Exercise, error) {
	s.calls++
	if s.err != nil {
		return content.Exercise{}, s.err
	}
	exercise := s.exercise
	exercise.LessonID = lessonID
	return exercise, nil
}

func (s *stubExercises) FetchLesson(_ context.Context, lessonID string) (content.Lesson, error) {
	s.calls++
	if s.err != nil {
		return content.Lesson{}, s.err
	}
	lesson := s.lesson
	lesson.LessonID = lessonID
	return lesson, nil
}

type stubGrader struct {
	mu       sync.Mutex
	grade    func(ctx context.Context, req ai.GradeRequest, maxRetries int) (ai.GradingResult, error)
	requests []ai.GradeRequest
	retries  []int
}

func (s *stubGrader) Grade(ctx context.Context, req ai.GradeRequest, maxRetries int) (ai.GradingResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.retries = append(s.retries, maxRetries)
	s.mu.Unlock()
	return s.grade(ctx, req, maxRetries)
}

func (s *stubGrader) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []dto.GradingEvent
}

func (r *recordingEvents) Publish(_ context.Context, event dto.GradingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) all() []dto.GradingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dto.GradingEvent(nil), r.events...)
}

func sortingExercise() content.Exercise {
	return content.Exercise{
		Title:             "Sorting basics",
		GradingContext:    "Intro algorithms",
		Question:          "What is the worst case of insertion sort?",
		ReferenceSolution: "O(n^2)",
		Rubric: []ai.RubricCriterion{
			{Criterion: "Bound", Points: 60, Description: "States O(n^2)"},
			{Criterion: "Reasoning", Points: 40, Description: "Explains why"},
		},
	}
}

func sortingLesson() content.Lesson {
	return content.Lesson{
		Title: "Sorting basics",
		Body:  "Insertion sort keeps a sorted prefix.",
		Anchors: []citation.Anchor{
			{ID: "eq-1", Type: "equation", Label: "Eq. 1", Preview: "T(n) = O(n^2)"},
			{ID: "ref-p-1", Type: "paragraph", Label: "Invariant", Preview: "The prefix stays sorted."},
		},
	}
}
