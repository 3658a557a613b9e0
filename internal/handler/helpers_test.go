package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/content"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/citation"
)

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func setupSubmissionDB(t *testing.T) (*gorm.DB, repository.SubmissionRepository) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Submission{}))
	return db, repository.NewSubmissionRepository(db)
}

func seedSubmission(t *testing.T, repo repository.SubmissionRepository) models.Submission {
	t.Helper()
	submission := models.Submission{
		UserID:      "student-1",
		LessonID:    "algo/sorting#ex-1",
		Content:     "Insertion sort is quadratic.",
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), &submission))
	return submission
}

// withUser injects what the JWT middleware would have set.
func withUser(userID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_role", role)
		return c.Next()
	}
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

// readSSE splits a finished event stream into the data payload of each event.
func readSSE(t *testing.T, body io.Reader) []string {
	t.Helper()
	var (
		events  []string
		current []string
		inEvent bool
	)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if inEvent {
				events = append(events, strings.Join(current, "\n"))
			}
			current, inEvent = nil, false
		case strings.HasPrefix(line, "data: "):
			current = append(current, strings.TrimPrefix(line, "data: "))
			inEvent = true
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

type stubLessons struct {
	lesson content.Lesson
	err    error
}

func (s *stubLessons) FetchLesson(_ context.Context, lessonID string) (content.Lesson, error) {
	if s.err != nil {
		return content.Lesson{}, s.err
	}
	lesson := s.lesson
	lesson.LessonID = lessonID
	return lesson, nil
}

func sortingLesson() content.Lesson {
	return content.Lesson{
		Title: "Sorting",
		Body:  "Insertion sort builds the output one element at a time.",
		Anchors: []citation.Anchor{
			{ID: "eq-1", Type: "equation", Label: "Eq. 1"},
			{ID: "ref-p-1", Type: "paragraph", Label: "Intro"},
		},
	}
}

type tokenStream struct {
	tokens []string
	err    error
}

func (s *tokenStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	token := s.tokens[0]
	s.tokens = s.tokens[1:]
	return token, nil
}

func (s *tokenStream) Close() error { return nil }

// stubStreamer hands out a fresh copy of the script on every call.
type stubStreamer struct {
	tokens []string
	err    error
}

func (s *stubStreamer) Stream(context.Context, []ai.Message) (ai.TokenStream, error) {
	return &tokenStream{tokens: append([]string(nil), s.tokens...), err: s.err}, nil
}
