package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultRepository hosts the lesson pages.
	DefaultRepository = "vietfood/cs4all-content"
	defaultAPIBaseURL = "https://api.github.com"
	defaultTimeout    = 30 * time.Second
	maxDocumentBytes  = 2 << 20
)

// GitHubConfig configures GitHubProvider.
type GitHubConfig struct {
	Token           string
	Repository      string
	BaseURL         string
	Timeout         time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
	HTTPClient      *http.Client
}

// GitHubProvider reads lesson pages through the GitHub contents API.
type GitHubProvider struct {
	token   string
	repo    string
	baseURL string
	client  *http.Client
	cache   *documentCache
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewGitHubProvider builds a provider with its own page cache.
func NewGitHubProvider(cfg GitHubConfig, logger zerolog.Logger) (*GitHubProvider, error) {
	cache, err := newDocumentCache(cfg.CacheMaxEntries, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}

	repo := strings.Trim(strings.TrimSpace(cfg.Repository), "/")
	if repo == "" {
		repo = DefaultRepository
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &GitHubProvider{
		token:   strings.TrimSpace(cfg.Token),
		repo:    repo,
		baseURL: baseURL,
		client:  client,
		cache:   cache,
		tracer:  otel.Tracer("github.com/noah-isme/gema-grading-api/internal/content"),
		logger:  logger.With().Str("component", "content_provider").Str("repo", repo).Logger(),
	}, nil
}

// Close releases the page cache.
func (p *GitHubProvider) Close() {
	p.cache.close()
}

// Invalidate drops the cached copy of a page so the next read refetches it.
func (p *GitHubProvider) Invalidate(lessonID string) {
	page, err := PageOf(lessonID)
	if err != nil {
		return
	}
	p.cache.invalidate(DocumentPath(page))
}

// FetchExercise loads the exercise named by a "page#exercise" id.
func (p *GitHubProvider) FetchExercise(ctx context.Context, lessonID string) (Exercise, error) {
	page, exerciseID, err := ParseLessonID(lessonID)
	if err != nil {
		return Exercise{}, err
	}

	doc, err := p.document(ctx, page)
	if err != nil {
		return Exercise{}, err
	}

	block, ok := extractExercise(doc.Body, exerciseID)
	if !ok {
		return Exercise{}, fmt.Errorf("%w: %s in %s", ErrExerciseNotFound, exerciseID, DocumentPath(page))
	}

	rubric, err := parseRubric(block.Rubric)
	if err != nil {
		p.logger.Warn().Err(err).Str("lesson_id", lessonID).Msg("rubric could not be parsed, grading without it")
		rubric = nil
	}

	return Exercise{
		LessonID:          lessonID,
		ExerciseID:        exerciseID,
		Title:             doc.Meta.Title,
		GradingContext:    doc.Meta.GradingContext,
		Question:          block.Question,
		ReferenceSolution: block.Solution,
		Rubric:            rubric,
	}, nil
}

// FetchLesson loads a page for hints. The exercise suffix of the id is ignored.
func (p *GitHubProvider) FetchLesson(ctx context.Context, lessonID string) (Lesson, error) {
	page, err := PageOf(lessonID)
	if err != nil {
		return Lesson{}, err
	}

	doc, err := p.document(ctx, page)
	if err != nil {
		return Lesson{}, err
	}

	return Lesson{
		LessonID:       lessonID,
		Title:          doc.Meta.Title,
		GradingContext: doc.Meta.GradingContext,
		Body:           lessonBody(doc.Body),
		Anchors:        extractAnchors(doc.Body),
	}, nil
}

func (p *GitHubProvider) document(ctx context.Context, page string) (document, error) {
	path := DocumentPath(page)
	raw, err := p.cache.get(ctx, path, func(ctx context.Context) (string, error) {
		return p.download(ctx, path)
	})
	if err != nil {
		return document{}, err
	}

	doc, err := parseDocument(raw)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("ignoring malformed frontmatter")
	}
	return doc, nil
}

type contentsResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

func (p *GitHubProvider) download(ctx context.Context, path string) (text string, err error) {
	ctx, span := p.tracer.Start(ctx, "content.download", trace.WithAttributes(attribute.String("content.path", path)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s", p.baseURL, p.repo, escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrContentUnavailable, err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s not found", ErrContentUnavailable, path)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: github returned %d for %s", ErrContentUnavailable, resp.StatusCode, path)
	}

	var payload contentsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode contents response: %v", ErrContentUnavailable, err)
	}
	if payload.Type != "" && payload.Type != "file" {
		return "", fmt.Errorf("%w: %s is a %s", ErrContentUnavailable, path, payload.Type)
	}

	data, err := decodeContent(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	p.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("lesson page downloaded")
	return string(data), nil
}

// escapePath escapes each segment so a '#' in a page name is not read as a
// fragment.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func decodeContent(payload contentsResponse) ([]byte, error) {
	if payload.Encoding != "" && payload.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q", payload.Encoding)
	}

	// GitHub wraps base64 content at 60 columns.
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(payload.Content)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	if !isText(data) {
		return nil, errors.New("document is not text")
	}
	return data, nil
}

func isText(data []byte) bool {
	for mime := mimetype.Detect(data); mime != nil; mime = mime.Parent() {
		if mime.Is("text/plain") {
			return true
		}
	}
	return false
}
