package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestAdminSubmissionServiceReviewOverridesAIScore(t *testing.T) {
	repo := setupSubmissionRepo(t)
	events := &recordingEvents{}
	svc := NewAdminSubmissionService(repo, validator.New(validator.WithRequiredStructEnabled()), events, testLogger())
	ctx := context.Background()

	submission := seedPending(t, repo, "algo/sorting#ex-1")
	require.NoError(t, repo.MarkAIGraded(ctx, submission.ID, 70, datatypes.JSON(`[]`)))

	resp, err := svc.Review(ctx, submission.ID, dto.SubmissionReviewRequest{
		ReviewerScore: intPtr(92),
		Comment:       strPtr("<b>Solid</b> answer"),
	}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusHumanReviewed, resp.Status)
	require.Equal(t, 92, *resp.ReviewerScore)
	require.Equal(t, 92, *resp.FinalScore)
	require.Equal(t, 70, *resp.LLMScore)
	require.Equal(t, "Solid answer", *resp.ReviewerComment)
	require.NotNil(t, resp.ReviewedAt)

	published := events.all()
	require.Len(t, published, 1)
	require.Equal(t, dto.GradingEventReviewed, published[0].Type)

	_, err = svc.Review(ctx, submission.ID, dto.SubmissionReviewRequest{ReviewerScore: intPtr(10)}, "admin-1")
	require.ErrorIs(t, err, ErrSubmissionAlreadyReviewed)
}

func TestAdminSubmissionServiceReviewStatusRules(t *testing.T) {
	repo := setupSubmissionRepo(t)
	svc := NewAdminSubmissionService(repo, nil, nil, testLogger())
	ctx := context.Background()

	pending := seedPending(t, repo, "algo/sorting#ex-1")
	resp, err := svc.Review(ctx, pending.ID, dto.SubmissionReviewRequest{ReviewerScore: intPtr(50)}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusHumanReviewed, resp.Status)
	require.Nil(t, resp.LLMScore)

	failed := seedPending(t, repo, "algo/sorting#ex-1")
	require.NoError(t, repo.MarkGradingFailed(ctx, failed.ID))
	_, err = svc.Review(ctx, failed.ID, dto.SubmissionReviewRequest{ReviewerScore: intPtr(50)}, "admin-1")
	require.ErrorIs(t, err, ErrSubmissionNotReviewable)

	_, err = svc.Review(ctx, "missing", dto.SubmissionReviewRequest{ReviewerScore: intPtr(50)}, "admin-1")
	require.ErrorIs(t, err, ErrAdminSubmissionNotFound)
}

func TestAdminSubmissionServiceReviewValidation(t *testing.T) {
	repo := setupSubmissionRepo(t)
	svc := NewAdminSubmissionService(repo, nil, nil, testLogger())
	ctx := context.Background()
	submission := seedPending(t, repo, "algo/sorting#ex-1")

	cases := []dto.SubmissionReviewRequest{
		{},
		{ReviewerScore: intPtr(-1)},
		{ReviewerScore: intPtr(101)},
		{ReviewerScore: intPtr(50), Comment: strPtr(string(make([]byte, 5001)))},
	}
	for _, payload := range cases {
		_, err := svc.Review(ctx, submission.ID, payload, "admin-1")
		require.Error(t, err)
		var validationErrs validator.ValidationErrors
		require.ErrorAs(t, err, &validationErrs)
	}

	require.Equal(t, models.SubmissionStatusSubmitted, loadSubmission(t, repo, submission.ID).Status)
}

func TestAdminSubmissionServiceListAndGet(t *testing.T) {
	repo := setupSubmissionRepo(t)
	svc := NewAdminSubmissionService(repo, nil, nil, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		submission := seedPending(t, repo, "algo/sorting#ex-1")
		if i > 0 {
			require.NoError(t, repo.MarkAIGraded(ctx, submission.ID, 60+i, datatypes.JSON(`[{"criterion":"Bound","points_awarded":1,"points_possible":1,"comment":"ok"}]`)))
		}
		time.Sleep(time.Millisecond)
	}

	page, err := svc.List(ctx, dto.SubmissionListQuery{Status: models.SubmissionStatusAIGraded, PageSize: 1})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, 1, page.Page)

	detail, err := svc.Get(ctx, page.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, detail.LLMFeedback, 1)

	_, err = svc.List(ctx, dto.SubmissionListQuery{Status: "bogus"})
	require.Error(t, err)

	_, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrAdminSubmissionNotFound)
}
