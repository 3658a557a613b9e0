package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestSubmissionTransitionsOnlyMoveForward(t *testing.T) {
	allowed := [][2]string{
		{SubmissionStatusSubmitted, SubmissionStatusAIGraded},
		{SubmissionStatusSubmitted, SubmissionStatusGradingFailed},
		{SubmissionStatusSubmitted, SubmissionStatusHumanReviewed},
		{SubmissionStatusAIGraded, SubmissionStatusHumanReviewed},
	}
	for _, pair := range allowed {
		require.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]string{
		{SubmissionStatusAIGraded, SubmissionStatusSubmitted},
		{SubmissionStatusGradingFailed, SubmissionStatusSubmitted},
		{SubmissionStatusGradingFailed, SubmissionStatusHumanReviewed},
		{SubmissionStatusHumanReviewed, SubmissionStatusAIGraded},
		{SubmissionStatusSubmitted, SubmissionStatusSubmitted},
		{"unknown", SubmissionStatusAIGraded},
	}
	for _, pair := range denied {
		require.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestSubmissionFeedbackDecodes(t *testing.T) {
	submission := Submission{LLMFeedback: datatypes.JSON(`[{"criterion":"c1","points_awarded":2,"points_possible":2,"comment":"ok"}]`)}
	items, err := submission.Feedback()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "c1", items[0].Criterion)

	empty := Submission{LLMFeedback: datatypes.JSON("null")}
	items, err = empty.Feedback()
	require.NoError(t, err)
	require.Nil(t, items)
}

func TestSubmissionBeforeCreateDefaults(t *testing.T) {
	submission := Submission{UserID: "u1", LessonID: "page#ex", Content: "answer"}
	require.NoError(t, submission.BeforeCreate(nil))
	require.NotEmpty(t, submission.ID)
	require.Equal(t, SubmissionStatusSubmitted, submission.Status)
	require.False(t, submission.SubmittedAt.IsZero())
}
