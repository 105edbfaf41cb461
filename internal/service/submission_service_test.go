package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/scoring"
	"github.com/noah-isme/codequest-api/pkg/judge0"
)

func (f assessmentFixture) loadTest(t *testing.T, id uint) models.Test {
	t.Helper()
	test, err := f.repos.tests.GetByID(context.Background(), id)
	require.NoError(t, err)
	return test
}

func TestSubmissionServiceGradesMCQ(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	test := f.loadTest(t, f.test.ID)

	graded, err := f.submissions.SubmitMCQ(ctx, principal(f.candidate), dto.MCQSubmitRequest{
		SubmissionID: started.Submission.ID,
		Answers: []dto.MCQAnswerInput{
			{QuestionID: test.MCQs[0].ID, SelectedOptions: []int{0}},
			{QuestionID: test.MCQs[1].ID, SelectedOptions: []int{0}},
			{QuestionID: 9999, SelectedOptions: []int{1}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 5, graded.MCQScore)
	require.Equal(t, 5, graded.TotalScore)
	require.Equal(t, models.SubmissionStatusMCQCompleted, graded.Status)
	require.Len(t, graded.MCQAnswers, 2)
	require.True(t, graded.MCQAnswers[0].IsCorrect)
	require.False(t, graded.MCQAnswers[1].IsCorrect)
	require.NotNil(t, graded.MCQSubmittedAt)

	_, err = f.submissions.SubmitMCQ(ctx, principal(f.candidate), dto.MCQSubmitRequest{
		SubmissionID: started.Submission.ID,
		Answers:      []dto.MCQAnswerInput{{QuestionID: test.MCQs[1].ID, SelectedOptions: []int{0, 2}}},
	})
	require.ErrorIs(t, err, ErrMCQAlreadySubmitted)

	_, err = f.submissions.SubmitMCQ(ctx, principal(f.vendor), dto.MCQSubmitRequest{
		SubmissionID: started.Submission.ID,
		Answers:      []dto.MCQAnswerInput{{QuestionID: test.MCQs[0].ID}},
	})
	require.ErrorIs(t, err, ErrForbidden)

	stats, err := f.repos.analytics.QuestionStats(ctx, f.test.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)
}

func TestSubmissionServiceRequiresLiveSession(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	test := f.loadTest(t, f.test.ID)

	f.advanceClock(40 * time.Minute)
	_, err := f.submissions.SubmitMCQ(ctx, principal(f.candidate), dto.MCQSubmitRequest{
		SubmissionID: started.Submission.ID,
		Answers:      []dto.MCQAnswerInput{{QuestionID: test.MCQs[0].ID, SelectedOptions: []int{0}}},
	})
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSubmissionServiceCodingAccepted(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	challenge := f.loadTest(t, f.test.ID).CodingChallenges[0]

	attempt, err := f.submissions.SubmitCoding(ctx, principal(f.candidate), dto.CodingSubmitRequest{
		SubmissionID: started.Submission.ID,
		ChallengeID:  challenge.ID,
		Language:     "Python3",
		Code:         "print(input())",
	})
	require.NoError(t, err)
	require.Equal(t, "python", attempt.Language)
	require.Equal(t, models.AttemptStatusAccepted, attempt.Status)
	require.Equal(t, 100, attempt.Marks)
	require.Equal(t, 10, attempt.Score)
	require.Equal(t, 2, attempt.PassedCount)
	require.Equal(t, 2, attempt.TotalCount)
	require.Equal(t, 2048, attempt.Memory)

	hidden := attempt.TestCaseResults[1]
	require.True(t, hidden.Hidden)
	require.Empty(t, hidden.Input)
	require.Empty(t, hidden.ActualOutput)
	require.Len(t, f.runner.requests, 2)
	require.Equal(t, "python", f.runner.requests[0].Language)

	submission, err := f.submissions.Get(ctx, principal(f.candidate), started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCodingCompleted, submission.Status)
	require.Equal(t, 10, submission.CodingScore)
	require.Len(t, submission.CodingAttempts, 1)

	stats, err := f.repos.analytics.ChallengeStats(ctx, f.test.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.EqualValues(t, 1, stats[0].Accepted)
}

func TestSubmissionServiceCodingOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		result   *judge0.Result
		err      error
		status   string
		requests int
	}{
		{
			name:     "wrong answer",
			result:   &judge0.Result{Stdout: "nope", Status: judge0.Status{ID: judge0.StatusAccepted}},
			status:   models.AttemptStatusWrongAnswer,
			requests: 2,
		},
		{
			name:     "compile error short-circuits",
			result:   &judge0.Result{CompileOutput: "syntax error", Status: judge0.Status{ID: judge0.StatusCompilationError, Description: "Compilation Error"}},
			status:   models.AttemptStatusError,
			requests: 1,
		},
		{
			name:     "time limit",
			result:   &judge0.Result{Status: judge0.Status{ID: judge0.StatusTimeLimitExceeded, Description: "Time Limit Exceeded"}},
			status:   models.AttemptStatusTimeout,
			requests: 2,
		},
		{
			name:     "poll budget exhausted",
			err:      judge0.ErrPollTimeout,
			status:   models.AttemptStatusTimeout,
			requests: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAssessmentFixture(t, scoring.AggregateLatest)
			f.runner.result = tc.result
			f.runner.err = tc.err
			started := f.start(t)
			challenge := f.loadTest(t, f.test.ID).CodingChallenges[0]

			attempt, err := f.submissions.SubmitCoding(context.Background(), principal(f.candidate), dto.CodingSubmitRequest{
				SubmissionID: started.Submission.ID,
				ChallengeID:  challenge.ID,
				Language:     "go",
				Code:         "package main",
			})
			require.NoError(t, err)
			require.Equal(t, tc.status, attempt.Status)
			require.Zero(t, attempt.Score)
			require.Len(t, f.runner.requests, tc.requests)
			require.Len(t, attempt.TestCaseResults, 2)
		})
	}
}

func TestSubmissionServiceCodingRejections(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	challenge := f.loadTest(t, f.test.ID).CodingChallenges[0]

	request := dto.CodingSubmitRequest{SubmissionID: started.Submission.ID, ChallengeID: challenge.ID, Language: "ruby", Code: "puts gets"}
	_, err := f.submissions.SubmitCoding(ctx, principal(f.candidate), request)
	require.ErrorIs(t, err, ErrLanguageNotAllowed)

	request.Language = "python"
	request.ChallengeID = 9999
	_, err = f.submissions.SubmitCoding(ctx, principal(f.candidate), request)
	require.ErrorIs(t, err, ErrChallengeNotFound)

	f.runner.err = errors.New("judge unreachable")
	request.ChallengeID = challenge.ID
	_, err = f.submissions.SubmitCoding(ctx, principal(f.candidate), request)
	require.ErrorIs(t, err, ErrExecutionFailed)

	f.runner.err = nil
	f.runner.supported["python"] = false
	_, err = f.submissions.SubmitCoding(ctx, principal(f.candidate), request)
	require.ErrorIs(t, err, ErrLanguageNotAllowed)
}

func TestSubmissionServiceAggregationPolicies(t *testing.T) {
	for _, tc := range []struct {
		policy scoring.Aggregation
		want   int
	}{
		{policy: scoring.AggregateLatest, want: 0},
		{policy: scoring.AggregateBest, want: 10},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			f := newAssessmentFixture(t, tc.policy)
			ctx := context.Background()
			started := f.start(t)
			challenge := f.loadTest(t, f.test.ID).CodingChallenges[0]
			request := dto.CodingSubmitRequest{SubmissionID: started.Submission.ID, ChallengeID: challenge.ID, Language: "python", Code: "print(input())"}

			_, err := f.submissions.SubmitCoding(ctx, principal(f.candidate), request)
			require.NoError(t, err)

			f.runner.result = &judge0.Result{Stdout: "wrong", Status: judge0.Status{ID: judge0.StatusAccepted}}
			_, err = f.submissions.SubmitCoding(ctx, principal(f.candidate), request)
			require.NoError(t, err)

			completed, err := f.submissions.Complete(ctx, principal(f.candidate), started.Submission.ID)
			require.NoError(t, err)
			require.Equal(t, tc.want, completed.Submission.CodingScore)
			require.Len(t, completed.Submission.CodingAttempts, 2)
		})
	}
}

func TestSubmissionServiceCompleteIssuesCertificate(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	test := f.loadTest(t, f.test.ID)

	_, err := f.submissions.SubmitMCQ(ctx, principal(f.candidate), dto.MCQSubmitRequest{
		SubmissionID: started.Submission.ID,
		Answers: []dto.MCQAnswerInput{
			{QuestionID: test.MCQs[0].ID, SelectedOptions: []int{0}},
			{QuestionID: test.MCQs[1].ID, SelectedOptions: []int{2, 0}},
		},
	})
	require.NoError(t, err)
	_, err = f.submissions.SubmitCoding(ctx, principal(f.candidate), dto.CodingSubmitRequest{
		SubmissionID: started.Submission.ID, ChallengeID: test.CodingChallenges[0].ID, Language: "go", Code: "package main",
	})
	require.NoError(t, err)

	completed, err := f.submissions.Complete(ctx, principal(f.candidate), started.Submission.ID)
	require.NoError(t, err)
	require.True(t, completed.Passed)
	require.Equal(t, 20, completed.Submission.TotalScore)
	require.InDelta(t, 100.0, completed.Percentage, 1e-9)
	require.Equal(t, models.SubmissionStatusCompleted, completed.Submission.Status)

	require.NotNil(t, completed.Certificate)
	require.Equal(t, models.CertificateTypePassed, completed.Certificate.Type)
	require.Equal(t, test.Title, completed.Certificate.TestTitle)
	require.True(t, strings.HasPrefix(completed.Certificate.VerifyURL, "https://verify.codequest.test/certificates/"))

	session, err := f.repos.sessions.GetByID(ctx, started.Session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, session.Status)

	_, err = f.submissions.Complete(ctx, principal(f.candidate), started.Submission.ID)
	require.ErrorIs(t, err, ErrSubmissionCompleted)

	_, err = f.submissions.SubmitCoding(ctx, principal(f.candidate), dto.CodingSubmitRequest{
		SubmissionID: started.Submission.ID, ChallengeID: test.CodingChallenges[0].ID, Language: "go", Code: "package main",
	})
	require.ErrorIs(t, err, ErrSubmissionCompleted)

	var completedEvents int
	for _, event := range f.events() {
		if event.Type == EventSubmissionCompleted {
			completedEvents++
			require.Equal(t, "candidate", event.Payload["reason"])
			require.Equal(t, true, event.Payload["passed"])
		}
	}
	require.Equal(t, 1, completedEvents)
}

func TestSubmissionServicePracticeSkipsCertificate(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()

	practice := seedPublishedTest(t, f.db, f.vendor.ID, func(test *models.Test) {
		test.Type = models.TestTypePractice
		test.AccessControl = models.AccessControl{Type: models.AccessPractice}
	})
	started, err := f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: practice.ID}, DeviceInfo{})
	require.NoError(t, err)

	completed, err := f.submissions.Complete(ctx, principal(f.candidate), started.Submission.ID)
	require.NoError(t, err)
	require.Nil(t, completed.Certificate)

	certificates, err := f.repos.certificates.ListByUser(ctx, f.candidate.ID)
	require.NoError(t, err)
	require.Empty(t, certificates)
}

func TestSubmissionServiceListings(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	_, err := f.submissions.Complete(ctx, principal(f.candidate), started.Submission.ID)
	require.NoError(t, err)

	mine, err := f.submissions.Mine(ctx, principal(f.candidate))
	require.NoError(t, err)
	require.Len(t, mine, 1)

	listed, err := f.submissions.ListByTest(ctx, principal(f.vendor), f.test.ID, dto.SubmissionFilter{Status: models.SubmissionStatusCompleted})
	require.NoError(t, err)
	require.Len(t, listed.Items, 1)
	require.NotNil(t, listed.Items[0].Candidate)
	require.Equal(t, f.candidate.Email, listed.Items[0].Candidate.Email)

	_, err = f.submissions.ListByTest(ctx, principal(f.candidate), f.test.ID, dto.SubmissionFilter{})
	require.ErrorIs(t, err, ErrForbidden)

	vendorView, err := f.submissions.Get(ctx, principal(f.vendor), started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, started.Submission.ID, vendorView.ID)

	_, err = f.submissions.Get(ctx, principal(f.candidate), 4242)
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestSubmissionServiceCodingAfterConcurrentCompletion(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	challenge := f.loadTest(t, f.test.ID).CodingChallenges[0]

	var completed dto.SubmissionCompleteResponse
	var completeErr error
	f.runner.onExecute = func() {
		if completed.Submission.ID != 0 || completeErr != nil {
			return
		}
		completed, completeErr = f.submissions.Complete(ctx, principal(f.candidate), started.Submission.ID)
	}

	_, err := f.submissions.SubmitCoding(ctx, principal(f.candidate), dto.CodingSubmitRequest{
		SubmissionID: started.Submission.ID,
		ChallengeID:  challenge.ID,
		Language:     "python",
		Code:         "print(input())",
	})
	require.NoError(t, completeErr)
	require.Equal(t, models.SubmissionStatusCompleted, completed.Submission.Status)
	require.ErrorIs(t, err, ErrSubmissionCompleted)

	stored, err := f.repos.submissions.GetByID(ctx, started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	require.Equal(t, completed.Submission.TotalScore, stored.TotalScore)
	require.Empty(t, stored.CodingAttempts)
}
