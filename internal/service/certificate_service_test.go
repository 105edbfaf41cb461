package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/scoring"
)

func TestCertificateServiceMineAndVerify(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	certificates := NewCertificateService(f.repos.certificates, "https://verify.codequest.test/", testLogger())

	started := f.start(t)
	_, err := f.submissions.SubmitCoding(ctx, principal(f.candidate), dto.CodingSubmitRequest{
		SubmissionID: started.Submission.ID,
		ChallengeID:  f.loadTest(t, f.test.ID).CodingChallenges[0].ID,
		Language:     "python",
		Code:         "print(input())",
	})
	require.NoError(t, err)
	completed, err := f.submissions.Complete(ctx, principal(f.candidate), started.Submission.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.Certificate)

	mine, err := certificates.Mine(ctx, principal(f.candidate))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, completed.Certificate.UUID, mine[0].UUID)
	require.Equal(t, "Go basics", mine[0].TestTitle)
	require.Equal(t, models.CertificateTypePassed, mine[0].Type)
	require.Equal(t, "https://verify.codequest.test/certificates/"+mine[0].UUID, mine[0].VerifyURL)

	verified, err := certificates.Verify(ctx, "  "+mine[0].UUID+" ")
	require.NoError(t, err)
	require.Equal(t, f.candidate.Name, verified.CandidateName)
	require.Equal(t, 10, verified.Score)
	require.Equal(t, 20, verified.TotalMarks)
	require.InDelta(t, 50.0, verified.Percentage, 1e-9)

	_, err = certificates.Verify(ctx, "")
	require.ErrorIs(t, err, ErrCertificateNotFound)
	_, err = certificates.Verify(ctx, "0b1c6f1e-0000-4000-8000-000000000000")
	require.ErrorIs(t, err, ErrCertificateNotFound)

	none, err := certificates.Mine(ctx, principal(f.vendor))
	require.NoError(t, err)
	require.Empty(t, none)
}
