package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/scoring"
)

type assessmentFixture struct {
	db          *gorm.DB
	repos       repos
	bus         EventBus
	events      func() []DomainEvent
	runner      *echoRunner
	invitations InvitationService
	sessions    SessionService
	submissions SubmissionService
	vendor      models.User
	candidate   models.User
	test        models.Test
}

func newAssessmentFixture(t *testing.T, aggregation scoring.Aggregation) assessmentFixture {
	t.Helper()
	db := setupServiceDB(t)
	r := newRepos(db)
	validate := testValidator()
	bus := NewEventBus(nil, nil, "", testLogger())
	events := collectEvents(bus)
	runner := newEchoRunner()

	invitations := NewInvitationService(r.invitations, r.tests, &mailRecorder{}, &auditRecorderStub{}, validate, "https://app.codequest.test", testLogger())
	sessions := NewSessionService(r.sessions, r.submissions, r.tests, r.analytics, invitations, bus, validate, testLogger())
	submissions := NewSubmissionService(r.submissions, r.sessions, r.tests, r.certificates, r.analytics, invitations, runner, bus,
		SubmissionConfig{Aggregation: aggregation, VerifyBaseURL: "https://verify.codequest.test"}, validate, testLogger())
	bus.Handle(submissions.HandleSessionEvent)

	vendor := seedAccount(t, db, "vendor@example.com", models.RoleVendor)
	return assessmentFixture{
		db:          db,
		repos:       r,
		bus:         bus,
		events:      events,
		runner:      runner,
		invitations: invitations,
		sessions:    sessions,
		submissions: submissions,
		vendor:      vendor,
		candidate:   seedAccount(t, db, "candidate@example.com", models.RoleCandidate),
		test:        seedPublishedTest(t, db, vendor.ID, nil),
	}
}

func (f assessmentFixture) start(t *testing.T) dto.SessionStartResponse {
	t.Helper()
	started, err := f.sessions.Start(context.Background(), principal(f.candidate), dto.SessionStartRequest{TestID: f.test.ID}, DeviceInfo{UserAgent: "go-test", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	return started
}

// advanceClock moves the clocks of both services forward.
func (f assessmentFixture) advanceClock(d time.Duration) {
	shifted := func() time.Time { return time.Now().Add(d) }
	f.sessions.(*sessionService).now = shifted
	f.submissions.(*submissionService).now = shifted
}

func TestSessionServiceStartAndResume(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()

	started, err := f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: f.test.ID, Platform: "linux"}, DeviceInfo{
		UserAgent: strings.Repeat("a", 600),
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)

	require.Equal(t, models.SessionStatusActive, started.Session.Status)
	require.Equal(t, 30, started.Session.DurationMinutes)
	require.InDelta(t, 30*60, started.Session.RemainingSeconds, 2)
	require.Equal(t, 1, started.Submission.Version)
	require.Equal(t, models.SubmissionStatusInProgress, started.Submission.Status)
	require.Nil(t, started.Test.AccessControl)
	require.Empty(t, started.Test.MCQs[0].CorrectOptions)

	stored, err := f.repos.sessions.GetByID(ctx, started.Session.ID)
	require.NoError(t, err)
	require.Len(t, stored.UserAgent, 512)
	require.Equal(t, "linux", stored.Platform)

	resumed := f.start(t)
	require.Equal(t, started.Session.ID, resumed.Session.ID)
	require.Equal(t, started.Submission.ID, resumed.Submission.ID)

	require.Equal(t, []string{EventSessionStarted}, eventTypes(f.events()))
}

func TestSessionServiceStartKeepsDeviceInfoValidUTF8(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()

	started, err := f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: f.test.ID}, DeviceInfo{
		UserAgent: "a" + strings.Repeat("é", 300),
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)

	stored, err := f.repos.sessions.GetByID(ctx, started.Session.ID)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(stored.UserAgent))
	require.Len(t, stored.UserAgent, 511)
	require.True(t, strings.HasSuffix(stored.UserAgent, "é"))
}

func TestTruncateCutsOnRuneBoundary(t *testing.T) {
	cases := []struct {
		value string
		max   int
		want  string
	}{
		{value: "  plain  ", max: 64, want: "plain"},
		{value: "ab\U0001F600cd", max: 4, want: "ab"},
		{value: "ab\U0001F600cd", max: 6, want: "ab\U0001F600"},
		{value: "ok\xffok", max: 64, want: "okok"},
		{value: "日本語", max: 1, want: ""},
	}
	for _, tc := range cases {
		got := truncate(tc.value, tc.max)
		require.Equal(t, tc.want, got)
		require.True(t, utf8.ValidString(got))
		require.LessOrEqual(t, len(got), tc.max)
	}
}

func TestSessionServiceStartRejections(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	device := DeviceInfo{}

	_, err := f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: 9999}, device)
	require.ErrorIs(t, err, ErrTestNotFound)

	draft := seedPublishedTest(t, f.db, f.vendor.ID, func(test *models.Test) {
		test.Status = models.TestStatusDraft
		test.PublishedAt = nil
	})
	_, err = f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: draft.ID}, device)
	require.ErrorIs(t, err, ErrInvalidStatus)

	private := seedPublishedTest(t, f.db, f.vendor.ID, func(test *models.Test) {
		test.AccessControl = models.AccessControl{Type: models.AccessPrivate}
	})
	_, err = f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: private.ID}, device)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSessionServiceHeartbeatAndProctoring(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)

	beat, err := f.sessions.Heartbeat(ctx, principal(f.candidate), started.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, beat.LastHeartbeat)

	_, err = f.sessions.Heartbeat(ctx, principal(f.vendor), started.Session.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.sessions.Heartbeat(ctx, principal(f.candidate), 4242)
	require.ErrorIs(t, err, ErrSessionNotFound)

	for i := 0; i < 2; i++ {
		_, err = f.sessions.RecordEvent(ctx, principal(f.candidate), started.Session.ID, dto.ProctoringEventRequest{Type: models.ProctoringTabSwitch})
		require.NoError(t, err)
	}
	updated, err := f.sessions.RecordEvent(ctx, principal(f.candidate), started.Session.ID, dto.ProctoringEventRequest{Type: models.ProctoringCopyPaste, Detail: " pasted 40 chars "})
	require.NoError(t, err)
	require.Equal(t, 2, updated.TabSwitches)
	require.Len(t, updated.Warnings, 3)
	require.Equal(t, "pasted 40 chars", updated.Warnings[2].Detail)

	_, err = f.sessions.RecordEvent(ctx, principal(f.candidate), started.Session.ID, dto.ProctoringEventRequest{Type: "screenshot"})
	require.Error(t, err)

	counts, err := f.repos.analytics.BehaviorCounts(ctx, f.test.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, counts[models.ProctoringTabSwitch])
	require.EqualValues(t, 1, counts[models.ProctoringCopyPaste])

	vendorView, err := f.sessions.Get(ctx, principal(f.vendor), started.Session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, vendorView.TabSwitches)

	stranger := seedAccount(t, f.db, "stranger@example.com", models.RoleVendor)
	_, err = f.sessions.Get(ctx, principal(stranger), started.Session.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSessionServiceEndFinalizesSubmission(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)

	ended, err := f.sessions.End(ctx, principal(f.candidate), started.Session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, ended.Status)
	require.NotNil(t, ended.EndTime)

	submission, err := f.repos.submissions.GetByID(ctx, started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCompleted, submission.Status)
	require.NotNil(t, submission.CompletedAt)

	certificates, err := f.repos.certificates.ListByUser(ctx, f.candidate.ID)
	require.NoError(t, err)
	require.Len(t, certificates, 1)
	require.Equal(t, models.CertificateTypeParticipation, certificates[0].Type)

	types := eventTypes(f.events())
	require.Equal(t, []string{EventSessionStarted, EventSessionEnded, EventSubmissionCompleted}, types)
	completed := f.events()[2]
	require.Equal(t, "session_ended", completed.Payload["reason"])

	_, err = f.sessions.Heartbeat(ctx, principal(f.candidate), started.Session.ID)
	require.ErrorIs(t, err, ErrSessionClosed)

	again := f.start(t)
	require.NotEqual(t, started.Session.ID, again.Session.ID)
	require.Equal(t, 2, again.Submission.Version)
}

func TestSessionServiceExpiresOnAccess(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)

	f.advanceClock(31 * time.Minute)

	_, err := f.sessions.Heartbeat(ctx, principal(f.candidate), started.Session.ID)
	require.ErrorIs(t, err, ErrSessionClosed)

	stored, err := f.repos.sessions.GetByID(ctx, started.Session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusExpired, stored.Status)
	require.NotNil(t, stored.EndTime)
	require.WithinDuration(t, started.Session.Deadline, *stored.EndTime, time.Second)

	submission, err := f.repos.submissions.GetByID(ctx, started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusCompleted, submission.Status)

	var reasons []interface{}
	for _, event := range f.events() {
		if event.Type == EventSubmissionCompleted {
			reasons = append(reasons, event.Payload["reason"])
		}
	}
	require.Equal(t, []interface{}{"session_expired"}, reasons)
}

func TestSessionServiceExpireOverdueSweep(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)

	expired, err := f.sessions.ExpireOverdue(ctx)
	require.NoError(t, err)
	require.Zero(t, expired)

	f.advanceClock(45 * time.Minute)
	expired, err = f.sessions.ExpireOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	submission, err := f.repos.submissions.GetByID(ctx, started.Submission.ID)
	require.NoError(t, err)
	require.True(t, submission.IsCompleted())
}

func TestSessionServiceWatchReceivesEvents(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)

	snapshot, events, cancel, err := f.sessions.Watch(ctx, principal(f.vendor), started.Session.ID)
	require.NoError(t, err)
	defer cancel()
	require.Equal(t, started.Session.ID, snapshot.ID)

	_, err = f.sessions.RecordEvent(ctx, principal(f.candidate), started.Session.ID, dto.ProctoringEventRequest{Type: models.ProctoringFocusLost})
	require.NoError(t, err)

	select {
	case event := <-events:
		require.Equal(t, EventSessionProctoring, event.Type)
		require.Equal(t, models.ProctoringFocusLost, event.Payload["event"])
	case <-time.After(time.Second):
		t.Fatal("expected proctoring event")
	}

	cancel()
	_, open := <-events
	require.False(t, open)
}

func TestSessionServiceInvitationFlow(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()

	private := seedPublishedTest(t, f.db, f.vendor.ID, func(test *models.Test) {
		test.AccessControl = models.AccessControl{Type: models.AccessPrivate}
	})
	invites, err := f.invitations.Create(ctx, principal(f.vendor), private.ID, dto.InvitationCreateRequest{
		Invitees: []dto.InviteeInput{{Email: f.candidate.Email}},
	})
	require.NoError(t, err)
	token := invitationToken(t, invites[0].Link)

	started, err := f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: private.ID, InvitationToken: token}, DeviceInfo{})
	require.NoError(t, err)

	invitation, err := f.repos.invitations.GetByID(ctx, invites[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, invitation.AttemptsUsed)
	require.Equal(t, models.InvitationStatusAccepted, invitation.Status)

	_, err = f.sessions.End(ctx, principal(f.candidate), started.Session.ID)
	require.NoError(t, err)

	invitation, err = f.repos.invitations.GetByID(ctx, invites[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationStatusCompleted, invitation.Status)

	_, err = f.sessions.Start(ctx, principal(f.candidate), dto.SessionStartRequest{TestID: private.ID, InvitationToken: token}, DeviceInfo{})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
}
