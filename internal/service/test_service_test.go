package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
)

type testServiceFixture struct {
	svc       TestService
	auditLog  *auditRecorderStub
	events    func() []DomainEvent
	vendor    models.User
	rival     models.User
	candidate models.User
	admin     models.User
}

func newTestServiceFixture(t *testing.T) testServiceFixture {
	t.Helper()
	db := setupServiceDB(t)
	r := newRepos(db)
	bus := NewEventBus(nil, nil, "", testLogger())
	auditLog := &auditRecorderStub{}

	return testServiceFixture{
		svc:       NewTestService(r.tests, auditLog, bus, testValidator(), testLogger()),
		auditLog:  auditLog,
		events:    collectEvents(bus),
		vendor:    seedAccount(t, db, "vendor@example.com", models.RoleVendor),
		rival:     seedAccount(t, db, "rival@example.com", models.RoleVendor),
		candidate: seedAccount(t, db, "candidate@example.com", models.RoleCandidate),
		admin:     seedAccount(t, db, "admin@example.com", models.RoleAdmin),
	}
}

func sampleCreateRequest() dto.TestCreateRequest {
	return dto.TestCreateRequest{
		Title:           "Backend <b>Screening</b>",
		Description:     "<p>Solve the problems</p><script>alert(1)</script>",
		Category:        " Backend ",
		DurationMinutes: 45,
		MCQs: []dto.MCQInput{
			{Question: "Which keyword starts a goroutine?", Options: []string{"go", "async", "spawn"}, CorrectOptions: []int{0}, Marks: 4},
			{Question: "Pick the reference types", Options: []string{"map", "int", "chan"}, CorrectOptions: []int{0, 2}, Marks: 6},
		},
		CodingChallenges: []dto.CodingChallengeInput{{
			Title:            "Sum two numbers",
			Description:      "Read two integers and print their sum",
			AllowedLanguages: []string{"Python3", "golang"},
			StarterCode:      map[string]string{"py": "print()"},
			TestCases:        []dto.TestCaseInput{{Input: "1 2", ExpectedOutput: "3"}, {Input: "5 5", ExpectedOutput: "10", Hidden: true}},
			Marks:            10,
		}},
	}
}

func TestTestServiceCreateSanitizesAndTotals(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, principal(f.vendor), sampleCreateRequest())
	require.NoError(t, err)

	require.Equal(t, "Backend Screening", created.Title)
	require.NotContains(t, created.Description, "<script>")
	require.Equal(t, "backend", created.Category)
	require.Equal(t, models.TestStatusDraft, created.Status)
	require.Equal(t, models.TestTypeAssessment, created.Type)
	require.Equal(t, 20, created.TotalMarks)
	require.Equal(t, models.DefaultPassingMarks(20), created.PassingMarks)
	require.Equal(t, 3, created.QuestionCount)
	require.NotEmpty(t, created.UUID)

	challenge := created.CodingChallenges[0]
	require.Equal(t, []string{"python", "go"}, challenge.AllowedLanguages)
	require.Contains(t, challenge.StarterCode, "python")
	require.Equal(t, 2000, challenge.TimeLimitMs)
	require.Len(t, challenge.TestCases, 2)

	require.Equal(t, []string{models.ActivityTestCreated}, f.auditLog.actions())

	_, err = f.svc.Create(ctx, principal(f.candidate), sampleCreateRequest())
	require.ErrorIs(t, err, ErrForbidden)

	tooHigh := 50
	payload := sampleCreateRequest()
	payload.PassingMarks = &tooHigh
	_, err = f.svc.Create(ctx, principal(f.vendor), payload)
	require.ErrorIs(t, err, ErrInvalidMarks)

	payload = sampleCreateRequest()
	payload.MCQs[0].CorrectOptions = []int{7}
	_, err = f.svc.Create(ctx, principal(f.vendor), payload)
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestTestServicePublishLifecycle(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	empty, err := f.svc.Create(ctx, principal(f.vendor), dto.TestCreateRequest{Title: "Empty test", DurationMinutes: 10})
	require.NoError(t, err)
	_, err = f.svc.Publish(ctx, principal(f.vendor), empty.ID)
	require.ErrorIs(t, err, ErrNoQuestions)

	created, err := f.svc.Create(ctx, principal(f.vendor), sampleCreateRequest())
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, principal(f.rival), created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Get(ctx, principal(f.candidate), created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	published, err := f.svc.Publish(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.TestStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	require.Equal(t, []string{EventTestPublished}, eventTypes(f.events()))

	_, err = f.svc.Publish(ctx, principal(f.vendor), created.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.AddMCQs(ctx, principal(f.vendor), created.ID, []dto.MCQInput{{Question: "Late question", Options: []string{"a", "b"}, CorrectOptions: []int{0}}})
	require.ErrorIs(t, err, ErrInvalidStatus)

	duration := 90
	_, err = f.svc.Update(ctx, principal(f.vendor), created.ID, dto.TestUpdateRequest{DurationMinutes: &duration})
	require.ErrorIs(t, err, ErrInvalidStatus)

	title := "Backend Screening v2"
	updated, err := f.svc.Update(ctx, principal(f.vendor), created.ID, dto.TestUpdateRequest{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)

	candidateView, err := f.svc.Get(ctx, principal(f.candidate), created.ID)
	require.NoError(t, err)
	require.Nil(t, candidateView.AccessControl)
	for _, mcq := range candidateView.MCQs {
		require.Empty(t, mcq.CorrectOptions)
	}
	require.Len(t, candidateView.CodingChallenges[0].TestCases, 1)
	require.Equal(t, 1, candidateView.CodingChallenges[0].HiddenTestCases)
	require.True(t, candidateView.MCQs[1].MultipleAnswer)

	byUUID, err := f.svc.GetByUUID(ctx, principal(f.candidate), created.UUID)
	require.NoError(t, err)
	require.Equal(t, created.ID, byUUID.ID)

	archived, err := f.svc.Archive(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.TestStatusArchived, archived.Status)

	_, err = f.svc.Get(ctx, principal(f.candidate), created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	require.ErrorIs(t, f.svc.Delete(ctx, principal(f.vendor), created.ID), ErrInvalidStatus)
	require.NoError(t, f.svc.Delete(ctx, principal(f.admin), created.ID))
	_, err = f.svc.Get(ctx, principal(f.admin), created.ID)
	require.ErrorIs(t, err, ErrTestNotFound)
}

func TestTestServiceAddQuestionsFollowsDefaultPassingMarks(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, principal(f.vendor), sampleCreateRequest())
	require.NoError(t, err)

	updated, err := f.svc.AddMCQs(ctx, principal(f.vendor), created.ID, []dto.MCQInput{
		{Question: "What does defer do?", Options: []string{"delays a call", "spawns"}, CorrectOptions: []int{0}, Marks: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 30, updated.TotalMarks)
	require.Equal(t, models.DefaultPassingMarks(30), updated.PassingMarks)
	require.Len(t, updated.MCQs, 3)
	require.NotZero(t, updated.MCQs[2].ID)

	withChallenge, err := f.svc.AddChallenges(ctx, principal(f.vendor), created.ID, []dto.CodingChallengeInput{{
		Title:       "Reverse a string",
		Description: "Print the input reversed",
		TestCases:   []dto.TestCaseInput{{Input: "abc", ExpectedOutput: "cba"}},
	}})
	require.NoError(t, err)
	require.Equal(t, 130, withChallenge.TotalMarks)
	require.Len(t, withChallenge.CodingChallenges, 2)

	reloaded, err := f.svc.Get(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)
	require.Equal(t, 130, reloaded.TotalMarks)
	require.Len(t, reloaded.MCQs, 3)
}

func TestTestServiceKeepsExplicitPassingMarks(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	zero := 0
	payload := sampleCreateRequest()
	payload.PassingMarks = &zero
	created, err := f.svc.Create(ctx, principal(f.vendor), payload)
	require.NoError(t, err)
	require.Zero(t, created.PassingMarks)

	updated, err := f.svc.AddMCQs(ctx, principal(f.vendor), created.ID, []dto.MCQInput{
		{Question: "What does defer do?", Options: []string{"delays a call", "spawns"}, CorrectOptions: []int{0}, Marks: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 30, updated.TotalMarks)
	require.Zero(t, updated.PassingMarks)

	published, err := f.svc.Publish(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)
	require.Zero(t, published.PassingMarks)

	reloaded, err := f.svc.Get(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)
	require.Zero(t, reloaded.PassingMarks)

	twelve := 12
	draft, err := f.svc.Create(ctx, principal(f.vendor), sampleCreateRequest())
	require.NoError(t, err)
	draft, err = f.svc.Update(ctx, principal(f.vendor), draft.ID, dto.TestUpdateRequest{PassingMarks: &twelve})
	require.NoError(t, err)
	require.Equal(t, 12, draft.PassingMarks)

	copied, err := f.svc.Duplicate(ctx, principal(f.vendor), draft.ID)
	require.NoError(t, err)
	require.Equal(t, 12, copied.PassingMarks)
}

func TestTestServiceImportMCQs(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, principal(f.vendor), dto.TestCreateRequest{Title: "Imported quiz", DurationMinutes: 20})
	require.NoError(t, err)

	csvData := []byte("question,options,correct,marks,difficulty\n" +
		"What is 2+2?,3|4|5,B,2,easy\n" +
		"Pick the even numbers,1|2|3|4,2|4,3,medium\n")

	result, err := f.svc.ImportMCQs(ctx, principal(f.vendor), created.ID, csvData)
	require.NoError(t, err)
	require.Equal(t, 2, result.Imported)
	require.Equal(t, ImportFormatCSV, result.Format)
	require.Equal(t, 5, result.TotalMarks)

	_, err = f.svc.ImportMCQs(ctx, principal(f.vendor), created.ID, []byte(`[{"question":"Broken","options":["a","b"],"correct_options":[5]}]`))
	require.ErrorIs(t, err, ErrInvalidOption)

	require.Contains(t, f.auditLog.actions(), models.ActivityQuestionsImported)
}

func TestTestServiceDuplicateAndAccess(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	payload := sampleCreateRequest()
	payload.AccessControl = &dto.AccessControlInput{Type: models.AccessPrivate, AllowedEmails: []string{"Invited@Example.com"}}
	created, err := f.svc.Create(ctx, principal(f.vendor), payload)
	require.NoError(t, err)
	require.Equal(t, []string{"invited@example.com"}, created.AccessControl.AllowedEmails)

	clone, err := f.svc.Duplicate(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)
	require.NotEqual(t, created.ID, clone.ID)
	require.NotEqual(t, created.UUID, clone.UUID)
	require.Equal(t, "Backend Screening (Copy)", clone.Title)
	require.Equal(t, models.TestStatusDraft, clone.Status)
	require.Empty(t, clone.AccessControl.AllowedEmails)
	require.Equal(t, created.TotalMarks, clone.TotalMarks)
	require.Len(t, clone.MCQs, 2)

	_, err = f.svc.Publish(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, principal(f.candidate), created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	shared, err := f.svc.Share(ctx, principal(f.vendor), created.ID, dto.ShareTestRequest{Emails: []string{"candidate@example.com"}})
	require.NoError(t, err)
	require.Contains(t, shared.AccessControl.AllowedEmails, "candidate@example.com")

	_, err = f.svc.Get(ctx, principal(f.candidate), created.ID)
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, principal(f.candidate), created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	opened, err := f.svc.UpdateAccess(ctx, principal(f.vendor), created.ID, dto.AccessControlInput{Type: models.AccessPublic})
	require.NoError(t, err)
	require.Equal(t, models.AccessPublic, opened.AccessType)

	summary, err := f.svc.Register(ctx, principal(f.candidate), created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, summary.ID)
}

func TestTestServiceListScopesByRole(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	mine, err := f.svc.Create(ctx, principal(f.vendor), sampleCreateRequest())
	require.NoError(t, err)
	_, err = f.svc.Publish(ctx, principal(f.vendor), mine.ID)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, principal(f.vendor), dto.TestCreateRequest{Title: "Draft only", DurationMinutes: 5})
	require.NoError(t, err)

	private := sampleCreateRequest()
	private.Title = "Invite only"
	private.AccessControl = &dto.AccessControlInput{Type: models.AccessPrivate}
	hidden, err := f.svc.Create(ctx, principal(f.rival), private)
	require.NoError(t, err)
	_, err = f.svc.Publish(ctx, principal(f.rival), hidden.ID)
	require.NoError(t, err)

	vendorList, err := f.svc.List(ctx, principal(f.vendor), dto.TestFilter{})
	require.NoError(t, err)
	require.Len(t, vendorList.Items, 2)

	adminList, err := f.svc.List(ctx, principal(f.admin), dto.TestFilter{})
	require.NoError(t, err)
	require.Len(t, adminList.Items, 3)

	candidateList, err := f.svc.List(ctx, principal(f.candidate), dto.TestFilter{})
	require.NoError(t, err)
	require.Len(t, candidateList.Items, 1)
	require.Equal(t, mine.ID, candidateList.Items[0].ID)
	require.EqualValues(t, 1, candidateList.Pagination.TotalItems)
}

func TestTestServiceHidesOtherVendorsTests(t *testing.T) {
	f := newTestServiceFixture(t)
	ctx := context.Background()

	payload := sampleCreateRequest()
	payload.Title = "Go basics"
	payload.AccessControl = &dto.AccessControlInput{Type: models.AccessPrivate}
	created, err := f.svc.Create(ctx, principal(f.vendor), payload)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, principal(f.rival), created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Publish(ctx, principal(f.vendor), created.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, principal(f.rival), created.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetByUUID(ctx, principal(f.rival), created.UUID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateAccess(ctx, principal(f.vendor), created.ID, dto.AccessControlInput{Type: models.AccessPublic})
	require.NoError(t, err)

	view, err := f.svc.Get(ctx, principal(f.rival), created.ID)
	require.NoError(t, err)
	require.Nil(t, view.AccessControl)
	for _, mcq := range view.MCQs {
		require.Empty(t, mcq.CorrectOptions)
	}
}
