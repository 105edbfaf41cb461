package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/repository"
)

// TestService manages the authoring and discovery of tests.
type TestService interface {
	Create(ctx context.Context, actor access.Principal, payload dto.TestCreateRequest) (dto.TestResponse, error)
	Update(ctx context.Context, actor access.Principal, id uint, payload dto.TestUpdateRequest) (dto.TestResponse, error)
	Delete(ctx context.Context, actor access.Principal, id uint) error
	Publish(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error)
	Archive(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error)
	Duplicate(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error)
	AddMCQs(ctx context.Context, actor access.Principal, id uint, items []dto.MCQInput) (dto.TestResponse, error)
	AddChallenges(ctx context.Context, actor access.Principal, id uint, items []dto.CodingChallengeInput) (dto.TestResponse, error)
	ImportMCQs(ctx context.Context, actor access.Principal, id uint, data []byte) (dto.MCQImportResponse, error)
	UpdateAccess(ctx context.Context, actor access.Principal, id uint, payload dto.AccessControlInput) (dto.TestResponse, error)
	Share(ctx context.Context, actor access.Principal, id uint, payload dto.ShareTestRequest) (dto.TestResponse, error)
	Register(ctx context.Context, actor access.Principal, id uint) (dto.TestSummary, error)
	Get(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error)
	GetByUUID(ctx context.Context, actor access.Principal, uuid string) (dto.TestResponse, error)
	List(ctx context.Context, actor access.Principal, filter dto.TestFilter) (dto.TestListResponse, error)
}

type testService struct {
	tests     repository.TestRepository
	audit     AuditRecorder
	events    EventPublisher
	validator *validator.Validate
	rich      *bluemonday.Policy
	strict    *bluemonday.Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTestService constructs the test service.
func NewTestService(tests repository.TestRepository, audit AuditRecorder, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) TestService {
	return &testService{
		tests:     tests,
		audit:     audit,
		events:    events,
		validator: validate,
		rich:      bluemonday.UGCPolicy(),
		strict:    bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "test_service").Logger(),
		now:       time.Now,
	}
}

func (s *testService) Create(ctx context.Context, actor access.Principal, payload dto.TestCreateRequest) (dto.TestResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestResponse{}, err
	}
	if !actor.IsAdmin() && !actor.IsVendor() {
		return dto.TestResponse{}, fmt.Errorf("%w: only vendors create tests", ErrForbidden)
	}

	mcqs, err := s.buildMCQs(payload.MCQs, 0)
	if err != nil {
		return dto.TestResponse{}, err
	}
	challenges := s.buildChallenges(payload.CodingChallenges, 0)

	test := models.Test{
		UUID:             uuid.NewString(),
		VendorID:         actor.ID,
		Title:            s.cleanLine(payload.Title),
		Description:      s.cleanRich(payload.Description),
		Category:         strings.ToLower(strings.TrimSpace(payload.Category)),
		Difficulty:       payload.Difficulty,
		Type:             payload.Type,
		DurationMinutes:  payload.DurationMinutes,
		Status:           models.TestStatusDraft,
		AccessControl:    models.AccessControl{Type: models.AccessPublic},
		MCQs:             mcqs,
		CodingChallenges: challenges,
	}
	if test.Type == "" {
		test.Type = models.TestTypeAssessment
	}
	if test.Type == models.TestTypePractice {
		test.AccessControl.Type = models.AccessPractice
	}
	if payload.AccessControl != nil {
		test.AccessControl = buildAccessControl(*payload.AccessControl)
	}

	test.RecalculateTotals()
	if payload.PassingMarks != nil {
		if *payload.PassingMarks > test.TotalMarks {
			return dto.TestResponse{}, ErrInvalidMarks
		}
		test.PassingMarks = *payload.PassingMarks
		test.PassingMarksSet = true
	}

	if err := s.tests.Create(ctx, &test); err != nil {
		return dto.TestResponse{}, err
	}

	s.logger.Info().Uint("test_id", test.ID).Uint("vendor_id", test.VendorID).Msg("test created")
	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityTestCreated,
		EntityType: "test", EntityID: uintPtr(test.ID),
		Metadata: map[string]interface{}{"title": test.Title, "questions": test.QuestionCount()},
	})

	return dto.NewTestResponse(test, true), nil
}

func (s *testService) Update(ctx context.Context, actor access.Principal, id uint, payload dto.TestUpdateRequest) (dto.TestResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestResponse{}, err
	}

	test, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}
	if test.Status == models.TestStatusArchived {
		return dto.TestResponse{}, fmt.Errorf("%w: archived tests are read-only", ErrInvalidStatus)
	}

	structural := payload.DurationMinutes != nil || payload.PassingMarks != nil
	if structural && test.Status != models.TestStatusDraft {
		return dto.TestResponse{}, fmt.Errorf("%w: duration and passing marks can only change while draft", ErrInvalidStatus)
	}

	if payload.Title != nil {
		test.Title = s.cleanLine(*payload.Title)
	}
	if payload.Description != nil {
		test.Description = s.cleanRich(*payload.Description)
	}
	if payload.Category != nil {
		test.Category = strings.ToLower(strings.TrimSpace(*payload.Category))
	}
	if payload.Difficulty != nil {
		test.Difficulty = *payload.Difficulty
	}
	if payload.DurationMinutes != nil {
		test.DurationMinutes = *payload.DurationMinutes
	}
	if payload.PassingMarks != nil {
		if *payload.PassingMarks > test.TotalMarks {
			return dto.TestResponse{}, ErrInvalidMarks
		}
		test.PassingMarks = *payload.PassingMarks
		test.PassingMarksSet = true
	}

	if err := s.tests.Update(ctx, &test); err != nil {
		return dto.TestResponse{}, err
	}
	return dto.NewTestResponse(test, true), nil
}

// Delete removes a draft test. Admins may delete tests in any state.
func (s *testService) Delete(ctx context.Context, actor access.Principal, id uint) error {
	test, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return err
	}
	if test.Status != models.TestStatusDraft && !actor.IsAdmin() {
		return fmt.Errorf("%w: only draft tests can be deleted", ErrInvalidStatus)
	}

	if err := s.tests.Delete(ctx, test.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTestNotFound
		}
		return err
	}

	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityTestDeleted,
		EntityType: "test", EntityID: uintPtr(test.ID),
		Metadata: map[string]interface{}{"title": test.Title, "status": test.Status},
	})
	return nil
}

func (s *testService) Publish(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error) {
	test, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}
	if test.Status != models.TestStatusDraft {
		return dto.TestResponse{}, fmt.Errorf("%w: only draft tests can be published", ErrInvalidStatus)
	}
	if test.QuestionCount() == 0 {
		return dto.TestResponse{}, ErrNoQuestions
	}

	test.RecalculateTotals()
	if test.TotalMarks <= 0 {
		return dto.TestResponse{}, fmt.Errorf("%w: total marks must be positive", ErrInvalidMarks)
	}
	if test.PassingMarks > test.TotalMarks {
		return dto.TestResponse{}, ErrInvalidMarks
	}

	now := s.now().UTC()
	test.Status = models.TestStatusPublished
	test.PublishedAt = &now
	if err := s.tests.Update(ctx, &test); err != nil {
		return dto.TestResponse{}, err
	}

	s.logger.Info().Uint("test_id", test.ID).Msg("test published")
	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityTestPublished,
		EntityType: "test", EntityID: uintPtr(test.ID),
		Metadata: map[string]interface{}{"total_marks": test.TotalMarks, "passing_marks": test.PassingMarks},
	})
	if s.events != nil {
		s.events.Publish(ctx, DomainEvent{Type: EventTestPublished, TestID: test.ID, VendorID: test.VendorID})
	}

	return dto.NewTestResponse(test, true), nil
}

func (s *testService) Archive(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error) {
	test, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}
	if test.Status == models.TestStatusArchived {
		return dto.TestResponse{}, fmt.Errorf("%w: test already archived", ErrInvalidStatus)
	}

	test.Status = models.TestStatusArchived
	if err := s.tests.Update(ctx, &test); err != nil {
		return dto.TestResponse{}, err
	}

	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityTestArchived,
		EntityType: "test", EntityID: uintPtr(test.ID),
	})
	return dto.NewTestResponse(test, true), nil
}

// Duplicate copies a test and its questions into a new draft owned by the
// caller. The allow-list is not copied.
func (s *testService) Duplicate(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error) {
	source, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}

	clone := models.Test{
		UUID:            uuid.NewString(),
		VendorID:        actor.ID,
		Title:           source.Title + " (Copy)",
		Description:     source.Description,
		Category:        source.Category,
		Difficulty:      source.Difficulty,
		Type:            source.Type,
		DurationMinutes: source.DurationMinutes,
		Status:          models.TestStatusDraft,
		AccessControl:   models.AccessControl{Type: source.AccessControl.Type},
		PassingMarks:    source.PassingMarks,
		PassingMarksSet: source.PassingMarksSet,
	}
	for _, mcq := range source.MCQs {
		mcq.ID = 0
		mcq.TestID = 0
		mcq.CreatedAt = time.Time{}
		mcq.UpdatedAt = time.Time{}
		clone.MCQs = append(clone.MCQs, mcq)
	}
	for _, challenge := range source.CodingChallenges {
		challenge.ID = 0
		challenge.TestID = 0
		challenge.CreatedAt = time.Time{}
		challenge.UpdatedAt = time.Time{}
		clone.CodingChallenges = append(clone.CodingChallenges, challenge)
	}
	clone.RecalculateTotals()

	if err := s.tests.Create(ctx, &clone); err != nil {
		return dto.TestResponse{}, err
	}

	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityTestDuplicated,
		EntityType: "test", EntityID: uintPtr(clone.ID),
		Metadata: map[string]interface{}{"source_test_id": source.ID},
	})
	return dto.NewTestResponse(clone, true), nil
}

func (s *testService) AddMCQs(ctx context.Context, actor access.Principal, id uint, items []dto.MCQInput) (dto.TestResponse, error) {
	if len(items) == 0 {
		return dto.TestResponse{}, fmt.Errorf("%w: at least one question is required", ErrInvalidImport)
	}
	for _, item := range items {
		if err := s.validator.Struct(item); err != nil {
			return dto.TestResponse{}, err
		}
	}

	test, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}

	mcqs, err := s.buildMCQs(items, len(test.MCQs))
	if err != nil {
		return dto.TestResponse{}, err
	}
	if err := s.appendQuestions(ctx, &test, mcqs, nil); err != nil {
		return dto.TestResponse{}, err
	}
	return dto.NewTestResponse(test, true), nil
}

func (s *testService) AddChallenges(ctx context.Context, actor access.Principal, id uint, items []dto.CodingChallengeInput) (dto.TestResponse, error) {
	if len(items) == 0 {
		return dto.TestResponse{}, fmt.Errorf("%w: at least one challenge is required", ErrInvalidImport)
	}
	for _, item := range items {
		if err := s.validator.Struct(item); err != nil {
			return dto.TestResponse{}, err
		}
	}

	test, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}

	challenges := s.buildChallenges(items, len(test.CodingChallenges))
	if err := s.appendQuestions(ctx, &test, nil, challenges); err != nil {
		return dto.TestResponse{}, err
	}
	return dto.NewTestResponse(test, true), nil
}

func (s *testService) ImportMCQs(ctx context.Context, actor access.Principal, id uint, data []byte) (dto.MCQImportResponse, error) {
	items, format, err := ParseMCQImport(data)
	if err != nil {
		return dto.MCQImportResponse{}, err
	}
	for i, item := range items {
		if err := s.validator.Struct(item); err != nil {
			return dto.MCQImportResponse{}, fmt.Errorf("%w: question %d: %v", ErrInvalidImport, i+1, err)
		}
	}

	test, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return dto.MCQImportResponse{}, err
	}

	mcqs, err := s.buildMCQs(items, len(test.MCQs))
	if err != nil {
		return dto.MCQImportResponse{}, err
	}
	if err := s.appendQuestions(ctx, &test, mcqs, nil); err != nil {
		return dto.MCQImportResponse{}, err
	}

	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityQuestionsImported,
		EntityType: "test", EntityID: uintPtr(test.ID),
		Metadata: map[string]interface{}{"format": format, "imported": len(mcqs)},
	})

	return dto.MCQImportResponse{Imported: len(mcqs), Format: format, TotalMarks: test.TotalMarks}, nil
}

func (s *testService) UpdateAccess(ctx context.Context, actor access.Principal, id uint, payload dto.AccessControlInput) (dto.TestResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestResponse{}, err
	}

	test, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}

	test.AccessControl = buildAccessControl(payload)
	if err := s.tests.Update(ctx, &test); err != nil {
		return dto.TestResponse{}, err
	}

	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityAccessUpdated,
		EntityType: "test", EntityID: uintPtr(test.ID),
		Metadata: map[string]interface{}{"type": test.AccessControl.Type, "allowed": len(test.AccessControl.AllowedEmails) + len(test.AccessControl.AllowedUserIDs)},
	})
	return dto.NewTestResponse(test, true), nil
}

func (s *testService) Share(ctx context.Context, actor access.Principal, id uint, payload dto.ShareTestRequest) (dto.TestResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestResponse{}, err
	}

	test, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return dto.TestResponse{}, err
	}
	if test.Status == models.TestStatusArchived {
		return dto.TestResponse{}, fmt.Errorf("%w: archived tests cannot be shared", ErrInvalidStatus)
	}

	for _, email := range payload.Emails {
		test.AccessControl.AddUser(0, email)
	}
	if err := s.tests.Update(ctx, &test); err != nil {
		return dto.TestResponse{}, err
	}

	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID: actor.ID, ActorRole: actor.Role, Action: models.ActivityTestShared,
		EntityType: "test", EntityID: uintPtr(test.ID),
		Metadata: map[string]interface{}{"shared": len(payload.Emails)},
	})
	return dto.NewTestResponse(test, true), nil
}

// Register records a candidate's sign-up for a public or practice test by
// adding them to the test's allow-list.
func (s *testService) Register(ctx context.Context, actor access.Principal, id uint) (dto.TestSummary, error) {
	test, err := s.load(ctx, id)
	if err != nil {
		return dto.TestSummary{}, err
	}

	if decision := access.CanAccessTest(test, actor); !decision.Allowed {
		return dto.TestSummary{}, forbidden(decision)
	}
	switch test.AccessControl.Type {
	case models.AccessPublic, models.AccessPractice, "":
	default:
		return dto.TestSummary{}, fmt.Errorf("%w: registration is only open for public tests", ErrForbidden)
	}

	if !test.AccessControl.AllowsUser(actor.ID, "") {
		test.AccessControl.AddUser(actor.ID, actor.Email)
		if err := s.tests.Update(ctx, &test); err != nil {
			return dto.TestSummary{}, err
		}
	}
	return dto.NewTestSummary(test), nil
}

func (s *testService) Get(ctx context.Context, actor access.Principal, id uint) (dto.TestResponse, error) {
	test, err := s.load(ctx, id)
	if err != nil {
		return dto.TestResponse{}, err
	}
	return s.view(test, actor)
}

func (s *testService) GetByUUID(ctx context.Context, actor access.Principal, testUUID string) (dto.TestResponse, error) {
	test, err := s.tests.GetByUUID(ctx, strings.TrimSpace(testUUID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TestResponse{}, ErrTestNotFound
		}
		return dto.TestResponse{}, err
	}
	return s.view(test, actor)
}

// List returns the caller's own tests for vendors, every test for admins and
// the published tests a candidate may access otherwise.
func (s *testService) List(ctx context.Context, actor access.Principal, filter dto.TestFilter) (dto.TestListResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return dto.TestListResponse{}, err
	}

	page, pageSize := dto.NormalizePage(filter.Page, filter.PageSize)
	query := repository.TestFilter{
		Status:     filter.Status,
		Category:   strings.ToLower(strings.TrimSpace(filter.Category)),
		Difficulty: filter.Difficulty,
		Type:       filter.Type,
		Search:     filter.Search,
		Page:       page,
		PageSize:   pageSize,
	}

	switch {
	case actor.IsAdmin():
		if filter.VendorID > 0 {
			query.VendorID = &filter.VendorID
		}
	case actor.IsVendor():
		query.VendorID = &actor.ID
	default:
		return s.listAccessible(ctx, actor, query)
	}

	tests, total, err := s.tests.List(ctx, query)
	if err != nil {
		return dto.TestListResponse{}, err
	}
	return dto.NewTestListResponse(tests, dto.NewPaginationMeta(page, pageSize, total)), nil
}

// listAccessible filters published tests through the access predicate, so
// pagination is applied after filtering.
func (s *testService) listAccessible(ctx context.Context, actor access.Principal, query repository.TestFilter) (dto.TestListResponse, error) {
	page, pageSize := query.Page, query.PageSize
	query.Status = models.TestStatusPublished
	query.Page, query.PageSize = 0, 0

	tests, _, err := s.tests.List(ctx, query)
	if err != nil {
		return dto.TestListResponse{}, err
	}

	visible := make([]models.Test, 0, len(tests))
	for _, test := range tests {
		if access.CanAccessTest(test, actor).Allowed {
			visible = append(visible, test)
		}
	}

	total := int64(len(visible))
	start := (page - 1) * pageSize
	if start > len(visible) {
		start = len(visible)
	}
	end := start + pageSize
	if end > len(visible) {
		end = len(visible)
	}

	return dto.NewTestListResponse(visible[start:end], dto.NewPaginationMeta(page, pageSize, total)), nil
}

func (s *testService) view(test models.Test, actor access.Principal) (dto.TestResponse, error) {
	if access.CanManageTest(test, actor).Allowed {
		return dto.NewTestResponse(test, true), nil
	}
	if decision := access.CanAccessTest(test, actor); !decision.Allowed {
		return dto.TestResponse{}, forbidden(decision)
	}
	return dto.NewTestResponse(test, false), nil
}

func (s *testService) load(ctx context.Context, id uint) (models.Test, error) {
	test, err := s.tests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Test{}, ErrTestNotFound
		}
		return models.Test{}, err
	}
	return test, nil
}

func (s *testService) loadManaged(ctx context.Context, actor access.Principal, id uint) (models.Test, error) {
	test, err := s.load(ctx, id)
	if err != nil {
		return models.Test{}, err
	}
	if decision := access.CanManageTest(test, actor); !decision.Allowed {
		return models.Test{}, forbidden(decision)
	}
	return test, nil
}

func (s *testService) loadEditable(ctx context.Context, actor access.Principal, id uint) (models.Test, error) {
	test, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return models.Test{}, err
	}
	if test.Status != models.TestStatusDraft {
		return models.Test{}, fmt.Errorf("%w: questions can only change while draft", ErrInvalidStatus)
	}
	return test, nil
}

// appendQuestions adds questions and recomputes totals. Default passing
// marks follow the new total; explicit ones stay put.
func (s *testService) appendQuestions(ctx context.Context, test *models.Test, mcqs []models.MCQ, challenges []models.CodingChallenge) error {
	test.MCQs = append(test.MCQs, mcqs...)
	test.CodingChallenges = append(test.CodingChallenges, challenges...)
	test.RecalculateTotals()

	if err := s.tests.AddQuestions(ctx, test, mcqs, challenges); err != nil {
		return err
	}

	// AddQuestions assigned ids to the new rows; copy them back.
	copy(test.MCQs[len(test.MCQs)-len(mcqs):], mcqs)
	copy(test.CodingChallenges[len(test.CodingChallenges)-len(challenges):], challenges)
	return nil
}

func (s *testService) buildMCQs(items []dto.MCQInput, offset int) ([]models.MCQ, error) {
	mcqs := make([]models.MCQ, 0, len(items))
	for i, item := range items {
		options := make([]string, 0, len(item.Options))
		for _, option := range item.Options {
			options = append(options, s.cleanRich(option))
		}
		for _, correct := range item.CorrectOptions {
			if correct < 0 || correct >= len(options) {
				return nil, fmt.Errorf("%w: question %d option %d", ErrInvalidOption, i+1, correct)
			}
		}

		marks := item.Marks
		if marks == 0 {
			marks = 1
		}
		mcqs = append(mcqs, models.MCQ{
			Question:       s.cleanRich(item.Question),
			Options:        datatypes.JSONSlice[string](options),
			CorrectOptions: datatypes.JSONSlice[int](append([]int{}, item.CorrectOptions...)),
			Marks:          marks,
			Difficulty:     item.Difficulty,
			Explanation:    s.cleanRich(item.Explanation),
			ImageURL:       strings.TrimSpace(item.ImageURL),
			Position:       offset + i,
		})
	}
	return mcqs, nil
}

func (s *testService) buildChallenges(items []dto.CodingChallengeInput, offset int) []models.CodingChallenge {
	challenges := make([]models.CodingChallenge, 0, len(items))
	for i, item := range items {
		cases := make([]models.TestCase, 0, len(item.TestCases))
		for _, tc := range item.TestCases {
			cases = append(cases, models.TestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput, Hidden: tc.Hidden})
		}

		languages := make([]string, 0, len(item.AllowedLanguages))
		for _, language := range item.AllowedLanguages {
			languages = append(languages, canonicalLanguage(language))
		}

		starter := datatypes.JSONMap{}
		for language, code := range item.StarterCode {
			starter[canonicalLanguage(language)] = code
		}

		challenge := models.CodingChallenge{
			Title:            s.cleanLine(item.Title),
			Description:      s.cleanRich(item.Description),
			Constraints:      s.cleanRich(item.Constraints),
			AllowedLanguages: datatypes.JSONSlice[string](languages),
			StarterCode:      starter,
			TestCases:        datatypes.JSONSlice[models.TestCase](cases),
			Marks:            item.Marks,
			TimeLimitMs:      item.TimeLimitMs,
			MemoryLimitKB:    item.MemoryLimitKB,
			Position:         offset + i,
		}
		if challenge.Marks == 0 {
			challenge.Marks = 100
		}
		if challenge.TimeLimitMs == 0 {
			challenge.TimeLimitMs = 2000
		}
		if challenge.MemoryLimitKB == 0 {
			challenge.MemoryLimitKB = 262144
		}
		challenges = append(challenges, challenge)
	}
	return challenges
}

func buildAccessControl(input dto.AccessControlInput) models.AccessControl {
	ac := models.AccessControl{
		Type:           input.Type,
		AllowedUserIDs: datatypes.JSONSlice[uint]{},
		AllowedEmails:  datatypes.JSONSlice[string]{},
	}
	for _, id := range input.AllowedUserIDs {
		ac.AddUser(id, "")
	}
	for _, email := range input.AllowedEmails {
		ac.AddUser(0, email)
	}
	return ac
}

func (s *testService) cleanRich(value string) string {
	return strings.TrimSpace(s.rich.Sanitize(value))
}

func (s *testService) cleanLine(value string) string {
	return strings.TrimSpace(s.strict.Sanitize(value))
}
