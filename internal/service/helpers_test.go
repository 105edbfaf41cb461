package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/repository"
	"github.com/noah-isme/codequest-api/pkg/judge0"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type repos struct {
	users        repository.UserRepository
	tests        repository.TestRepository
	submissions  repository.SubmissionRepository
	sessions     repository.SessionRepository
	invitations  repository.InvitationRepository
	certificates repository.CertificateRepository
	analytics    repository.AnalyticsRepository
	assets       repository.AssetRepository
	activity     repository.ActivityRepository
}

func newRepos(db *gorm.DB) repos {
	return repos{
		users:        repository.NewUserRepository(db),
		tests:        repository.NewTestRepository(db),
		submissions:  repository.NewSubmissionRepository(db),
		sessions:     repository.NewSessionRepository(db),
		invitations:  repository.NewInvitationRepository(db),
		certificates: repository.NewCertificateRepository(db),
		analytics:    repository.NewAnalyticsRepository(db),
		assets:       repository.NewAssetRepository(db),
		activity:     repository.NewActivityRepository(db),
	}
}

func seedAccount(t *testing.T, db *gorm.DB, email, role string) models.User {
	t.Helper()
	user := models.User{Name: strings.Split(email, "@")[0], Email: email, PasswordHash: "x", Role: role}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func principal(user models.User) access.Principal {
	return access.Principal{ID: user.ID, Role: user.Role, Email: user.Email}
}

// seedPublishedTest creates a published test with two MCQs worth 5 marks
// each and one coding challenge worth 10 marks.
func seedPublishedTest(t *testing.T, db *gorm.DB, vendorID uint, mutate func(*models.Test)) models.Test {
	t.Helper()
	now := time.Now().UTC()
	test := models.Test{
		UUID:            uuid.NewString(),
		VendorID:        vendorID,
		Title:           "Go basics",
		Type:            models.TestTypeAssessment,
		Status:          models.TestStatusPublished,
		DurationMinutes: 30,
		PublishedAt:     &now,
		AccessControl:   models.AccessControl{Type: models.AccessPublic},
		MCQs: []models.MCQ{
			{Question: "Goroutine keyword?", Options: []string{"go", "async"}, CorrectOptions: []int{0}, Marks: 5, Position: 0},
			{Question: "Reference types?", Options: []string{"map", "int", "slice"}, CorrectOptions: []int{0, 2}, Marks: 5, Position: 1},
		},
		CodingChallenges: []models.CodingChallenge{{
			Title:            "Echo",
			AllowedLanguages: []string{"python", "go"},
			Marks:            10,
			TestCases: []models.TestCase{
				{Input: "1", ExpectedOutput: "1"},
				{Input: "2", ExpectedOutput: "2", Hidden: true},
			},
		}},
	}
	if mutate != nil {
		mutate(&test)
	}
	test.RecalculateTotals()
	require.NoError(t, repository.NewTestRepository(db).Create(context.Background(), &test))
	return test
}

type mailRecorder struct {
	mu       sync.Mutex
	messages []MailMessage
	err      error
}

func (m *mailRecorder) Send(ctx context.Context, message MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return m.err
}

func (m *mailRecorder) last() MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return MailMessage{}
	}
	return m.messages[len(m.messages)-1]
}

// echoRunner prints stdin back unless a canned result or error is set.
type echoRunner struct {
	mu        sync.Mutex
	supported map[string]bool
	result    *judge0.Result
	err       error
	requests  []judge0.Request
	// onExecute runs outside the lock before each result is returned.
	onExecute func()
}

func newEchoRunner() *echoRunner {
	return &echoRunner{supported: map[string]bool{"python": true, "go": true, "javascript": true}}
}

func (r *echoRunner) Execute(ctx context.Context, req judge0.Request) (judge0.Result, error) {
	r.mu.Lock()
	hook := r.onExecute
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return judge0.Result{}, r.err
	}
	if r.result != nil {
		return *r.result, nil
	}
	return judge0.Result{
		Stdout: req.Stdin + "\n",
		Time:   0.05,
		Memory: 2048,
		Status: judge0.Status{ID: judge0.StatusAccepted, Description: "Accepted"},
	}, nil
}

func (r *echoRunner) Supports(language string) bool {
	return r.supported[language]
}

type auditRecorderStub struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *auditRecorderStub) Record(ctx context.Context, entry AuditEntry) (dto.ActivityResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return dto.ActivityResponse{}, nil
}

func (a *auditRecorderStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	actions := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

// collectEvents subscribes a handler that records every dispatched event.
func collectEvents(bus EventBus) func() []DomainEvent {
	var mu sync.Mutex
	var events []DomainEvent
	bus.Handle(func(ctx context.Context, event DomainEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})
	return func() []DomainEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]DomainEvent(nil), events...)
	}
}

func eventTypes(events []DomainEvent) []string {
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}
