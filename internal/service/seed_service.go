package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/repository"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
)

const (
	demoVendorEmail    = "demo-vendor@codequest.local"
	demoCandidateEmail = "demo-candidate@codequest.local"
	demoPassword       = "codequest-demo"
)

// AdminSeed describes the bootstrap administrator.
type AdminSeed struct {
	Email    string
	Password string
	Name     string
}

// SeedResult reports what a demo seed created.
type SeedResult struct {
	VendorID    uint   `json:"vendor_id"`
	CandidateID uint   `json:"candidate_id"`
	TestID      uint   `json:"test_id"`
	TestUUID    string `json:"test_uuid"`
	Created     bool   `json:"created"`
}

// SeedService bootstraps accounts and demo content.
type SeedService interface {
	EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error)
	SeedDemo(ctx context.Context, token string) (SeedResult, error)
}

type seedService struct {
	users   repository.UserRepository
	tests   repository.TestRepository
	enabled bool
	token   string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSeedService constructs a seeding service.
func NewSeedService(users repository.UserRepository, tests repository.TestRepository, enabled bool, token string, logger zerolog.Logger) SeedService {
	return &seedService{
		users:   users,
		tests:   tests,
		enabled: enabled,
		token:   token,
		logger:  logger.With().Str("component", "seed_service").Logger(),
		now:     time.Now,
	}
}

// EnsureAdmin creates the administrator when the email is unknown and
// promotes an existing account otherwise. It reports whether anything changed.
func (s *seedService) EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	email := normalizeEmail(seed.Email)
	if email == "" || seed.Password == "" {
		return false, nil
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role == models.RoleAdmin {
			return false, nil
		}
		if err := s.users.UpdateRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			return false, err
		}
		s.logger.Info().Uint("user_id", existing.ID).Msg("existing account promoted to admin")
		return true, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, err
	}

	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = "Administrator"
	}
	if _, err := s.createUser(ctx, name, email, seed.Password, models.RoleAdmin); err != nil {
		return false, err
	}
	s.logger.Info().Str("email", email).Msg("admin account created")
	return true, nil
}

// SeedDemo creates a demo vendor, a demo candidate and a published practice
// test. Running it again returns the existing records.
func (s *seedService) SeedDemo(ctx context.Context, token string) (SeedResult, error) {
	if !s.enabled {
		return SeedResult{}, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return SeedResult{}, ErrSeedUnauthorized
	}

	vendor, vendorCreated, err := s.ensureUser(ctx, "Demo Vendor", demoVendorEmail, models.RoleVendor)
	if err != nil {
		return SeedResult{}, err
	}
	candidate, _, err := s.ensureUser(ctx, "Demo Candidate", demoCandidateEmail, models.RoleCandidate)
	if err != nil {
		return SeedResult{}, err
	}

	result := SeedResult{VendorID: vendor.ID, CandidateID: candidate.ID}
	if !vendorCreated {
		vendorID := vendor.ID
		existing, _, err := s.tests.List(ctx, repository.TestFilter{VendorID: &vendorID, PageSize: 1})
		if err != nil {
			return SeedResult{}, err
		}
		if len(existing) > 0 {
			result.TestID = existing[0].ID
			result.TestUUID = existing[0].UUID
			return result, nil
		}
	}

	test, err := s.createDemoTest(ctx, vendor.ID)
	if err != nil {
		return SeedResult{}, err
	}
	result.TestID = test.ID
	result.TestUUID = test.UUID
	result.Created = true

	s.logger.Info().Uint("test_id", test.ID).Uint("vendor_id", vendor.ID).Msg("demo content seeded")
	return result, nil
}

func (s *seedService) createDemoTest(ctx context.Context, vendorID uint) (models.Test, error) {
	now := s.now().UTC()
	test := models.Test{
		UUID:            uuid.NewString(),
		VendorID:        vendorID,
		Title:           "Go Fundamentals (Demo)",
		Description:     "<p>A short practice round covering Go basics.</p>",
		Category:        "go",
		Difficulty:      "easy",
		Type:            models.TestTypePractice,
		Status:          models.TestStatusPublished,
		DurationMinutes: 30,
		PublishedAt:     &now,
		AccessControl: models.AccessControl{
			Type:           models.AccessPractice,
			AllowedUserIDs: datatypes.JSONSlice[uint]{},
			AllowedEmails:  datatypes.JSONSlice[string]{},
		},
		MCQs: []models.MCQ{
			{
				Question:       "Which keyword starts a goroutine?",
				Options:        datatypes.JSONSlice[string]{"go", "async", "spawn", "thread"},
				CorrectOptions: datatypes.JSONSlice[int]{0},
				Marks:          10,
				Difficulty:     "easy",
				Position:       0,
			},
			{
				Question:       "Which of these are reference types?",
				Options:        datatypes.JSONSlice[string]{"map", "int", "slice", "struct"},
				CorrectOptions: datatypes.JSONSlice[int]{0, 2},
				Marks:          10,
				Difficulty:     "medium",
				Position:       1,
			},
		},
		CodingChallenges: []models.CodingChallenge{{
			Title:            "Sum two numbers",
			Description:      "<p>Read two integers from stdin and print their sum.</p>",
			AllowedLanguages: datatypes.JSONSlice[string]{"go", "python", "javascript"},
			StarterCode:      datatypes.JSONMap{},
			TestCases: datatypes.JSONSlice[models.TestCase]{
				{Input: "1 2", ExpectedOutput: "3"},
				{Input: "40 2", ExpectedOutput: "42", Hidden: true},
			},
			Marks:         20,
			TimeLimitMs:   2000,
			MemoryLimitKB: 262144,
		}},
	}
	test.RecalculateTotals()

	if err := s.tests.Create(ctx, &test); err != nil {
		return models.Test{}, err
	}
	return test, nil
}

func (s *seedService) ensureUser(ctx context.Context, name, email, role string) (models.User, bool, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, false, err
	}
	user, err = s.createUser(ctx, name, email, demoPassword, role)
	return user, err == nil, err
}

func (s *seedService) createUser(ctx context.Context, name, email, password, role string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := models.User{Name: name, Email: email, PasswordHash: string(hash), Role: role}
	if err := s.users.Create(ctx, &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) == 1
}
