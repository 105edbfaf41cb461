package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/config"
	"github.com/noah-isme/codequest-api/internal/handler"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/repository"
	"github.com/noah-isme/codequest-api/internal/router"
	"github.com/noah-isme/codequest-api/internal/scoring"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/pkg/judge0"
)

const (
	testJWTSecret     = "handler-test-secret"
	testAdminEmail    = "root@codequest.test"
	testAdminPassword = "root-password-1"
)

// envelope mirrors utils.APIResponse with a raw data field.
type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Meta    json.RawMessage   `json:"meta"`
	Details map[string]string `json:"details"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, target), string(body))
}

// asUser stands in for the JWT middleware in handler-level tests.
func asUser(id uint, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalUserID, id)
		c.Locals(middleware.LocalUserRole, role)
		c.Locals(middleware.LocalUserEmail, fmt.Sprintf("user%d@codequest.test", id))
		return c.Next()
	}
}

// echoRunner accepts every program and prints its stdin back.
type echoRunner struct{}

func (echoRunner) Execute(_ context.Context, req judge0.Request) (judge0.Result, error) {
	if strings.Contains(req.Source, "syntax error") {
		return judge0.Result{Status: judge0.Status{ID: judge0.StatusCompilationError, Description: "Compilation Error"}, CompileOutput: "syntax error"}, nil
	}
	return judge0.Result{
		Status: judge0.Status{ID: judge0.StatusAccepted, Description: "Accepted"},
		Stdout: req.Stdin,
		Time:   0.01,
		Memory: 1024,
	}, nil
}

func (echoRunner) Supports(language string) bool {
	_, ok := judge0.CanonicalLanguage(language)
	return ok
}

type memoryStorage struct{}

func (memoryStorage) Upload(_ context.Context, name string, reader io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", err
	}
	return "https://cdn.codequest.test/" + name, nil
}

// apiStack is the full application wired against in-memory SQLite.
type apiStack struct {
	app *fiber.App
	db  *gorm.DB
}

func newAPIStack(t *testing.T) *apiStack {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	cfg := config.Config{
		AppName:              "codequest-test",
		AppEnv:               "test",
		ServerURL:            "http://api.codequest.test",
		FrontendURL:          "http://app.codequest.test",
		JWTSecret:            testJWTSecret,
		JWTExpiry:            time.Hour,
		ResetTokenTTL:        time.Hour,
		CodeExecuteRateLimit: 100,
		SeedEnabled:          true,
		SeedToken:            "seed-token",
	}

	users := repository.NewUserRepository(db)
	tests := repository.NewTestRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	sessions := repository.NewSessionRepository(db)
	invitations := repository.NewInvitationRepository(db)
	certificates := repository.NewCertificateRepository(db)
	analytics := repository.NewAnalyticsRepository(db)
	assets := repository.NewAssetRepository(db)
	activity := repository.NewActivityRepository(db)

	mailer := service.NewLogMailer(logger)
	bus := service.NewEventBus(nil, nil, "", logger)
	verifyBaseURL := cfg.ServerURL + "/api/certificates"

	audit := service.NewAuditService(activity, validate, logger)
	auth := service.NewAuthService(users, mailer, validate, service.AuthConfig{
		JWTSecret:     cfg.JWTSecret,
		JWTExpiry:     cfg.JWTExpiry,
		ResetTokenTTL: cfg.ResetTokenTTL,
		FrontendURL:   cfg.FrontendURL,
	}, logger)
	testService := service.NewTestService(tests, audit, bus, validate, logger)
	invitationService := service.NewInvitationService(invitations, tests, mailer, audit, validate, cfg.FrontendURL, logger)
	sessionService := service.NewSessionService(sessions, submissions, tests, analytics, invitationService, bus, validate, logger)
	submissionService := service.NewSubmissionService(
		submissions, sessions, tests, certificates, analytics, invitationService, echoRunner{}, bus,
		service.SubmissionConfig{Aggregation: scoring.AggregateLatest, VerifyBaseURL: verifyBaseURL},
		validate, logger,
	)
	dashboard := service.NewDashboardService(users, tests, sessions, certificates, analytics, nil, time.Minute, logger)
	seed := service.NewSeedService(users, tests, cfg.SeedEnabled, cfg.SeedToken, logger)

	bus.Handle(submissionService.HandleSessionEvent)
	bus.Handle(dashboard.HandleEvent)

	_, err = seed.EnsureAdmin(context.Background(), service.AdminSeed{Email: testAdminEmail, Password: testAdminPassword, Name: "Root"})
	require.NoError(t, err)

	analyticsHandler := handler.NewAnalyticsHandler(service.NewAnalyticsService(analytics, tests, submissions, validate, logger), dashboard, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(auth, logger),
		TestHandler:        handler.NewTestHandler(testService, logger),
		InvitationHandler:  handler.NewInvitationHandler(invitationService, logger),
		SessionHandler:     handler.NewSessionHandler(sessionService, logger),
		SubmissionHandler:  handler.NewSubmissionHandler(submissionService, logger),
		CodeHandler:        handler.NewCodeHandler(service.NewCodeService(echoRunner{}, validate, logger), logger),
		CertificateHandler: handler.NewCertificateHandler(service.NewCertificateService(certificates, verifyBaseURL, logger), logger),
		AnalyticsHandler:   analyticsHandler,
		AdminHandler:       handler.NewAdminHandler(service.NewUserAdminService(users, audit, validate, logger), audit, analyticsHandler, logger),
		AssetHandler:       handler.NewAssetHandler(service.NewAssetService(memoryStorage{}, assets, 1, logger), logger),
		SeedHandler:        handler.NewSeedHandler(seed, logger),
		DisableMetrics:     true,
	})

	return &apiStack{app: app, db: db}
}

// call issues a JSON request and decodes the envelope.
func (s *apiStack) call(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	resp := s.do(t, method, path, token, body)
	var payload envelope
	decodeResponse(t, resp, &payload)
	return resp.StatusCode, payload
}

func (s *apiStack) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (s *apiStack) register(t *testing.T, name, email, role string) (string, uint) {
	t.Helper()
	status, payload := s.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "password-123", "role": role,
	})
	require.Equal(t, http.StatusCreated, status, payload.Message)

	var auth struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &auth))
	return auth.Token, auth.User.ID
}

func (s *apiStack) login(t *testing.T, email, password string) string {
	t.Helper()
	status, payload := s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, payload.Message)

	var auth struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &auth))
	return auth.Token
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

func decodeJSON(raw json.RawMessage, target interface{}) error {
	return json.Unmarshal(raw, target)
}
