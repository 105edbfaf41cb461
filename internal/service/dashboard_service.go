package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/observability"
	"github.com/noah-isme/codequest-api/internal/repository"
	"github.com/noah-isme/codequest-api/internal/scoring"
)

const (
	adminDashboardKey    = "dashboard:admin"
	vendorDashboardKey   = "dashboard:vendor:%d"
	recentSubmissionsMax = 10
)

// DashboardService aggregates the vendor and admin dashboards.
type DashboardService interface {
	Vendor(ctx context.Context, actor access.Principal) (dto.VendorDashboardResponse, error)
	Admin(ctx context.Context, actor access.Principal) (dto.AdminDashboardResponse, error)
	Invalidate(ctx context.Context, vendorID uint)

	// HandleEvent drops cached dashboards affected by the event.
	HandleEvent(ctx context.Context, event DomainEvent)
}

type dashboardService struct {
	users        repository.UserRepository
	tests        repository.TestRepository
	sessions     repository.SessionRepository
	certificates repository.CertificateRepository
	analytics    repository.AnalyticsRepository
	cache        *redis.Client
	cacheTTL     time.Duration
	tracer       trace.Tracer
	logger       zerolog.Logger
	now          func() time.Time
}

// NewDashboardService constructs the dashboard service. cache may be nil.
func NewDashboardService(
	users repository.UserRepository,
	tests repository.TestRepository,
	sessions repository.SessionRepository,
	certificates repository.CertificateRepository,
	analytics repository.AnalyticsRepository,
	cache *redis.Client,
	ttl time.Duration,
	logger zerolog.Logger,
) DashboardService {
	return &dashboardService{
		users:        users,
		tests:        tests,
		sessions:     sessions,
		certificates: certificates,
		analytics:    analytics,
		cache:        cache,
		cacheTTL:     ttl,
		tracer:       otel.Tracer("github.com/noah-isme/codequest-api/internal/service/dashboard"),
		logger:       logger.With().Str("component", "dashboard_service").Logger(),
		now:          time.Now,
	}
}

func (s *dashboardService) Vendor(ctx context.Context, actor access.Principal) (dto.VendorDashboardResponse, error) {
	if !actor.IsVendor() && !actor.IsAdmin() {
		return dto.VendorDashboardResponse{}, fmt.Errorf("%w: vendor access required", ErrForbidden)
	}

	cacheKey := fmt.Sprintf(vendorDashboardKey, actor.ID)
	ctx, span := s.tracer.Start(ctx, "dashboard.vendor", trace.WithAttributes(attribute.String("dashboard.cache_key", cacheKey)))
	defer span.End()

	var response dto.VendorDashboardResponse
	if s.readCache(ctx, span, "vendor", cacheKey, &response) {
		response.CacheHit = true
		return response, nil
	}

	vendorID := actor.ID
	byStatus, err := s.tests.CountByStatus(ctx, &vendorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count_tests_failed")
		return dto.VendorDashboardResponse{}, err
	}

	scope := repository.SubmissionScope{VendorID: vendorID}
	stats, err := s.analytics.SubmissionStats(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_stats_failed")
		return dto.VendorDashboardResponse{}, err
	}

	recent, err := s.analytics.RecentSubmissions(ctx, scope, recentSubmissionsMax)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recent_submissions_failed")
		return dto.VendorDashboardResponse{}, err
	}

	response = dto.VendorDashboardResponse{
		TestsPublished:       byStatus[models.TestStatusPublished],
		Candidates:           stats.Candidates,
		Submissions:          stats.Submissions,
		CompletedSubmissions: stats.Completed,
		AverageScore:         stats.AverageScore,
		PassRate:             rate(stats.Passed, stats.Completed),
		RecentSubmissions:    make([]dto.RecentItem, 0, len(recent)),
		GeneratedAt:          s.now().UTC(),
	}
	for _, count := range byStatus {
		response.TestsTotal += count
	}
	for _, submission := range recent {
		response.RecentSubmissions = append(response.RecentSubmissions, dto.RecentItem{
			SubmissionID: submission.ID,
			TestID:       submission.TestID,
			TestTitle:    submission.Test.Title,
			Candidate:    submission.User.Name,
			Status:       submission.Status,
			TotalScore:   submission.TotalScore,
			CompletedAt:  submission.CompletedAt,
		})
	}
	span.SetAttributes(
		attribute.Int64("dashboard.submissions", stats.Submissions),
		attribute.Int64("dashboard.tests", response.TestsTotal),
	)

	s.writeCache(ctx, span, cacheKey, response)
	return response, nil
}

func (s *dashboardService) Admin(ctx context.Context, actor access.Principal) (dto.AdminDashboardResponse, error) {
	if !actor.IsAdmin() {
		return dto.AdminDashboardResponse{}, fmt.Errorf("%w: admin access required", ErrForbidden)
	}

	ctx, span := s.tracer.Start(ctx, "dashboard.admin", trace.WithAttributes(attribute.String("dashboard.cache_key", adminDashboardKey)))
	defer span.End()

	var response dto.AdminDashboardResponse
	if s.readCache(ctx, span, "admin", adminDashboardKey, &response) {
		response.CacheHit = true
		return response, nil
	}

	users, err := s.users.CountByRole(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count_users_failed")
		return dto.AdminDashboardResponse{}, err
	}
	tests, err := s.tests.CountByStatus(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count_tests_failed")
		return dto.AdminDashboardResponse{}, err
	}
	stats, err := s.analytics.SubmissionStats(ctx, repository.SubmissionScope{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_stats_failed")
		return dto.AdminDashboardResponse{}, err
	}
	certificates, err := s.certificates.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count_certificates_failed")
		return dto.AdminDashboardResponse{}, err
	}
	active, err := s.sessions.CountActive(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count_sessions_failed")
		return dto.AdminDashboardResponse{}, err
	}

	response = dto.AdminDashboardResponse{
		UsersByRole:   users,
		TestsByStatus: tests,
		Submissions:   stats.Submissions,
		Completed:     stats.Completed,
		Certificates:  certificates,
		ActiveSession: active,
		GeneratedAt:   s.now().UTC(),
	}

	s.writeCache(ctx, span, adminDashboardKey, response)
	return response, nil
}

func (s *dashboardService) Invalidate(ctx context.Context, vendorID uint) {
	if s.cache == nil {
		return
	}
	keys := []string{adminDashboardKey}
	if vendorID != 0 {
		keys = append(keys, fmt.Sprintf(vendorDashboardKey, vendorID))
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate dashboard cache")
	}
}

func (s *dashboardService) HandleEvent(ctx context.Context, event DomainEvent) {
	if event.Remote {
		return
	}
	switch event.Type {
	case EventSubmissionCompleted, EventTestPublished:
		s.Invalidate(ctx, event.VendorID)
	}
}

func (s *dashboardService) readCache(ctx context.Context, span trace.Span, dashboard, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}

	cached, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read dashboard cache")
			span.RecordError(err)
		}
		observability.DashboardCache().WithLabelValues(dashboard, "miss").Inc()
		return false
	}
	if err := json.Unmarshal([]byte(cached), out); err != nil {
		observability.DashboardCache().WithLabelValues(dashboard, "miss").Inc()
		return false
	}

	observability.DashboardCache().WithLabelValues(dashboard, "hit").Inc()
	span.SetAttributes(attribute.Bool("dashboard.cache_hit", true))
	return true
}

func (s *dashboardService) writeCache(ctx context.Context, span trace.Span, key string, value interface{}) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to store dashboard cache")
		span.RecordError(err)
	}
}

func rate(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return scoring.Percentage(int(part), int(whole))
}
