package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/repository"
)

// UserAdminService lets admins browse accounts and change roles.
type UserAdminService interface {
	List(ctx context.Context, actor access.Principal, filter dto.AdminUserFilter) (dto.AdminUserListResponse, error)
	UpdateRole(ctx context.Context, actor access.Principal, userID uint, payload dto.RoleUpdateRequest) (dto.UserResponse, error)
}

type userAdminService struct {
	users     repository.UserRepository
	audit     AuditRecorder
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewUserAdminService constructs the admin user service.
func NewUserAdminService(users repository.UserRepository, audit AuditRecorder, validate *validator.Validate, logger zerolog.Logger) UserAdminService {
	return &userAdminService{
		users:     users,
		audit:     audit,
		validator: validate,
		logger:    logger.With().Str("component", "user_admin_service").Logger(),
	}
}

func (s *userAdminService) List(ctx context.Context, actor access.Principal, filter dto.AdminUserFilter) (dto.AdminUserListResponse, error) {
	if !actor.IsAdmin() {
		return dto.AdminUserListResponse{}, fmt.Errorf("%w: admin access required", ErrForbidden)
	}
	if err := s.validator.Struct(filter); err != nil {
		return dto.AdminUserListResponse{}, err
	}

	page, pageSize := dto.NormalizePage(filter.Page, filter.PageSize)
	users, total, err := s.users.List(ctx, repository.UserFilter{
		Role:     filter.Role,
		Search:   strings.TrimSpace(filter.Search),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return dto.AdminUserListResponse{}, err
	}

	return dto.AdminUserListResponse{
		Items:      dto.NewUserResponseSlice(users),
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}, nil
}

// UpdateRole changes a user's role. Admins cannot demote themselves.
func (s *userAdminService) UpdateRole(ctx context.Context, actor access.Principal, userID uint, payload dto.RoleUpdateRequest) (dto.UserResponse, error) {
	if !actor.IsAdmin() {
		return dto.UserResponse{}, fmt.Errorf("%w: admin access required", ErrForbidden)
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.UserResponse{}, err
	}
	if userID == actor.ID && payload.Role != models.RoleAdmin {
		return dto.UserResponse{}, fmt.Errorf("%w: cannot demote yourself", ErrForbidden)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.UserResponse{}, ErrUserNotFound
		}
		return dto.UserResponse{}, err
	}

	previous := user.Role
	if previous == payload.Role {
		return dto.NewUserResponse(user), nil
	}
	if err := s.users.UpdateRole(ctx, user.ID, payload.Role); err != nil {
		return dto.UserResponse{}, err
	}
	user.Role = payload.Role

	audit(ctx, s.audit, s.logger, AuditEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     models.ActivityRoleChanged,
		EntityType: "user",
		EntityID:   uintPtr(user.ID),
		Metadata:   map[string]interface{}{"from": previous, "to": payload.Role},
	})
	s.logger.Info().Uint("user_id", user.ID).Str("from", previous).Str("to", payload.Role).Msg("user role changed")

	return dto.NewUserResponse(user), nil
}
