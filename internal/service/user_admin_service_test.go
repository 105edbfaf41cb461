package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
)

func TestUserAdminServiceList(t *testing.T) {
	db := setupServiceDB(t)
	r := newRepos(db)
	svc := NewUserAdminService(r.users, &auditRecorderStub{}, testValidator(), testLogger())
	admin := seedAccount(t, db, "admin@example.com", models.RoleAdmin)
	vendor := seedAccount(t, db, "vendor@example.com", models.RoleVendor)
	seedAccount(t, db, "cara@example.com", models.RoleCandidate)
	seedAccount(t, db, "carl@example.com", models.RoleCandidate)
	ctx := context.Background()

	all, err := svc.List(ctx, principal(admin), dto.AdminUserFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 4, all.Pagination.TotalItems)

	candidates, err := svc.List(ctx, principal(admin), dto.AdminUserFilter{Role: models.RoleCandidate, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, candidates.Items, 1)
	require.EqualValues(t, 2, candidates.Pagination.TotalItems)

	searched, err := svc.List(ctx, principal(admin), dto.AdminUserFilter{Search: " carl "})
	require.NoError(t, err)
	require.Len(t, searched.Items, 1)
	require.Equal(t, "carl@example.com", searched.Items[0].Email)

	_, err = svc.List(ctx, principal(admin), dto.AdminUserFilter{Role: "owner"})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)

	_, err = svc.List(ctx, principal(vendor), dto.AdminUserFilter{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestUserAdminServiceUpdateRole(t *testing.T) {
	db := setupServiceDB(t)
	r := newRepos(db)
	auditLog := &auditRecorderStub{}
	svc := NewUserAdminService(r.users, auditLog, testValidator(), testLogger())
	admin := seedAccount(t, db, "admin@example.com", models.RoleAdmin)
	candidate := seedAccount(t, db, "candidate@example.com", models.RoleCandidate)
	ctx := context.Background()

	updated, err := svc.UpdateRole(ctx, principal(admin), candidate.ID, dto.RoleUpdateRequest{Role: models.RoleVendor})
	require.NoError(t, err)
	require.Equal(t, models.RoleVendor, updated.Role)

	stored, err := r.users.GetByID(ctx, candidate.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleVendor, stored.Role)
	require.Equal(t, []string{models.ActivityRoleChanged}, auditLog.actions())
	require.Equal(t, map[string]interface{}{"from": models.RoleCandidate, "to": models.RoleVendor}, auditLog.entries[0].Metadata)

	unchanged, err := svc.UpdateRole(ctx, principal(admin), candidate.ID, dto.RoleUpdateRequest{Role: models.RoleVendor})
	require.NoError(t, err)
	require.Equal(t, models.RoleVendor, unchanged.Role)
	require.Len(t, auditLog.actions(), 1)

	_, err = svc.UpdateRole(ctx, principal(admin), admin.ID, dto.RoleUpdateRequest{Role: models.RoleCandidate})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UpdateRole(ctx, principal(admin), 9999, dto.RoleUpdateRequest{Role: models.RoleVendor})
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.UpdateRole(ctx, principal(stored), admin.ID, dto.RoleUpdateRequest{Role: models.RoleCandidate})
	require.ErrorIs(t, err, ErrForbidden)
}
