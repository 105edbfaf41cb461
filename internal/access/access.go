// Package access holds the single predicate deciding who may see, register
// for, start and submit a test.
package access

import (
	"strings"

	"github.com/noah-isme/codequest-api/internal/models"
)

// Principal identifies the caller being authorised.
type Principal struct {
	ID    uint
	Role  string
	Email string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return normalizeRole(p.Role) == models.RoleAdmin
}

// IsVendor reports whether the principal holds the vendor role.
func (p Principal) IsVendor() bool {
	return normalizeRole(p.Role) == models.RoleVendor
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Reasons reported in decisions.
const (
	ReasonAdmin          = "admin"
	ReasonOwner          = "owner"
	ReasonPublic         = "public test"
	ReasonPractice       = "practice test"
	ReasonAllowListed    = "allow-listed"
	ReasonAnonymous      = "authentication required"
	ReasonArchived       = "test archived"
	ReasonNotPublished   = "test not published"
	ReasonNotAllowListed = "not on allow-list"
	ReasonNotOwner       = "not the test owner"
	ReasonUnknownPolicy  = "unknown access policy"
)

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// CanAccessTest decides whether the principal may view and attempt the test.
// Admins and the owning vendor bypass every other rule. Other vendors are
// held to the candidate rules.
func CanAccessTest(test models.Test, user Principal) Decision {
	switch {
	case user.IsAdmin():
		return allow(ReasonAdmin)
	case user.IsVendor() && test.IsOwnedBy(user.ID):
		return allow(ReasonOwner)
	}

	if user.ID == 0 {
		return deny(ReasonAnonymous)
	}

	switch test.Status {
	case models.TestStatusArchived:
		return deny(ReasonArchived)
	case models.TestStatusPublished:
	default:
		return deny(ReasonNotPublished)
	}

	switch strings.ToLower(test.AccessControl.Type) {
	case models.AccessPublic, "":
		return allow(ReasonPublic)
	case models.AccessPractice:
		return allow(ReasonPractice)
	case models.AccessPrivate:
		if test.AccessControl.AllowsUser(user.ID, user.Email) {
			return allow(ReasonAllowListed)
		}
		return deny(ReasonNotAllowListed)
	default:
		return deny(ReasonUnknownPolicy)
	}
}

// CanManageTest decides whether the principal may edit, publish, share or
// inspect results of the test.
func CanManageTest(test models.Test, user Principal) Decision {
	if user.IsAdmin() {
		return allow(ReasonAdmin)
	}
	if user.IsVendor() && test.IsOwnedBy(user.ID) {
		return allow(ReasonOwner)
	}
	return deny(ReasonNotOwner)
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
