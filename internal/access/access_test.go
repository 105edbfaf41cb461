package access

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/models"
)

func publishedTest(accessType string) models.Test {
	return models.Test{
		ID:            1,
		VendorID:      7,
		Status:        models.TestStatusPublished,
		AccessControl: models.AccessControl{Type: accessType},
	}
}

func TestCanAccessTestRoleBypass(t *testing.T) {
	test := publishedTest(models.AccessPrivate)
	test.Status = models.TestStatusDraft

	admin := CanAccessTest(test, Principal{ID: 1, Role: "Admin"})
	require.True(t, admin.Allowed)
	require.Equal(t, ReasonAdmin, admin.Reason)

	owner := CanAccessTest(test, Principal{ID: 7, Role: models.RoleVendor})
	require.True(t, owner.Allowed)
	require.Equal(t, ReasonOwner, owner.Reason)

	other := CanAccessTest(test, Principal{ID: 8, Role: models.RoleVendor})
	require.False(t, other.Allowed)
	require.Equal(t, ReasonNotPublished, other.Reason)
}

func TestCanAccessTestOtherVendorFollowsCandidateRules(t *testing.T) {
	rival := Principal{ID: 8, Role: models.RoleVendor, Email: "rival@example.com"}

	private := publishedTest(models.AccessPrivate)
	decision := CanAccessTest(private, rival)
	require.False(t, decision.Allowed)
	require.Equal(t, ReasonNotAllowListed, decision.Reason)

	private.AccessControl.AllowedEmails = []string{"rival@example.com"}
	require.True(t, CanAccessTest(private, rival).Allowed)

	archived := publishedTest(models.AccessPublic)
	archived.Status = models.TestStatusArchived
	require.Equal(t, ReasonArchived, CanAccessTest(archived, rival).Reason)

	require.True(t, CanAccessTest(publishedTest(models.AccessPublic), rival).Allowed)
}

func TestCanAccessTestCandidateRules(t *testing.T) {
	candidate := Principal{ID: 42, Role: models.RoleCandidate, Email: "Dev@Example.com"}

	cases := []struct {
		name    string
		test    func() models.Test
		allowed bool
		reason  string
	}{
		{"public", func() models.Test { return publishedTest(models.AccessPublic) }, true, ReasonPublic},
		{"practice", func() models.Test { return publishedTest(models.AccessPractice) }, true, ReasonPractice},
		{"private denied", func() models.Test { return publishedTest(models.AccessPrivate) }, false, ReasonNotAllowListed},
		{"private by id", func() models.Test {
			test := publishedTest(models.AccessPrivate)
			test.AccessControl.AllowedUserIDs = []uint{42}
			return test
		}, true, ReasonAllowListed},
		{"private by email", func() models.Test {
			test := publishedTest(models.AccessPrivate)
			test.AccessControl.AllowedEmails = []string{"dev@example.com"}
			return test
		}, true, ReasonAllowListed},
		{"draft", func() models.Test {
			test := publishedTest(models.AccessPublic)
			test.Status = models.TestStatusDraft
			return test
		}, false, ReasonNotPublished},
		{"archived", func() models.Test {
			test := publishedTest(models.AccessPublic)
			test.Status = models.TestStatusArchived
			return test
		}, false, ReasonArchived},
		{"unknown policy", func() models.Test { return publishedTest("secret") }, false, ReasonUnknownPolicy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := CanAccessTest(tc.test(), candidate)
			require.Equal(t, tc.allowed, decision.Allowed)
			require.Equal(t, tc.reason, decision.Reason)
		})
	}
}

func TestCanAccessTestRequiresUser(t *testing.T) {
	decision := CanAccessTest(publishedTest(models.AccessPublic), Principal{})
	require.False(t, decision.Allowed)
	require.Equal(t, ReasonAnonymous, decision.Reason)
}

func TestCanManageTest(t *testing.T) {
	test := publishedTest(models.AccessPublic)

	require.True(t, CanManageTest(test, Principal{ID: 1, Role: models.RoleAdmin}).Allowed)
	require.True(t, CanManageTest(test, Principal{ID: 7, Role: models.RoleVendor}).Allowed)
	require.False(t, CanManageTest(test, Principal{ID: 8, Role: models.RoleVendor}).Allowed)
	require.False(t, CanManageTest(test, Principal{ID: 7, Role: models.RoleCandidate}).Allowed)
}
