package handler_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/dto"
)

func createPublishedTest(t *testing.T, stack *apiStack, vendorToken string) dto.TestResponse {
	t.Helper()

	status, payload := stack.call(t, http.MethodPost, "/api/tests", vendorToken, map[string]interface{}{
		"title":            "Go Fundamentals",
		"description":      "Slices, maps and stdin",
		"duration_minutes": 30,
		"mcqs": []map[string]interface{}{{
			"question":        "Which keyword starts a goroutine?",
			"options":         []string{"defer", "go", "chan"},
			"correct_options": []int{1},
			"marks":           10,
		}},
		"coding_challenges": []map[string]interface{}{{
			"title":       "Echo",
			"description": "Print the input",
			"marks":       30,
			"test_cases": []map[string]interface{}{
				{"input": "7", "expected_output": "7"},
				{"input": "secret", "expected_output": "secret", "hidden": true},
			},
		}},
	})
	require.Equal(t, http.StatusCreated, status, payload.Message)

	var test dto.TestResponse
	require.NoError(t, json.Unmarshal(payload.Data, &test))
	require.Equal(t, 40, test.TotalMarks)
	require.Equal(t, 16, test.PassingMarks)

	status, payload = stack.call(t, http.MethodPost, fmt.Sprintf("/api/tests/%d/publish", test.ID), vendorToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	require.NoError(t, json.Unmarshal(payload.Data, &test))
	require.Equal(t, "published", test.Status)
	return test
}

func TestAPI_AssessmentLifecycle(t *testing.T) {
	stack := newAPIStack(t)

	vendorToken, _ := stack.register(t, "Vera Vendor", "vera@acme.test", "vendor")
	candidateToken, candidateID := stack.register(t, "Cody Candidate", "cody@example.test", "")

	test := createPublishedTest(t, stack, vendorToken)

	// Candidates see the test without answers or hidden cases.
	status, payload := stack.call(t, http.MethodGet, fmt.Sprintf("/api/tests/%d", test.ID), candidateToken, nil)
	require.Equal(t, http.StatusOK, status)
	var candidateView dto.TestResponse
	require.NoError(t, json.Unmarshal(payload.Data, &candidateView))
	require.Empty(t, candidateView.MCQs[0].CorrectOptions)
	require.Len(t, candidateView.CodingChallenges[0].TestCases, 1)
	require.Equal(t, 1, candidateView.CodingChallenges[0].HiddenTestCases)
	require.Nil(t, candidateView.AccessControl)

	status, payload = stack.call(t, http.MethodPost, "/api/sessions/start", candidateToken, map[string]interface{}{"test_id": test.ID})
	require.Equal(t, http.StatusCreated, status, payload.Message)
	var started dto.SessionStartResponse
	require.NoError(t, json.Unmarshal(payload.Data, &started))
	require.Equal(t, "active", started.Session.Status)
	require.Equal(t, 1, started.Submission.Version)

	status, payload = stack.call(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/events", started.Session.ID), candidateToken, map[string]string{"type": "tab_switch"})
	require.Equal(t, http.StatusOK, status, payload.Message)

	status, payload = stack.call(t, http.MethodPost, "/api/submissions/submit/mcq", candidateToken, map[string]interface{}{
		"submission_id": started.Submission.ID,
		"answers":       []map[string]interface{}{{"question_id": test.MCQs[0].ID, "selected_options": []int{1}}},
	})
	require.Equal(t, http.StatusOK, status, payload.Message)
	var afterMCQ dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(payload.Data, &afterMCQ))
	require.Equal(t, 10, afterMCQ.MCQScore)

	status, payload = stack.call(t, http.MethodPost, "/api/submissions/submit/mcq", candidateToken, map[string]interface{}{
		"submission_id": started.Submission.ID,
		"answers":       []map[string]interface{}{{"question_id": test.MCQs[0].ID, "selected_options": []int{0}}},
	})
	require.Equal(t, http.StatusConflict, status, payload.Message)

	status, payload = stack.call(t, http.MethodPost, "/api/submissions/submit/coding", candidateToken, map[string]interface{}{
		"submission_id": started.Submission.ID,
		"challenge_id":  test.CodingChallenges[0].ID,
		"language":      "python",
		"code":          "print(input())",
	})
	require.Equal(t, http.StatusCreated, status, payload.Message)
	var attempt dto.CodingAttemptResponse
	require.NoError(t, json.Unmarshal(payload.Data, &attempt))
	require.Equal(t, 2, attempt.PassedCount)
	require.Equal(t, 30, attempt.Score)

	status, payload = stack.call(t, http.MethodPost, fmt.Sprintf("/api/submissions/%d/complete", started.Submission.ID), candidateToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var completed dto.SubmissionCompleteResponse
	require.NoError(t, json.Unmarshal(payload.Data, &completed))
	require.True(t, completed.Passed)
	require.Equal(t, 40, completed.Submission.TotalScore)
	require.InDelta(t, 100.0, completed.Percentage, 1e-9)
	require.NotNil(t, completed.Certificate)

	status, payload = stack.call(t, http.MethodPost, fmt.Sprintf("/api/submissions/%d/complete", started.Submission.ID), candidateToken, nil)
	require.Equal(t, http.StatusConflict, status, payload.Message)

	// Public certificate verification needs no token.
	status, payload = stack.call(t, http.MethodGet, "/api/certificates/"+completed.Certificate.UUID, "", nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var certificate dto.CertificateResponse
	require.NoError(t, json.Unmarshal(payload.Data, &certificate))
	require.Equal(t, candidateID, certificate.UserID)
	require.Equal(t, "passed", certificate.Type)

	status, _ = stack.call(t, http.MethodGet, "/api/certificates/mine", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, payload = stack.call(t, http.MethodGet, fmt.Sprintf("/api/submissions/test/%d", test.ID), vendorToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var listed []dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(payload.Data, &listed))
	require.Len(t, listed, 1)

	status, payload = stack.call(t, http.MethodGet, fmt.Sprintf("/api/vendor/tests/%d/analytics", test.ID), vendorToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var report dto.TestAnalyticsResponse
	require.NoError(t, json.Unmarshal(payload.Data, &report))
	require.Equal(t, int64(1), report.Completed)
	require.Equal(t, int64(1), report.Behavior["tab_switch"])

	resp := stack.do(t, http.MethodGet, fmt.Sprintf("/api/vendor/tests/%d/export", test.ID), vendorToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	require.Contains(t, resp.Header.Get("Content-Disposition"), fmt.Sprintf("test-%d-results.csv", test.ID))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "rank,candidate,email"))
	require.Contains(t, lines[1], "cody@example.test")

	status, payload = stack.call(t, http.MethodGet, "/api/vendor/dashboard", vendorToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var dashboard dto.VendorDashboardResponse
	require.NoError(t, json.Unmarshal(payload.Data, &dashboard))
	require.Equal(t, int64(1), dashboard.CompletedSubmissions)
}

func TestAPI_RoleGuards(t *testing.T) {
	stack := newAPIStack(t)

	vendorToken, _ := stack.register(t, "Vera Vendor", "vera@acme.test", "vendor")
	candidateToken, candidateID := stack.register(t, "Cody Candidate", "cody@example.test", "candidate")
	adminToken := stack.login(t, testAdminEmail, testAdminPassword)

	status, _ := stack.call(t, http.MethodGet, "/api/tests", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = stack.call(t, http.MethodPost, "/api/tests", candidateToken, map[string]interface{}{"title": "Nope", "duration_minutes": 10})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = stack.call(t, http.MethodGet, "/api/vendor/dashboard", candidateToken, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = stack.call(t, http.MethodGet, "/api/admin/users", vendorToken, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, payload := stack.call(t, http.MethodGet, "/api/admin/users?role=candidate", adminToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var users []dto.UserResponse
	require.NoError(t, json.Unmarshal(payload.Data, &users))
	require.Len(t, users, 1)

	status, payload = stack.call(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d/role", candidateID), adminToken, map[string]string{"role": "vendor"})
	require.Equal(t, http.StatusOK, status, payload.Message)

	status, payload = stack.call(t, http.MethodGet, "/api/admin/activity?action=user.role_changed", adminToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var activity []dto.ActivityResponse
	require.NoError(t, json.Unmarshal(payload.Data, &activity))
	require.Len(t, activity, 1)

	status, payload = stack.call(t, http.MethodGet, "/api/admin/dashboard", adminToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
}

func TestAPI_ValidationAndNotFound(t *testing.T) {
	stack := newAPIStack(t)
	vendorToken, _ := stack.register(t, "Vera Vendor", "vera@acme.test", "vendor")

	status, payload := stack.call(t, http.MethodPost, "/api/tests", vendorToken, map[string]interface{}{"title": "x"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation failed", payload.Message)
	require.Contains(t, payload.Details, "Title")

	status, _ = stack.call(t, http.MethodGet, "/api/tests/999", vendorToken, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = stack.call(t, http.MethodGet, "/api/tests/abc", vendorToken, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = stack.call(t, http.MethodGet, "/api/invitations/0000000000000000000000", "", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, payload = stack.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Vera Again", "email": "vera@acme.test", "password": "password-123",
	})
	require.Equal(t, http.StatusConflict, status, payload.Message)

	status, _ = stack.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "vera@acme.test", "password": "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_InvitationFlow(t *testing.T) {
	stack := newAPIStack(t)
	vendorToken, _ := stack.register(t, "Vera Vendor", "vera@acme.test", "vendor")
	candidateToken, _ := stack.register(t, "Ivy Invitee", "ivy@example.test", "candidate")

	test := createPublishedTest(t, stack, vendorToken)
	status, payload := stack.call(t, http.MethodPut, fmt.Sprintf("/api/tests/%d/access", test.ID), vendorToken, map[string]interface{}{"type": "private"})
	require.Equal(t, http.StatusOK, status, payload.Message)

	status, payload = stack.call(t, http.MethodPost, "/api/sessions/start", candidateToken, map[string]interface{}{"test_id": test.ID})
	require.Equal(t, http.StatusForbidden, status, payload.Message)

	status, payload = stack.call(t, http.MethodPost, fmt.Sprintf("/api/tests/%d/invitations", test.ID), vendorToken, map[string]interface{}{
		"invitees":     []map[string]string{{"email": "ivy@example.test", "name": "Ivy"}},
		"max_attempts": 1,
	})
	require.Equal(t, http.StatusCreated, status, payload.Message)
	var invitations []dto.InvitationResponse
	require.NoError(t, json.Unmarshal(payload.Data, &invitations))
	require.Len(t, invitations, 1)
	require.NotEmpty(t, invitations[0].Link)
	token := invitations[0].Link[strings.LastIndex(invitations[0].Link, "/")+1:]

	status, payload = stack.call(t, http.MethodGet, "/api/invitations/"+token, "", nil)
	require.Equal(t, http.StatusOK, status, payload.Message)

	status, payload = stack.call(t, http.MethodPost, "/api/invitations/"+token+"/accept", candidateToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)

	status, payload = stack.call(t, http.MethodPost, "/api/sessions/start", candidateToken, map[string]interface{}{"test_id": test.ID, "invitation_token": token})
	require.Equal(t, http.StatusCreated, status, payload.Message)
	var started dto.SessionStartResponse
	require.NoError(t, json.Unmarshal(payload.Data, &started))

	status, payload = stack.call(t, http.MethodPost, fmt.Sprintf("/api/sessions/%d/end", started.Session.ID), candidateToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)

	// Ending the session finalises the submission through the event bus.
	status, payload = stack.call(t, http.MethodGet, fmt.Sprintf("/api/submissions/%d", started.Submission.ID), candidateToken, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
	var submission dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(payload.Data, &submission))
	require.Equal(t, "completed", submission.Status)

	status, payload = stack.call(t, http.MethodPost, "/api/sessions/start", candidateToken, map[string]interface{}{"test_id": test.ID, "invitation_token": token})
	require.Equal(t, http.StatusForbidden, status, payload.Message)
}

func TestAPI_CodeExecution(t *testing.T) {
	stack := newAPIStack(t)
	token, _ := stack.register(t, "Cody Candidate", "cody@example.test", "candidate")

	status, payload := stack.call(t, http.MethodPost, "/api/code/execute", token, map[string]string{"language": "python", "code": "print(input())", "input": "hi"})
	require.Equal(t, http.StatusOK, status, payload.Message)
	var result dto.CodeExecuteResponse
	require.NoError(t, json.Unmarshal(payload.Data, &result))
	require.Equal(t, "hi", result.Stdout)

	status, _ = stack.call(t, http.MethodPost, "/api/code/execute", token, map[string]string{"language": "cobol", "code": "DISPLAY 'HI'"})
	require.Equal(t, http.StatusBadRequest, status)

	status, payload = stack.call(t, http.MethodGet, "/api/code/languages", token, nil)
	require.Equal(t, http.StatusOK, status, payload.Message)
}

func TestAPI_Health(t *testing.T) {
	stack := newAPIStack(t)

	resp := stack.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "codequest-test", resp.Header.Get("X-Application"))
	require.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
	resp.Body.Close()
}
