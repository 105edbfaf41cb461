package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/codequest-api/internal/access"
)

var (
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken indicates the email already belongs to an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidResetToken indicates the reset token is unknown or expired.
	ErrInvalidResetToken = errors.New("reset token is invalid or expired")
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrTestNotFound indicates the test does not exist.
	ErrTestNotFound = errors.New("test not found")
	// ErrInvalidStatus indicates the test or submission is in the wrong state.
	ErrInvalidStatus = errors.New("invalid status for this operation")
	// ErrNoQuestions indicates a test without questions cannot be published.
	ErrNoQuestions = errors.New("test has no questions")
	// ErrInvalidMarks indicates passing marks exceed total marks.
	ErrInvalidMarks = errors.New("passing marks exceed total marks")
	// ErrInvalidImport indicates an MCQ import payload could not be parsed.
	ErrInvalidImport = errors.New("invalid question import")
	// ErrInvalidOption indicates an MCQ references a missing option.
	ErrInvalidOption = errors.New("correct option out of range")

	// ErrInvitationNotFound indicates the invitation token is unknown.
	ErrInvitationNotFound = errors.New("invitation not found")
	// ErrInvitationExpired indicates the invitation can no longer be used.
	ErrInvitationExpired = errors.New("invitation expired")
	// ErrInvitationMismatch indicates the invitation belongs to another email.
	ErrInvitationMismatch = errors.New("invitation issued to a different email")
	// ErrAttemptsExhausted indicates the invitation has no attempts left.
	ErrAttemptsExhausted = errors.New("no attempts left for this invitation")

	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed indicates the session no longer accepts activity.
	ErrSessionClosed = errors.New("session is not active")

	// ErrSubmissionNotFound indicates the submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionCompleted indicates the submission was already finalised.
	ErrSubmissionCompleted = errors.New("submission already completed")
	// ErrMCQAlreadySubmitted indicates the MCQ section was already graded.
	ErrMCQAlreadySubmitted = errors.New("mcq answers already submitted")
	// ErrChallengeNotFound indicates the challenge is not part of the test.
	ErrChallengeNotFound = errors.New("coding challenge not found")
	// ErrLanguageNotAllowed indicates the language is unsupported or not
	// permitted for the challenge.
	ErrLanguageNotAllowed = errors.New("language not allowed")
	// ErrExecutionFailed indicates the code runner could not be reached.
	ErrExecutionFailed = errors.New("code execution failed")
	// ErrExecutionTimeout indicates the runner did not finish in time.
	ErrExecutionTimeout = errors.New("code execution timed out")

	// ErrCertificateNotFound indicates the certificate does not exist.
	ErrCertificateNotFound = errors.New("certificate not found")
)

// forbidden wraps ErrForbidden with the access decision's reason.
func forbidden(decision access.Decision) error {
	return fmt.Errorf("%w: %s", ErrForbidden, decision.Reason)
}
